package store

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/dnstrail/dnstrail/record"
)

const (
	defaultMongoURI        = "mongodb://localhost:27017"
	defaultMongoDatabase   = "sysmonLogs"
	defaultMongoCollection = "dnsLogs"
)

type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(ctx context.Context, cfg Config, log logrus.FieldLogger) (*MongoStore, error) {
	uri, database, collection := cfg.URI, cfg.Database, cfg.Collection
	if uri == "" {
		uri = defaultMongoURI
	}
	if database == "" {
		database = defaultMongoDatabase
	}
	if collection == "" {
		collection = defaultMongoCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	log.Infof("connected to mongo, database=%s, collection=%s", database, collection)

	return &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
	}, nil
}

func (s *MongoStore) Insert(ctx context.Context, rec record.Record) error {
	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func (s *MongoStore) Find(ctx context.Context, q Query) ([]record.Record, error) {
	cur, err := s.coll.Find(ctx, mongoFilter(q), options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("finding records: %w", err)
	}
	var res []record.Record
	if err := cur.All(ctx, &res); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return res, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func mongoFilter(q Query) bson.D {
	filter := bson.D{}
	if q.QueryName != "" {
		filter = append(filter, bson.E{Key: "queryname", Value: q.QueryName})
	}
	if q.ProcessID != nil {
		filter = append(filter, bson.E{Key: "pid", Value: *q.ProcessID})
	}
	if q.AddressPattern != "" {
		filter = append(filter, bson.E{Key: "Ip", Value: primitive.Regex{Pattern: q.AddressPattern}})
	}
	if q.Path != "" {
		filter = append(filter, bson.E{Key: "path", Value: q.Path})
	}
	if !q.From.IsZero() || !q.To.IsZero() {
		between := bson.D{}
		if !q.From.IsZero() {
			between = append(between, bson.E{Key: "$gte", Value: q.From})
		}
		if !q.To.IsZero() {
			between = append(between, bson.E{Key: "$lte", Value: q.To})
		}
		filter = append(filter, bson.E{Key: "timestamp", Value: between})
	}
	return filter
}
