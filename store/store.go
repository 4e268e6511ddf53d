package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dnstrail/dnstrail/record"
)

var ErrUnknownType = errors.New("unknown store type")

type Store interface {
	Insert(ctx context.Context, rec record.Record) error
	Find(ctx context.Context, q Query) ([]record.Record, error)
	Close(ctx context.Context) error
}

type Type string

const (
	TypeMongo      Type = "mongo"
	TypePostgres   Type = "postgres"
	TypeClickHouse Type = "clickhouse"
	TypeMemory     Type = "memory"
	TypeFile       Type = "file"
)

type Config struct {
	Type Type   `envconfig:"TYPE" yaml:"type"`
	URI  string `envconfig:"URI" yaml:"uri"`
	// Database is used by mongo only, SQL stores take it from the URI.
	Database string `envconfig:"DATABASE" yaml:"database"`
	// Collection is the mongo collection or the SQL table name.
	Collection     string        `envconfig:"COLLECTION" yaml:"collection"`
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" yaml:"connectTimeout"`

	File FileConfig `envconfig:"FILE" yaml:"file"`
}

// Query filters records. Zero fields match everything, set fields are combined with AND.
type Query struct {
	QueryName      string
	ProcessID      *int
	AddressPattern string
	Path           string
	// From and To bound the timestamp inclusively.
	From time.Time
	To   time.Time
}

func (q Query) matches(rec record.Record, addressRe *regexp.Regexp) bool {
	if q.QueryName != "" && rec.QueryName != q.QueryName {
		return false
	}
	if q.ProcessID != nil && rec.ProcessID != *q.ProcessID {
		return false
	}
	if addressRe != nil && !addressRe.MatchString(rec.SourceAddress) {
		return false
	}
	if q.Path != "" && rec.Path != q.Path {
		return false
	}
	if !q.From.IsZero() && rec.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && rec.Timestamp.After(q.To) {
		return false
	}
	return true
}

func New(ctx context.Context, cfg Config, log logrus.FieldLogger) (Store, error) {
	log = log.WithField("store_type", cfg.Type)
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var (
		s   Store
		err error
	)
	switch cfg.Type {
	case TypeMongo:
		s, err = NewMongoStore(ctx, cfg, log)
	case TypePostgres:
		s, err = NewPostgresStore(ctx, cfg, log)
	case TypeClickHouse:
		s, err = NewClickHouseStore(ctx, cfg, log)
	case TypeMemory:
		s = NewMemoryStore()
	case TypeFile:
		s, err = NewFileStore(cfg.File, log)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
