package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/dnstrail/dnstrail/record"
)

const postgresCreateTable = `CREATE TABLE IF NOT EXISTS %s (
	queryname TEXT NOT NULL,
	pid INTEGER NOT NULL,
	path TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	ip TEXT NOT NULL
)`

type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresStore(ctx context.Context, cfg Config, log logrus.FieldLogger) (*PostgresStore, error) {
	table, err := tableName(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.Connect(ctx, cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(postgresCreateTable, table)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}
	log.Infof("connected to postgres, table=%s", table)

	return &PostgresStore{pool: pool, table: table}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec record.Record) error {
	_, err := s.pool.Exec(ctx, postgresDialect.insertQuery(s.table),
		rec.QueryName, rec.ProcessID, rec.Path, rec.Timestamp.UTC(), rec.SourceAddress)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, q Query) ([]record.Record, error) {
	query, args := postgresDialect.selectQuery(s.table, q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var res []record.Record
	for rows.Next() {
		var rec record.Record
		if err := rows.Scan(&rec.QueryName, &rec.ProcessID, &rec.Path, &rec.Timestamp, &rec.SourceAddress); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (s *PostgresStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}
