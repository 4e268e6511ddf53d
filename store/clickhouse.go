package store

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/sirupsen/logrus"

	"github.com/dnstrail/dnstrail/record"
)

const defaultClickHouseURI = "clickhouse://localhost:9000/default"

const clickhouseCreateTable = `CREATE TABLE IF NOT EXISTS %s (
	queryname String,
	pid Int64,
	path String,
	timestamp DateTime('UTC'),
	ip String
) ENGINE = MergeTree ORDER BY timestamp`

type ClickHouseStore struct {
	conn  driver.Conn
	table string
}

func NewClickHouseStore(ctx context.Context, cfg Config, log logrus.FieldLogger) (*ClickHouseStore, error) {
	table, err := tableName(cfg)
	if err != nil {
		return nil, err
	}
	uri := cfg.URI
	if uri == "" {
		uri = defaultClickHouseURI
	}
	opts, err := clickhouse.ParseDSN(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(clickhouseCreateTable, table)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("creating table %s: %w", table, err)
	}
	log.Infof("connected to clickhouse, table=%s", table)

	return &ClickHouseStore{conn: conn, table: table}, nil
}

func (s *ClickHouseStore) Insert(ctx context.Context, rec record.Record) error {
	err := s.conn.Exec(ctx, clickhouseDialect.insertQuery(s.table),
		rec.QueryName, int64(rec.ProcessID), rec.Path, rec.Timestamp.UTC(), rec.SourceAddress)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) Find(ctx context.Context, q Query) ([]record.Record, error) {
	query, args := clickhouseDialect.selectQuery(s.table, q)
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var res []record.Record
	for rows.Next() {
		var (
			rec record.Record
			pid int64
		)
		if err := rows.Scan(&rec.QueryName, &pid, &rec.Path, &rec.Timestamp, &rec.SourceAddress); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		rec.ProcessID = int(pid)
		rec.Timestamp = rec.Timestamp.UTC()
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (s *ClickHouseStore) Close(_ context.Context) error {
	return s.conn.Close()
}
