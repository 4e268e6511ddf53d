package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const defaultTable = "dns_logs"

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

const selectColumns = "queryname, pid, path, timestamp, ip"

type sqlDialect struct {
	placeholder func(n int) string
	regexMatch  func(column, arg string) string
}

var postgresDialect = sqlDialect{
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	regexMatch:  func(column, arg string) string { return column + " ~ " + arg },
}

var clickhouseDialect = sqlDialect{
	placeholder: func(int) string { return "?" },
	regexMatch:  func(column, arg string) string { return "match(" + column + ", " + arg + ")" },
}

func tableName(cfg Config) (string, error) {
	if cfg.Collection == "" {
		return defaultTable, nil
	}
	if !tableNameRe.MatchString(cfg.Collection) {
		return "", fmt.Errorf("invalid table name %q", cfg.Collection)
	}
	return cfg.Collection, nil
}

func (d sqlDialect) insertQuery(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s, %s, %s, %s, %s)", table, selectColumns,
		d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4), d.placeholder(5))
}

func (d sqlDialect) selectQuery(table string, q Query) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(v interface{}, cond func(arg string) string) {
		args = append(args, v)
		conds = append(conds, cond(d.placeholder(len(args))))
	}

	if q.QueryName != "" {
		add(q.QueryName, func(arg string) string { return "queryname = " + arg })
	}
	if q.ProcessID != nil {
		add(*q.ProcessID, func(arg string) string { return "pid = " + arg })
	}
	if q.AddressPattern != "" {
		add(q.AddressPattern, func(arg string) string { return d.regexMatch("ip", arg) })
	}
	if q.Path != "" {
		add(q.Path, func(arg string) string { return "path = " + arg })
	}
	if !q.From.IsZero() {
		add(q.From.UTC(), func(arg string) string { return "timestamp >= " + arg })
	}
	if !q.To.IsZero() {
		add(q.To.UTC(), func(arg string) string { return "timestamp <= " + arg })
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selectColumns, table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query + " ORDER BY timestamp", args
}
