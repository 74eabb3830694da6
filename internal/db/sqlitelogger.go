package db

import (
	"context"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// Statements slower than this are logged at warn level. With the default
// single connection a slow history read holds up every writer behind it.
const defaultSlowStatement = 250 * time.Millisecond

// statementLog writes one record per executed statement: debug when it went
// fine, warn when it failed or ran slow.
type statementLog struct {
	logger *slog.Logger
	slow   time.Duration
}

func (l statementLog) record(ctx context.Context, op, query string, args []driver.NamedValue, start time.Time, err error) {
	elapsed := time.Since(start)

	level, msg := slog.LevelDebug, "sql statement"
	switch {
	case err != nil:
		level, msg = slog.LevelWarn, "sql statement failed"
	case elapsed >= l.slow:
		level, msg = slog.LevelWarn, "slow sql statement"
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}

	attrs := []slog.Attr{
		slog.String("op", op),
		slog.String("sql", compactSQL(query)),
		slog.Any("args", formatArgs(args)),
		slog.Duration("elapsed", elapsed),
	}
	if table := tableOf(query); table != "" {
		attrs = append(attrs, slog.String("table", table))
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	l.logger.LogAttrs(ctx, level, msg, attrs...)
}

type loggingConnector struct {
	dsn    string
	driver *sqlite3.SQLiteDriver
	log    statementLog
}

// NewLoggingConnector returns a sqlite3 connector that logs every statement
// with its arguments and duration. Open it with sql.OpenDB. A nil logger
// means slog.Default().
func NewLoggingConnector(dsn string, logger *slog.Logger) (driver.Connector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingConnector{
		dsn:    dsn,
		driver: &sqlite3.SQLiteDriver{},
		log:    statementLog{logger: logger, slow: defaultSlowStatement},
	}, nil
}

func (c *loggingConnector) Driver() driver.Driver { return c.driver }

func (c *loggingConnector) Connect(_ context.Context) (driver.Conn, error) {
	conn, err := c.driver.Open(c.dsn)
	if err != nil {
		return nil, err
	}
	return &loggingConn{Conn: conn, log: c.log}, nil
}

// loggingConn runs Exec and Query on the sqlite connection itself so
// multi-statement migration files still execute in full.
type loggingConn struct {
	driver.Conn
	log statementLog
}

func (c *loggingConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	execer, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := execer.ExecContext(ctx, query, args)
	if err != driver.ErrSkip {
		c.log.record(ctx, "exec", query, args, start, err)
	}
	return res, err
}

func (c *loggingConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	queryer, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := queryer.QueryContext(ctx, query, args)
	if err != driver.ErrSkip {
		c.log.record(ctx, "query", query, args, start, err)
	}
	return rows, err
}

func (c *loggingConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *loggingConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	start := time.Now()
	var (
		stmt driver.Stmt
		err  error
	)
	if p, ok := c.Conn.(driver.ConnPrepareContext); ok {
		stmt, err = p.PrepareContext(ctx, query)
	} else {
		stmt, err = c.Conn.Prepare(query)
	}
	if err != nil {
		c.log.record(ctx, "prepare", query, nil, start, err)
		return nil, err
	}
	return &loggingStmt{Stmt: stmt, query: query, log: c.log}, nil
}

func (c *loggingConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.Conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	//nolint:staticcheck // SA1019: fallback for connections without BeginTx
	return c.Conn.Begin()
}

type loggingStmt struct {
	driver.Stmt
	query string
	log   statementLog
}

func (s *loggingStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	start := time.Now()
	var (
		res driver.Result
		err error
	)
	if e, ok := s.Stmt.(driver.StmtExecContext); ok {
		res, err = e.ExecContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: fallback for statements without ExecContext
		res, err = s.Stmt.Exec(plainValues(args))
	}
	s.log.record(ctx, "exec", s.query, args, start, err)
	return res, err
}

func (s *loggingStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	start := time.Now()
	var (
		rows driver.Rows
		err  error
	)
	if q, ok := s.Stmt.(driver.StmtQueryContext); ok {
		rows, err = q.QueryContext(ctx, args)
	} else {
		//nolint:staticcheck // SA1019: fallback for statements without QueryContext
		rows, err = s.Stmt.Query(plainValues(args))
	}
	s.log.record(ctx, "query", s.query, args, start, err)
	return rows, err
}

func (s *loggingStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), namedValues(args))
}

func (s *loggingStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), namedValues(args))
}

// compactSQL folds the embedded multi-line statements onto one line.
func compactSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// tableOf returns the first table a statement reads or writes, skipping
// subqueries, or "" when there is none.
func tableOf(query string) string {
	fields := strings.Fields(query)
	for i := 0; i < len(fields)-1; i++ {
		switch strings.ToUpper(fields[i]) {
		case "FROM", "INTO", "UPDATE", "TABLE":
		default:
			continue
		}
		j := i + 1
		for j < len(fields) && isIfNotExists(fields[j]) {
			j++
		}
		if j == len(fields) || strings.HasPrefix(fields[j], "(") {
			continue
		}
		return strings.ToLower(strings.Trim(fields[j], "(),;"))
	}
	return ""
}

func isIfNotExists(tok string) bool {
	switch strings.ToUpper(tok) {
	case "IF", "NOT", "EXISTS":
		return true
	}
	return false
}

func formatArgs(args []driver.NamedValue) []string {
	out := make([]string, len(args))
	for i, a := range args {
		v := formatArg(a.Value)
		if a.Name != "" {
			v = a.Name + "=" + v
		}
		out[i] = v
	}
	return out
}

func formatArg(v driver.Value) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

func plainValues(args []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(args))
	for i := range args {
		out[i] = args[i].Value
	}
	return out
}

func namedValues(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}
