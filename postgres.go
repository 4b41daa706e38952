package sqlgate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// postgresClient serves the whole Postgres family (generic, Supabase, Neon,
// RDS). The profile carries everything that differs between them.
type postgresClient struct {
	profile    profile
	connString string
	logger     zerolog.Logger

	mu     sync.Mutex
	pool   *pgxpool.Pool
	closed bool
}

func newPostgresClient(p profile, connString string, logger zerolog.Logger) *postgresClient {
	return &postgresClient{
		profile:    p,
		connString: connString,
		logger:     logger.With().Str("provider", string(p.identity)).Logger(),
	}
}

func (c *postgresClient) ProviderName() string { return c.profile.display }

// Connect creates the connection pool and verifies it with a ping. Calling
// Connect on an already connected client is a no-op; a disconnected client
// cannot be reconnected.
func (c *postgresClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%s client has been disconnected and cannot be reused", c.profile.display)
	}
	if c.pool != nil {
		return nil
	}

	poolConfig, err := pgxpool.ParseConfig(c.connString)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("invalid connection string for provider %q: %v", c.profile.identity, err)}
	}
	poolConfig.MaxConns = c.profile.maxConns
	poolConfig.MinConns = c.profile.minConns
	poolConfig.MaxConnIdleTime = c.profile.maxConnIdle
	poolConfig.ConnConfig.ConnectTimeout = c.profile.connectTimeout
	// Extended query protocol without prepared-statement caching: safe with
	// transaction-mode poolers (Supabase pooler, pgbouncer).
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return &ConnectionError{Provider: c.profile.display, Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.profile.connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return &ConnectionError{Provider: c.profile.display, Err: err}
	}

	c.pool = pool
	c.logger.Debug().Msg("connection pool established")
	return nil
}

// Disconnect drains the pool. Terminal: the client must not be reused.
// pgxpool.Pool.Close does not support context-based shutdown; ctx is accepted
// for contract symmetry only.
func (c *postgresClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	c.closed = true
	return nil
}

func (c *postgresClient) livePool() (*pgxpool.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		return nil, fmt.Errorf("%s: %w", c.profile.display, ErrNotConnected)
	}
	return c.pool, nil
}

// RunQuery executes one statement. Only profiles with retryAttempts > 0
// (Neon) retry, and only on connection-class errors: serverless compute
// scaling to zero makes the first statement after idle fail in ways a plain
// server never does. Everything else propagates immediately.
func (c *postgresClient) RunQuery(ctx context.Context, sql string, args ...any) (*QueryResult, error) {
	pool, err := c.livePool()
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := c.runOnce(ctx, pool, sql, args)
		if err == nil {
			if attempt > 0 {
				c.logger.Info().Int("attempts", attempt+1).Msg("query succeeded after retry")
			}
			return result, nil
		}
		lastErr = err
		if attempt >= c.profile.retryAttempts || !isConnectionClass(err) || ctx.Err() != nil {
			break
		}
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("connection-class error, retrying")
		select {
		case <-time.After(c.profile.retryBackoff):
		case <-ctx.Done():
			return nil, c.wrapQueryError(sql, ctx.Err())
		}
	}
	return nil, c.wrapQueryError(sql, lastErr)
}

func (c *postgresClient) runOnce(ctx context.Context, pool *pgxpool.Pool, sql string, args []any) (*QueryResult, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectPgxRows(rows)
}

func (c *postgresClient) wrapQueryError(sql string, err error) error {
	if isConnectionClass(err) {
		return &ConnectionError{Provider: c.profile.display, Err: err}
	}
	return &QueryError{Provider: c.profile.display, Excerpt: sqlExcerpt(sql), Err: err}
}

const pgListTablesSQL = `
SELECT table_schema, table_name
FROM information_schema.tables
WHERE table_type IN ('BASE TABLE', 'VIEW')
  AND table_schema NOT IN ('pg_catalog', 'information_schema')
ORDER BY table_schema, table_name;
`

// ListTables returns the tables and views visible to the connected role.
// Names outside the public schema are schema-qualified.
func (c *postgresClient) ListTables(ctx context.Context) ([]string, error) {
	pool, err := c.livePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, pgListTablesSQL)
	if err != nil {
		return nil, c.wrapQueryError(pgListTablesSQL, err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var schema, name string
		if err := rows.Scan(&schema, &name); err != nil {
			return nil, fmt.Errorf("ListTables scan failed: %w", err)
		}
		if schema != "public" {
			name = schema + "." + name
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

const pgColumnsSQL = `
SELECT column_name, data_type,
       CASE is_nullable WHEN 'YES' THEN true ELSE false END AS nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position;
`

const pgPrimaryKeysSQL = `
SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name
    AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY'
  AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position;
`

const pgForeignKeysSQL = `
SELECT kcu.column_name, ccu.table_name AS referenced_table, ccu.column_name AS referenced_column
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
    ON tc.constraint_name = kcu.constraint_name
    AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
    ON tc.constraint_name = ccu.constraint_name
    AND tc.table_schema = ccu.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY'
  AND tc.table_schema = $1 AND tc.table_name = $2
ORDER BY kcu.ordinal_position;
`

// DescribeTable returns the uniform schema shape for a table. The table name
// may be schema-qualified ("analytics.orders"); unqualified names resolve to
// the public schema.
func (c *postgresClient) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	pool, err := c.livePool()
	if err != nil {
		return nil, err
	}
	schema := "public"
	if s, t, ok := strings.Cut(table, "."); ok {
		schema, table = s, t
	}

	out := &TableSchema{Name: table, Columns: []ColumnInfo{}, PrimaryKeys: []string{}, ForeignKeys: []ForeignKey{}}

	rows, err := pool.Query(ctx, pgColumnsSQL, schema, table)
	if err != nil {
		return nil, c.wrapQueryError(pgColumnsSQL, err)
	}
	defer rows.Close()
	for rows.Next() {
		var col ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable); err != nil {
			return nil, fmt.Errorf("DescribeTable column scan failed: %w", err)
		}
		out.Columns = append(out.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out.Columns) == 0 {
		return nil, fmt.Errorf("table not found: %s.%s", schema, table)
	}

	pkRows, err := pool.Query(ctx, pgPrimaryKeysSQL, schema, table)
	if err != nil {
		return nil, c.wrapQueryError(pgPrimaryKeysSQL, err)
	}
	defer pkRows.Close()
	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, fmt.Errorf("DescribeTable primary key scan failed: %w", err)
		}
		out.PrimaryKeys = append(out.PrimaryKeys, name)
	}
	if err := pkRows.Err(); err != nil {
		return nil, err
	}

	fkRows, err := pool.Query(ctx, pgForeignKeysSQL, schema, table)
	if err != nil {
		return nil, c.wrapQueryError(pgForeignKeysSQL, err)
	}
	defer fkRows.Close()
	for fkRows.Next() {
		var fk ForeignKey
		if err := fkRows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("DescribeTable foreign key scan failed: %w", err)
		}
		out.ForeignKeys = append(out.ForeignKeys, fk)
	}
	return out, fkRows.Err()
}

// ExplainQuery returns the plain-text EXPLAIN plan for a statement.
func (c *postgresClient) ExplainQuery(ctx context.Context, sql string) (string, error) {
	pool, err := c.livePool()
	if err != nil {
		return "", err
	}
	rows, err := pool.Query(ctx, "EXPLAIN "+sql)
	if err != nil {
		return "", c.wrapQueryError(sql, err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", fmt.Errorf("ExplainQuery scan failed: %w", err)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), rows.Err()
}

// collectPgxRows reads all rows into the provider-neutral QueryResult shape.
func collectPgxRows(rows pgx.Rows) (*QueryResult, error) {
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	resultRows := make([]map[string]interface{}, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = convertPgxValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tag := rows.CommandTag()
	command, _, _ := strings.Cut(tag.String(), " ")
	return &QueryResult{
		Columns:      columns,
		Rows:         resultRows,
		RowsAffected: tag.RowsAffected(),
		Command:      command,
	}, nil
}

// convertPgxValue converts a pgx-returned value to a JSON-friendly Go type.
func convertPgxValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val))
	case float64:
		return convertFloat(val)
	case [16]byte:
		// UUID
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16])
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, v := range val {
			result[k] = convertPgxValue(v)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(val))
		for i, v := range val {
			result[i] = convertPgxValue(v)
		}
		return result
	default:
		return val
	}
}

func convertFloat(f float64) interface{} {
	if math.IsNaN(f) {
		return "NaN"
	}
	if math.IsInf(f, 1) {
		return "Infinity"
	}
	if math.IsInf(f, -1) {
		return "-Infinity"
	}
	return f
}

// isConnectionClass reports whether an error is a transport-level failure
// rather than a statement-level one.
func isConnectionClass(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 (connection exception) and 57P0x (shutdown/crash).
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P")
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	msg := err.Error()
	for _, fragment := range []string{
		"connection refused", "connection reset", "broken pipe",
		"unexpected EOF", "server closed the connection", "failed to connect",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
