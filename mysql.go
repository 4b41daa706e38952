package sqlgate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"sqlgate/internal/connstr"
)

// mysqlClient serves MySQL and PlanetScale through database/sql. The driver
// DSN format differs from the Postgres URL form, so parameter fixups go
// through connstr.EnsureMySQLParam.
type mysqlClient struct {
	profile    profile
	connString string
	logger     zerolog.Logger

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

func newMySQLClient(p profile, connString string, logger zerolog.Logger) *mysqlClient {
	return &mysqlClient{
		profile:    p,
		connString: connString,
		logger:     logger.With().Str("provider", string(p.identity)).Logger(),
	}
}

func (c *mysqlClient) ProviderName() string { return c.profile.display }

func (c *mysqlClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("%s client has been disconnected and cannot be reused", c.profile.display)
	}
	if c.db != nil {
		return nil
	}

	// parseTime makes the driver return time.Time for temporal columns
	// instead of []byte.
	dsn := connstr.EnsureMySQLParam(c.connString, "parseTime", "true")
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return &ConfigError{Reason: fmt.Sprintf("invalid connection string for provider %q: %v", c.profile.identity, err)}
	}
	db.SetMaxOpenConns(int(c.profile.maxConns))
	idle := int(c.profile.minConns)
	if idle < 2 {
		idle = 2
	}
	db.SetMaxIdleConns(idle)
	db.SetConnMaxIdleTime(c.profile.maxConnIdle)

	pingCtx, cancel := context.WithTimeout(ctx, c.profile.connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return &ConnectionError{Provider: c.profile.display, Err: err}
	}

	c.db = db
	c.logger.Debug().Msg("connection pool established")
	return nil
}

func (c *mysqlClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.db != nil {
		err = c.db.Close()
		c.db = nil
	}
	c.closed = true
	return err
}

func (c *mysqlClient) liveDB() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil, fmt.Errorf("%s: %w", c.profile.display, ErrNotConnected)
	}
	return c.db, nil
}

// RunQuery executes one statement. Statements that produce no result set go
// through ExecContext so RowsAffected is reported; everything else is read
// through QueryContext.
func (c *mysqlClient) RunQuery(ctx context.Context, sqlText string, args ...any) (*QueryResult, error) {
	db, err := c.liveDB()
	if err != nil {
		return nil, err
	}

	command := leadingKeyword(sqlText)
	if !returnsRows(command) {
		res, err := db.ExecContext(ctx, sqlText, args...)
		if err != nil {
			return nil, c.wrapQueryError(sqlText, err)
		}
		affected, _ := res.RowsAffected()
		return &QueryResult{
			Columns:      []string{},
			Rows:         []map[string]interface{}{},
			RowsAffected: affected,
			Command:      command,
		}, nil
	}

	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, c.wrapQueryError(sqlText, err)
	}
	defer rows.Close()

	result, err := collectSQLRows(rows)
	if err != nil {
		return nil, err
	}
	result.Command = command
	return result, nil
}

func (c *mysqlClient) wrapQueryError(sqlText string, err error) error {
	return &QueryError{Provider: c.profile.display, Excerpt: sqlExcerpt(sqlText), Err: err}
}

const mysqlListTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = DATABASE()
  AND table_type IN ('BASE TABLE', 'VIEW')
ORDER BY table_name;
`

func (c *mysqlClient) ListTables(ctx context.Context) ([]string, error) {
	db, err := c.liveDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, mysqlListTablesSQL)
	if err != nil {
		return nil, c.wrapQueryError(mysqlListTablesSQL, err)
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ListTables scan failed: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

const mysqlColumnsSQL = `
SELECT column_name, data_type, IF(is_nullable = 'YES', TRUE, FALSE) AS nullable,
       column_key
FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name = ?
ORDER BY ordinal_position;
`

const mysqlForeignKeysSQL = `
SELECT column_name, referenced_table_name, referenced_column_name
FROM information_schema.key_column_usage
WHERE table_schema = DATABASE()
  AND table_name = ?
  AND referenced_table_name IS NOT NULL
ORDER BY ordinal_position;
`

// DescribeTable returns the uniform schema shape. Primary keys fall out of
// the column_key flag, so no separate constraint query is needed.
func (c *mysqlClient) DescribeTable(ctx context.Context, table string) (*TableSchema, error) {
	db, err := c.liveDB()
	if err != nil {
		return nil, err
	}

	out := &TableSchema{Name: table, Columns: []ColumnInfo{}, PrimaryKeys: []string{}, ForeignKeys: []ForeignKey{}}

	rows, err := db.QueryContext(ctx, mysqlColumnsSQL, table)
	if err != nil {
		return nil, c.wrapQueryError(mysqlColumnsSQL, err)
	}
	defer rows.Close()
	for rows.Next() {
		var col ColumnInfo
		var columnKey string
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &columnKey); err != nil {
			return nil, fmt.Errorf("DescribeTable column scan failed: %w", err)
		}
		out.Columns = append(out.Columns, col)
		if columnKey == "PRI" {
			out.PrimaryKeys = append(out.PrimaryKeys, col.Name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out.Columns) == 0 {
		return nil, fmt.Errorf("table not found: %s", table)
	}

	fkRows, err := db.QueryContext(ctx, mysqlForeignKeysSQL, table)
	if err != nil {
		return nil, c.wrapQueryError(mysqlForeignKeysSQL, err)
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

// ExplainQuery returns the tabular EXPLAIN output rendered as text.
func (c *mysqlClient) ExplainQuery(ctx context.Context, sqlText string) (string, error) {
	db, err := c.liveDB()
	if err != nil {
		return "", err
	}
	rows, err := db.QueryContext(ctx, "EXPLAIN "+sqlText)
	if err != nil {
		return "", c.wrapQueryError(sqlText, err)
	}
	defer rows.Close()

	result, err := collectSQLRows(rows)
	if err != nil {
		return "", err
	}
	lines := []string{strings.Join(result.Columns, "\t")}
	for _, row := range result.Rows {
		fields := make([]string, len(result.Columns))
		for i, col := range result.Columns {
			fields[i] = fmt.Sprintf("%v", row[col])
		}
		lines = append(lines, strings.Join(fields, "\t"))
	}
	return strings.Join(lines, "\n"), nil
}

// collectSQLRows reads a database/sql result set into the provider-neutral
// shape. The MySQL driver hands back []byte for text columns; those become
// strings.
func collectSQLRows(rows *sql.Rows) (*QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	resultRows := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = convertSQLValue(values[i])
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryResult{Columns: columns, Rows: resultRows}, nil
}

func convertSQLValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}

// leadingKeyword returns the upper-cased first word of a statement.
func leadingKeyword(sqlText string) string {
	fields := strings.Fields(strings.TrimSpace(sqlText))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// returnsRows reports whether a statement produces a result set.
func returnsRows(command string) bool {
	switch command {
	case "SELECT", "SHOW", "DESCRIBE", "DESC", "EXPLAIN", "WITH", "TABLE", "VALUES":
		return true
	}
	return false
}
