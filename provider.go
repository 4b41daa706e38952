package sqlgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sqlgate/internal/connstr"
	"sqlgate/internal/redact"
)

// Identity names the backend family/vendor a client targets. Immutable per
// client instance.
type Identity string

const (
	ProviderPostgres    Identity = "postgres"
	ProviderSupabase    Identity = "supabase"
	ProviderNeon        Identity = "neon"
	ProviderRDS         Identity = "rds"
	ProviderMySQL       Identity = "mysql"
	ProviderPlanetScale Identity = "planetscale"
)

// ParseIdentity validates a provider identifier string.
func ParseIdentity(s string) (Identity, error) {
	id := Identity(s)
	if _, ok := profileFor(id); !ok {
		return "", &ConfigError{Reason: fmt.Sprintf("unsupported provider %q", s)}
	}
	return id, nil
}

// Client is the uniform capability set every provider implements. Query and
// introspection methods require a successful Connect first; a disconnected
// client is terminal and must not be reused.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	RunQuery(ctx context.Context, sql string, args ...any) (*QueryResult, error)
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (*TableSchema, error)
	ExplainQuery(ctx context.Context, sql string) (string, error)
	ProviderName() string
}

type family int

const (
	familyPostgres family = iota
	familyMySQL
)

// profile carries everything that differs between providers: pool bounds,
// SSL policy, timeouts, retry policy, and connection-string fixups. The
// algorithms are shared; the profile is configuration.
type profile struct {
	identity       Identity
	display        string
	family         family
	maxConns       int32
	minConns       int32
	connectTimeout time.Duration
	maxConnIdle    time.Duration
	retryAttempts  int
	retryBackoff   time.Duration
	fixup          func(conn string) (string, error)
}

func profileFor(id Identity) (profile, bool) {
	switch id {
	case ProviderPostgres:
		return profile{
			identity: id, display: "PostgreSQL", family: familyPostgres,
			maxConns: 10, minConns: 0,
			connectTimeout: 10 * time.Second, maxConnIdle: 5 * time.Minute,
			fixup: fixupPostgresGeneric,
		}, true
	case ProviderSupabase:
		// Pooler-friendly: small pool, short idle, TLS required. Direct
		// endpoints are IPv6-only and rejected in favor of the pooler.
		return profile{
			identity: id, display: "Supabase", family: familyPostgres,
			maxConns: 5, minConns: 0,
			connectTimeout: 10 * time.Second, maxConnIdle: 2 * time.Minute,
			fixup: fixupSupabase,
		}, true
	case ProviderNeon:
		// Serverless: compute scales to zero, so the first statement after
		// idle can hit a cold start. Only this profile retries.
		return profile{
			identity: id, display: "Neon", family: familyPostgres,
			maxConns: 5, minConns: 0,
			connectTimeout: 15 * time.Second, maxConnIdle: 1 * time.Minute,
			retryAttempts: 2, retryBackoff: 1 * time.Second,
			fixup: fixupNeon,
		}, true
	case ProviderRDS:
		return profile{
			identity: id, display: "Amazon RDS", family: familyPostgres,
			maxConns: 10, minConns: 1,
			connectTimeout: 10 * time.Second, maxConnIdle: 5 * time.Minute,
			fixup: fixupRDS,
		}, true
	case ProviderMySQL:
		return profile{
			identity: id, display: "MySQL", family: familyMySQL,
			maxConns: 10, minConns: 0,
			connectTimeout: 10 * time.Second, maxConnIdle: 5 * time.Minute,
			fixup: func(conn string) (string, error) { return conn, nil },
		}, true
	case ProviderPlanetScale:
		return profile{
			identity: id, display: "PlanetScale", family: familyMySQL,
			maxConns: 5, minConns: 0,
			connectTimeout: 10 * time.Second, maxConnIdle: 2 * time.Minute,
			fixup: fixupPlanetScale,
		}, true
	}
	return profile{}, false
}

func fixupPostgresGeneric(conn string) (string, error) {
	return connstr.NormalizeURL(conn)
}

func fixupSupabase(conn string) (string, error) {
	conn, err := connstr.NormalizeURL(conn)
	if err != nil {
		return "", err
	}
	if connstr.IsSupabaseDirect(conn) {
		return "", &ConfigError{Reason: fmt.Sprintf(
			"direct Supabase endpoint %q resolves to IPv6 only; use the connection pooler endpoint (*.pooler.supabase.com) instead", connstr.Host(conn))}
	}
	return connstr.EnsureParam(conn, "sslmode", "require"), nil
}

func fixupNeon(conn string) (string, error) {
	conn, err := connstr.NormalizeURL(conn)
	if err != nil {
		return "", err
	}
	return connstr.EnsureParam(conn, "sslmode", "require"), nil
}

func fixupRDS(conn string) (string, error) {
	conn, err := connstr.NormalizeURL(conn)
	if err != nil {
		return "", err
	}
	return connstr.EnsureParam(conn, "sslmode", "verify-full"), nil
}

func fixupPlanetScale(conn string) (string, error) {
	return connstr.EnsureMySQLParam(conn, "tls", "true"), nil
}

// newProviderClient constructs (without connecting) the client for an
// identity. The connection-string fixup runs here, so malformed or rejected
// strings fail before any dialing happens.
func newProviderClient(id Identity, conn string, logger zerolog.Logger) (Client, error) {
	p, ok := profileFor(id)
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported provider %q", id)}
	}
	fixed, err := p.fixup(conn)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			return nil, err
		}
		return nil, &ConfigError{Reason: fmt.Sprintf("invalid connection string for provider %q: %v", id, err)}
	}
	switch p.family {
	case familyMySQL:
		return newMySQLClient(p, fixed, logger), nil
	default:
		return newPostgresClient(p, fixed, logger), nil
	}
}

// ErrNotConnected is returned by query and introspection methods called
// before Connect or after Disconnect.
var ErrNotConnected = errors.New("client is not connected")

// ConfigError is a missing or invalid configuration value. Fatal to the
// current call, never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Reason }

// ConnectionError wraps a transport or authentication failure.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// QueryError wraps a backend statement failure. Excerpt is a capped prefix
// of the offending statement: SQL literals may carry secrets, so the full
// text is never attached to errors.
type QueryError struct {
	Provider string
	Excerpt  string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed on %s: %v (sql: %s)", e.Provider, e.Err, e.Excerpt)
}

func (e *QueryError) Unwrap() error { return e.Err }

// sqlExcerptLen caps SQL text embedded in errors and logs.
const sqlExcerptLen = 120

func sqlExcerpt(sql string) string {
	return redact.SQLExcerpt(sql, sqlExcerptLen)
}
