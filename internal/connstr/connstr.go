// Package connstr normalizes pasted database connection strings. Users paste
// URLs with raw special characters in the password ("p@ss:w0rd") straight
// from provider dashboards; drivers reject those unless the userinfo is
// percent-encoded first.
package connstr

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL percent-encodes the userinfo of a URL-style connection string.
// Keyword/value DSNs ("host=... password=...") and driver-native DSNs without
// a scheme are returned unchanged; their drivers handle raw characters.
//
// Already-encoded credentials survive a second pass: the value is decoded
// first when it decodes cleanly, so "p%40ss" does not become "p%2540ss".
func NormalizeURL(raw string) (string, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw, nil
	}

	// Userinfo ends at the last '@'; earlier '@'s belong to the credentials.
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return raw, nil
	}
	userinfo, hostpart := rest[:at], rest[at+1:]

	user, pass, hasPass := strings.Cut(userinfo, ":")
	var encoded *url.Userinfo
	if hasPass {
		encoded = url.UserPassword(decodeIfClean(user), decodeIfClean(pass))
	} else {
		encoded = url.User(decodeIfClean(user))
	}

	normalized := scheme + "://" + encoded.String() + "@" + hostpart
	if _, err := url.Parse(normalized); err != nil {
		return "", fmt.Errorf("connection string is not a valid URL after encoding credentials: %w", err)
	}
	return normalized, nil
}

func decodeIfClean(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

// Host returns the host (without port) of a URL-style connection string, or
// "" when it cannot be determined.
func Host(conn string) string {
	u, err := url.Parse(conn)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// EnsureParam adds key=value to the query of a URL-style connection string
// when the key is absent. An existing value for the key is left alone.
func EnsureParam(conn, key, value string) string {
	u, err := url.Parse(conn)
	if err != nil || u.Scheme == "" {
		return conn
	}
	q := u.Query()
	if q.Get(key) != "" {
		return conn
	}
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

// EnsureMySQLParam adds key=value to a go-sql-driver DSN
// ("user:pass@tcp(host:port)/db?params") when the key is absent.
func EnsureMySQLParam(dsn, key, value string) string {
	base, params, hasParams := strings.Cut(dsn, "?")
	if hasParams {
		for _, p := range strings.Split(params, "&") {
			k, _, _ := strings.Cut(p, "=")
			if k == key {
				return dsn
			}
		}
		return base + "?" + params + "&" + key + "=" + value
	}
	return base + "?" + key + "=" + value
}

// IsSupabaseDirect reports whether the connection string targets a Supabase
// direct endpoint (db.<ref>.supabase.co). Direct endpoints resolve to IPv6
// only; callers on IPv4-only networks must use the pooler endpoint instead.
func IsSupabaseDirect(conn string) bool {
	host := Host(conn)
	return strings.HasPrefix(host, "db.") && strings.HasSuffix(host, ".supabase.co")
}
