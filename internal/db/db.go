package db

import (
	"context"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Query parameters that libpq-style URLs may carry and pgx understands.
// Managed-Postgres connection strings sometimes include vendor extras
// (pgbouncer=true, supa=..., schema=...) that pgx rejects outright.
var allowedPGQueryKeys = map[string]struct{}{
	"application_name":        {},
	"channel_binding":         {},
	"client_encoding":         {},
	"connect_timeout":         {},
	"default_query_exec_mode": {},
	"options":                 {},
	"passfile":                {},
	"service":                 {},
	"sslcert":                 {},
	"sslkey":                  {},
	"sslmode":                 {},
	"sslrootcert":             {},
	"target_session_attrs":    {},
}

func Connect(ctx context.Context, rawURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(normalizeDatabaseURL(rawURL))
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

func normalizeDatabaseURL(rawURL string) string {
	normalized := strings.TrimSpace(rawURL)
	if strings.HasPrefix(normalized, "postgresql://") {
		normalized = "postgres://" + strings.TrimPrefix(normalized, "postgresql://")
	}

	parsed, err := url.Parse(normalized)
	if err != nil || parsed.Scheme != "postgres" {
		return normalized
	}

	filtered := make(url.Values)
	for key, values := range parsed.Query() {
		if _, ok := allowedPGQueryKeys[key]; ok {
			for _, v := range values {
				filtered.Add(key, v)
			}
		}
	}
	parsed.RawQuery = filtered.Encode()
	return parsed.String()
}
