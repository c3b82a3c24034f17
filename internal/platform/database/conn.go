package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Conn is one live database session. *pgx.Conn satisfies it.
type Conn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	IsClosed() bool
}

// Dialer opens new sessions for the pool.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a plain function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

var (
	connectionStringCredentialsPattern = regexp.MustCompile(`://[^@\s]+@`)
	connectionStringPasswordPattern    = regexp.MustCompile(`(?i)(password=)([^\s&]+)`)
)

type PgxDialer struct {
	config *pgx.ConnConfig
}

func NewPgxDialer(dsn string) (*PgxDialer, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %s", sanitizeSensitiveError(err))
	}
	return &PgxDialer{config: cfg}, nil
}

func (d *PgxDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := pgx.ConnectConfig(ctx, d.config)
	if err != nil {
		return nil, errors.New(sanitizeSensitiveError(err))
	}
	return conn, nil
}

// sanitizeSensitiveError strips credentials that pgx may echo back from the DSN.
func sanitizeSensitiveError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := connectionStringCredentialsPattern.ReplaceAllString(err.Error(), "://***@")
	return connectionStringPasswordPattern.ReplaceAllString(sanitized, "${1}***")
}
