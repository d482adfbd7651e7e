// Package database runs queries against an app's Heroku Postgres database,
// either through `heroku pg:psql` or over a direct connection.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/netintel/herokumcp/validator"
)

const (
	ModeCLI    = "cli"
	ModeDirect = "direct"

	DefaultMaxRows = 500
)

// CLI is the part of the platform adapter used for queries.
type CLI interface {
	PSQL(ctx context.Context, app, query string, readOnly bool) (string, error)
	ConfigGet(ctx context.Context, app, key string) (string, error)
}

// Opener connects to the database at dsn.
type Opener func(ctx context.Context, dsn string) (*sqlx.DB, error)

type Options struct {
	Mode        string
	AllowWrites bool
	MaxRows     int
	Open        Opener
	Logger      *slog.Logger
}

type Querier struct {
	cli         CLI
	mode        string
	allowWrites bool
	maxRows     int
	open        Opener
	logger      *slog.Logger
}

func New(cli CLI, opts Options) *Querier {
	q := &Querier{
		cli:         cli,
		mode:        opts.Mode,
		allowWrites: opts.AllowWrites,
		maxRows:     opts.MaxRows,
		open:        opts.Open,
		logger:      opts.Logger,
	}
	if q.mode == "" {
		q.mode = ModeCLI
	}
	if q.maxRows <= 0 {
		q.maxRows = DefaultMaxRows
	}
	if q.open == nil {
		q.open = OpenPostgres
	}
	if q.logger == nil {
		q.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return q
}

// OpenPostgres connects with lib/pq using a single connection. Heroku
// DATABASE_URLs omit sslmode, which lib/pq then treats as "require".
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Query runs query against app's database and renders the result.
func (q *Querier) Query(ctx context.Context, app, query string) (string, error) {
	if !q.allowWrites {
		if err := validator.ReadOnlySQL(query); err != nil {
			return "", err
		}
	} else if err := validator.MetaCommand(query); err != nil {
		return "", err
	}

	var (
		result string
		err    error
	)
	switch q.mode {
	case ModeDirect:
		result, err = q.queryDirect(ctx, app, query)
	default:
		result, err = q.cli.PSQL(ctx, app, query, !q.allowWrites)
	}
	if err != nil {
		return "", fmt.Errorf("query database for %s: %w", app, err)
	}
	return FormatResult(app, query, result), nil
}

func (q *Querier) queryDirect(ctx context.Context, app, query string) (string, error) {
	dsn, err := q.cli.ConfigGet(ctx, app, "DATABASE_URL")
	if err != nil {
		return "", fmt.Errorf("resolve DATABASE_URL: %w", err)
	}

	db, err := q.open(ctx, dsn)
	if err != nil {
		// lib/pq errors can echo the DSN, which carries the password.
		return "", fmt.Errorf("connect to %s database failed", app)
	}
	defer func() { _ = db.Close() }()

	tx, err := db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: !q.allowWrites})
	if err != nil {
		return "", fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryxContext(ctx, query)
	if err != nil {
		return "", err
	}
	table, err := renderRows(rows, q.maxRows)
	_ = rows.Close()
	if err != nil {
		return "", err
	}

	if q.allowWrites {
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("commit: %w", err)
		}
		committed = true
	}
	q.logger.DebugContext(ctx, "direct query", "app", app, "read_only", !q.allowWrites)
	return table, nil
}

func FormatResult(app, query, result string) string {
	return fmt.Sprintf("Database query executed on %s:\n\nQuery: %s\n\nResult:\n%s", app, query, result)
}
