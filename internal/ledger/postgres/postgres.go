// Package postgres implements the upload ledger on PostgreSQL with pgxpool.
package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/ledger"
	"github.com/koustreak/ossgate/internal/logger"
)

const createTable = `CREATE TABLE IF NOT EXISTS ` + ledger.Table + ` (
	id          CHAR(40) PRIMARY KEY,
	bucket      VARCHAR(63) NOT NULL,
	object_key  TEXT NOT NULL,
	etag        VARCHAR(64) NOT NULL,
	size        BIGINT NOT NULL,
	mime_type   VARCHAR(255) NOT NULL DEFAULT '',
	width       INTEGER NOT NULL DEFAULT 0,
	height      INTEGER NOT NULL DEFAULT 0,
	format      VARCHAR(32) NOT NULL DEFAULT '',
	vars        TEXT NOT NULL DEFAULT '{}',
	received_at TIMESTAMPTZ NOT NULL
)`

const createIndex = `CREATE INDEX IF NOT EXISTS ` + ledger.Table + `_object_key_idx ON ` + ledger.Table + ` (object_key text_pattern_ops)`

const insertUpload = `INSERT INTO ` + ledger.Table + `
	(id, bucket, object_key, etag, size, mime_type, width, height, format, vars, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const selectByDir = `SELECT bucket, object_key, etag, size, mime_type, width, height, format, vars, received_at
	FROM ` + ledger.Table + `
	WHERE object_key LIKE $1
	ORDER BY received_at DESC
	LIMIT $2`

// pool is the subset of *pgxpool.Pool the ledger uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Ledger is a PostgreSQL implementation of ledger.Ledger.
// It is safe for concurrent use by multiple goroutines.
type Ledger struct {
	pool pool
	log  *logger.Logger
}

var _ ledger.Ledger = (*Ledger)(nil)

// New connects to PostgreSQL using cfg and returns a Ledger.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *ledger.Config, log *logger.Logger) (*Ledger, error) {
	p, err := buildPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	l := newLedger(p, log)
	if err := l.Ping(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return l, nil
}

func newLedger(p pool, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	return &Ledger{pool: p, log: log.Component("ledger.postgres")}
}

// Migrate creates the ledger table and its prefix index.
func (l *Ledger) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createTable, createIndex} {
		if _, err := l.pool.Exec(ctx, stmt); err != nil {
			return mapError(err, "migration failed")
		}
	}
	l.log.Debug("ledger table ready")
	return nil
}

// Record inserts u.
func (l *Ledger) Record(ctx context.Context, u *ledger.Upload) error {
	if err := u.Validate(); err != nil {
		return err
	}
	vars, err := json.Marshal(u.Vars)
	if err != nil {
		return errs.Wrap(errs.ErrKindInvalidArgument, "upload vars are not encodable", err)
	}
	if u.Vars == nil {
		vars = []byte("{}")
	}

	_, err = l.pool.Exec(ctx, insertUpload,
		u.ID(), u.Bucket, u.Object, u.ETag, u.Size,
		u.MimeType, u.Width, u.Height, u.Format, string(vars), u.ReceivedAt.UTC(),
	)
	if err != nil {
		return mapError(err, "failed to record upload")
	}
	return nil
}

// ListByDir returns the newest uploads under dir.
func (l *Ledger) ListByDir(ctx context.Context, dir string, limit int) ([]ledger.Upload, error) {
	rows, err := l.pool.Query(ctx, selectByDir, ledger.LikePrefix(dir), ledger.Limit(limit))
	if err != nil {
		return nil, mapError(err, "failed to list uploads")
	}
	defer rows.Close()

	out := make([]ledger.Upload, 0)
	for rows.Next() {
		var (
			u    ledger.Upload
			vars string
		)
		if err := rows.Scan(&u.Bucket, &u.Object, &u.ETag, &u.Size, &u.MimeType,
			&u.Width, &u.Height, &u.Format, &vars, &u.ReceivedAt); err != nil {
			return nil, mapError(err, "failed to scan upload")
		}
		if err := json.Unmarshal([]byte(vars), &u.Vars); err != nil {
			return nil, errs.Wrap(errs.ErrKindTransport, "corrupt upload vars", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "failed to list uploads")
	}
	return out, nil
}

// Ping verifies the database is reachable by acquiring and releasing a connection.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return mapError(err, "ping failed")
	}
	return nil
}

// Close drains the connection pool. Call when the application shuts down.
func (l *Ledger) Close() error {
	l.pool.Close()
	return nil
}
