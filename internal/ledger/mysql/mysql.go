// Package mysql implements the upload ledger on MySQL with database/sql and
// go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/ledger"
	"github.com/koustreak/ossgate/internal/logger"
)

const createTable = "CREATE TABLE IF NOT EXISTS " + ledger.Table + ` (
	id          CHAR(40) NOT NULL PRIMARY KEY,
	bucket      VARCHAR(63) NOT NULL,
	object_key  VARCHAR(1024) NOT NULL,
	etag        VARCHAR(64) NOT NULL,
	size        BIGINT NOT NULL,
	mime_type   VARCHAR(255) NOT NULL DEFAULT '',
	width       INT NOT NULL DEFAULT 0,
	height      INT NOT NULL DEFAULT 0,
	format      VARCHAR(32) NOT NULL DEFAULT '',
	vars        TEXT NOT NULL,
	received_at DATETIME(6) NOT NULL,
	KEY ` + ledger.Table + `_object_key_idx (object_key(191))
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const insertUpload = "INSERT INTO " + ledger.Table + `
	(id, bucket, object_key, etag, size, mime_type, width, height, format, vars, received_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectByDir = `SELECT bucket, object_key, etag, size, mime_type, width, height, format, vars, received_at
	FROM ` + ledger.Table + `
	WHERE object_key LIKE ?
	ORDER BY received_at DESC
	LIMIT ?`

// conn is the subset of *sql.DB the ledger uses.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}

// Ledger is a MySQL implementation of ledger.Ledger.
// It is safe for concurrent use by multiple goroutines.
type Ledger struct {
	db  conn
	log *logger.Logger
}

var _ ledger.Ledger = (*Ledger)(nil)

// New opens a MySQL pool using cfg and returns a Ledger.
// It calls Ping to validate the connection before returning.
func New(ctx context.Context, cfg *ledger.Config, log *logger.Logger) (*Ledger, error) {
	db, err := buildPool(cfg)
	if err != nil {
		return nil, err
	}

	l := newLedger(db, log)
	if err := l.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func newLedger(db conn, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	return &Ledger{db: db, log: log.Component("ledger.mysql")}
}

// Migrate creates the ledger table.
func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, createTable); err != nil {
		return mapError(err, "migration failed")
	}
	l.log.Debug("ledger table ready")
	return nil
}

// Record inserts u.
func (l *Ledger) Record(ctx context.Context, u *ledger.Upload) error {
	if err := u.Validate(); err != nil {
		return err
	}
	vars := []byte("{}")
	if u.Vars != nil {
		raw, err := json.Marshal(u.Vars)
		if err != nil {
			return errs.Wrap(errs.ErrKindInvalidArgument, "upload vars are not encodable", err)
		}
		vars = raw
	}

	_, err := l.db.ExecContext(ctx, insertUpload,
		u.ID(), u.Bucket, u.Object, u.ETag, u.Size,
		u.MimeType, u.Width, u.Height, u.Format, string(vars), u.ReceivedAt.UTC(),
	)
	return mapError(err, "failed to record upload")
}

// ListByDir returns the newest uploads under dir.
func (l *Ledger) ListByDir(ctx context.Context, dir string, limit int) ([]ledger.Upload, error) {
	rows, err := l.db.QueryContext(ctx, selectByDir, ledger.LikePrefix(dir), ledger.Limit(limit))
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

// Ping verifies the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return mapError(l.db.PingContext(ctx), "ping failed")
}

// Close closes the connection pool.
func (l *Ledger) Close() error {
	return l.db.Close()
}
