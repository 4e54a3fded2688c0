package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/ledger"
)

// PostgreSQL SQLSTATE error codes
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrUniqueViolation = "23505"
	pgErrInvalidPassword = "28P01"
	pgErrInvalidAuthSpec = "28000"
	pgErrUndefinedTable  = "42P01"
)

// mapError converts a pgx error into a *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Transport(msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return ledger.Duplicate(err)
		case pgErrInvalidPassword, pgErrInvalidAuthSpec:
			return errs.Wrap(errs.ErrKindConfiguration, msg+": authentication failed", err)
		case pgErrUndefinedTable:
			return errs.Wrap(errs.ErrKindConfiguration, msg+": ledger table missing, run Migrate", err)
		}
		return errs.Remote(msg, pgErr.Code, 0, err)
	}

	// Connection failures, broken pipes and everything else the wire
	// can throw at us
	return errs.Transport(msg, err)
}
