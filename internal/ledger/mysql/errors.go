package mysql

import (
	"context"
	"errors"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/ledger"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDuplicateEntry  = 1062
	errAccessDenied    = 1045
	errUnknownDatabase = 1049
	errNoSuchTable     = 1146
)

// mapError converts a MySQL driver error into a *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Transport(msg, err)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case errDuplicateEntry:
			return ledger.Duplicate(err)
		case errAccessDenied, errUnknownDatabase:
			return errs.Wrap(errs.ErrKindConfiguration, msg+": "+mysqlErr.Message, err)
		case errNoSuchTable:
			return errs.Wrap(errs.ErrKindConfiguration, msg+": ledger table missing, run Migrate", err)
		}
		return errs.Remote(msg, strconv.Itoa(int(mysqlErr.Number)), 0, err)
	}

	// driver.ErrBadConn, refused connections, i/o timeouts
	return errs.Transport(msg, err)
}
