package mysql

import (
	"database/sql"
	"net"
	"strconv"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/ledger"
)

const (
	defaultMaxOpenConns    = 10
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	defaultConnectTimeout  = 5 * time.Second
	defaultPort            = 3306
)

// buildPool configures and returns a *sql.DB with pool settings.
func buildPool(cfg *ledger.Config) (*sql.DB, error) {
	connector, err := gomysql.NewConnector(buildConfig(cfg))
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid mysql config", err)
	}
	db := sql.OpenDB(connector)

	maxOpen := int(cfg.MaxConns)
	if maxOpen == 0 {
		maxOpen = defaultMaxOpenConns
	}
	maxIdle := int(cfg.MinConns)
	if maxIdle == 0 {
		maxIdle = defaultMaxIdleConns
	}
	lifetime := cfg.MaxConnLifetime
	if lifetime == 0 {
		lifetime = defaultConnMaxLifetime
	}
	idle := cfg.MaxConnIdleTime
	if idle == 0 {
		idle = defaultConnMaxIdleTime
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)
	db.SetConnMaxIdleTime(idle)

	return db, nil
}

// buildConfig translates the ledger config into a driver config.
// parseTime is required to scan DATETIME into time.Time.
func buildConfig(cfg *ledger.Config) *gomysql.Config {
	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = defaultConnectTimeout
	}

	c := gomysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	c.Timeout = timeout
	return c
}
