package ledger

import (
	"time"

	"github.com/koustreak/ossgate/internal/errs"
)

// Driver identifies the database engine backing the ledger.
type Driver string

const (
	DriverNone     Driver = "none"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds all settings needed to connect to and pool the ledger database.
type Config struct {
	// Driver is the database engine. Empty or DriverNone disables the ledger.
	Driver Driver `yaml:"driver"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// SSLMode is passed through to postgres ("disable", "require", ...).
	SSLMode string `yaml:"sslmode"`

	// Pool tuning
	MaxConns        int32         `yaml:"max_conns"`          // maximum number of open connections
	MinConns        int32         `yaml:"min_conns"`          // idle connections kept alive
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`  // maximum time a connection may be reused
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"` // maximum time a connection may sit idle

	// ConnectTimeout bounds establishing a new connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultConfig returns a disabled ledger with sensible pool settings.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverNone,
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: 30 * time.Minute,
		MaxConnIdleTime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// Enabled reports whether a database is configured.
func (c *Config) Enabled() bool {
	return c.Driver != "" && c.Driver != DriverNone
}

// Validate reports a ConfigurationError for an unusable ledger config.
// A disabled ledger is always valid.
func (c *Config) Validate() error {
	switch c.Driver {
	case "", DriverNone:
		return nil
	case DriverPostgres, DriverMySQL:
	default:
		return errs.Configuration("unknown ledger driver %q", c.Driver)
	}
	if c.Host == "" {
		return errs.Configuration("ledger host is required")
	}
	if c.Database == "" {
		return errs.Configuration("ledger database is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errs.Configuration("ledger port %d is out of range", c.Port)
	}
	return nil
}
