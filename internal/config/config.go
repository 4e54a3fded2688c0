// Package config loads the ossgate service configuration from YAML, applies
// secret overrides from the environment and validates the result.
//
// Only the service binary reads configuration; library packages receive
// plain structs.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/filestore/policy"
	"github.com/koustreak/ossgate/internal/ledger"
	"github.com/koustreak/ossgate/internal/logger"
)

// Environment variables that override secrets from the file.
const (
	EnvAccessKeyID     = "OSSGATE_ACCESS_KEY_ID"
	EnvAccessKeySecret = "OSSGATE_ACCESS_KEY_SECRET"
	EnvSecurityToken   = "OSSGATE_SECURITY_TOKEN"
	EnvLedgerPassword  = "OSSGATE_LEDGER_PASSWORD"
)

// Config is the full service configuration.
type Config struct {
	Storage filestore.Credentials `yaml:"storage"`
	Upload  Upload                `yaml:"upload"`
	Listing Listing               `yaml:"listing"`
	Server  Server                `yaml:"server"`
	Ledger  ledger.Config         `yaml:"ledger"`
	Log     logger.Config         `yaml:"log"`
}

// Upload holds the defaults applied to every issued upload policy.
type Upload struct {
	// CallbackURL is where the storage service posts upload notifications.
	// Empty disables callbacks.
	CallbackURL string `yaml:"callback_url"`

	// Expire is the default policy lifetime.
	Expire time.Duration `yaml:"expire"`

	// MaxContentLength is the default upload size cap in bytes.
	MaxContentLength int64 `yaml:"max_content_length"`

	// SystemFields replaces the built-in callback system fields when set.
	SystemFields []SystemField `yaml:"system_fields"`
}

// SystemField is the YAML form of policy.SystemField.
type SystemField struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// PolicySystemFields converts the configured overrides.
func (u *Upload) PolicySystemFields() []policy.SystemField {
	if len(u.SystemFields) == 0 {
		return nil
	}
	out := make([]policy.SystemField, len(u.SystemFields))
	for i, f := range u.SystemFields {
		out[i] = policy.SystemField{Name: f.Name, Token: f.Token}
	}
	return out
}

// Listing tunes the paginated lister.
type Listing struct {
	// MaxKeys is the page size; zero keeps the listing default.
	MaxKeys int `yaml:"max_keys"`

	// Parallelism above 1 lists sibling prefixes concurrently during
	// recursive listings.
	Parallelism int `yaml:"parallelism"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// SkipCallbackVerify accepts upload callbacks without checking the
	// service's RSA signature. Local development only.
	SkipCallbackVerify bool `yaml:"skip_callback_verify"`
}

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		Storage: filestore.Credentials{
			Provider: filestore.ProviderOSS,
		},
		Upload: Upload{
			Expire:           policy.DefaultExpire,
			MaxContentLength: policy.DefaultMaxContentLength,
		},
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Ledger: ledger.DefaultConfig(),
		Log:    *logger.DefaultConfig(),
	}
}

// Load reads path, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "failed to read config file", err)
	}
	return Parse(data, os.LookupEnv)
}

// LoadWithEnvFile is Load with secrets also read from a dotenv file.
// Variables already set in the process environment take precedence over
// the file. An empty envFile behaves like Load.
func LoadWithEnvFile(path, envFile string) (*Config, error) {
	if envFile == "" {
		return Load(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "failed to read config file", err)
	}
	fileEnv, err := godotenv.Read(envFile)
	if err != nil {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "failed to read env file", err)
	}
	return Parse(data, func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	})
}

// Parse decodes YAML over Default, then applies overrides from lookupEnv
// (nil skips them) and validates. Unknown keys are rejected.
func Parse(data []byte, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, errs.Wrap(errs.ErrKindConfiguration, "invalid config file", err)
	}

	if lookupEnv != nil {
		cfg.applyEnv(lookupEnv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Storage.AccessKeyID, EnvAccessKeyID)
	set(&c.Storage.AccessKeySecret, EnvAccessKeySecret)
	set(&c.Storage.SecurityToken, EnvSecurityToken)
	set(&c.Ledger.Password, EnvLedgerPassword)
}

// Validate reports the first ConfigurationError found.
func (c *Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	if c.Upload.Expire < time.Second {
		return errs.Configuration("upload.expire must be at least 1s, got %s", c.Upload.Expire)
	}
	if c.Upload.MaxContentLength <= 0 {
		return errs.Configuration("upload.max_content_length must be positive")
	}
	for _, f := range c.Upload.SystemFields {
		if f.Name == "" || !policy.IsSystemToken(f.Token) {
			return errs.Configuration("invalid upload system field %q -> %q", f.Name, f.Token)
		}
	}
	if c.Listing.MaxKeys < 0 || c.Listing.MaxKeys > 1000 {
		return errs.Configuration("listing.max_keys must be between 0 and 1000, got %d", c.Listing.MaxKeys)
	}
	if c.Listing.Parallelism < 0 {
		return errs.Configuration("listing.parallelism must not be negative")
	}
	if c.Server.Addr == "" {
		return errs.Configuration("server.addr is required")
	}
	return nil
}
