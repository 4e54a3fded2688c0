package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/ossgate/internal/errs"
	"github.com/koustreak/ossgate/internal/filestore"
	"github.com/koustreak/ossgate/internal/filestore/policy"
	"github.com/koustreak/ossgate/internal/ledger"
)

const sample = `
storage:
  endpoint: https://oss-cn-hangzhou.aliyuncs.com
  access_key_id: file-id
  access_key_secret: file-secret
  bucket: media
  path_prefix: tenant
  connect_timeout: 3s
upload:
  callback_url: https://app.example.com/v1/uploads/callback
  expire: 60s
  system_fields:
    - name: key
      token: ${object}
    - name: size
      token: ${size}
listing:
  parallelism: 4
server:
  addr: 127.0.0.1:9090
ledger:
  driver: postgres
  host: db
  database: ossgate
  user: app
log:
  level: debug
  format: console
`

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample), noEnv)
	require.NoError(t, err)

	assert.Equal(t, filestore.ProviderOSS, cfg.Storage.Provider)
	assert.Equal(t, "media", cfg.Storage.Bucket)
	assert.Equal(t, 3*time.Second, cfg.Storage.ConnectTimeout)
	assert.Equal(t, 60*time.Second, cfg.Upload.Expire)
	assert.Equal(t, policy.DefaultMaxContentLength, cfg.Upload.MaxContentLength)
	assert.Equal(t, []policy.SystemField{
		{Name: "key", Token: policy.TokenObject},
		{Name: "size", Token: policy.TokenSize},
	}, cfg.Upload.PolicySystemFields())
	assert.Equal(t, 4, cfg.Listing.Parallelism)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, ledger.DriverPostgres, cfg.Ledger.Driver)
	assert.Equal(t, int32(10), cfg.Ledger.MaxConns)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NotNil(t, cfg.Log.Output)
}

func TestParse_EnvOverrides(t *testing.T) {
	cfg, err := Parse([]byte(sample), envMap(map[string]string{
		EnvAccessKeyID:     "env-id",
		EnvAccessKeySecret: "env-secret",
		EnvSecurityToken:   "sts",
		EnvLedgerPassword:  "pw",
	}))
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.Storage.AccessKeyID)
	assert.Equal(t, "env-secret", cfg.Storage.AccessKeySecret)
	assert.Equal(t, "sts", cfg.Storage.SecurityToken)
	assert.Equal(t, "pw", cfg.Ledger.Password)
}

func TestParse_EmptyEnvKeepsFileValue(t *testing.T) {
	cfg, err := Parse([]byte(sample), envMap(map[string]string{EnvAccessKeyID: ""}))
	require.NoError(t, err)
	assert.Equal(t, "file-id", cfg.Storage.AccessKeyID)
}

func TestParse_SecretsOnlyFromEnv(t *testing.T) {
	doc := `
storage:
  endpoint: oss-cn-shanghai.aliyuncs.com
  bucket: media
`
	_, err := Parse([]byte(doc), noEnv)
	assert.True(t, errs.IsConfiguration(err))

	cfg, err := Parse([]byte(doc), envMap(map[string]string{
		EnvAccessKeyID:     "id",
		EnvAccessKeySecret: "secret",
	}))
	require.NoError(t, err)
	assert.False(t, cfg.Storage.Secure())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ``},
		{"unknown key", sample + "\nbogus: 1\n"},
		{"bad yaml", "storage: [\n"},
		{"bad provider", `
storage: {provider: gcs, endpoint: e, access_key_id: a, access_key_secret: s, bucket: b}
`},
		{"bad ledger driver", `
storage: {endpoint: e, access_key_id: a, access_key_secret: s, bucket: b}
ledger: {driver: sqlite}
`},
		{"short expire", `
storage: {endpoint: e, access_key_id: a, access_key_secret: s, bucket: b}
upload: {expire: 500ms}
`},
		{"bad system token", `
storage: {endpoint: e, access_key_id: a, access_key_secret: s, bucket: b}
upload: {system_fields: [{name: x, token: "${nope}"}]}
`},
		{"max keys", `
storage: {endpoint: e, access_key_id: a, access_key_secret: s, bucket: b}
listing: {max_keys: 5000}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), noEnv)
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err), "got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ossgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "media", cfg.Storage.Bucket)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errs.IsConfiguration(err))
}

func TestLoadWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ossgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"OSSGATE_ACCESS_KEY_ID=file-env-id\nOSSGATE_ACCESS_KEY_SECRET=\"file-env-secret\"\n"), 0o600))

	t.Setenv(EnvAccessKeyID, "process-id")
	t.Setenv(EnvAccessKeySecret, "")

	cfg, err := LoadWithEnvFile(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, "process-id", cfg.Storage.AccessKeyID)
	assert.Equal(t, "file-env-secret", cfg.Storage.AccessKeySecret)

	_, err = LoadWithEnvFile(path, filepath.Join(dir, "missing.env"))
	assert.True(t, errs.IsConfiguration(err))
}
