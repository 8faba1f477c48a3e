package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every variable LoadConfig reads so the host environment
// does not leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "STORE_PATH", "MAX_INLINE_VALUE_SIZE", "LOG_LEVEL", "METRICS_ADDR",
		"SYNC_MESSAGE_LIMIT", "ACCOUNT_NAME", "IMAP_HOST", "IMAP_PORT", "IMAP_USERNAME",
		"IMAP_PASSWORD", "ACCOUNT_1_NAME", "ACCOUNT_2_NAME", "ACCOUNT_3_NAME",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/data/mapi_store.db", cfg.StorePath)
	assert.Equal(t, 32*1024, cfg.MaxInlineValueSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.SyncMessageLimit)
	assert.Empty(t, cfg.Accounts)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigSingleAccount(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMAP_HOST", "imap.example.com")
	t.Setenv("IMAP_USERNAME", "alice")
	t.Setenv("IMAP_PASSWORD", "secret")
	t.Setenv("SYNC_MESSAGE_LIMIT", "25")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "default", cfg.Accounts[0].Name)
	assert.Equal(t, 993, cfg.Accounts[0].IMAPPort)
	assert.Equal(t, 25, cfg.SyncMessageLimit)

	acc, err := cfg.GetAccountByName("default")
	require.NoError(t, err)
	assert.Equal(t, "alice", acc.IMAPUsername)
	_, err = cfg.GetAccountByName("other")
	assert.Error(t, err)
}

func TestLoadConfigNumberedAccounts(t *testing.T) {
	clearEnv(t)
	for _, kv := range [][2]string{
		{"ACCOUNT_1_NAME", "work"}, {"ACCOUNT_1_IMAP_HOST", "imap.work"},
		{"ACCOUNT_1_IMAP_USERNAME", "a"}, {"ACCOUNT_1_IMAP_PASSWORD", "p"},
		{"ACCOUNT_2_NAME", "home"}, {"ACCOUNT_2_IMAP_HOST", "imap.home"},
		{"ACCOUNT_2_IMAP_PORT", "143"},
		{"ACCOUNT_2_IMAP_USERNAME", "b"}, {"ACCOUNT_2_IMAP_PASSWORD", "q"},
	} {
		t.Setenv(kv[0], kv[1])
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"work", "home"}, cfg.AccountNames())
	assert.Equal(t, 143, cfg.Accounts[1].IMAPPort)
}

func TestLoadConfigIncompleteAccount(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACCOUNT_1_NAME", "work")
	t.Setenv("ACCOUNT_1_IMAP_HOST", "imap.work")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "account 1")
}

func TestLoadConfigFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store_path: /var/lib/bridge/store.db
log_level: debug
max_inline_value_size: 4096
accounts:
  - name: file-account
    imap_host: imap.file
    imap_username: u
    imap_password: p
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/bridge/store.db", cfg.StorePath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 4096, cfg.MaxInlineValueSize)
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, 993, cfg.Accounts[0].IMAPPort)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigBadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store_path: [unterminated"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := defaults()
		cfg.Accounts = []AccountConfig{{Name: "a", IMAPHost: "h", IMAPPort: 993}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(*Config){
		"empty path":      func(c *Config) { c.StorePath = "" },
		"inline too low":  func(c *Config) { c.MaxInlineValueSize = 10 },
		"inline too high": func(c *Config) { c.MaxInlineValueSize = 128 * 1024 * 1024 },
		"limit zero":      func(c *Config) { c.SyncMessageLimit = 0 },
		"bad port":        func(c *Config) { c.Accounts[0].IMAPPort = 70000 },
		"no host":         func(c *Config) { c.Accounts[0].IMAPHost = "" },
		"duplicate": func(c *Config) {
			c.Accounts = append(c.Accounts, c.Accounts[0])
		},
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
