package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Property store settings
	StorePath          string `yaml:"store_path"`
	MaxInlineValueSize int    `yaml:"max_inline_value_size"`

	// Ambient settings
	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Import settings
	SyncMessageLimit int             `yaml:"sync_message_limit"`
	Accounts         []AccountConfig `yaml:"accounts"`
}

// AccountConfig holds configuration for a single IMAP account
type AccountConfig struct {
	Name string `yaml:"name"`

	IMAPHost     string `yaml:"imap_host"`
	IMAPPort     int    `yaml:"imap_port"`
	IMAPUsername string `yaml:"imap_username"`
	IMAPPassword string `yaml:"imap_password"`
}

func defaults() *Config {
	return &Config{
		StorePath:          "/data/mapi_store.db",
		MaxInlineValueSize: 32 * 1024,
		LogLevel:           "info",
		SyncMessageLimit:   100,
	}
}

// LoadConfig loads configuration from an optional YAML file named by
// CONFIG_FILE, then applies environment variables on top
func LoadConfig() (*Config, error) {
	cfg := defaults()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.StorePath = getEnv("STORE_PATH", cfg.StorePath)
	cfg.MaxInlineValueSize = getEnvInt("MAX_INLINE_VALUE_SIZE", cfg.MaxInlineValueSize)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.SyncMessageLimit = getEnvInt("SYNC_MESSAGE_LIMIT", cfg.SyncMessageLimit)

	// Accounts from the environment replace those from the file
	accounts, err := loadAccounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	if len(accounts) > 0 {
		cfg.Accounts = accounts
	}

	for i := range cfg.Accounts {
		if cfg.Accounts[i].IMAPPort == 0 {
			cfg.Accounts[i].IMAPPort = 993
		}
	}
	return cfg, nil
}

// loadFile merges the YAML file at path into c
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadAccounts loads IMAP account configurations from environment variables
func loadAccounts() ([]AccountConfig, error) {
	// First, try single account configuration
	if getEnv("IMAP_HOST", "") != "" {
		account, err := loadAccount("", getEnv("ACCOUNT_NAME", "default"))
		if err != nil {
			return nil, err
		}
		return []AccountConfig{*account}, nil
	}

	// Load multiple accounts (ACCOUNT_1_*, ACCOUNT_2_*, etc.)
	var accounts []AccountConfig
	for num := 1; ; num++ {
		prefix := fmt.Sprintf("ACCOUNT_%d_", num)
		name := getEnv(prefix+"NAME", "")
		if name == "" {
			break // No more accounts
		}
		account, err := loadAccount(prefix, name)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", num, err)
		}
		accounts = append(accounts, *account)
	}
	return accounts, nil
}

// loadAccount reads the IMAP_* variables under prefix
func loadAccount(prefix, name string) (*AccountConfig, error) {
	account := &AccountConfig{
		Name:         name,
		IMAPHost:     getEnv(prefix+"IMAP_HOST", ""),
		IMAPPort:     getEnvInt(prefix+"IMAP_PORT", 993),
		IMAPUsername: getEnv(prefix+"IMAP_USERNAME", ""),
		IMAPPassword: getEnv(prefix+"IMAP_PASSWORD", ""),
	}

	if account.IMAPHost == "" {
		return nil, fmt.Errorf("IMAP_HOST is required")
	}
	if account.IMAPUsername == "" || account.IMAPPassword == "" {
		return nil, fmt.Errorf("IMAP_USERNAME and IMAP_PASSWORD are required")
	}
	return account, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetAccountByName finds an account by name
func (c *Config) GetAccountByName(name string) (*AccountConfig, error) {
	for i := range c.Accounts {
		if c.Accounts[i].Name == name {
			return &c.Accounts[i], nil
		}
	}
	return nil, fmt.Errorf("account not found: %s", name)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("STORE_PATH is required")
	}

	if c.MaxInlineValueSize < 1024 || c.MaxInlineValueSize > 64*1024*1024 {
		return fmt.Errorf("MAX_INLINE_VALUE_SIZE must be between 1KiB and 64MiB")
	}

	if c.SyncMessageLimit < 1 || c.SyncMessageLimit > 10000 {
		return fmt.Errorf("SYNC_MESSAGE_LIMIT must be between 1 and 10000")
	}

	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.Name == "" {
			return fmt.Errorf("account %d: name is required", i+1)
		}
		if seen[acc.Name] {
			return fmt.Errorf("account %s: duplicate name", acc.Name)
		}
		seen[acc.Name] = true
		if acc.IMAPHost == "" {
			return fmt.Errorf("account %s: IMAP_HOST is required", acc.Name)
		}
		if acc.IMAPPort < 1 || acc.IMAPPort > 65535 {
			return fmt.Errorf("account %s: invalid IMAP_PORT", acc.Name)
		}
	}

	return nil
}

// AccountNames returns a list of all account names
func (c *Config) AccountNames() []string {
	names := make([]string, len(c.Accounts))
	for i := range c.Accounts {
		names[i] = c.Accounts[i].Name
	}
	return names
}
