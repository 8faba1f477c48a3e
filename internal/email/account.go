package email

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mapi-bridge/internal/config"
)

// ErrUnknownAccount is returned for an account name that is not configured.
var ErrUnknownAccount = errors.New("account not found")

// AccountManager manages multiple mail accounts
type AccountManager struct {
	accounts map[string]*Account
}

// Account pairs an account's configuration with its mail source
type Account struct {
	Config *config.AccountConfig
	Source MailSource
}

// NewAccountManager creates an IMAP client for every configured account
func NewAccountManager(cfg *config.Config, logger *logrus.Logger) *AccountManager {
	manager := &AccountManager{
		accounts: make(map[string]*Account),
	}
	for i := range cfg.Accounts {
		accCfg := &cfg.Accounts[i]
		manager.accounts[accCfg.Name] = &Account{
			Config: accCfg,
			Source: NewIMAPClient(accCfg, logger),
		}
	}
	return manager
}

// Add registers an account, replacing one of the same name.
func (m *AccountManager) Add(account *Account) {
	m.accounts[account.Config.Name] = account
}

// GetAccount returns an account by name
func (m *AccountManager) GetAccount(name string) (*Account, error) {
	account, exists := m.accounts[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, name)
	}
	return account, nil
}

// ListAccounts returns all account names in sorted order
func (m *AccountManager) ListAccounts() []string {
	names := make([]string, 0, len(m.accounts))
	for name := range m.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all account connections
func (m *AccountManager) Close() error {
	var errs []error
	for _, account := range m.accounts {
		if err := account.Source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", account.Config.Name, err))
		}
	}
	return errors.Join(errs...)
}
