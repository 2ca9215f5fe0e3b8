package email

import (
	"fmt"
	"sync"

	"github.com/brandon/mail-triage/internal/config"
)

// Session kinds held on an account
const (
	sessionFetch  = "fetch"
	sessionListen = "listen"
)

// AccountManager manages configured accounts and their protocol sessions.
// At most one session (fetch or listen) runs per account at a time.
type AccountManager struct {
	accounts map[string]*Account
	names    []string

	mu   sync.Mutex
	busy map[string]string
}

// Account is a configured mailbox with its fetcher
type Account struct {
	Config  *config.AccountConfig
	Fetcher Fetcher
}

// NewAccountManager creates an account manager over the configured accounts
func NewAccountManager(cfg *config.Config, factory FetcherFactory) *AccountManager {
	manager := &AccountManager{
		accounts: make(map[string]*Account, len(cfg.Accounts)),
		busy:     make(map[string]string),
	}

	for i := range cfg.Accounts {
		accCfg := &cfg.Accounts[i]
		manager.accounts[accCfg.Name] = &Account{
			Config:  accCfg,
			Fetcher: factory(accCfg),
		}
		manager.names = append(manager.names, accCfg.Name)
	}

	return manager
}

// GetAccount returns an account by name
func (m *AccountManager) GetAccount(name string) (*Account, error) {
	account, exists := m.accounts[name]
	if !exists {
		return nil, fmt.Errorf("account not found: %s", name)
	}
	return account, nil
}

// ListAccounts returns all account names in configuration order
func (m *AccountManager) ListAccounts() []string {
	names := make([]string, len(m.names))
	copy(names, m.names)
	return names
}

// tryAcquire claims the account for a session of the given kind.
// It fails with ErrAccountBusy while another session holds the account.
func (m *AccountManager) tryAcquire(name, kind string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if holder, ok := m.busy[name]; ok {
		return nil, fmt.Errorf("%w: %s session on %s", ErrAccountBusy, holder, name)
	}
	m.busy[name] = kind

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.busy, name)
			m.mu.Unlock()
		})
	}, nil
}

// Session returns the kind of session holding the account, if any
func (m *AccountManager) Session(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kind, ok := m.busy[name]
	return kind, ok
}

// Close stops every account's listening connection
func (m *AccountManager) Close() error {
	var firstErr error
	for _, name := range m.names {
		if err := m.accounts[name].Fetcher.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
