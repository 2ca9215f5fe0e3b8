package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultIMAPPort is used when an account does not set a port
const DefaultIMAPPort = 993

// Config holds the application configuration
type Config struct {
	LogLevel          string `mapstructure:"log_level"`
	DBPath            string `mapstructure:"db_path"`
	RulesPath         string `mapstructure:"rules_path"`
	SearchResultLimit int    `mapstructure:"search_result_limit"`
	MetricsAddr       string `mapstructure:"metrics_addr"`

	IMAP   IMAPConfig   `mapstructure:"imap"`
	Fetch  FetchConfig  `mapstructure:"fetch"`
	Listen ListenConfig `mapstructure:"listen"`

	Accounts []AccountConfig `mapstructure:"-"`
}

// IMAPConfig holds connection limits shared by all accounts
type IMAPConfig struct {
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	ConnectAttempts int           `mapstructure:"connect_attempts"`
}

// FetchConfig holds bounded fetch defaults
type FetchConfig struct {
	DefaultLimit int    `mapstructure:"default_limit"`
	Mailbox      string `mapstructure:"mailbox"`
	Concurrency  int    `mapstructure:"concurrency"`
}

// ListenConfig holds live-listen settings
type ListenConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// AccountConfig holds configuration for a single mailbox account
type AccountConfig struct {
	Name               string
	Email              string
	Password           string
	Host               string
	Port               int
	TLS                bool
	InsecureSkipVerify bool
	DisplayName        string
}

// Addr returns host:port for dialing
func (a *AccountConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// accountEntry mirrors an entry of the `accounts` list in the config file.
// TLS is a pointer so an omitted key keeps the secure default.
type accountEntry struct {
	Name               string `mapstructure:"name"`
	Email              string `mapstructure:"email"`
	Password           string `mapstructure:"password"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	TLS                *bool  `mapstructure:"tls"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	DisplayName        string `mapstructure:"display_name"`
}

// LoadConfig loads configuration from an optional YAML file and the environment.
// Environment variables override file values ("imap.connect_timeout" -> IMAP_CONNECT_TIMEOUT).
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigType("yaml")
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	accounts, err := loadAccounts(v)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	cfg.Accounts = accounts

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("db_path", "./data/mail-triage.db")
	v.SetDefault("rules_path", "")
	v.SetDefault("search_result_limit", 100)
	v.SetDefault("metrics_addr", "")

	v.SetDefault("imap.connect_timeout", 10*time.Second)
	v.SetDefault("imap.command_timeout", 60*time.Second)
	v.SetDefault("imap.connect_attempts", 3)

	v.SetDefault("fetch.default_limit", 50)
	v.SetDefault("fetch.mailbox", "INBOX")
	v.SetDefault("fetch.concurrency", 4)

	v.SetDefault("listen.cache_size", 200)
}

// loadAccounts merges accounts from the config file with the
// IMAP_* single account and ACCOUNT_<n>_* numbered environment forms.
func loadAccounts(v *viper.Viper) ([]AccountConfig, error) {
	var accounts []AccountConfig

	var entries []accountEntry
	if err := v.UnmarshalKey("accounts", &entries); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}
	for _, e := range entries {
		accounts = append(accounts, e.toAccountConfig())
	}

	if hasSingleAccount(v) {
		accounts = append(accounts, loadSingleAccount(v))
	}

	for num := 1; ; num++ {
		account, ok := loadAccountByNumber(v, num)
		if !ok {
			break
		}
		accounts = append(accounts, *account)
	}

	return accounts, nil
}

func (e accountEntry) toAccountConfig() AccountConfig {
	tls := true
	if e.TLS != nil {
		tls = *e.TLS
	}
	acc := AccountConfig{
		Name:               e.Name,
		Email:              e.Email,
		Password:           e.Password,
		Host:               e.Host,
		Port:               e.Port,
		TLS:                tls,
		InsecureSkipVerify: e.InsecureSkipVerify,
		DisplayName:        e.DisplayName,
	}
	applyAccountDefaults(&acc)
	return acc
}

// hasSingleAccount checks if single account configuration exists
func hasSingleAccount(v *viper.Viper) bool {
	return v.GetString("IMAP_HOST") != ""
}

// loadSingleAccount loads a single account from IMAP_* variables
func loadSingleAccount(v *viper.Viper) AccountConfig {
	email := v.GetString("IMAP_EMAIL")
	if email == "" {
		email = v.GetString("IMAP_USERNAME")
	}

	acc := AccountConfig{
		Name:               v.GetString("ACCOUNT_NAME"),
		Email:              email,
		Password:           v.GetString("IMAP_PASSWORD"),
		Host:               v.GetString("IMAP_HOST"),
		Port:               v.GetInt("IMAP_PORT"),
		TLS:                boolOrDefault(v, "IMAP_TLS", true),
		InsecureSkipVerify: v.GetBool("IMAP_INSECURE_SKIP_VERIFY"),
		DisplayName:        v.GetString("IMAP_DISPLAY_NAME"),
	}
	if acc.Name == "" {
		acc.Name = "default"
	}
	applyAccountDefaults(&acc)
	return acc
}

// loadAccountByNumber loads an account from ACCOUNT_<n>_* variables.
// It reports false once ACCOUNT_<n>_NAME is unset.
func loadAccountByNumber(v *viper.Viper, num int) (*AccountConfig, bool) {
	prefix := fmt.Sprintf("ACCOUNT_%d_", num)

	name := v.GetString(prefix + "NAME")
	if name == "" {
		return nil, false
	}

	acc := &AccountConfig{
		Name:               name,
		Email:              v.GetString(prefix + "EMAIL"),
		Password:           v.GetString(prefix + "PASSWORD"),
		Host:               v.GetString(prefix + "HOST"),
		Port:               v.GetInt(prefix + "PORT"),
		TLS:                boolOrDefault(v, prefix+"TLS", true),
		InsecureSkipVerify: v.GetBool(prefix + "INSECURE_SKIP_VERIFY"),
		DisplayName:        v.GetString(prefix + "DISPLAY_NAME"),
	}
	applyAccountDefaults(acc)
	return acc, true
}

func applyAccountDefaults(acc *AccountConfig) {
	if acc.Port == 0 {
		acc.Port = DefaultIMAPPort
	}
	if acc.DisplayName == "" {
		acc.DisplayName = acc.Email
	}
}

func boolOrDefault(v *viper.Viper, key string, def bool) bool {
	if v.GetString(key) == "" {
		return def
	}
	return v.GetBool(key)
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

// GetDefaultAccount returns the account named "default", or the first one
func (c *Config) GetDefaultAccount() *AccountConfig {
	if len(c.Accounts) == 0 {
		return nil
	}

	for i := range c.Accounts {
		if c.Accounts[i].Name == "default" {
			return &c.Accounts[i]
		}
	}

	return &c.Accounts[0]
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}

	if c.SearchResultLimit < 1 || c.SearchResultLimit > 1000 {
		return fmt.Errorf("search_result_limit must be between 1 and 1000")
	}

	if c.Fetch.DefaultLimit < 1 || c.Fetch.DefaultLimit > 500 {
		return fmt.Errorf("fetch.default_limit must be between 1 and 500")
	}

	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("fetch.concurrency must be at least 1")
	}

	if c.Listen.CacheSize < 1 {
		return fmt.Errorf("listen.cache_size must be at least 1")
	}

	if c.IMAP.ConnectTimeout <= 0 || c.IMAP.CommandTimeout <= 0 {
		return fmt.Errorf("imap timeouts must be positive")
	}

	if c.IMAP.ConnectAttempts < 1 {
		return fmt.Errorf("imap.connect_attempts must be at least 1")
	}

	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account must be configured")
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

		if acc.Host == "" {
			return fmt.Errorf("account %s: host is required", acc.Name)
		}
		if acc.Email == "" {
			return fmt.Errorf("account %s: email is required", acc.Name)
		}
		if acc.Password == "" {
			return fmt.Errorf("account %s: password is required", acc.Name)
		}
		if acc.Port < 1 || acc.Port > 65535 {
			return fmt.Errorf("account %s: invalid port %d", acc.Name, acc.Port)
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
