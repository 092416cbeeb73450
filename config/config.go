// Package config loads account configuration from YAML with environment
// variable overrides.
//
// Example file:
//
//	account-name: test
//	display-name: John Doe
//	email-id: john@example.org
//	private-key-password: secret
//	store-path: /var/lib/imapsn/john.db
//	transport: smtp
//	smtp:
//	  host: smtp.example.org
//	  port: 465
//	  user: john@example.org
//	  password: secret
//	  enable-tls: true
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfig is returned for missing or invalid account setup. It is fatal.
var ErrConfig = errors.New("invalid account configuration")

// Defaults.
const (
	DefaultIMAPSNFolder     = "IMAPSN"
	DefaultNewMessageFolder = "INBOX"
	DefaultWallGroup        = "everybody"
	DefaultSendRate         = 5.0
	DefaultSMTPTimeout      = 5 * time.Second
)

// Transports.
const (
	TransportSMTP  = "smtp"
	TransportLocal = "local"
)

// Environment overrides.
const (
	EnvPrivateKeyPassword = "IMAPSN_PRIVATE_KEY_PASSWORD"
	EnvSMTPPassword       = "IMAPSN_SMTP_PASSWORD"
	EnvStorePath          = "IMAPSN_STORE_PATH"
	EnvSendRate           = "IMAPSN_SEND_RATE"
)

// SMTP holds outbound mail server settings.
type SMTP struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	User      string        `yaml:"user"`
	Password  string        `yaml:"password"`
	EnableTLS bool          `yaml:"enable-tls"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Account is one configured account.
type Account struct {
	AccountName        string  `yaml:"account-name"`
	DisplayName        string  `yaml:"display-name"`
	EmailID            string  `yaml:"email-id"`
	PrivateKeyPassword string  `yaml:"private-key-password"`
	IMAPSNFolder       string  `yaml:"imapsn-folder"`
	NewMessageFolder   string  `yaml:"new-message-folder"`
	WallGroup          string  `yaml:"wall-group"`
	StorePath          string  `yaml:"store-path"`
	Transport          string  `yaml:"transport"`
	SMTP               SMTP    `yaml:"smtp"`
	SendRate           float64 `yaml:"send-rate"`
}

// Default returns an account with every optional field set.
func Default() Account {
	return Account{
		IMAPSNFolder:     DefaultIMAPSNFolder,
		NewMessageFolder: DefaultNewMessageFolder,
		WallGroup:        DefaultWallGroup,
		Transport:        TransportSMTP,
		SendRate:         DefaultSendRate,
		SMTP:             SMTP{Timeout: DefaultSMTPTimeout},
	}
}

// Load reads, overrides and validates the account file at path.
func Load(path string) (*Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	acct, err := Parse(data)
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(acct)
	if err := acct.Validate(); err != nil {
		return nil, err
	}
	return acct, nil
}

// Parse decodes YAML on top of the defaults without validating.
func Parse(data []byte) (*Account, error) {
	acct := Default()
	if err := yaml.Unmarshal(data, &acct); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return &acct, nil
}

// ApplyEnvOverrides replaces secrets and paths from the environment.
func ApplyEnvOverrides(a *Account) {
	if v := strings.TrimSpace(os.Getenv(EnvPrivateKeyPassword)); v != "" {
		a.PrivateKeyPassword = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvSMTPPassword)); v != "" {
		a.SMTP.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvStorePath)); v != "" {
		a.StorePath = v
	}

	raw := strings.TrimSpace(os.Getenv(EnvSendRate))
	if raw == "" {
		return
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil || rate <= 0 {
		return
	}
	a.SendRate = rate
}

// Validate checks required properties and names the first missing one.
func (a *Account) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"account-name", a.AccountName},
		{"display-name", a.DisplayName},
		{"email-id", a.EmailID},
		{"private-key-password", a.PrivateKeyPassword},
		{"store-path", a.StorePath},
		{"imapsn-folder", a.IMAPSNFolder},
		{"new-message-folder", a.NewMessageFolder},
		{"wall-group", a.WallGroup},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return missing(r.name)
		}
	}

	if _, err := mail.ParseAddress(a.EmailID); err != nil {
		return fmt.Errorf("%w: email-id %q: %v", ErrConfig, a.EmailID, err)
	}
	if a.IMAPSNFolder == a.NewMessageFolder {
		return fmt.Errorf("%w: imapsn-folder and new-message-folder must differ", ErrConfig)
	}
	if a.SendRate <= 0 {
		return fmt.Errorf("%w: send-rate must be positive", ErrConfig)
	}

	switch a.Transport {
	case TransportLocal:
	case TransportSMTP:
		if a.SMTP.Host == "" {
			return missing("smtp.host")
		}
		if a.SMTP.Port <= 0 || a.SMTP.Port > 65535 {
			return fmt.Errorf("%w: smtp.port %d out of range", ErrConfig, a.SMTP.Port)
		}
		if a.SMTP.User == "" {
			return missing("smtp.user")
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrConfig, a.Transport)
	}
	return nil
}

// Write saves the account as YAML, readable only by the owner.
func (a *Account) Write(path string) error {
	data, err := yaml.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func missing(name string) error {
	return fmt.Errorf("%w: missing required property %s", ErrConfig, name)
}
