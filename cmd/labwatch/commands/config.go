package commands

import (
	"errors"
	"io/fs"
	"labwatch/internal/components/telemetry"
	"labwatch/internal/journal"
	"labwatch/internal/monitor"
	"labwatch/internal/scrapers/lablaudo"
	"labwatch/pkg/configutil"
	"log/slog"
	"time"
)

type PortalConfig struct {
	BaseUrl           string  `json:"base_url"`
	LoginPath         string  `json:"login_path"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
}

type AccountConfig struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type Config struct {
	Portal      PortalConfig     `json:"portal"`
	Journal     journal.Config   `json:"journal"`
	Telemetry   telemetry.Config `json:"telemetry"`
	Outbox      string           `json:"outbox"`
	Concurrency int              `json:"concurrency"`
	Accounts    []AccountConfig  `json:"accounts"`
}

const (
	defaultJournalFile = "labwatch.db"
	defaultOutbox      = "outbox"
)

// loadConfig reads the config file, a missing file is not an error since every
// field has a default.
func loadConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		err = nil
	}
	if err != nil {
		return Config{}, err
	}

	if cfg.Journal.File == "" && cfg.Journal.Url == "" {
		cfg.Journal.File = defaultJournalFile
	}
	if cfg.Outbox == "" {
		cfg.Outbox = defaultOutbox
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return cfg, nil
}

func (c PortalConfig) ClientOptions(dump telemetry.MessageOutput) lablaudo.ClientOptions {
	return lablaudo.ClientOptions{
		BaseUrl:           c.BaseUrl,
		LoginPath:         c.LoginPath,
		Timeout:           time.Duration(c.TimeoutSeconds) * time.Second,
		RequestsPerSecond: c.RequestsPerSecond,
		CloudflareBypass:  c.CloudflareBypass,
		DumpOutput:        dump,
	}
}

func (c Config) MonitoredAccounts() []monitor.Account {
	accounts := make([]monitor.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		id := a.Id
		if id == "" {
			id = a.Username
		}
		accounts = append(accounts, monitor.Account{
			UserID: id,
			Credentials: monitor.Credentials{
				Username: a.Username,
				Password: a.Password,
			},
		})
	}
	return accounts
}
