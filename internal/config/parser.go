// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fhaussmann/borgcron/internal/models"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	// Parse repository config (required).
	cfg.Repo = models.RepoConfig{
		User:        p.expandEnv(p.v.GetString("repo.user")),
		Host:        p.expandEnv(p.v.GetString("repo.host")),
		Path:        p.expandEnv(p.v.GetString("repo.path")),
		RemotePath:  p.v.GetString("repo.remote_path"),
		Encryption:  p.v.GetString("repo.encryption"),
		Compression: p.v.GetString("repo.compression"),
	}

	if cfg.Repo.User == "" {
		return nil, fmt.Errorf("repo.user is required")
	}
	if cfg.Repo.Host == "" {
		return nil, fmt.Errorf("repo.host is required")
	}

	// The repository directory on the remote defaults to the local hostname,
	// so several machines can share one backup account.
	if cfg.Repo.Path == "" {
		hostname, err := os.Hostname()
		if err != nil {
			cfg.Repo.Path = "unknown"
		} else {
			cfg.Repo.Path = hostname
		}
	}

	if cfg.Repo.Encryption == "" {
		cfg.Repo.Encryption = "repokey"
	}
	if cfg.Repo.Compression == "" {
		cfg.Repo.Compression = "zlib,6"
	}

	// Parse backup settings (required).
	cfg.Backup = models.BackupSettings{
		Paths:    p.v.GetStringSlice("backup.paths"),
		Excludes: p.v.GetStringSlice("backup.excludes"),
	}

	if len(cfg.Backup.Paths) == 0 {
		return nil, fmt.Errorf("backup.paths is required")
	}

	// Parse retention policy.
	cfg.Retention = models.RetentionPolicy{
		KeepDaily:   p.v.GetInt("retention.keep_daily"),
		KeepWeekly:  p.v.GetInt("retention.keep_weekly"),
		KeepMonthly: p.v.GetInt("retention.keep_monthly"),
		KeepYearly:  p.v.GetInt("retention.keep_yearly"),
	}

	if cfg.Retention.KeepDaily < 0 || cfg.Retention.KeepWeekly < 0 ||
		cfg.Retention.KeepMonthly < 0 || cfg.Retention.KeepYearly < 0 {
		return nil, fmt.Errorf("retention counts must not be negative")
	}

	// Set defaults if no retention policy specified.
	if cfg.Retention.KeepDaily == 0 && cfg.Retention.KeepWeekly == 0 &&
		cfg.Retention.KeepMonthly == 0 && cfg.Retention.KeepYearly == 0 {
		cfg.Retention.KeepDaily = 7
		cfg.Retention.KeepWeekly = 4
		cfg.Retention.KeepMonthly = 6
		cfg.Retention.KeepYearly = 1
	}

	// Parse SSH transport settings.
	cfg.SSH = models.SSHConfig{
		Port:           p.v.GetInt("ssh.port"),
		KeyPath:        p.expandEnv(p.v.GetString("ssh.key_path")),
		KnownHostsFile: p.expandEnv(p.v.GetString("ssh.known_hosts_file")),
	}

	if cfg.SSH.Port == 0 {
		cfg.SSH.Port = 22
	}
	if cfg.SSH.Port < 1 || cfg.SSH.Port > 65535 {
		return nil, fmt.Errorf("ssh.port must be between 1 and 65535")
	}

	// The passphrase itself never appears in the config file, only the path
	// to the file holding it.
	cfg.PassphraseFile = p.expandEnv(p.v.GetString("passphrase_file"))
	if cfg.PassphraseFile == "" {
		return nil, fmt.Errorf("passphrase_file is required")
	}

	cfg.LockFile = p.expandEnv(p.v.GetString("lock_file"))

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		// Set defaults.
		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional notification config.
	if p.v.IsSet("notify") {
		urls := p.v.GetStringSlice("notify.urls")
		for i, u := range urls {
			urls[i] = p.expandEnv(u)
		}

		cfg.Notify = &models.NotifyConfig{
			URLs:  urls,
			Level: p.v.GetString("notify.level"),
		}

		if len(cfg.Notify.URLs) == 0 {
			return nil, fmt.Errorf("notify.urls is required when notify is configured")
		}
		if cfg.Notify.Level == "" {
			cfg.Notify.Level = "error"
		}
		if cfg.Notify.Level != "error" && cfg.Notify.Level != "info" {
			return nil, fmt.Errorf("notify.level must be one of: error, info")
		}
	}

	// Parse optional hooks config.
	if p.v.IsSet("hooks") {
		cfg.Hooks = &models.HooksConfig{
			Before: p.v.GetStringSlice("hooks.before"),
			After:  p.v.GetStringSlice("hooks.after"),
		}

		for _, cmd := range cfg.Hooks.Before {
			if strings.TrimSpace(cmd) == "" {
				return nil, fmt.Errorf("hooks.before contains an empty command")
			}
		}
		for _, cmd := range cfg.Hooks.After {
			if strings.TrimSpace(cmd) == "" {
				return nil, fmt.Errorf("hooks.after contains an empty command")
			}
		}
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Repo.User == "" {
		return fmt.Errorf("repo.user is required")
	}

	if cfg.Repo.Host == "" {
		return fmt.Errorf("repo.host is required")
	}

	if len(cfg.Backup.Paths) == 0 {
		return fmt.Errorf("backup.paths is required")
	}

	if cfg.PassphraseFile == "" {
		return fmt.Errorf("passphrase_file is required")
	}

	return nil
}
