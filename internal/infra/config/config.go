package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/spf13/viper"
)

type Config struct {
	Servers  []ServerConfig `mapstructure:"servers" yaml:"servers"`
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`

	Port string `mapstructure:"port" yaml:"port"`
}

// ServerConfig is one server pool. Pools are numbered in the order they
// appear in the file.
type ServerConfig struct {
	ID            string `mapstructure:"id" yaml:"id"`
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	Username      string `mapstructure:"username" yaml:"username"`
	Password      string `mapstructure:"password" yaml:"password"`
	TLS           bool   `mapstructure:"tls" yaml:"tls"`
	MaxConnection int    `mapstructure:"max_connections" yaml:"max_connections"`
	Priority      int    `mapstructure:"priority" yaml:"priority"`
}

type DownloadConfig struct {
	WorkingDir             string        `mapstructure:"working_dir" yaml:"working_dir"`
	CompletedDir           string        `mapstructure:"completed_dir" yaml:"completed_dir"`
	OverwriteZeroByteFiles bool          `mapstructure:"overwrite_zero_byte_files" yaml:"overwrite_zero_byte_files"`
	MaxRate                int64         `mapstructure:"max_rate" yaml:"max_rate"`
	PollInterval           time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RetryLimit             int           `mapstructure:"retry_limit" yaml:"retry_limit"`
	CleanupExtensions      []string      `mapstructure:"cleanup_extensions" yaml:"cleanup_extensions"`
	SkipExtract            bool          `mapstructure:"skip_extract" yaml:"skip_extract"`
}

type LogConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	Level         string `mapstructure:"level" yaml:"level"`
	IncludeStdout bool   `mapstructure:"include_stdout" yaml:"include_stdout"`
}

type StoreConfig struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	NZBDir     string `mapstructure:"nzb_dir" yaml:"nzb_dir"`
}

func Load(path string) (*Config, error) {

	if path == "" {
		path = "config.yaml"
	}

	// 1. Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// FALLBACK: If we are in Docker (or similar) and didn't provide a flag, check /config/config.yaml
		if path == "config.yaml" {
			if _, errEx := os.Stat("/config/config.yaml"); errEx == nil {
				path = "/config/config.yaml"
			} else if _, errEx := os.Stat("config.yaml.example"); errEx == nil {
				return nil, fmt.Errorf("configuration file 'config.yaml' not found\n\n" +
					"To fix this, run:\n" +
					"  cp config.yaml.example config.yaml\n" +
					"Then edit it with your Usenet credentials.")
			} else {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
		} else {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	// Support Environment Variables, e.g. NZBLEECHER_DOWNLOAD_MAX_RATE
	v.SetEnvPrefix("NZBLEECHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("download.working_dir", "./downloads/working")
	v.SetDefault("download.completed_dir", "./downloads/completed")
	v.SetDefault("download.overwrite_zero_byte_files", true)
	v.SetDefault("download.max_rate", 0)
	v.SetDefault("download.poll_interval", "250ms")
	v.SetDefault("download.retry_limit", 3)
	v.SetDefault("download.cleanup_extensions", []string{"nzb", "par2", "sfv", "nfo"}) // sane default for completed cleanup
	v.SetDefault("download.skip_extract", false)
	v.SetDefault("log.path", "nzbleecher.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.include_stdout", true)
	v.SetDefault("store.sqlite_path", "./data/nzbleecher.db")
	v.SetDefault("store.nzb_dir", "./data/nzb")
}

func (c *Config) validate() error {
	if len(c.Servers) == 0 {
		return errors.New("at least one server must be configured")
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		if s.ID == "" {
			return fmt.Errorf("server[%d] requires a unique ID", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("server %s: duplicate ID", s.ID)
		}
		seen[s.ID] = true

		if s.Host == "" {
			return fmt.Errorf("server %s: host is required", s.ID)
		}

		if s.Port == 0 {
			return fmt.Errorf("server %s: port is required", s.ID)
		}

		if s.MaxConnection <= 0 {
			// Default to a sane value
			c.Servers[i].MaxConnection = 10
		}

		if s.Priority == 0 {
			c.Servers[i].Priority = 1
		}
	}

	// one bit per pool in the retry router
	if len(c.Servers) > 16 {
		return fmt.Errorf("at most 16 servers are supported, got %d", len(c.Servers))
	}

	if c.Download.WorkingDir == "" {
		c.Download.WorkingDir = "./downloads/working"
	}
	if c.Download.MaxRate < 0 {
		return errors.New("download.max_rate must not be negative")
	}
	if c.Download.PollInterval <= 0 {
		c.Download.PollInterval = 250 * time.Millisecond
	}
	if c.Download.RetryLimit <= 0 {
		c.Download.RetryLimit = 3
	}

	return nil
}

// TLSOnPlainPort lists servers with TLS enabled on the standard plain text port.
func (c *Config) TLSOnPlainPort() []string {
	var ids []string
	for _, s := range c.Servers {
		if s.TLS && s.Port == 119 {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// Providers converts the server list into pool configs, keeping file order.
func (c *Config) Providers() []domain.ProviderConfig {
	out := make([]domain.ProviderConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		out = append(out, domain.ProviderConfig{
			ID:            s.ID,
			Host:          s.Host,
			Port:          s.Port,
			Username:      s.Username,
			Password:      s.Password,
			TLS:           s.TLS,
			MaxConnection: s.MaxConnection,
			Priority:      s.Priority,
		})
	}
	return out
}
