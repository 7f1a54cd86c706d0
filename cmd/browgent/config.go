package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/browgent/internal/engine"
	"github.com/rendis/browgent/internal/scheduler"
)

// Config holds all browgent configuration.
// Priority: flags > env vars > settings.yaml > defaults.
type Config struct {
	ListenAddr     string          `yaml:"listen_addr"`
	RelayAddr      string          `yaml:"relay_addr"`
	RelayURL       string          `yaml:"relay_url"`
	InternalSecret string          `yaml:"internal_secret"`
	MaxConcurrency int             `yaml:"max_concurrency"`
	DBPath         string          `yaml:"db_path"`
	LogLevel       string          `yaml:"log_level"`
	SampleInterval time.Duration   `yaml:"sample_interval"`
	PollInterval   time.Duration   `yaml:"poll_interval"`
	Browser        BrowserConfig   `yaml:"browser"`
	Schedules      []scheduler.Job `yaml:"schedules"`
}

// BrowserConfig selects how sessions reach Chrome.
type BrowserConfig struct {
	RemoteURL string `yaml:"remote_url"`
	Headless  bool   `yaml:"headless"`
	ExecPath  string `yaml:"exec_path"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:     ":4000",
		MaxConcurrency: engine.DefaultMaxConcurrency,
		DBPath:         filepath.Join(browgentDir(), "browgent.db"),
		LogLevel:       "info",
		SampleInterval: engine.DefaultSampleInterval,
		PollInterval:   engine.DefaultPollInterval,
		Browser:        BrowserConfig{Headless: true},
	}
}

func browgentDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".browgent"
	}
	return filepath.Join(home, ".browgent")
}

func settingsPath() string {
	return filepath.Join(browgentDir(), "settings.yaml")
}

// loadConfig layers defaults, the settings file and BROWGENT_* env vars.
// A missing default settings file is not an error; a missing explicit one is.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if !explicit {
		path = settingsPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("BROWGENT_LISTEN_ADDR", &cfg.ListenAddr)
	str("BROWGENT_RELAY_ADDR", &cfg.RelayAddr)
	str("BROWGENT_RELAY_URL", &cfg.RelayURL)
	str("BROWGENT_INTERNAL_SECRET", &cfg.InternalSecret)
	str("BROWGENT_DB_PATH", &cfg.DBPath)
	str("BROWGENT_LOG_LEVEL", &cfg.LogLevel)
	str("BROWGENT_BROWSER_REMOTE_URL", &cfg.Browser.RemoteURL)
	str("BROWGENT_BROWSER_EXEC_PATH", &cfg.Browser.ExecPath)

	if v, ok := lookup("BROWGENT_MAX_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BROWGENT_MAX_CONCURRENCY: %w", err)
		}
		cfg.MaxConcurrency = n
	}
	if v, ok := lookup("BROWGENT_BROWSER_HEADLESS"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("BROWGENT_BROWSER_HEADLESS: %w", err)
		}
		cfg.Browser.Headless = b
	}
	for key, dst := range map[string]*time.Duration{
		"BROWGENT_SAMPLE_INTERVAL": &cfg.SampleInterval,
		"BROWGENT_POLL_INTERVAL":   &cfg.PollInterval,
	} {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

// applyFlags copies explicitly set flags over cfg. Commands only define the
// flags they use, so unknown names are skipped.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	if changed("listen") {
		cfg.ListenAddr, _ = flags.GetString("listen")
	}
	if changed("relay-addr") {
		cfg.RelayAddr, _ = flags.GetString("relay-addr")
	}
	if changed("relay-url") {
		cfg.RelayURL, _ = flags.GetString("relay-url")
	}
	if changed("secret") {
		cfg.InternalSecret, _ = flags.GetString("secret")
	}
	if changed("max-concurrency") {
		cfg.MaxConcurrency, _ = flags.GetInt("max-concurrency")
	}
	if changed("db") {
		cfg.DBPath, _ = flags.GetString("db")
	}
	if changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if changed("browser-url") {
		cfg.Browser.RemoteURL, _ = flags.GetString("browser-url")
	}
	if changed("headless") {
		cfg.Browser.Headless, _ = flags.GetBool("headless")
	}
}
