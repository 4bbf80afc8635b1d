package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"gopkg.in/yaml.v3"

	"podstash/internal/domain"
	"podstash/internal/theme"
)

// Config represents the persisted application configuration.
type Config struct {
	DownloadRoot       string `yaml:"download_root"`
	ParallelDownloads  int    `yaml:"parallel_downloads"`
	TmpDir             string `yaml:"tmp_dir"`
	RetryCount         int    `yaml:"retry_count"`
	RetryBackoffMaxSec int    `yaml:"retry_backoff_max_seconds"`
	UserAgent          string `yaml:"user_agent"`
	Proxy              string `yaml:"proxy,omitempty"`
	TLSVerify          bool   `yaml:"tls_verify"`
	ColorTheme         string `yaml:"color_theme"`
	DefaultPolicy      string `yaml:"default_policy,omitempty"`
	TagDownloads       bool   `yaml:"tag_downloads"`
	ProgressIntervalMs int    `yaml:"progress_interval_ms"`
	RefreshConcurrency int    `yaml:"refresh_concurrency"`
	LogLevel           string `yaml:"log_level"`
}

// Defaults returns the baseline configuration used on first run.
func Defaults() Config {
	home, _ := os.UserHomeDir()
	downloadRoot := filepath.Join(home, "Podcasts")
	return Config{
		DownloadRoot:       downloadRoot,
		ParallelDownloads:  2,
		TmpDir:             os.TempDir(),
		RetryCount:         3,
		RetryBackoffMaxSec: 60,
		UserAgent:          "podstash/dev",
		TLSVerify:          true,
		ColorTheme:         theme.Default,
		TagDownloads:       true,
		ProgressIntervalMs: 250,
		RefreshConcurrency: 4,
		LogLevel:           "info",
	}
}

// Policy parses DefaultPolicy. The boolean is false when no policy is set.
// Accepted forms are "keep_latest:N" and "older_than_days:N".
func (c Config) Policy(now time.Time) (domain.StoragePolicy, bool, error) {
	raw := strings.TrimSpace(c.DefaultPolicy)
	if raw == "" {
		return domain.StoragePolicy{}, false, nil
	}
	kind, value, ok := strings.Cut(raw, ":")
	if !ok {
		return domain.StoragePolicy{}, false, fmt.Errorf("invalid policy %q", raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return domain.StoragePolicy{}, false, fmt.Errorf("invalid policy value %q", value)
	}
	switch strings.TrimSpace(kind) {
	case "keep_latest":
		return domain.KeepLatest(n), true, nil
	case "older_than_days":
		return domain.DeleteOlderThan(now.AddDate(0, 0, -n)), true, nil
	default:
		return domain.StoragePolicy{}, false, fmt.Errorf("unknown policy %q", kind)
	}
}

// Ensure loads configuration from the provided path, prompting the user to
// create one if it does not yet exist.
func Ensure(ctx context.Context, path string) (Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}

	if !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}

	cfg = Defaults()
	if err := bootstrap(ctx, &cfg); err != nil {
		return Config{}, err
	}

	if err := Save(path, cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Load reads configuration from disk.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if strings.TrimSpace(cfg.ColorTheme) == "" {
		cfg.ColorTheme = theme.Default
	}
	if cfg.ProgressIntervalMs <= 0 {
		cfg.ProgressIntervalMs = Defaults().ProgressIntervalMs
	}
	if cfg.RefreshConcurrency <= 0 {
		cfg.RefreshConcurrency = Defaults().RefreshConcurrency
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = Defaults().LogLevel
	}
	if _, _, err := cfg.Policy(time.Now()); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes configuration back to disk, ensuring directory permissions are restrictive.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(temp, path)
}

func bootstrap(ctx context.Context, cfg *Config) error {
	if fromEnv := strings.TrimSpace(os.Getenv("PODSTASH_DOWNLOAD_ROOT")); fromEnv != "" {
		resolved, err := expandPath(fromEnv)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(resolved, 0o755); err != nil {
			return fmt.Errorf("create download directory: %w", err)
		}
		cfg.DownloadRoot = resolved
		return nil
	}

	prompt := &survey.Input{
		Message: "Choose a download directory",
		Default: cfg.DownloadRoot,
	}

	var answer string
	if err := survey.AskOne(prompt, &answer, survey.WithValidator(survey.Required)); err != nil {
		if errors.Is(err, terminal.InterruptErr) {
			return fmt.Errorf("initialisation interrupted")
		}
		return err
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fmt.Errorf("download directory cannot be empty")
	}

	resolved, err := expandPath(answer)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	cfg.DownloadRoot = resolved
	return nil
}

// EditableKeys returns the ordered list of keys accepted by Set.
func EditableKeys() []string {
	return []string{
		"download_root",
		"parallel_downloads",
		"tmp_dir",
		"retry_count",
		"retry_backoff_max_seconds",
		"user_agent",
		"proxy",
		"tls_verify",
		"color_theme",
		"default_policy",
		"tag_downloads",
		"progress_interval_ms",
		"refresh_concurrency",
		"log_level",
	}
}

// ErrUnknownKey is returned by Set for keys outside EditableKeys.
var ErrUnknownKey = errors.New("unknown config key")

// Set assigns a single key from its textual form.
func (c *Config) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "download_root", "tmp_dir":
		if value == "" {
			return fmt.Errorf("%s: value required", key)
		}
		resolved, err := expandPath(value)
		if err != nil {
			return err
		}
		if key == "download_root" {
			c.DownloadRoot = resolved
		} else {
			c.TmpDir = resolved
		}
	case "parallel_downloads":
		return setInt(&c.ParallelDownloads, key, value, 1)
	case "retry_count":
		return setInt(&c.RetryCount, key, value, 0)
	case "retry_backoff_max_seconds":
		return setInt(&c.RetryBackoffMaxSec, key, value, 1)
	case "progress_interval_ms":
		return setInt(&c.ProgressIntervalMs, key, value, 1)
	case "refresh_concurrency":
		return setInt(&c.RefreshConcurrency, key, value, 1)
	case "user_agent":
		c.UserAgent = value
	case "proxy":
		c.Proxy = value
	case "tls_verify":
		return setBool(&c.TLSVerify, key, value)
	case "tag_downloads":
		return setBool(&c.TagDownloads, key, value)
	case "color_theme":
		for _, name := range theme.Names() {
			if strings.EqualFold(name, value) {
				c.ColorTheme = name
				return nil
			}
		}
		return fmt.Errorf("color_theme: choose one of %s", strings.Join(theme.Names(), ", "))
	case "default_policy":
		probe := Config{DefaultPolicy: value}
		if _, _, err := probe.Policy(time.Now()); err != nil {
			return err
		}
		c.DefaultPolicy = value
	case "log_level":
		switch strings.ToLower(value) {
		case "debug", "info", "warn", "error":
			c.LogLevel = strings.ToLower(value)
		default:
			return fmt.Errorf("log_level: choose one of debug, info, warn, error")
		}
	default:
		return fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}
	return nil
}

func setInt(dst *int, key, value string, min int) error {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("%s: must be a number", key)
	}
	if i < min {
		return fmt.Errorf("%s: must be at least %d", key, min)
	}
	*dst = i
	return nil
}

func setBool(dst *bool, key, value string) error {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%s: must be true or false", key)
	}
	*dst = b
	return nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
