// Package config loads and validates sitewatch configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Fingerprint algorithms accepted by fingerprint.algorithm.
const (
	AlgorithmMD5    = "md5"
	AlgorithmSHA256 = "sha256"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Site        SiteConfig        `mapstructure:"site"`
	Fetch       FetchConfig       `mapstructure:"fetch"`
	Headless    HeadlessConfig    `mapstructure:"headless"`
	Fingerprint FingerprintConfig `mapstructure:"fingerprint"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SiteConfig describes the watched page and how it is requested.
type SiteConfig struct {
	URL            string            `mapstructure:"url"`
	UserAgent      string            `mapstructure:"user_agent"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Headers        map[string]string `mapstructure:"headers"`
}

// FetchConfig selects the fetcher implementation.
type FetchConfig struct {
	Headless bool `mapstructure:"headless"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	// ExecPath points at the Chrome binary. Empty searches PATH.
	ExecPath      string `mapstructure:"exec_path"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
}

// FingerprintConfig selects the digest.
type FingerprintConfig struct {
	Algorithm string `mapstructure:"algorithm"`
}

// WatchConfig governs the watcher cycle.
type WatchConfig struct {
	// LastHash is the baseline fingerprint. It is never written back.
	LastHash        string `mapstructure:"last_hash"`
	RunOnStart      bool   `mapstructure:"run_on_start"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Timezone        string `mapstructure:"timezone"`
}

// TelegramConfig holds bot credentials and delivery settings.
type TelegramConfig struct {
	Token          string `mapstructure:"token"`
	ChatID         string `mapstructure:"chat_id"`
	APIBaseURL     string `mapstructure:"api_base_url"`
	ParseMode      string `mapstructure:"parse_mode"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PubSubConfig holds metadata for change event fanout.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// legacyEnv maps keys to the environment names used by existing deployments.
var legacyEnv = map[string]string{
	"server.port":      "PORT",
	"telegram.token":   "TELEGRAM_TOKEN",
	"telegram.chat_id": "CHAT_ID",
	"watch.last_hash":  "LAST_HASH",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("site.url", "https://apextraderfunding.com/coupon-code")
	v.SetDefault("site.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("site.timeout_seconds", 10)
	v.SetDefault("site.headers", map[string]string{})
	v.SetDefault("fetch.headless", false)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("fingerprint.algorithm", AlgorithmMD5)
	v.SetDefault("watch.last_hash", "")
	v.SetDefault("watch.run_on_start", true)
	v.SetDefault("watch.interval_seconds", 0)
	v.SetDefault("watch.timezone", "Local")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	v.SetDefault("telegram.parse_mode", "HTML")
	v.SetDefault("telegram.timeout_seconds", 10)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", false)
}

// bindLegacyEnv lets the prefixed name win over the legacy one.
func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := "SITEWATCH_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	u, err := url.Parse(c.Site.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("site.url must be an absolute http(s) URL")
	}
	if c.Site.TimeoutSeconds <= 0 {
		return fmt.Errorf("site.timeout_seconds must be > 0")
	}
	if c.Fetch.Headless && c.Headless.NavTimeoutSec < 0 {
		return fmt.Errorf("headless.nav_timeout_seconds must be >= 0")
	}
	if c.Telegram.TimeoutSeconds <= 0 {
		return fmt.Errorf("telegram.timeout_seconds must be > 0")
	}
	switch strings.ToLower(c.Fingerprint.Algorithm) {
	case AlgorithmMD5, AlgorithmSHA256:
	default:
		return fmt.Errorf("fingerprint.algorithm must be %q or %q", AlgorithmMD5, AlgorithmSHA256)
	}
	if c.Watch.IntervalSeconds < 0 {
		return fmt.Errorf("watch.interval_seconds must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("watch.timezone: %w", err)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// FetchTimeout bounds one page fetch.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Site.TimeoutSeconds) * time.Second
}

// SendTimeout bounds one sendMessage call.
func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.Telegram.TimeoutSeconds) * time.Second
}

// Interval is the optional in-process check interval; zero disables it.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Watch.IntervalSeconds) * time.Second
}

// Location resolves watch.timezone. Empty means Local.
func (c Config) Location() (*time.Location, error) {
	if c.Watch.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Watch.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load location: %w", err)
	}
	return loc, nil
}

// RequestHeaders returns the configured headers, with the user agent applied.
func (c Config) RequestHeaders() http.Header {
	h := http.Header{}
	for k, v := range c.Site.Headers {
		h.Set(k, v)
	}
	if c.Site.UserAgent != "" && h.Get("User-Agent") == "" {
		h.Set("User-Agent", c.Site.UserAgent)
	}
	return h
}
