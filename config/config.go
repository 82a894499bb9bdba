package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all alertd configuration. Values come from defaults, an optional
// YAML file, and environment variables, in increasing precedence.
type Config struct {
	// Price feed
	FeedURL           string        `mapstructure:"feed_url"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`

	// Alerts
	DuplicatePolicy string `mapstructure:"duplicate_policy"`
	AlertsFile      string `mapstructure:"alerts_file"`

	// Notifications
	NotifyChannel string        `mapstructure:"notify_channel"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	TelegramToken string        `mapstructure:"telegram_token"`
	TelegramChat  string        `mapstructure:"telegram_chat_id"`

	// Mail
	MailTransport string        `mapstructure:"mail_transport"`
	MailEndpoint  string        `mapstructure:"mail_endpoint"`
	MailFrom      string        `mapstructure:"mail_from"`
	MailTo        string        `mapstructure:"mail_to"`
	MailTimeout   time.Duration `mapstructure:"mail_timeout"`
	SMTPHost      string        `mapstructure:"smtp_host"`
	SMTPPort      int           `mapstructure:"smtp_port"`
	SMTPUser      string        `mapstructure:"smtp_user"`
	SMTPPassword  string        `mapstructure:"smtp_password"`

	// Infrastructure
	HTTPAddr      string `mapstructure:"http_addr"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	SQLitePath    string `mapstructure:"sqlite_path"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

var defaults = map[string]any{
	"feed_url":            "ws://localhost:8000/ws/ticker",
	"reconnect_delay":     5 * time.Second,
	"max_reconnect_delay": time.Duration(0),
	"duplicate_policy":    "allow",
	"alerts_file":         "",
	"notify_channel":      "log",
	"notify_timeout":      3 * time.Second,
	"webhook_url":         "",
	"telegram_token":      "",
	"telegram_chat_id":    "",
	"mail_transport":      "log",
	"mail_endpoint":       "http://localhost:3001/api/sendMail",
	"mail_from":           "alerts@tickertracker.local",
	"mail_to":             "",
	"mail_timeout":        15 * time.Second,
	"smtp_host":           "smtp.gmail.com",
	"smtp_port":           465,
	"smtp_user":           "",
	"smtp_password":       "",
	"http_addr":           ":8080",
	"metrics_addr":        ":9090",
	"redis_addr":          "",
	"redis_password":      "",
	"redis_db":            0,
	"sqlite_path":         "data/alerts.db",
	"log_level":           "info",
	"log_file":            "",
}

// Load reads configuration. path may be empty, in which case only defaults and
// the environment (including a best-effort .env) are used.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
		// AutomaticEnv only consults keys viper already knows about.
		if err := v.BindEnv(k, strings.ToUpper(k)); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", k, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	u, err := url.Parse(c.FeedURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("config: feed_url %q must be a ws:// or wss:// URL", c.FeedURL)
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("config: reconnect_delay must be positive")
	}
	if c.MaxReconnectDelay != 0 && c.MaxReconnectDelay < c.ReconnectDelay {
		return errors.New("config: max_reconnect_delay must be 0 or >= reconnect_delay")
	}

	switch c.DuplicatePolicy {
	case "allow", "ignore":
	default:
		return fmt.Errorf("config: unknown duplicate_policy %q", c.DuplicatePolicy)
	}

	switch c.NotifyChannel {
	case "none", "log":
	case "webhook":
		if c.WebhookURL == "" {
			return errors.New("config: notify_channel=webhook requires webhook_url")
		}
	case "telegram":
		if c.TelegramToken == "" || c.TelegramChat == "" {
			return errors.New("config: notify_channel=telegram requires telegram_token and telegram_chat_id")
		}
	default:
		return fmt.Errorf("config: unknown notify_channel %q", c.NotifyChannel)
	}

	switch c.MailTransport {
	case "none", "log":
	case "http":
		if c.MailEndpoint == "" {
			return errors.New("config: mail_transport=http requires mail_endpoint")
		}
	case "smtp":
		if c.SMTPHost == "" || c.SMTPPort <= 0 {
			return errors.New("config: mail_transport=smtp requires smtp_host and smtp_port")
		}
	default:
		return fmt.Errorf("config: unknown mail_transport %q", c.MailTransport)
	}

	if (c.MailTransport == "http" || c.MailTransport == "smtp") && c.MailTo == "" {
		return fmt.Errorf("config: mail_transport=%s requires mail_to", c.MailTransport)
	}
	return nil
}
