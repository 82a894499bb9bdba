package main

import (
	"fmt"
	"log/slog"

	"tickertracker/config"
	"tickertracker/internal/logger"
	"tickertracker/internal/notification"

	"github.com/spf13/cobra"
)

func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	log := logger.InitWith("alertd", logger.Options{Level: level, File: cfg.LogFile})
	return cfg, log, nil
}

// newPresenter picks the primary notification channel.
func newPresenter(cfg *config.Config, log *slog.Logger) notification.Presenter {
	switch cfg.NotifyChannel {
	case "webhook":
		return notification.NewWebhookNotifier(cfg.WebhookURL)
	case "telegram":
		return notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChat)
	case "log":
		return notification.NewLogNotifier(log)
	default:
		return notification.Disabled{}
	}
}

// newMailer returns nil when mail is turned off.
func newMailer(cfg *config.Config, log *slog.Logger) notification.Mailer {
	switch cfg.MailTransport {
	case "http":
		return notification.NewHTTPMailer(cfg.MailEndpoint)
	case "smtp":
		return notification.NewSMTPMailer(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	case "log":
		return notification.NewLogMailer(log)
	default:
		return nil
	}
}

func describeMail(cfg *config.Config) string {
	if cfg.MailTransport == "none" {
		return "disabled"
	}
	return fmt.Sprintf("%s -> %s", cfg.MailTransport, cfg.MailTo)
}
