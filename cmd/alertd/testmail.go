package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tickertracker/internal/dispatch"
	"tickertracker/internal/model"
	"tickertracker/internal/notification"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newTestMailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "testmail",
		Short: "Send a sample alert e-mail through the configured mail transport",
		RunE:  runTestMail,
	}
	cmd.Flags().String("to", "", "recipient (defaults to MAIL_TO)")
	return cmd
}

// sampleTrigger is AAPL crossing 170 at 175.25, previous close 169.75.
func sampleTrigger() (model.Trigger, decimal.Decimal) {
	return model.Trigger{
		Alert: model.Alert{
			ID:          "testmail",
			Symbol:      "AAPL",
			TargetPrice: decimal.NewFromInt(170),
			Direction:   model.DirectionAbove,
			CreatedAt:   time.Now().UTC(),
		},
		Price: decimal.RequireFromString("175.25"),
		At:    time.Now().UTC(),
		Mail:  model.MailPending,
	}, decimal.RequireFromString("169.75")
}

func runTestMail(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	to, _ := cmd.Flags().GetString("to")
	if to == "" {
		to = cfg.MailTo
	}
	mailer := newMailer(cfg, log)
	if mailer == nil {
		return errors.New("mail transport is disabled (MAIL_TRANSPORT=none)")
	}
	if to == "" {
		return errors.New("no recipient: pass --to or set MAIL_TO")
	}

	tr, reference := sampleTrigger()
	msg, err := dispatch.Compose(tr, reference)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.MailTimeout)
	defer cancel()
	start := time.Now()
	err = mailer.Send(ctx, notification.Mail{To: to, Subject: msg.Subject, Text: msg.Text, HTML: msg.HTML})
	if err != nil {
		return fmt.Errorf("send test mail: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "test mail sent to %s via %s in %s\n", to, cfg.MailTransport, time.Since(start).Round(time.Millisecond))
	return nil
}
