// Package notify forwards critical anomaly and cost alerts to a Slack
// channel, best-effort: a failed post is logged and never blocks the
// control loop (mirrors how an external adapter failure is handled
// everywhere else in the cycle manager).
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts alert messages to a configured Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. With an empty botToken or channel it is
// disabled and every Notify call is a no-op.
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has both a client and a channel.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// NotifyAnomaly posts a critical-severity anomaly to Slack. Only anomalies
// with severity "critical" are worth paging a human over; callers should
// filter before calling, but this also defends against a stray warning.
func (n *Notifier) NotifyAnomaly(ctx context.Context, anomalyType, severity string, details map[string]any) {
	if severity != "critical" {
		return
	}
	n.post(ctx, fmt.Sprintf(":rotating_light: anomaly detected: *%s* (%s)\n```%v```", anomalyType, severity, details))
}

// NotifyCostAlert posts a cost limit alert to Slack.
func (n *Notifier) NotifyCostAlert(ctx context.Context, alertType, period string, used, limit int64) {
	n.post(ctx, fmt.Sprintf(":moneybag: cost alert: *%s* for %s — %d/%d tokens", alertType, period, used, limit))
}

func (n *Notifier) post(ctx context.Context, text string) {
	if !n.IsEnabled() {
		n.logger.Debug("slack notifier disabled, dropping alert", "text", text)
		return
	}
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, goslack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("posting alert to slack", "error", err)
	}
}
