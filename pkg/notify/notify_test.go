package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifier_DisabledWithoutToken(t *testing.T) {
	n := NewNotifier("", "#alerts", testLogger())
	if n.IsEnabled() {
		t.Error("expected notifier to be disabled without a bot token")
	}
}

func TestNotifier_DisabledWithoutChannel(t *testing.T) {
	n := NewNotifier("xoxb-fake", "", testLogger())
	if n.IsEnabled() {
		t.Error("expected notifier to be disabled without a channel")
	}
}

func TestNotifier_NotifyAnomaly_DisabledIsNoop(t *testing.T) {
	n := NewNotifier("", "", testLogger())
	// Must not panic even though the client is nil.
	n.NotifyAnomaly(context.Background(), "stuck_task", "critical", map[string]any{"taskId": "abc"})
}

func TestNotifier_NotifyAnomaly_IgnoresNonCritical(t *testing.T) {
	n := NewNotifier("", "", testLogger())
	// Warning severity should never attempt a post, disabled or not.
	n.NotifyAnomaly(context.Background(), "cost_spike", "warning", nil)
}

func TestNotifier_NotifyCostAlert_DisabledIsNoop(t *testing.T) {
	n := NewNotifier("", "", testLogger())
	n.NotifyCostAlert(context.Background(), "daily_token_exceeded", "day", 1000, 800)
}
