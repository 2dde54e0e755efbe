package costtracker

import "testing"

func TestLimitAlertsFor_Warning(t *testing.T) {
	alerts := limitAlertsFor("daily", 850, 1000, 0.8)
	if len(alerts) != 1 || alerts[0].AlertType != "daily_token_warning" {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestLimitAlertsFor_Exceeded(t *testing.T) {
	alerts := limitAlertsFor("hourly", 1200, 1000, 0.8)
	if len(alerts) != 1 || alerts[0].AlertType != "hourly_token_exceeded" {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestLimitAlertsFor_BelowThreshold(t *testing.T) {
	alerts := limitAlertsFor("daily", 100, 1000, 0.8)
	if len(alerts) != 0 {
		t.Errorf("expected no alerts, got %+v", alerts)
	}
}
