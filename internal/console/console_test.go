package console

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestQueryInt_DefaultsWhenAbsent(t *testing.T) {
	r := httptest.NewRequest("GET", "/tasks", nil)
	if got := queryInt(r, "limit", 25, 100); got != 25 {
		t.Errorf("got %d, want 25", got)
	}
}

func TestQueryInt_ClampsToMax(t *testing.T) {
	r := httptest.NewRequest("GET", "/tasks?limit=9000", nil)
	if got := queryInt(r, "limit", 25, 100); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
}

func TestQueryInt_IgnoresInvalid(t *testing.T) {
	r := httptest.NewRequest("GET", "/tasks?limit=not-a-number", nil)
	if got := queryInt(r, "limit", 25, 100); got != 25 {
		t.Errorf("got %d, want 25", got)
	}
}

func TestQueryInt_IgnoresZeroAndNegative(t *testing.T) {
	r := httptest.NewRequest("GET", "/tasks?limit=0", nil)
	if got := queryInt(r, "limit", 25, 100); got != 25 {
		t.Errorf("got %d, want 25", got)
	}
}

func TestParseWindow_DefaultsToSpanEndingNow(t *testing.T) {
	r := httptest.NewRequest("GET", "/cost/report", nil)
	start, end, err := parseWindow(r, 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Errorf("span = %v, want 24h", end.Sub(start))
	}
}

func TestParseWindow_ParsesExplicitBounds(t *testing.T) {
	r := httptest.NewRequest("GET", "/cost/report?start=2026-01-01T00:00:00Z&end=2026-01-02T00:00:00Z", nil)
	start, end, err := parseWindow(r, 24*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantStart, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	wantEnd, _ := time.Parse(time.RFC3339, "2026-01-02T00:00:00Z")
	if !start.Equal(wantStart) || !end.Equal(wantEnd) {
		t.Errorf("got [%v, %v), want [%v, %v)", start, end, wantStart, wantEnd)
	}
}

func TestParseWindow_RejectsInvalidTimestamp(t *testing.T) {
	r := httptest.NewRequest("GET", "/cost/report?start=not-a-time", nil)
	if _, _, err := parseWindow(r, 24*time.Hour); err == nil {
		t.Error("expected an error for an invalid start timestamp")
	}
}
