package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is manager",
			check:  func(c *Config) bool { return c.Mode == "manager" },
			expect: "manager",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8090",
			check:  func(c *Config) bool { return c.Port == 8090 },
			expect: "8090",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default log format is json",
			check:  func(c *Config) bool { return c.LogFormat == "json" },
			expect: "json",
		},
		{
			name:   "default metrics path",
			check:  func(c *Config) bool { return c.MetricsPath == "/metrics" },
			expect: "/metrics",
		},
		{
			name:   "default migrations dir",
			check:  func(c *Config) bool { return c.MigrationsDir == "migrations" },
			expect: "migrations",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8090" },
			expect: "0.0.0.0:8090",
		},
		{
			name:   "default cycle tick fast",
			check:  func(c *Config) bool { return c.CycleTickFastMs == 30000 },
			expect: "30000",
		},
		{
			name:   "default cycle tick slow",
			check:  func(c *Config) bool { return c.CycleTickSlowMs == 90000 },
			expect: "90000",
		},
		{
			name:   "default cycle tick cost",
			check:  func(c *Config) bool { return c.CycleTickCostMs == 3600000 },
			expect: "3600000",
		},
		{
			name:   "default cycle tick anomaly",
			check:  func(c *Config) bool { return c.CycleTickAnomalyMs == 120000 },
			expect: "120000",
		},
		{
			name:   "default failed task max retry count is unlimited",
			check:  func(c *Config) bool { return c.FailedTaskMaxRetryCount == -1 },
			expect: "-1",
		},
		{
			name:   "default repeated signature threshold",
			check:  func(c *Config) bool { return c.FailedTaskRepeatedSignatureThreshold == 4 },
			expect: "4",
		},
		{
			name:   "default stuck run timeout",
			check:  func(c *Config) bool { return c.StuckRunTimeoutMs == 900000 },
			expect: "900000",
		},
		{
			name:   "default failed task cooldown",
			check:  func(c *Config) bool { return c.FailedTaskCooldownMs == 120000 },
			expect: "120000",
		},
		{
			name:   "default blocked task cooldown",
			check:  func(c *Config) bool { return c.BlockedTaskCooldownMs == 300000 },
			expect: "300000",
		},
		{
			name:   "default quota backoff factor",
			check:  func(c *Config) bool { return c.QuotaBackoffFactor == 2 },
			expect: "2",
		},
		{
			name:   "default cost limits are unbounded",
			check:  func(c *Config) bool { return c.DailyTokenLimit == 0 && c.HourlyTokenLimit == 0 },
			expect: "0",
		},
		{
			name:   "default strict busy agents is off",
			check:  func(c *Config) bool { return !c.StrictBusyAgents },
			expect: "false",
		},
		{
			name:   "default signature cache ttl",
			check:  func(c *Config) bool { return c.SignatureCacheTTLMs == 300000 },
			expect: "300000",
		},
		{
			name:   "oidc disabled by default",
			check:  func(c *Config) bool { return c.OIDCIssuerURL == "" },
			expect: "",
		},
		{
			name:   "slack disabled by default",
			check:  func(c *Config) bool { return c.SlackBotToken == "" },
			expect: "",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 9091}
	if got, want := cfg.ListenAddr(), "127.0.0.1:9091"; got != want {
		t.Errorf("ListenAddr() = %q, want %q", got, want)
	}
}
