package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `{
  "market_pairs": [
    {
      "id": "T1",
      "market_name": "Fed hike June",
      "kalshi_ticker": "KXFED-25JUN",
      "polymarket_market_id": "0xabc",
      "manually_verified": true
    }
  ]
}`

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Monitoring.PollingIntervalSeconds != 2 {
		t.Fatalf("default polling interval: want 2, got %d", cfg.Monitoring.PollingIntervalSeconds)
	}
	if cfg.PollingInterval() != 2*time.Second {
		t.Fatalf("PollingInterval: %s", cfg.PollingInterval())
	}
	if cfg.Duration() != 0 {
		t.Fatalf("default duration should be unbounded, got %s", cfg.Duration())
	}

	pairs := cfg.Pairs()
	if len(pairs) != 1 {
		t.Fatalf("pairs: %d", len(pairs))
	}
	if pairs[0].ContractSize != 1 {
		t.Fatalf("contract size defaults to 1, got %d", pairs[0].ContractSize)
	}
	if !pairs[0].ManuallyVerified {
		t.Fatal("manually_verified lost")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	body := `{
  "market_pairs": [
    {"id": "T1", "kalshi_ticker": "K", "polymarket_market_id": "P"}
  ],
  "monitering": {"polling_interval_seconds": 5}
}`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("misspelled section must be rejected, not ignored")
	}
}

func TestLoadRejectsUnknownPairKey(t *testing.T) {
	body := `{
  "market_pairs": [
    {"id": "T1", "kalshi_ticker": "K", "polymarket_market_id": "P", "kalshi_tikcer": "oops"}
  ]
}`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("unknown pair key must be rejected")
	}
}

func TestLoadAlertingIsOpaque(t *testing.T) {
	body := `{
  "market_pairs": [
    {"id": "T1", "kalshi_ticker": "K", "polymarket_market_id": "P"}
  ],
  "alerting": {
    "telegram": {"bot_token": "tok", "chat_id": "42"},
    "pagerduty": {"routing_key": "whatever"}
  }
}`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("opaque alerting keys must be tolerated: %v", err)
	}
	if _, ok := cfg.Alerting["pagerduty"]; !ok {
		t.Fatal("alerting config must pass through verbatim")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no pairs", `{"market_pairs": []}`},
		{"duplicate ids", `{"market_pairs": [
			{"id": "T1", "kalshi_ticker": "K", "polymarket_market_id": "P"},
			{"id": "T1", "kalshi_ticker": "K2", "polymarket_market_id": "P2"}
		]}`},
		{"missing kalshi instrument", `{"market_pairs": [
			{"id": "T1", "polymarket_market_id": "P"}
		]}`},
		{"missing polymarket instrument", `{"market_pairs": [
			{"id": "T1", "kalshi_ticker": "K"}
		]}`},
		{"zero interval", `{"market_pairs": [
			{"id": "T1", "kalshi_ticker": "K", "polymarket_market_id": "P"}
		], "monitoring": {"polling_interval_seconds": 0}}`},
		{"negative gas", `{"market_pairs": [
			{"id": "T1", "kalshi_ticker": "K", "polymarket_market_id": "P"}
		], "cost_assumptions": {"gas_fee_per_trade_usd": -0.01}}`},
	}

	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.body)); err == nil {
			t.Fatalf("%s: expected load failure", tc.name)
		}
	}
}

func TestLoadFullConfig(t *testing.T) {
	body := `{
  "logging": {"level": "debug", "format": "console"},
  "market_pairs": [
    {"id": "T1", "kalshi_ticker": "K", "polymarket_market_id": "P", "contract_size": 5, "notes": "check settlement date"}
  ],
  "monitoring": {"polling_interval_seconds": 5, "monitoring_duration_hours": 1.5},
  "cost_assumptions": {"gas_fee_per_trade_usd": 0.02},
  "venues": {"kalshi_api_key": "key"},
  "database": {"dsn": "postgres://localhost/arb"},
  "checkpoint": {"interval": "2m"}
}`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Duration() != 90*time.Minute {
		t.Fatalf("duration: want 90m, got %s", cfg.Duration())
	}
	if cfg.Checkpoint.Interval != 2*time.Minute {
		t.Fatalf("checkpoint interval: %s", cfg.Checkpoint.Interval)
	}
	if cfg.Pairs()[0].ContractSize != 5 {
		t.Fatalf("contract size: %d", cfg.Pairs()[0].ContractSize)
	}
	if cfg.Venues.KalshiBaseURL == "" {
		t.Fatal("venue defaults must survive partial override")
	}
	if cfg.Database.DSN != "postgres://localhost/arb" {
		t.Fatalf("dsn: %s", cfg.Database.DSN)
	}
}
