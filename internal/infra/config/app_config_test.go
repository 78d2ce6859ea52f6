package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coachpo/marketmaker/internal/app/engine"
	"github.com/coachpo/marketmaker/internal/app/maker"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatalf("expected error when config file missing")
	}
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg, loaded, err := LoadOrDefault(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault failed: %v", err)
	}
	if loaded {
		t.Fatalf("expected defaults, not a file")
	}
	if cfg.Venue.Kind != VenueFake {
		t.Fatalf("expected fake venue by default, got %s", cfg.Venue.Kind)
	}
	if cfg.Strategy.PositionLimit != 100 || cfg.Strategy.MinEdge != 3 {
		t.Fatalf("unexpected strategy defaults %+v", cfg.Strategy)
	}
}

func TestLoadOrDefaultSurfacesBadFile(t *testing.T) {
	path := writeConfig(t, "environment: [unterminated\n")
	if _, _, err := LoadOrDefault(context.Background(), path); err == nil {
		t.Fatalf("expected parse error to surface")
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
environment: STAGING
venue:
  kind: Stockfighter
  apiKey: abc123
  venue: testex
  account: exb123456
  symbol: foobar
  requestsPerSecond: 4
  burst: 2
strategy:
  positionLimit: 250
  minEdge: 5
  tick: 2
  quoteSource: POLL
  pollInterval: 750ms
  reconcileInterval: 0s
  cancelOnShutdown: false
recovery:
  window: 45s
  interval: 2s
  tieBreak: Reject
retry:
  initialInterval: 100ms
  maxInterval: 3s
  multiplier: 1.5
  escalateAfter: 7
feeds:
  reconnectInitial: 1s
  reconnectMax: 20s
  executionBuffer: 64
telemetry:
  otlpEndpoint: http://collector:4318
  serviceName: mm-test
  enableMetrics: true
database:
  enabled: true
  dsn: postgresql://localhost:5432/mm?sslmode=disable
  maxConns: 4
  runMigrations: true
`)

	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Environment != EnvStaging {
		t.Fatalf("expected environment %s, got %s", EnvStaging, cfg.Environment)
	}
	if cfg.Venue.Kind != VenueStockfighter || cfg.Venue.Venue != "TESTEX" || cfg.Venue.Symbol != "FOOBAR" || cfg.Venue.Account != "EXB123456" {
		t.Fatalf("unexpected venue section %+v", cfg.Venue)
	}

	eng := cfg.EngineConfig()
	if eng.PositionLimit != 250 || eng.MinEdge != 5 || eng.Tick != 2 {
		t.Fatalf("unexpected engine strategy %+v", eng)
	}
	if eng.TieBreak != engine.TieBreakReject {
		t.Fatalf("expected reject tie-break, got %s", eng.TieBreak)
	}
	if eng.RecoveryWindow != 45*time.Second || eng.RecoveryInterval != 2*time.Second {
		t.Fatalf("unexpected recovery %s/%s", eng.RecoveryWindow, eng.RecoveryInterval)
	}
	if eng.Retry.EscalateAfter != 7 || eng.Retry.Multiplier != 1.5 {
		t.Fatalf("unexpected retry policy %+v", eng.Retry)
	}

	opts := cfg.MakerOptions()
	if opts.QuoteSource != maker.QuoteSourcePoll || opts.PollInterval != 750*time.Millisecond {
		t.Fatalf("unexpected quote source %s every %s", opts.QuoteSource, opts.PollInterval)
	}
	if opts.ReconcileInterval != 0 || opts.CancelOnShutdown {
		t.Fatalf("expected reconcile and shutdown cancel disabled, got %+v", opts)
	}
	if opts.ExecutionBuffer != 64 || opts.ReconnectMax != 20*time.Second {
		t.Fatalf("unexpected feed options %+v", opts)
	}

	sf := cfg.Venue.Stockfighter()
	if sf.APIKey != "abc123" || sf.RequestsPerSecond != 4 || sf.Burst != 2 {
		t.Fatalf("unexpected stockfighter config %+v", sf)
	}

	tel := cfg.TelemetryConfig()
	if !tel.Enabled || tel.ServiceName != "mm-test" || tel.Environment != "staging" {
		t.Fatalf("unexpected telemetry config %+v", tel)
	}

	if !cfg.Database.Enabled || cfg.Database.MaxConns != 4 || cfg.Database.MinConns != 1 {
		t.Fatalf("unexpected database section %+v", cfg.Database)
	}
	if cfg.Database.MaxConnLifetime != 30*time.Minute {
		t.Fatalf("expected default maxConnLifetime, got %s", cfg.Database.MaxConnLifetime)
	}
}

func TestAPIKeyFallsBackToEnvironment(t *testing.T) {
	t.Setenv(APIKeyEnv, "from-env")
	path := writeConfig(t, `
environment: dev
venue:
  kind: stockfighter
  venue: TESTEX
  account: EXB123456
  symbol: FOOBAR
`)
	cfg, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Venue.APIKey != "from-env" {
		t.Fatalf("expected api key from environment, got %q", cfg.Venue.APIKey)
	}
}

func TestValidateRejects(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	cases := []struct {
		name   string
		body   string
		errMsg string
	}{
		{"environment", "environment: qa\n", "environment must be"},
		{"venue kind", "venue:\n  kind: paper\n", "venue kind"},
		{"missing key", "venue:\n  kind: stockfighter\n", "apiKey required"},
		{"chance range", "venue:\n  fake:\n    transientError: 1.5\n", "within [0,1]"},
		{"quote source", "strategy:\n  quoteSource: fax\n", "unknown quote source"},
		{"tie break", "recovery:\n  tieBreak: coinflip\n", "tie-break"},
		{"position limit", "strategy:\n  positionLimit: -1\n", "position limit"},
		{"feeds", "feeds:\n  reconnectInitial: 5s\n  reconnectMax: 1s\n", "reconnect intervals"},
		{"retry", "retry:\n  multiplier: 0.5\n", "multiplier"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(context.Background(), writeConfig(t, tc.body))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.errMsg) {
				t.Fatalf("expected error containing %q, got %v", tc.errMsg, err)
			}
		})
	}
}

func TestFakeOptionsCarryBehavior(t *testing.T) {
	cfg := Default()
	cfg.Venue.Fake.PlaceAmbiguous = 0.25
	cfg.Venue.Fake.LatencyMax = 50 * time.Millisecond
	opts := cfg.Venue.FakeOptions()
	if opts.Behavior.PlaceAmbiguous != 0.25 || opts.Behavior.LatencyMax != 50*time.Millisecond {
		t.Fatalf("unexpected fake behavior %+v", opts.Behavior)
	}
	if opts.Symbol != "FOOBAR" || opts.Noise.StartPrice != 5000 {
		t.Fatalf("unexpected fake options %+v", opts)
	}
}

func TestExampleConfigLoads(t *testing.T) {
	cfg, err := Load(context.Background(), filepath.Join("..", "..", "..", "config", "app.example.yaml"))
	if err != nil {
		t.Fatalf("example config should load: %v", err)
	}
	defaults := Default()
	if cfg.Venue.Kind != VenueFake || cfg.Strategy.PositionLimit != defaults.Strategy.PositionLimit {
		t.Fatalf("example config drifted from defaults: %+v", cfg.Venue)
	}
	if cfg.Database.Enabled {
		t.Fatalf("example config must not require a database")
	}
}
