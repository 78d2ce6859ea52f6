// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/marketmaker/internal/app/engine"
	"github.com/coachpo/marketmaker/internal/app/maker"
)

// APIKeyEnv supplies the venue API key when the file leaves it empty.
const APIKeyEnv = "STOCKFIGHTER_API_KEY"

// VenueConfig selects and binds the gateway.
type VenueConfig struct {
	Kind              VenueKind     `yaml:"kind"`
	BaseURL           string        `yaml:"baseURL"`
	WSURL             string        `yaml:"wsURL"`
	APIKey            string        `yaml:"apiKey"`
	Venue             string        `yaml:"venue"`
	Account           string        `yaml:"account"`
	Symbol            string        `yaml:"symbol"`
	HTTPTimeout       time.Duration `yaml:"httpTimeout"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
	Burst             int           `yaml:"burst"`
	Fake              FakeConfig    `yaml:"fake"`
}

// FakeConfig tunes the in-process venue used for paper trading.
type FakeConfig struct {
	Seed             uint64        `yaml:"seed"`
	LatencyMin       time.Duration `yaml:"latencyMin"`
	LatencyMax       time.Duration `yaml:"latencyMax"`
	TransientError   float64       `yaml:"transientError"`
	PlaceAmbiguous   float64       `yaml:"placeAmbiguous"`
	DropExecution    float64       `yaml:"dropExecution"`
	DisconnectChance float64       `yaml:"disconnectChance"`
	SimulateEvery    time.Duration `yaml:"simulateEvery"`
	StartPrice       int64         `yaml:"startPrice"`
}

// StrategyConfig holds the quoting policy.
type StrategyConfig struct {
	PositionLimit     int64         `yaml:"positionLimit"`
	MinEdge           int64         `yaml:"minEdge"`
	Tick              int64         `yaml:"tick"`
	QuoteSource       string        `yaml:"quoteSource"`
	PollInterval      time.Duration `yaml:"pollInterval"`
	ReconcileInterval time.Duration `yaml:"reconcileInterval"`
	CancelOnShutdown  bool          `yaml:"cancelOnShutdown"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// RecoveryConfig bounds the search for orders whose placement failed.
type RecoveryConfig struct {
	Window   time.Duration `yaml:"window"`
	Interval time.Duration `yaml:"interval"`
	TieBreak string        `yaml:"tieBreak"`
}

// RetryConfig shapes the backoff of repeatable venue calls.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	Multiplier      float64       `yaml:"multiplier"`
	EscalateAfter   int           `yaml:"escalateAfter"`
}

// FeedsConfig shapes push subscription supervision.
type FeedsConfig struct {
	ReconnectInitial time.Duration `yaml:"reconnectInitial"`
	ReconnectMax     time.Duration `yaml:"reconnectMax"`
	ExecutionBuffer  int           `yaml:"executionBuffer"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// DatabaseConfig controls the order journal's PostgreSQL connectivity.
type DatabaseConfig struct {
	Enabled           bool          `yaml:"enabled"`
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
	JournalWorkers    int           `yaml:"journalWorkers"`
	JournalQueue      int           `yaml:"journalQueue"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/marketmaker"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
	if c.JournalWorkers <= 0 {
		c.JournalWorkers = 2
	}
	if c.JournalQueue <= 0 {
		c.JournalQueue = 1024
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 || c.MaxConnIdleTime <= 0 || c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("connection lifetimes must be >0")
	}
	return nil
}

// AppConfig is the market maker configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Venue       VenueConfig     `yaml:"venue"`
	Strategy    StrategyConfig  `yaml:"strategy"`
	Recovery    RecoveryConfig  `yaml:"recovery"`
	Retry       RetryConfig     `yaml:"retry"`
	Feeds       FeedsConfig     `yaml:"feeds"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Database    DatabaseConfig  `yaml:"database"`
}

// Default returns a configuration that paper-trades against the fake venue.
func Default() AppConfig {
	eng := engine.DefaultConfig("FOOBAR")
	opts := maker.DefaultOptions()
	cfg := AppConfig{
		Environment: EnvDev,
		Venue: VenueConfig{
			Kind:    VenueFake,
			Venue:   "TESTEX",
			Account: "EXB123456",
			Symbol:  eng.Symbol,
			Fake: FakeConfig{
				Seed:          1,
				SimulateEvery: 100 * time.Millisecond,
				StartPrice:    5000,
			},
		},
		Strategy: StrategyConfig{
			PositionLimit:     eng.PositionLimit,
			MinEdge:           eng.MinEdge,
			Tick:              eng.Tick,
			QuoteSource:       string(opts.QuoteSource),
			PollInterval:      opts.PollInterval,
			ReconcileInterval: opts.ReconcileInterval,
			CancelOnShutdown:  opts.CancelOnShutdown,
			ShutdownTimeout:   opts.ShutdownTimeout,
		},
		Recovery: RecoveryConfig{
			Window:   eng.RecoveryWindow,
			Interval: eng.RecoveryInterval,
			TieBreak: string(eng.TieBreak),
		},
		Retry: RetryConfig{
			InitialInterval: eng.Retry.InitialInterval,
			MaxInterval:     eng.Retry.MaxInterval,
			Multiplier:      eng.Retry.Multiplier,
			EscalateAfter:   eng.Retry.EscalateAfter,
		},
		Feeds: FeedsConfig{
			ReconnectInitial: opts.ReconnectInitial,
			ReconnectMax:     opts.ReconnectMax,
			ExecutionBuffer:  opts.ExecutionBuffer,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "http://localhost:4318",
			ServiceName:  "marketmaker",
		},
	}
	cfg.Database.applyDefaults()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file. Sections
// and fields the file omits keep their defaults.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads configPath, falling back to Default when the file does
// not exist. The boolean reports whether the file was read.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	cfg, err := Load(ctx, configPath)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, false, err
	}
	cfg = Default()
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, false, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, false, err
	}
	return cfg, false, nil
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(normalizeIdentifier(string(c.Environment)))
	c.Venue.Kind = VenueKind(normalizeIdentifier(string(c.Venue.Kind)))
	c.Venue.BaseURL = strings.TrimSpace(c.Venue.BaseURL)
	c.Venue.WSURL = strings.TrimSpace(c.Venue.WSURL)
	c.Venue.APIKey = strings.TrimSpace(c.Venue.APIKey)
	if c.Venue.APIKey == "" {
		c.Venue.APIKey = strings.TrimSpace(os.Getenv(APIKeyEnv))
	}
	c.Venue.Venue = strings.ToUpper(strings.TrimSpace(c.Venue.Venue))
	c.Venue.Account = strings.ToUpper(strings.TrimSpace(c.Venue.Account))
	c.Venue.Symbol = strings.ToUpper(strings.TrimSpace(c.Venue.Symbol))

	c.Strategy.QuoteSource = normalizeIdentifier(c.Strategy.QuoteSource)
	if c.Strategy.QuoteSource == "" {
		c.Strategy.QuoteSource = string(maker.QuoteSourceStream)
	}
	tieBreak, err := engine.ParseTieBreak(c.Recovery.TieBreak)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	c.Recovery.TieBreak = string(tieBreak)

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	c.Database.applyDefaults()
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	switch c.Venue.Kind {
	case VenueStockfighter:
		if c.Venue.APIKey == "" {
			return fmt.Errorf("venue apiKey required (or set %s)", APIKeyEnv)
		}
	case VenueFake:
		f := c.Venue.Fake
		for name, p := range map[string]float64{
			"transientError":   f.TransientError,
			"placeAmbiguous":   f.PlaceAmbiguous,
			"dropExecution":    f.DropExecution,
			"disconnectChance": f.DisconnectChance,
		} {
			if p < 0 || p > 1 {
				return fmt.Errorf("venue fake %s must be within [0,1]", name)
			}
		}
	default:
		return fmt.Errorf("venue kind must be one of stockfighter, fake")
	}
	if c.Venue.Venue == "" || c.Venue.Account == "" || c.Venue.Symbol == "" {
		return fmt.Errorf("venue venue, account and symbol required")
	}
	if c.Venue.RequestsPerSecond < 0 || c.Venue.Burst < 0 {
		return fmt.Errorf("venue requestsPerSecond and burst must be >=0")
	}

	if _, err := maker.ParseQuoteSource(c.Strategy.QuoteSource); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if c.Strategy.PollInterval <= 0 {
		return fmt.Errorf("strategy pollInterval must be >0")
	}
	if c.Strategy.ReconcileInterval < 0 {
		return fmt.Errorf("strategy reconcileInterval must be >=0")
	}
	if c.Feeds.ReconnectInitial <= 0 || c.Feeds.ReconnectMax < c.Feeds.ReconnectInitial {
		return fmt.Errorf("feeds reconnect intervals invalid")
	}
	if c.Feeds.ExecutionBuffer <= 0 {
		return fmt.Errorf("feeds executionBuffer must be >0")
	}

	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}

	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// EngineConfig projects the strategy, recovery and retry sections onto the engine.
func (c AppConfig) EngineConfig() engine.Config {
	return engine.Config{
		Venue:            c.Venue.Venue,
		Account:          c.Venue.Account,
		Symbol:           c.Venue.Symbol,
		PositionLimit:    c.Strategy.PositionLimit,
		MinEdge:          c.Strategy.MinEdge,
		Tick:             c.Strategy.Tick,
		RecoveryWindow:   c.Recovery.Window,
		RecoveryInterval: c.Recovery.Interval,
		TieBreak:         engine.TieBreak(c.Recovery.TieBreak),
		Retry: engine.RetryPolicy{
			InitialInterval: c.Retry.InitialInterval,
			MaxInterval:     c.Retry.MaxInterval,
			Multiplier:      c.Retry.Multiplier,
			EscalateAfter:   c.Retry.EscalateAfter,
		},
	}
}

// MakerOptions projects the strategy and feeds sections onto the runtime.
func (c AppConfig) MakerOptions() maker.Options {
	return maker.Options{
		QuoteSource:       maker.QuoteSource(c.Strategy.QuoteSource),
		PollInterval:      c.Strategy.PollInterval,
		ReconcileInterval: c.Strategy.ReconcileInterval,
		CancelOnShutdown:  c.Strategy.CancelOnShutdown,
		ShutdownTimeout:   c.Strategy.ShutdownTimeout,
		ReconnectInitial:  c.Feeds.ReconnectInitial,
		ReconnectMax:      c.Feeds.ReconnectMax,
		ExecutionBuffer:   c.Feeds.ExecutionBuffer,
	}
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
