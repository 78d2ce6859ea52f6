package config

import (
	"github.com/coachpo/marketmaker/internal/infra/persistence/postgres"
	"github.com/coachpo/marketmaker/internal/infra/telemetry"
	"github.com/coachpo/marketmaker/internal/infra/venue/fake"
	"github.com/coachpo/marketmaker/internal/infra/venue/stockfighter"
)

// Stockfighter returns the REST/WebSocket client settings.
func (c VenueConfig) Stockfighter() stockfighter.Config {
	return stockfighter.Config{
		BaseURL:           c.BaseURL,
		WSURL:             c.WSURL,
		APIKey:            c.APIKey,
		Venue:             c.Venue,
		Account:           c.Account,
		Symbol:            c.Symbol,
		HTTPTimeout:       c.HTTPTimeout,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
	}
}

// FakeOptions returns the in-process venue settings.
func (c VenueConfig) FakeOptions() fake.Options {
	return fake.Options{
		Venue:   c.Venue,
		Account: c.Account,
		Symbol:  c.Symbol,
		Seed:    c.Fake.Seed,
		Behavior: fake.VenueBehavior{
			LatencyMin:       c.Fake.LatencyMin,
			LatencyMax:       c.Fake.LatencyMax,
			TransientError:   c.Fake.TransientError,
			PlaceAmbiguous:   c.Fake.PlaceAmbiguous,
			DropExecution:    c.Fake.DropExecution,
			DisconnectChance: c.Fake.DisconnectChance,
		},
		Noise: fake.NoiseModel{StartPrice: c.Fake.StartPrice},
	}
}

// TelemetryConfig overlays the file's telemetry section on the OTEL environment defaults.
func (c AppConfig) TelemetryConfig() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if c.Telemetry.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = c.Telemetry.OTLPEndpoint
	}
	if c.Telemetry.ServiceName != "" {
		cfg.ServiceName = c.Telemetry.ServiceName
	}
	cfg.Environment = string(c.Environment)
	cfg.OTLPInsecure = c.Telemetry.OTLPInsecure
	cfg.Enabled = cfg.Enabled || c.Telemetry.EnableMetrics
	return cfg
}

// PoolOptions returns the journal connection pool settings.
func (c DatabaseConfig) PoolOptions() postgres.PoolOptions {
	return postgres.PoolOptions{
		DSN:               c.DSN,
		MaxConns:          c.MaxConns,
		MinConns:          c.MinConns,
		MaxConnLifetime:   c.MaxConnLifetime,
		MaxConnIdleTime:   c.MaxConnIdleTime,
		HealthCheckPeriod: c.HealthCheckPeriod,
	}
}
