// Package bootstrap assembles the process-level dependencies shared by the
// market maker and sweep commands.
package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/marketmaker/internal/app/engine"
	"github.com/coachpo/marketmaker/internal/domain/venue"
	"github.com/coachpo/marketmaker/internal/infra/config"
	"github.com/coachpo/marketmaker/internal/infra/persistence"
	"github.com/coachpo/marketmaker/internal/infra/persistence/migrations"
	"github.com/coachpo/marketmaker/internal/infra/persistence/postgres"
	"github.com/coachpo/marketmaker/internal/infra/telemetry"
	"github.com/coachpo/marketmaker/internal/infra/venue/fake"
	"github.com/coachpo/marketmaker/internal/infra/venue/stockfighter"
)

const journalFlushTimeout = 5 * time.Second

// Runtime owns the gateway, the optional journal and telemetry for one process.
type Runtime struct {
	Config  config.AppConfig
	Gateway venue.Gateway
	Ledger  *engine.Ledger

	logger    *log.Logger
	telemetry *telemetry.Provider
	journal   *persistence.AsyncJournal
	closePool func()
	simulate  context.CancelFunc
	lifecycle conc.WaitGroup
}

// Open wires everything cfg asks for. Close must be called on every
// successful return.
func Open(ctx context.Context, cfg config.AppConfig, logger *log.Logger) (*Runtime, error) {
	if logger == nil {
		logger = log.Default()
	}
	rt := &Runtime{Config: cfg, logger: logger}

	telemetryCfg := cfg.TelemetryConfig()
	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	rt.telemetry = provider
	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}

	gw, err := rt.openGateway(ctx)
	if err != nil {
		rt.Close(context.Background())
		return nil, err
	}
	rt.Gateway = gw

	var opts []engine.LedgerOption
	if cfg.Database.Enabled {
		if err := rt.openJournal(ctx); err != nil {
			rt.Close(context.Background())
			return nil, err
		}
		opts = append(opts, engine.WithJournal(rt.journal))
	}
	rt.Ledger = engine.NewLedger(gw, cfg.EngineConfig(), logger, opts...)
	return rt, nil
}

func (rt *Runtime) openGateway(ctx context.Context) (venue.Gateway, error) {
	cfg := rt.Config.Venue
	switch cfg.Kind {
	case config.VenueStockfighter:
		client, err := stockfighter.New(cfg.Stockfighter(), rt.logger)
		if err != nil {
			return nil, fmt.Errorf("stockfighter client: %w", err)
		}
		rt.logger.Printf("venue: %s", client)
		return client, nil
	case config.VenueFake:
		v := fake.New(cfg.FakeOptions())
		simCtx, cancel := context.WithCancel(ctx)
		rt.simulate = cancel
		rt.lifecycle.Go(func() { v.Simulate(simCtx, cfg.Fake.SimulateEvery) })
		rt.logger.Printf("venue: in-process %s/%s account=%s", v.Name(), v.Symbol(), v.Account())
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported venue kind %q", cfg.Kind)
	}
}

func (rt *Runtime) openJournal(ctx context.Context) error {
	db := rt.Config.Database
	if db.RunMigrations {
		if err := migrations.Apply(ctx, db.DSN, migrations.Embedded, rt.logger); err != nil {
			return fmt.Errorf("database migrations: %w", err)
		}
	}
	pool, err := postgres.Connect(ctx, db.PoolOptions())
	if err != nil {
		return err
	}
	rt.closePool = pool.Close

	journal, err := persistence.NewAsyncJournal(postgres.NewOrderStore(pool), db.JournalWorkers, db.JournalQueue, rt.logger)
	if err != nil {
		return err
	}
	rt.journal = journal
	rt.logger.Printf("order journal enabled: lanes=%d queue=%d", db.JournalWorkers, db.JournalQueue)
	return nil
}

// Close stops the simulator, flushes the journal and shuts telemetry down.
func (rt *Runtime) Close(ctx context.Context) {
	if rt.simulate != nil {
		rt.simulate()
	}
	rt.lifecycle.Wait()
	if rt.Ledger != nil {
		rt.Ledger.Close()
	}
	if rt.journal != nil {
		flushCtx, cancel := context.WithTimeout(ctx, journalFlushTimeout)
		if err := rt.journal.Close(flushCtx); err != nil {
			rt.logger.Printf("shutdown: journal flush: %v", err)
		}
		cancel()
	}
	if rt.closePool != nil {
		rt.closePool()
	}
	if rt.telemetry != nil {
		if err := rt.telemetry.Shutdown(ctx); err != nil {
			rt.logger.Printf("shutdown: telemetry: %v", err)
		}
	}
}
