// Command sweep walks a price range, giving each level a time box to fill.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coachpo/marketmaker/internal/app/bootstrap"
	"github.com/coachpo/marketmaker/internal/app/engine"
	"github.com/coachpo/marketmaker/internal/domain/schema"
	"github.com/coachpo/marketmaker/internal/infra/config"
)

const (
	defaultConfigPath = "config/app.yaml"
	loggerPrefix      = "sweep "
	shutdownTimeout   = 10 * time.Second
)

type options struct {
	configPath string
	request    engine.SweepRequest
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	if err := run(ctx, opts, logger); err != nil {
		logger.Printf("fatal: %v", err)
		cancel()
		os.Exit(1)
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var (
		opts    options
		side    string
		qty     int64
		low     int64
		high    int64
		step    int64
		timebox time.Duration
		poll    time.Duration
	)
	fs.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to application configuration file")
	fs.StringVar(&side, "side", "buy", "Order side (buy|sell)")
	fs.Int64Var(&qty, "qty", 0, "Shares to trade")
	fs.Int64Var(&low, "low", 0, "Lowest price in cents")
	fs.Int64Var(&high, "high", 0, "Highest price in cents")
	fs.Int64Var(&step, "step", 1, "Price increment in cents")
	fs.DurationVar(&timebox, "timebox", 2*time.Second, "Time each price level is given to fill")
	fs.DurationVar(&poll, "poll", 250*time.Millisecond, "Order status polling interval")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	s := schema.Side(strings.ToLower(strings.TrimSpace(side)))
	if !s.Valid() {
		return options{}, fmt.Errorf("-side must be buy or sell, got %q", side)
	}
	if qty <= 0 {
		return options{}, errors.New("-qty must be >0")
	}
	opts.request = engine.SweepRequest{
		Side:         s,
		Amount:       qty,
		Low:          low,
		High:         high,
		Step:         step,
		TimeBox:      timebox,
		PollInterval: poll,
	}
	return opts, nil
}

func run(ctx context.Context, opts options, logger *log.Logger) error {
	appCfg, loadedFromFile, err := config.LoadOrDefault(ctx, opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}

	rt, err := bootstrap.Open(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		rt.Close(shutdownCtx)
	}()

	req := opts.request
	logger.Printf("sweeping %s %d %s on %s between %d and %d step %d (time box %s)",
		req.Side, req.Amount, appCfg.Venue.Symbol, rt.Gateway.Name(), req.Low, req.High, req.Step, req.TimeBox)

	result, err := rt.Ledger.Sweep(ctx, req)
	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if derr := rt.Ledger.Drain(drainCtx); derr != nil {
		logger.Printf("background order work abandoned: %v", derr)
	}
	cancel()
	for _, step := range result.Steps {
		logger.Printf("  %d: filled %d/%d (%s)", step.Price, step.Filled, step.Requested, step.State)
	}
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	logger.Printf("sweep done: filled %d/%d notional=$%s avg=$%s",
		result.Filled, req.Amount, result.Notional.StringFixed(2), result.AveragePrice.StringFixed(2))
	return nil
}
