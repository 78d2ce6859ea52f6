// Command marketmaker quotes both sides of one instrument until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coachpo/marketmaker/internal/app/bootstrap"
	"github.com/coachpo/marketmaker/internal/app/maker"
	"github.com/coachpo/marketmaker/internal/infra/config"
)

const (
	defaultConfigPath = "config/app.yaml"
	loggerPrefix      = "marketmaker "
	shutdownTimeout   = 15 * time.Second
)

func main() {
	cfgPathFlag := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, loggerPrefix, log.LstdFlags|log.Lmicroseconds)
	if err := run(ctx, resolveConfigPath(*cfgPathFlag), logger); err != nil {
		logger.Printf("fatal: %v", err)
		cancel()
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, logger *log.Logger) error {
	appCfg, loadedFromFile, err := config.LoadOrDefault(ctx, configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, venue=%s %s/%s account=%s",
		appCfg.Environment, appCfg.Venue.Kind, appCfg.Venue.Venue, appCfg.Venue.Symbol, appCfg.Venue.Account)

	rt, err := bootstrap.Open(ctx, appCfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		start := time.Now()
		rt.Close(shutdownCtx)
		logger.Printf("shutdown completed in %v", time.Since(start))
	}()

	mm, err := maker.New(rt.Gateway, rt.Ledger, appCfg.EngineConfig(), appCfg.MakerOptions(), logger)
	if err != nil {
		return fmt.Errorf("initialise maker: %w", err)
	}

	logger.Print("market maker started; awaiting shutdown signal")
	if err := mm.Run(ctx); err != nil {
		return err
	}
	logger.Print("shutdown signal received, market maker stopped")
	return nil
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
