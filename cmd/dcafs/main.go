// Package main runs dcafs: it loads the configuration, brings up every
// configured stream, wires processors and sinks to them and serves the admin
// HTTP endpoints until it receives SIGINT or SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/michieltjampens/dcafs-sub002/config"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "dcafs"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid",
			"streams", len(cfg.Streams),
			"processors", len(cfg.Processors),
			"forwards", len(cfg.Forwards))
		return nil
	}

	a, err := newApp(cfg, config.NewStore(cliCfg.ConfigPath, cfg), logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runWithSignalHandling(ctx, a, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg, err := parseFlags(flag.NewFlagSet(appName, flag.ContinueOnError), args)
	if err != nil {
		if err == flag.ErrHelp {
			return nil, nil, true, nil
		}
		return nil, nil, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		fs := flag.NewFlagSet(appName, flag.ContinueOnError)
		_, _ = parseFlags(fs, nil)
		printDetailedHelp(fs)
		return nil, nil, true, nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting dcafs",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads the config file, applies DCAFS_* overrides
// and the flag overrides, and validates the result.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cliCfg.HTTPPort >= 0 {
		cfg.Settings.HTTPPort = cliCfg.HTTPPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// runWithSignalHandling starts a and its admin server, waits for ctx to end
// and shuts everything down within timeout.
func runWithSignalHandling(ctx context.Context, a *app, timeout time.Duration) error {
	if err := a.start(ctx); err != nil {
		return multierr.Append(err, a.stop(timeout))
	}

	g, gctx := errgroup.WithContext(ctx)
	if port := a.cfg.Settings.HTTPPort; port > 0 {
		srv, err := a.newHTTPServer(port)
		if err != nil {
			return multierr.Append(err, a.stop(timeout))
		}
		a.logger.Info("Admin server listening", "addr", srv.Addr, "tls", srv.TLSConfig != nil)
		g.Go(func() error {
			return serveHTTP(gctx, srv, timeout)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	runErr := g.Wait()
	a.logger.Info("Shutting down", "timeout", timeout)

	if err := a.stop(timeout); err != nil {
		a.logger.Warn("Shutdown finished with errors", "error", err)
		runErr = multierr.Append(runErr, err)
	}
	a.logger.Info("dcafs stopped")
	return runErr
}
