package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/hourglass/internal/config"
	"github.com/eliteGoblin/focusd/hourglass/internal/daemon"
	"github.com/eliteGoblin/focusd/hourglass/internal/domain"
	"github.com/eliteGoblin/focusd/hourglass/internal/infra"
	"github.com/eliteGoblin/focusd/hourglass/internal/server"
	"github.com/eliteGoblin/focusd/hourglass/internal/usecase"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   daemon.RunCommand,
		Short: "Run the daemon in the foreground",
		Long: `Runs the monitoring loop and the browser extension control channel
until interrupted. SIGHUP reloads limits from the store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg)
		},
	}
}

func createLogger(cfg *config.Config) (*zap.Logger, func()) {
	logger, closeFn, err := infra.NewLogger(cfg.LoggerConfig())
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
		logger.Warn("file logging unavailable", zap.Error(err))
		return logger, func() { _ = logger.Sync() }
	}
	return logger, closeFn
}

func runDaemon(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	logger, closeLog := createLogger(cfg)
	defer closeLog()

	pm := infra.NewProcessManager()
	registry := infra.NewFileRegistry(cfg.DataDir, pm)
	if state, _ := registry.Get(); state != nil && state.PID != os.Getpid() && pm.IsRunning(state.PID) {
		return fmt.Errorf("hourglass is already running (pid %d)", state.PID)
	}

	store, err := infra.OpenLimitStore(cfg.Store.Driver, cfg.Store.Path, cfg.ComputerID)
	if err != nil {
		logger.Error("failed to open limit store", zap.Error(err))
		return err
	}
	defer store.Close()

	notifier, err := infra.NewNotifier(cfg.NotifierOptions(), logger)
	if err != nil {
		return err
	}

	sampler := infra.NewPlatformSampler(runtime.GOOS, cfg.Enforcement.Terminate, pm, logger)
	websites := usecase.NewWebsiteTracker()
	srv := server.New(server.Options{
		ListenAddr:      cfg.Control.ListenAddr,
		Path:            cfg.Control.Path,
		AllowedOrigins:  cfg.Control.AllowedOrigins,
		MaxMessageBytes: cfg.Control.MaxMessageBytes,
		WriteTimeout:    cfg.Control.WriteTimeout,
	}, websites, logger)
	tracker := usecase.NewUsageTracker(sampler, cfg.Monitor.TickInterval, logger)
	engine := usecase.NewEngine(cfg.ComputerID, store, tracker, srv, notifier, logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error("failed to start control channel", zap.Error(err))
		return err
	}

	state := domain.DaemonState{
		PID:        os.Getpid(),
		ComputerID: cfg.ComputerID,
		ListenAddr: srv.Addr(),
		AppVersion: Version,
		StartedAt:  time.Now(),
	}
	monitor := daemon.NewMonitor(daemon.MonitorConfig{
		TickInterval:      cfg.Monitor.TickInterval,
		HeartbeatInterval: cfg.Monitor.HeartbeatInterval,
	}, engine, tracker, websites, registry, state, logger)

	logger.Info("hourglass started",
		zap.Int("pid", state.PID),
		zap.String("version", Version),
		zap.String("sampler", sampler.Name()),
		zap.String("store", cfg.Store.Path))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return monitor.Run(gctx) })

	if watcher, err := daemon.NewStoreWatcher(cfg.Store.Path, monitor.RequestReload, logger); err != nil {
		logger.Warn("store change detection disabled", zap.Error(err))
	} else {
		g.Go(func() error { return watcher.Run(gctx) })
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				logger.Info("reload requested by signal")
				monitor.RequestReload()
			}
		}
	})

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("control channel shutdown incomplete", zap.Error(err))
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	logger.Info("hourglass stopped")
	return nil
}
