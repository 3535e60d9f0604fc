package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/phqovo/slimming/internal/api"
	"github.com/phqovo/slimming/internal/config"
	"github.com/phqovo/slimming/internal/notify"
	"github.com/phqovo/slimming/internal/scheduler"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the Slimming server",
	Long: `Start the HTTP server together with the sync job scheduler.

The server exposes sync triggers, run logs, job config management and
credential binding. Recurring jobs registered in the store start firing
immediately.

Example:
  slimming serve --config config.yaml --db ./data/slimming.db`,
	RunE: runServe,
}

var serveFlags struct {
	Host string
	Port int
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, loader, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.store.Close(); err != nil {
			rt.logger.Error("error closing store", "error", err.Error())
		}
	}()

	// Config file changes are picked up while running; most knobs need a
	// restart, but the reload keeps Get() current for anything that polls it.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	loader.SetOnChange(func(*config.Config) {
		rt.logger.Info("configuration file reloaded", "path", globalFlags.Config)
	})
	if err := loader.Watch(watchCtx); err != nil {
		rt.logger.Warn("config watch unavailable", "error", err.Error())
	}

	if cfg.Telegram.Enabled {
		notifier, err := notify.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, rt.logger)
		if err != nil {
			rt.logger.Warn("telegram setup failed", "error", err.Error())
		} else if notifier != nil {
			rt.orch.SetNotifier(notifier)
		}
	}

	sched := scheduler.New(rt.store, rt.orch, rt.logger)
	if cfg.Scheduler.Enabled {
		if err := sched.LoadAll(); err != nil {
			return fmt.Errorf("failed to load sync jobs: %w", err)
		}
	}

	server := api.NewServer(cfg.Server, cfg.API, rt.store, rt.orch, sched, rt.auth)
	rt.orch.SetObserver(server.Metrics())
	server.Metrics().SetScheduledJobs(sched.Jobs())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := api.SetupSignalHandler()
	select {
	case sig := <-sigCh:
		rt.logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.logger.Error("error during server shutdown", "error", err.Error())
	}

	stopScheduler(sched, cfg.Scheduler.ShutdownTimeout, rt)
	rt.logger.Info("shutdown complete")
	return nil
}

// stopScheduler waits for in-flight scheduled runs up to the configured
// timeout.
func stopScheduler(sched *scheduler.Scheduler, timeout time.Duration, rt *runtime) {
	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		rt.logger.Warn("scheduler shutdown timed out", "timeout", timeout.String())
	}
}
