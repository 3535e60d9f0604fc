package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/phqovo/slimming/internal/config"
	"github.com/phqovo/slimming/internal/lock"
	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/merge"
	"github.com/phqovo/slimming/internal/mihealth"
	"github.com/phqovo/slimming/internal/store"
	syncrun "github.com/phqovo/slimming/internal/sync"
)

// runtime bundles the components shared by the serve and sync commands.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger
	store  *store.SQLiteStore
	locker *lock.MemoryLocker
	auth   *mihealth.Authenticator
	orch   *syncrun.Orchestrator
}

// loadConfig loads the configuration file and resolves the database path
// from flags and config. The returned loader supports hot reload.
func loadConfig(cmd *cobra.Command) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cmd.Flags().Changed("db") || cfg.Storage.Path == "" {
		cfg.Storage.Path = globalFlags.DBPath
	}
	return cfg, loader, nil
}

// buildRuntime opens the store and wires the sync pipeline. The caller owns
// the store and must Close it.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	level := logging.LevelInfo
	if globalFlags.Verbose {
		level = logging.LevelDebug
	} else if cfg.Server.LogLevel != "" {
		level = logging.LogLevel(cfg.Server.LogLevel)
	}
	logger := logging.NewLogger(logging.WithLevel(level), logging.WithService("slimming"))

	retention := cfg.Storage.RetentionPeriod
	if !cfg.Storage.RetentionEnabled {
		retention = 0
	}
	st, err := store.NewSQLiteStore(cfg.Storage.Path, retention)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	httpClient := mihealth.NewHTTPClient(cfg.Platform.Timeout, cfg.Platform.UTLSEnabled)
	auth := mihealth.NewAuthenticator(httpClient, cfg.Platform.AccountBaseURL, logger)
	factory := syncrun.PlatformSource(httpClient, cfg.Platform.APIBaseURL, auth.Refresh, cfg.Sync.MaxPages, logger)

	locker := lock.NewMemoryLocker()
	orch := syncrun.NewOrchestrator(st, locker, factory, syncrun.Options{
		BatchSize:  cfg.Sync.BatchSize,
		LockTTL:    cfg.Sync.LockTTL,
		RunTimeout: cfg.Sync.RunTimeout,
	}, logger)
	orch.SetMerger(merge.NewReconciler(st, logger))

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  st,
		locker: locker,
		auth:   auth,
		orch:   orch,
	}, nil
}
