package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetci/taskhub/internal/bus"
	"github.com/fleetci/taskhub/internal/config"
	"github.com/fleetci/taskhub/internal/engine"
	"github.com/fleetci/taskhub/internal/facade"
	"github.com/fleetci/taskhub/internal/flows"
	"github.com/fleetci/taskhub/internal/history"
	"github.com/fleetci/taskhub/internal/httpapi"
	"github.com/fleetci/taskhub/internal/notify"
	otelPkg "github.com/fleetci/taskhub/internal/otel"
	"github.com/fleetci/taskhub/internal/persistence"
	"github.com/fleetci/taskhub/internal/reconciler"
	"github.com/fleetci/taskhub/internal/roles"
	"github.com/fleetci/taskhub/internal/selector"
	"github.com/fleetci/taskhub/internal/telemetry"
	"github.com/fleetci/taskhub/internal/validate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the taskhubd coordination server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir)

	persistence.BurnoutZeroCommitTurns = cfg.BurnoutTurnThreshold
	persistence.BurnoutHardTurns = cfg.MaxTurnLimit

	if err := history.Init(cfg.HomeDir); err != nil {
		return fmt.Errorf("init history: %w", err)
	}
	defer history.Close()

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.OTel.Exporter != "none",
		Exporter:    cfg.OTel.Exporter,
		Endpoint:    cfg.OTel.OTLPEndpoint,
		ServiceName: cfg.OTel.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer otelProvider.Shutdown(context.Background())

	eventBus := bus.New()

	historySink := history.StartSink(eventBus)
	defer historySink.Stop()

	dbPath := cfg.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(cfg.HomeDir, dbPath)
	}
	store, err := persistence.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db_path", dbPath)

	roleRegistry := roles.NewRegistry(store)
	if err := roleRegistry.Load(ctx); err != nil {
		return fmt.Errorf("load roles: %w", err)
	}
	flowRegistry := flows.NewRegistry(store)
	if err := flowRegistry.Load(ctx); err != nil {
		return fmt.Errorf("load flows: %w", err)
	}
	if err := seedRolesAndFlows(ctx, cfg.HomeDir, roleRegistry, flowRegistry, logger); err != nil {
		return fmt.Errorf("seed roles/flows: %w", err)
	}

	recovered, err := store.RequeueExpiredLeases(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}
	logger.Info("startup phase", "phase", "recovery_scan_completed", "requeued", len(recovered))

	eng := engine.New(store).WithBus(eventBus)
	sel := selector.New(store, roleRegistry)
	validator := validate.New()
	fac := facade.New(store, eng, sel, roleRegistry, validator)

	server := httpapi.New(httpapi.Config{
		Facade:             fac,
		Store:              store,
		Roles:              roleRegistry,
		Flows:              flowRegistry,
		Bus:                eventBus,
		Logger:             logger,
		AuthToken:          cfg.AuthToken,
		AllowOrigins:       cfg.AllowOrigins,
		DefaultPage:        cfg.DefaultPageSize,
		MaxPage:            cfg.MaxPageSize,
		RateLimitEnabled:   cfg.RateLimit.Enabled,
		RateLimitPerMinute: cfg.RateLimit.RequestsPerMinute,
		RateLimitBurst:     cfg.RateLimit.BurstSize,
	})
	server.StartRateLimitEviction(ctx)

	sched := reconciler.New(reconciler.Config{
		Store:                    store,
		Logger:                   logger,
		Interval:                 cfg.ReconcileInterval(),
		StaleOrchestratorTimeout: cfg.StaleOrchestratorTimeout(),
	})
	sched.Start(ctx)
	defer sched.Stop()

	var notifier *notify.TelegramNotifier
	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" {
			logger.Warn("telegram notifications enabled but token is missing")
		} else {
			notifier, err = notify.NewTelegramNotifier(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatID, logger)
			if err != nil {
				logger.Warn("telegram notifier init failed", "error", err)
			} else {
				notifier.Start(ctx, eventBus)
				logger.Info("telegram notifications enabled")
			}
		}
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	go watchConfig(ctx, watcher, cfg.HomeDir, roleRegistry, flowRegistry, logger)

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: server.Handler(),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("startup phase", "phase", "listening", "addr", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("http server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	if notifier != nil {
		notifier.Stop()
	}
	logger.Info("shutdown complete")
	return nil
}

// seedRolesAndFlows registers the declarative roles.yaml/flows.yaml
// contents (or the built-in starter set when absent) on first run, when
// the registries carry nothing yet.
func seedRolesAndFlows(ctx context.Context, homeDir string, roleRegistry *roles.Registry, flowRegistry *flows.Registry, logger *slog.Logger) error {
	if !roleRegistry.HasAny() {
		declaredRoles, err := config.LoadRolesFile(homeDir)
		if err != nil {
			return err
		}
		for _, r := range declaredRoles {
			if err := roleRegistry.Register(ctx, r); err != nil {
				return err
			}
		}
		logger.Info("roles seeded", "count", len(declaredRoles))
	}
	if len(flowRegistry.List()) == 0 {
		declaredFlows, err := config.LoadFlowsFile(homeDir)
		if err != nil {
			return err
		}
		for _, f := range declaredFlows {
			if err := flowRegistry.Register(ctx, f); err != nil {
				return err
			}
		}
		logger.Info("flows seeded", "count", len(declaredFlows))
	}
	return nil
}

// watchConfig reloads roles/flows from disk on hot-reload events.
// config.yaml changes are logged only: behavior-affecting knobs like
// lease duration and burnout thresholds require a restart to take
// effect safely, since several of them are latched into package-level
// state (persistence.BurnoutZeroCommitTurns/BurnoutHardTurns) at
// startup.
func watchConfig(ctx context.Context, watcher *config.Watcher, homeDir string, roleRegistry *roles.Registry, flowRegistry *flows.Registry, logger *slog.Logger) {
	for ev := range watcher.Events() {
		switch filepath.Base(ev.Path) {
		case "roles.yaml":
			declared, err := config.LoadRolesFile(homeDir)
			if err != nil {
				logger.Error("roles.yaml reload failed", "error", err)
				continue
			}
			for _, r := range declared {
				if err := roleRegistry.Register(ctx, r); err != nil {
					logger.Error("failed to register role on hot-reload", "role", r.Name, "error", err)
				}
			}
			logger.Info("roles.yaml hot-reloaded", "count", len(declared))
		case "flows.yaml":
			declared, err := config.LoadFlowsFile(homeDir)
			if err != nil {
				logger.Error("flows.yaml reload failed", "error", err)
				continue
			}
			for _, f := range declared {
				if err := flowRegistry.Register(ctx, f); err != nil {
					logger.Error("failed to register flow on hot-reload", "flow", f.Name, "error", err)
				}
			}
			logger.Info("flows.yaml hot-reloaded", "count", len(declared))
		case "config.yaml":
			logger.Info("config.yaml changed; restart taskhubd to apply")
		}
	}
}
