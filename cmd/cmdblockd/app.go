package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/haukened/cmdblock/internal/cmdblock/common/clock"
	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
	"github.com/haukened/cmdblock/internal/cmdblock/config"
	"github.com/haukened/cmdblock/internal/cmdblock/gateways/httpapi"
	"github.com/haukened/cmdblock/internal/cmdblock/gateways/watch"
	"github.com/haukened/cmdblock/internal/cmdblock/repos/aliasmap"
	"github.com/haukened/cmdblock/internal/cmdblock/repos/aliasmap/file"
	"github.com/haukened/cmdblock/internal/cmdblock/repos/aliasmap/lru"
	"github.com/haukened/cmdblock/internal/cmdblock/repos/blockset/bloom"
	"github.com/haukened/cmdblock/internal/cmdblock/repos/targets/bolt"
	"github.com/haukened/cmdblock/internal/cmdblock/services/policy"
	"github.com/haukened/cmdblock/internal/cmdblock/services/refresher"
)

const defaultShutdownTimeout = 10 * time.Second

// Application holds all the components of the blocker.
type Application struct {
	config     *config.AppConfig
	configPath string
	clock      clock.Clock
	logger     log.Logger

	registry  *aliasmap.Registry
	aliases   *aliasmap.Resolver
	resolver  policy.AliasResolver
	engine    *policy.Engine
	store     *bolt.Store
	refresher *refresher.Refresher
	api       *httpapi.Server
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig, configPath string) (*Application, error) {
	clk := clock.RealClock{}
	logger := log.GetLogger()

	store, err := bolt.New(cfg.StateDB, bolt.Options{Clock: clk})
	if err != nil {
		return nil, fmt.Errorf("failed to open target store: %w", err)
	}

	registry := aliasmap.NewRegistry()
	sources := []aliasmap.Source{registry}
	if cfg.AliasDir != "" {
		sources = append(sources, file.NewDirSource(cfg.AliasDir, logger))
	}
	aliases, err := aliasmap.NewResolver(aliasmap.Options{
		Sources: sources,
		Clock:   clk,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build alias resolver: %w", err)
	}
	cached, err := lru.New(aliases, cfg.AliasCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create alias cache: %w", err)
	}
	log.Info(map[string]any{
		"sources":    len(sources),
		"alias_dir":  cfg.AliasDir,
		"cache_size": cfg.AliasCacheSize,
	}, "Alias resolver configured")

	targets := loadTargets(store, cfg)
	engine := policy.NewEngine(policy.Options{
		Targets:        targets,
		ResolveAliases: cfg.ResolveAliases,
		Messages:       messagesFrom(cfg),
		BloomFactory:   bloom.NewFactory(),
		BloomFPRate:    cfg.BloomFPRate,
		Clock:          clk,
		Logger:         logger,
	})

	ref, err := refresher.New(refresher.Options{
		Engine:   engine,
		Resolver: cached,
		Interval: cfg.RefreshInterval,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build refresher: %w", err)
	}
	registry.OnChange(func(aliasmap.RegistryEvent) { ref.Trigger() })

	app := &Application{
		config:     cfg,
		configPath: configPath,
		clock:      clk,
		logger:     logger,
		registry:   registry,
		aliases:    aliases,
		resolver:   cached,
		engine:     engine,
		store:      store,
		refresher:  ref,
	}
	if cfg.HTTPListen != "" {
		app.api = httpapi.New(httpapi.Options{
			Engine:    engine,
			Store:     store,
			Registry:  registry,
			Refresher: ref,
			Logger:    logger,
		})
	}
	return app, nil
}

// loadTargets prefers the persisted list; configuration seeds it until the
// first administrative edit.
func loadTargets(store policy.TargetStore, cfg *config.AppConfig) []string {
	saved, ok, err := store.Load()
	switch {
	case err != nil:
		log.Warn(map[string]any{"error": err, "state_db": cfg.StateDB}, "Could not read saved targets, using configuration")
	case ok:
		log.Info(map[string]any{"targets": len(saved)}, "Loaded saved blocked commands")
		return saved
	}
	return cfg.TargetCommands
}

func messagesFrom(cfg *config.AppConfig) policy.Messages {
	return policy.Messages{
		BypassPermission: cfg.BypassPermission,
		ShowErrorMessage: cfg.ShowErrorMessage,
		ErrorMessage:     cfg.ErrorMessage,
		NotifyBypass:     cfg.NotifyBypass,
		BypassMessage:    cfg.BypassMessage,
	}
}

// Resolve runs one synchronous alias resolution.
func (app *Application) Resolve(ctx context.Context) error {
	return app.refresher.RunOnce(ctx)
}

// Reload re-reads the configuration file and saved targets, then schedules
// a resolution. A broken file leaves the blocker on built-in defaults.
func (app *Application) Reload() {
	cfg, ok := config.TryLoad(app.configPath, app.logger)
	if !ok {
		log.Warn(map[string]any{"path": app.configPath}, "Reload fell back to defaults")
	}
	if cfg.AliasDir != app.config.AliasDir || cfg.HTTPListen != app.config.HTTPListen || cfg.StateDB != app.config.StateDB {
		log.Warn(nil, "alias-dir, http-listen and state-db changes take effect after a restart")
	}

	app.engine.Reload(loadTargets(app.store, cfg), cfg.ResolveAliases)
	app.engine.SetMessages(messagesFrom(cfg))
	app.refresher.Trigger()
	app.config = cfg

	log.Info(map[string]any{
		"targets":         len(app.engine.RawTargets()),
		"resolve_aliases": cfg.ResolveAliases,
	}, "Configuration reloaded")
}

// Run starts background work and blocks until ctx is cancelled. Every
// value sent on reload triggers Reload.
func (app *Application) Run(ctx context.Context, reload <-chan struct{}) error {
	if err := app.Resolve(ctx); err != nil {
		log.Warn(map[string]any{"error": err}, "Initial alias resolution failed, blocking raw targets only")
	}
	app.refresher.Start(ctx)

	var watcher *watch.Watcher
	if app.config.AliasDir != "" {
		w, err := watch.New(watch.Options{
			Dir:      app.config.AliasDir,
			OnChange: app.refresher.Trigger,
			Clock:    app.clock,
			Logger:   app.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create alias watcher: %w", err)
		}
		if err := w.Start(); err != nil {
			return fmt.Errorf("failed to start alias watcher: %w", err)
		}
		watcher = w
	}

	var srv *http.Server
	serveErr := make(chan error, 1)
	if app.api != nil {
		srv = app.api.HTTPServer(app.config.HTTPListen)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
		log.Info(map[string]any{"address": app.config.HTTPListen}, "Admin API started")
	}

	st := app.engine.Stats()
	log.Info(map[string]any{
		"raw_targets": st.RawTargets,
		"blocked":     st.Blocked,
	}, "Command blocker started")

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-reload:
			app.Reload()
		case err := <-serveErr:
			runErr = fmt.Errorf("admin API failed: %w", err)
			break loop
		}
	}

	log.Info(nil, "Shutdown initiated")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn(map[string]any{"error": err}, "Error during admin API shutdown")
		}
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			log.Warn(map[string]any{"error": err}, "Error stopping alias watcher")
		}
	}
	app.refresher.Stop()
	return runErr
}
