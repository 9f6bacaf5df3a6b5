// Package system wires the subsystems together and owns process lifecycle:
// construction in dependency order, startup, and graceful shutdown.
package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmmu/printflow/internal/actuator"
	"github.com/openmmu/printflow/internal/api/rest"
	"github.com/openmmu/printflow/internal/auth"
	"github.com/openmmu/printflow/internal/config"
	"github.com/openmmu/printflow/internal/control"
	"github.com/openmmu/printflow/internal/materials"
	"github.com/openmmu/printflow/internal/monitor"
	"github.com/openmmu/printflow/internal/printer"
	"github.com/openmmu/printflow/internal/recipe"
	"github.com/openmmu/printflow/internal/sequence"
	"github.com/openmmu/printflow/internal/storage"
)

type LifecycleManager struct {
	cfg     *config.Config
	logger  *zap.Logger
	version string

	store      *storage.PostgresClient
	catalog    *materials.Catalog
	printer    printer.Client
	bus        *control.Bus
	monitor    *monitor.Monitor
	hub        *control.Hub
	restServer *rest.Server

	stateMu sync.RWMutex
	state   State

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

func NewLifecycleManager(store *storage.PostgresClient, cfg *config.Config, version string, logger *zap.Logger) (*LifecycleManager, error) {
	catalog, err := materials.LoadCatalog(cfg.Materials.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load material catalog: %w", err)
	}

	profiles, err := actuator.NewProfileStore(cfg.Pumps.ProfileDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load pump profiles: %w", err)
	}

	// Every actuator the catalog names needs a profile, or the first change
	// would fail mid-sequence instead of at startup.
	for _, m := range catalog.Materials {
		if _, err := profiles.Get(m.Pump); err != nil {
			return nil, fmt.Errorf("material %s: %w", m.ID, err)
		}
	}
	if _, err := profiles.Get(catalog.DrainPump); err != nil {
		return nil, fmt.Errorf("drain pump: %w", err)
	}
	if catalog.AirValve != "" {
		if _, err := profiles.Get(catalog.AirValve); err != nil {
			return nil, fmt.Errorf("air valve: %w", err)
		}
	}

	arbiter := actuator.NewArbiter(cfg.Pumps.SafetyWindow, 0, profiles.Limits(), logger)
	driver := actuator.NewSimDriver(logger)

	var printerClient printer.Client
	if cfg.Printer.Simulated {
		printerClient = printer.NewSimClient(0, 0)
		logger.Info("Using simulated printer")
	} else {
		printerClient = printer.NewMonoXClient(cfg.Printer.Host, cfg.Printer.Port,
			cfg.Printer.ConnectTimeout, cfg.Printer.RequestTimeout, logger)
	}
	retry := printer.DefaultRetryPolicy()

	bus := control.NewBus(logger)
	commands := monitor.NewCommandQueue()
	dispatcher := control.NewDispatcher(commands, bus, logger)

	sequencer := sequence.New(printerClient, retry, driver, arbiter, profiles,
		catalog, cfg.Sequence, monitor.NewStepObserver(bus), logger)

	mon := monitor.New(cfg.Monitor, cfg.Pumps, monitor.Deps{
		Printer:   printerClient,
		Retry:     retry,
		Runner:    sequencer,
		Driver:    driver,
		Arbiter:   arbiter,
		Profiles:  profiles,
		Catalog:   catalog,
		History:   store,
		Recipes:   store,
		Commands:  commands,
		Bus:       bus,
		Completer: dispatcher,
	}, logger)

	authn, err := auth.NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build authenticator: %w", err)
	}

	hub := control.NewHub(authn, dispatcher, version, logger)

	lm := &LifecycleManager{
		cfg:     cfg,
		logger:  logger.Named("system"),
		version: version,
		store:   store,
		catalog: catalog,
		printer: printerClient,
		bus:     bus,
		monitor: mon,
		hub:     hub,
		state:   StateInitializing,
	}

	lm.restServer = rest.NewServer(cfg, rest.Deps{
		Status:   mon,
		History:  store,
		Profiles: profiles,
		Catalog:  catalog,
		Auth:     authn,
		Hub:      hub,
		System:   lm,
	}, version, logger)

	return lm, nil
}

// Start brings the system up in dependency order: schema, hub, event
// forwarding, monitor loop, recipe restore, REST server.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting printflow",
		zap.String("version", lm.version),
		zap.Bool("printer_simulated", lm.cfg.Printer.Simulated))

	lm.setState(StateInitializing)

	if err := lm.store.InitSchema(ctx); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to init schema: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		lm.hub.Run(runCtx)
	}()

	lm.wg.Add(1)
	go lm.forwardEvents(runCtx)

	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		if err := lm.monitor.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			lm.logger.Error("Monitor loop exited", zap.Error(err))
		}
	}()

	lm.restoreRecipe(ctx)

	if err := lm.restServer.Start(); err != nil {
		lm.setState(StateError)
		return fmt.Errorf("failed to start REST API: %w", err)
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("http_port", lm.cfg.Server.HTTPPort),
		zap.Duration("poll_interval", lm.cfg.Monitor.PollInterval))

	return nil
}

// forwardEvents pipes everything the orchestrator publishes to the
// websocket hub. The bus already drops for slow subscribers, so this loop
// never blocks the monitor.
func (lm *LifecycleManager) forwardEvents(ctx context.Context) {
	defer lm.wg.Done()

	events := lm.bus.Subscribe()
	defer lm.bus.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			lm.hub.Broadcast(ev)
		}
	}
}

// restoreRecipe reloads the last persisted recipe so a restart does not
// lose it. A recipe that no longer parses against the catalog is skipped
// with a warning, never fatal.
func (lm *LifecycleManager) restoreRecipe(ctx context.Context) {
	rec, err := lm.store.GetLatestRecipe(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			lm.logger.Warn("Failed to load stored recipe", zap.Error(err))
		}
		return
	}

	r, err := recipe.Parse(rec.Text, lm.catalog)
	if err != nil {
		lm.logger.Warn("Stored recipe no longer valid against the catalog",
			zap.String("recipe", rec.Text),
			zap.Error(err))
		return
	}

	lm.monitor.RestoreRecipe(r)
	lm.logger.Info("Restored last recipe",
		zap.String("name", rec.Name),
		zap.Int("entries", r.Len()))
}

// Shutdown stops everything gracefully: REST first so no new requests come
// in, then the monitor and hub via context, then the connections.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping)

		restCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := lm.restServer.Shutdown(restCtx); err != nil {
			lm.logger.Error("REST shutdown failed", zap.Error(err))
			shutdownErr = fmt.Errorf("rest shutdown failed: %w", err)
		}

		if lm.cancel != nil {
			lm.cancel()
		}

		done := make(chan struct{})
		go func() {
			lm.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			lm.logger.Info("Graceful shutdown completed")
		case <-ctx.Done():
			lm.logger.Warn("Shutdown timeout, forcing stop")
			shutdownErr = fmt.Errorf("shutdown timeout exceeded")
		}

		if err := lm.printer.Close(); err != nil {
			lm.logger.Warn("Printer close failed", zap.Error(err))
		}
		lm.bus.Close()
		lm.store.Close()
		lm.setState(StateStopped)
	})

	return shutdownErr
}

func (lm *LifecycleManager) setState(s State) {
	lm.stateMu.Lock()
	lm.state = s
	lm.stateMu.Unlock()

	lm.bus.Publish(control.NewStatusUpdate(control.CategorySystem, control.LevelInfo,
		"System "+s.String(), map[string]any{"system_state": s.String()}))
}

// SystemState reports the lifecycle state; the REST health check exposes it.
func (lm *LifecycleManager) SystemState() string {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.state.String()
}
