package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/zika/internal/api"
	"github.com/mattjoyce/zika/internal/auth"
	"github.com/mattjoyce/zika/internal/availability"
	"github.com/mattjoyce/zika/internal/broker"
	"github.com/mattjoyce/zika/internal/config"
	"github.com/mattjoyce/zika/internal/discovery"
	"github.com/mattjoyce/zika/internal/dispatch"
	"github.com/mattjoyce/zika/internal/events"
	"github.com/mattjoyce/zika/internal/executor"
	"github.com/mattjoyce/zika/internal/history"
	"github.com/mattjoyce/zika/internal/lock"
	"github.com/mattjoyce/zika/internal/log"
	"github.com/mattjoyce/zika/internal/metrics"
	"github.com/mattjoyce/zika/internal/queue"
	"github.com/mattjoyce/zika/internal/registry"
	"github.com/mattjoyce/zika/internal/storage"
	"github.com/mattjoyce/zika/internal/trigger"
)

const (
	// shutdownDrain is how long pending actions get to finish on stop.
	shutdownDrain = 10 * time.Second
	pruneInterval = time.Hour
	eventBuffer   = 256
)

// daemon is a fully wired zika instance.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	registry  *registry.Registry
	metrics   *metrics.Metrics
	hub       *events.Hub
	disp      *dispatch.Dispatcher
	broker    *broker.Client
	trigger   *trigger.Adapter
	heartbeat *availability.Heartbeat
	announcer *discovery.Announcer

	db      *sql.DB
	history *history.Store
	api     *api.Server
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(cfg.Commands),
		metrics:  metrics.New(),
		hub:      events.NewHub(eventBuffer),
	}
	logger.Info("commands loaded", "count", d.registry.Len(), "aliases", d.registry.Aliases())

	exec, err := executor.New(cfg.Executor, log.WithComponent("executor"))
	if err != nil {
		return nil, err
	}

	// The history recorder runs before the event observer so a client that
	// refetches /history on action.completed finds the row.
	observers := dispatch.Observers{d.metrics}
	if cfg.History.Enabled {
		d.db, err = storage.OpenSQLite(ctx, cfg.History.Path)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		d.history = history.NewStore(d.db)
		observers = append(observers, history.NewRecorder(d.history, exec.Name(), log.WithComponent("history")))
		logger.Info("history enabled", "path", cfg.History.Path, "retention", cfg.History.Retention)
	}
	observers = append(observers, events.NewObserver(d.hub))

	q := queue.New()
	if cfg.Queue.MaxDepth > 0 {
		q = queue.NewBounded(cfg.Queue.MaxDepth, queue.ParseOverflow(cfg.Queue.Overflow))
	}
	d.disp = dispatch.New(exec,
		dispatch.WithLogger(log.WithComponent("dispatch")),
		dispatch.WithObserver(observers),
		dispatch.WithQueue(q),
	)

	d.broker = broker.New(broker.Options{
		URL:            cfg.Broker.URL,
		User:           cfg.Broker.User,
		Password:       cfg.Broker.Password,
		ClientID:       cfg.Broker.ClientID,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
		ReconnectWait:  cfg.Broker.ReconnectWait,
	}, d.metrics, log.WithComponent("broker"))

	d.trigger = trigger.New(d.registry, d.disp,
		trigger.WithPayloadErrorCounter(d.metrics),
		trigger.WithEvents(d.hub),
		trigger.WithLogger(log.WithComponent("trigger")),
	)

	d.heartbeat = availability.NewHeartbeat(d.broker, cfg.Broker.AvailabilityTopic,
		cfg.Broker.AvailabilityInterval, log.WithComponent("availability"))

	if cfg.HA != nil {
		d.announcer = discovery.NewAnnouncer(d.broker, d.registry, discovery.Options{
			DeviceIdentifier:  cfg.HA.DeviceIdentifier,
			DiscoveryTopic:    cfg.HA.DiscoveryTopic,
			CommandTopic:      cfg.Broker.CommandTopic,
			AvailabilityTopic: cfg.Broker.AvailabilityTopic,
		}, log.WithComponent("discovery"))
	}

	d.broker.OnConnect(d.onConnect)
	d.broker.OnDisconnect(d.onDisconnect)

	if cfg.API.Enabled {
		d.api = api.New(apiConfig(cfg), d.apiDeps(), log.WithComponent("api"))
	}
	return d, nil
}

func apiConfig(cfg *config.Config) api.Config {
	tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
	for _, t := range cfg.API.Auth.Tokens {
		tokens = append(tokens, auth.TokenConfig{
			Token:  t.Token,
			Scopes: t.Scopes,
		})
	}
	return api.Config{
		Address:    cfg.API.Address,
		Port:       cfg.API.ListenPort(),
		TLSEnabled: cfg.API.TLS.Enabled,
		CertFile:   cfg.API.TLS.CertFile,
		KeyFile:    cfg.API.TLS.KeyFile,
		APIKey:     cfg.API.Auth.APIKey,
		Tokens:     tokens,
	}
}

func (d *daemon) apiDeps() api.Deps {
	deps := api.Deps{
		State:     d.disp,
		Trigger:   d.trigger,
		Registry:  d.registry,
		Readiness: d.broker,
		Events:    d.hub,
		Metrics:   d.metrics.Handler(),
	}
	// Leave the interface nil when history is off so the API reports 404.
	if d.history != nil {
		deps.History = d.history
	}
	return deps
}

// onConnect runs on the initial connect and every reconnect.
func (d *daemon) onConnect() {
	d.heartbeat.Start()
	if d.announcer != nil {
		if err := d.announcer.Announce(); err != nil {
			d.logger.Error("discovery announcement failed", "error", err)
		}
	}
	d.hub.Publish(events.TypeBrokerConnected, map[string]any{"server": d.broker.Server()})
}

func (d *daemon) onDisconnect() {
	d.heartbeat.Stop()
	d.hub.Publish(events.TypeBrokerDisconnected, map[string]any{"server": d.broker.Server()})
}

// run connects, serves until ctx is cancelled or a component fails, then
// shuts everything down.
func (d *daemon) run(ctx context.Context) error {
	if err := d.broker.Connect(); err != nil {
		return err
	}
	if err := d.trigger.Subscribe(d.broker, d.cfg.Broker.CommandTopic); err != nil {
		d.broker.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if d.api != nil {
		g.Go(func() error {
			if err := d.api.Start(gctx); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}
	if d.history != nil && d.cfg.History.Retention > 0 {
		g.Go(func() error {
			d.history.RunPruner(gctx, d.cfg.History.Retention, pruneInterval, log.WithComponent("history"))
			return nil
		})
	}

	d.logger.Info("zika running", "command_topic", d.cfg.Broker.CommandTopic, "executor", d.cfg.Executor.Mode)
	err := g.Wait()
	d.stop()
	return err
}

// stop announces offline, drops the broker and drains the dispatcher.
func (d *daemon) stop() {
	d.logger.Info("shutting down")
	d.heartbeat.Offline()
	d.broker.Close()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
	defer cancel()
	if err := d.disp.Shutdown(ctx); err != nil {
		d.logger.Warn("dispatcher did not drain before shutdown deadline", "error", err)
	}
}

// close releases resources held after run returns.
func (d *daemon) close() {
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.logger.Warn("failed to close history database", "error", err)
		}
	}
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		*configPath = discovered
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", *configPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.LogLevel(), cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("zika starting", "version", version, "config", *configPath)
	for _, w := range config.IntegrityWarnings(cfg.SourceFiles) {
		logger.Warn("config integrity", "warning", w)
	}

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer d.close()

	if err := d.run(ctx); err != nil {
		logger.Error("zika stopped with error", "error", err)
		return 1
	}
	logger.Info("zika stopped")
	return 0
}
