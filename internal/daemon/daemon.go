package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zerolock-network/zerolock/internal/api"
	"github.com/zerolock-network/zerolock/internal/app/executor"
	"github.com/zerolock-network/zerolock/internal/domain"
	"github.com/zerolock-network/zerolock/internal/infra/events"
	"github.com/zerolock-network/zerolock/internal/infra/governance"
	"github.com/zerolock-network/zerolock/internal/infra/judge"
	"github.com/zerolock-network/zerolock/internal/infra/observability"
	"github.com/zerolock-network/zerolock/internal/infra/registry"
	"github.com/zerolock-network/zerolock/internal/infra/sqlite"
	"github.com/zerolock-network/zerolock/internal/infra/vault"
	"github.com/zerolock-network/zerolock/internal/infra/wasmhost"
)

// overdueEvery is how often unresolved disputes past their review period
// are reported.
const overdueEvery = time.Hour

// Daemon owns every component of a running escrow node.
//
// Wiring order:
//  1. SQLite storage (all component migrations)
//  2. Governance, seeded with the configured admins and the registry and
//     judge identities as trusted callers
//  3. Event sinks (log, in-memory ring, optional Redis) and metrics
//  4. WebAssembly host, vault, settlement executor, judge, registry
//  5. Judge → registry completion callback, heartbeat jobs
type Daemon struct {
	cfg    Config
	logger *slog.Logger

	DB         *sqlite.DB
	Governance *governance.Registry
	Vault      *vault.Vault
	Registry   *registry.Registry
	Judge      *judge.Judge
	Host       *wasmhost.Host
	Executor   *executor.Executor
	Events     *events.Buffer
	Metrics    *observability.Metrics
	Gatherer   *prometheus.Registry
	Scheduler  *Scheduler

	redis *events.Redis
}

// New opens storage and builds every component. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (d *Daemon, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	d = &Daemon{cfg: cfg, logger: logger.With("component", "daemon")}
	defer func() {
		if err != nil {
			d.Close(context.WithoutCancel(ctx))
			d = nil
		}
	}()

	if d.DB, err = sqlite.Open(cfg.DataDir()); err != nil {
		return d, fmt.Errorf("open storage: %w", err)
	}

	ids := cfg.Identities
	d.Governance = governance.New(d.DB, logger)
	trusted := []domain.Identity{domain.Identity(ids.Registry), domain.Identity(ids.Judge)}
	if err = d.Governance.Seed(ctx, cfg.admins(), trusted); err != nil {
		return d, fmt.Errorf("seed governance: %w", err)
	}

	d.Gatherer = prometheus.NewRegistry()
	d.Gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	d.Metrics = observability.New(d.Gatherer)

	d.Events = events.NewBuffer(cfg.Events.BufferSize)
	sinks := events.Fanout{events.NewLog(logger), d.Events}
	if cfg.Events.RedisURL != "" {
		if d.redis, err = events.NewRedis(ctx, cfg.redisConfig(), logger); err != nil {
			return d, fmt.Errorf("connect redis: %w", err)
		}
		sinks = append(sinks, d.redis)
	}

	d.Host = wasmhost.New(cfg.sandboxConfig(), logger, wasmhost.WithJournal(d.DB))

	d.Vault, err = vault.New(cfg.vaultConfig(), d.DB, d.Governance,
		vault.WithEvents(sinks), vault.WithMetrics(d.Metrics), vault.WithLogger(logger))
	if err != nil {
		return d, fmt.Errorf("create vault: %w", err)
	}
	if err = d.Vault.Load(ctx); err != nil {
		return d, fmt.Errorf("load vault: %w", err)
	}

	d.Executor = executor.New(ctx, cfg.executorConfig(), logger)

	d.Judge = judge.New(cfg.judgeConfig(), d.DB, d.Governance, d.Host, d.Vault, d.Executor,
		judge.WithEvents(sinks), judge.WithMetrics(d.Metrics), judge.WithLogger(logger))

	d.Registry = registry.New(cfg.registryConfig(), d.DB, d.Governance, d.Host, d.Vault, d.Judge,
		registry.WithEvents(sinks), registry.WithMetrics(d.Metrics), registry.WithLogger(logger))
	d.Judge.SetCompleter(d.Registry)

	// Pick up where the previous process stopped.
	if _, err = d.Registry.RestoreTargets(ctx); err != nil {
		return d, fmt.Errorf("restore targets: %w", err)
	}
	if _, err = d.Judge.ReconcileSettlements(ctx); err != nil {
		return d, fmt.Errorf("reconcile settlements: %w", err)
	}

	d.Scheduler = NewScheduler(mustDuration(cfg.Heartbeat.Interval), logger)
	d.scheduleJobs()

	d.logger.Info("daemon ready",
		"storage", cfg.DataDir(),
		"registry", ids.Registry, "vault", ids.Vault, "judge", ids.Judge,
		"admins", len(cfg.Identities.Admins), "redis", d.redis != nil)
	return d, nil
}

func (d *Daemon) scheduleJobs() {
	every := mustDuration(d.cfg.Heartbeat.Interval)
	d.Scheduler.Add(Job{Name: "registry.expire", Every: every, Run: d.Registry.SweepExpired})
	d.Scheduler.Add(Job{Name: "vault.expire", Every: every, Run: d.Vault.ExpireLocks})
	d.Scheduler.Add(Job{Name: "judge.checks", Every: mustDuration(d.cfg.Judge.CheckInterval), Run: d.Judge.PeriodicChecks})
	d.Scheduler.Add(Job{Name: "judge.overdue", Every: overdueEvery, Run: d.reportOverdue})
}

// reportOverdue logs disputes still unresolved after the review period.
func (d *Daemon) reportOverdue(ctx context.Context) (int, error) {
	overdue, err := d.Judge.OverdueDisputes(ctx)
	if err != nil {
		return 0, err
	}
	for _, dc := range overdue {
		d.logger.Warn("dispute overdue", "dispute_id", dc.ID, "challenge_id", dc.ChallengeID,
			"status", dc.Status, "age", time.Since(dc.CreatedAt).Round(time.Minute))
	}
	return len(overdue), nil
}

// Config returns the configuration the daemon was built with.
func (d *Daemon) Config() Config { return d.cfg }

// Handler returns the HTTP surface.
func (d *Daemon) Handler() http.Handler {
	ids := d.cfg.Identities
	svc := api.Services{
		Reserved: []domain.Identity{
			domain.Identity(ids.Registry), domain.Identity(ids.Vault), domain.Identity(ids.Judge),
		},
		Registry:   d.Registry,
		Vault:      d.Vault,
		Judge:      d.Judge,
		Governance: d.Governance,
		Host:       d.Host,
		Events:     d.Events,
		Logger:     d.logger,
	}
	if d.cfg.Metrics.Enabled {
		svc.Gatherer = d.Gatherer
	}
	return api.NewServer(svc).Handler()
}

// Run serves HTTP and drives the heartbeat until ctx is cancelled, then
// shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              d.cfg.API.Addr(),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go d.Scheduler.Run(hbCtx)

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	d.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close stops the settlement executor, cancelling anything in flight, then
// releases every resource.
func (d *Daemon) Close(ctx context.Context) error {
	var errs []error
	if d.Executor != nil {
		d.Executor.Close()
	}
	if d.Host != nil {
		errs = append(errs, d.Host.Close(ctx))
	}
	if d.redis != nil {
		errs = append(errs, d.redis.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	return errors.Join(errs...)
}
