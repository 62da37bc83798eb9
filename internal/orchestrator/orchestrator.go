// Package orchestrator wires the individual subsystems (registry,
// supervisor, snapshot manager, router, stats publisher, audit log) into a
// single running instance, shared by cmd/aetherd (the daemon) and
// cmd/aether (the CLI's "up" command).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/ankitkpandey1/aetherless/internal/audit"
	"github.com/ankitkpandey1/aetherless/internal/config"
	"github.com/ankitkpandey1/aetherless/internal/control"
	"github.com/ankitkpandey1/aetherless/internal/domain"
	"github.com/ankitkpandey1/aetherless/internal/metrics"
	"github.com/ankitkpandey1/aetherless/internal/registry"
	"github.com/ankitkpandey1/aetherless/internal/router"
	"github.com/ankitkpandey1/aetherless/internal/snapshot"
	"github.com/ankitkpandey1/aetherless/internal/state"
	"github.com/ankitkpandey1/aetherless/internal/stats"
	"github.com/ankitkpandey1/aetherless/internal/supervisor"
)

const (
	defaultSocketDir = "/dev/shm/aetherless/sockets"
	defaultAuditDB   = "/var/lib/aetherless/audit.db"
	triggerAddr      = 0x0100007f // 127.0.0.1, network byte order matches bpf/xdp_redirect.c's addr_be field
)

// Orchestrator is a fully wired instance: New registers every function in
// cfg, HydrateWarmPools fills the warm pools, and Run starts the stats
// publisher ticking. Call Shutdown to tear everything down in reverse order.
type Orchestrator struct {
	cfg         *config.Config
	logger      *slog.Logger
	reg         *registry.Registry
	snaps       *snapshot.Manager
	rtr         *router.Router // nil if no XDP interface configured
	sup         *supervisor.Supervisor
	hydrate     *supervisor.Hydrator
	auditLog    *audit.Log
	metrics     *metrics.Registry
	metricsSrv  *http.Server       // nil unless Options.MetricsAddr is set
	statsCancel context.CancelFunc // nil unless rtr != nil; stops the router stats poller
	stats       *Publisher
	ctrl        *control.Server
	shutdownCh  chan struct{}
	shutdownOne sync.Once
}

// Publisher is the subset of *stats.Publisher orchestrator drives directly.
type Publisher = stats.Publisher

// Options carries the pieces of config that don't live in the YAML file:
// where to put control sockets, the audit database, and (optionally) which
// physical interface to attach the XDP router to.
type Options struct {
	SocketDir    string
	AuditDBPath  string
	RouterIface  string // empty: router is not attached, packets flow normally
	RouterObject string
	RouterMode   router.Mode
	MetricsAddr  string // empty: /metrics is not served
	Logger       *slog.Logger
}

// New loads nothing from disk beyond what cfg already represents: it
// builds the in-memory subsystems and registers every function.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Orchestrator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	socketDir := opts.SocketDir
	if socketDir == "" {
		socketDir = defaultSocketDir
	}
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}

	auditDBPath := opts.AuditDBPath
	if auditDBPath == "" {
		auditDBPath = defaultAuditDB
	}
	if err := os.MkdirAll(filepath.Dir(auditDBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit database directory: %w", err)
	}
	auditLog, err := audit.Open(ctx, auditDBPath)
	if err != nil {
		return nil, err
	}

	snaps, err := snapshot.New(cfg.Orchestrator.SnapshotDir, time.Duration(cfg.Orchestrator.RestoreTimeoutMS)*time.Millisecond)
	if err != nil {
		auditLog.Close()
		return nil, err
	}

	var rtr *router.Router
	if opts.RouterIface != "" {
		rtr, err = router.Attach(router.Options{
			Interface:  opts.RouterIface,
			ObjectPath: opts.RouterObject,
			Mode:       opts.RouterMode,
		})
		if err != nil {
			auditLog.Close()
			return nil, err
		}
	}

	reg := registry.New()
	metricsReg := metrics.NewRegistry()

	var publisher RoutingPublisher = noopRouter{}
	if rtr != nil {
		publisher = rtr
	}
	sup := supervisor.New(reg, publisher, logger)
	sup.SetMetrics(metricsReg)
	sup.SetShmBufferSize(cfg.Orchestrator.ShmBufferSize)
	hydrator := supervisor.NewHydrator(sup, snaps, socketDir)
	hydrator.SetMetrics(metricsReg)

	var statsCancel context.CancelFunc
	if rtr != nil {
		var pollCtx context.Context
		pollCtx, statsCancel = context.WithCancel(context.Background())
		go pollRouterStats(pollCtx, rtr, metricsReg, logger)
	}

	for _, fn := range cfg.Functions {
		handlerPath, err := domain.NewHandlerPath(fn.HandlerPath)
		if err != nil {
			teardown(rtr, auditLog)
			return nil, err
		}
		_, err = reg.Register(registry.Config{
			ID:           fn.ID,
			MemoryLimit:  fn.MemoryLimit,
			TriggerPort:  fn.TriggerPort,
			HandlerPath:  handlerPath,
			Timeout:      fn.Timeout,
			Environment:  fn.Environment,
			WarmPoolSize: cfg.Orchestrator.WarmPoolSize,
		}, filepath.Join(socketDir, fn.ID.String()+".sock"))
		if err != nil {
			teardown(rtr, auditLog)
			return nil, err
		}
		_ = auditLog.Record(ctx, fn.ID.String(), audit.EventDeployed, "")
	}

	statsPub := stats.New(reg, snaps, stats.WithPath(stats.DefaultPath), stats.WithColdStarts(metricsReg))

	var metricsSrv *http.Server
	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsReg.Handler())
		metricsSrv = &http.Server{Addr: opts.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	orch := &Orchestrator{
		cfg:         cfg,
		logger:      logger,
		reg:         reg,
		snaps:       snaps,
		rtr:         rtr,
		sup:         sup,
		hydrate:     hydrator,
		auditLog:    auditLog,
		metrics:     metricsReg,
		metricsSrv:  metricsSrv,
		statsCancel: statsCancel,
		stats:       statsPub,
		shutdownCh:  make(chan struct{}),
	}

	ctrl, err := control.Listen(filepath.Join(socketDir, "control.sock"), orch)
	if err != nil {
		teardown(rtr, auditLog)
		return nil, err
	}
	orch.ctrl = ctrl
	go func() {
		if err := ctrl.Serve(); err != nil {
			logger.Error("control server stopped", "error", err)
		}
	}()

	return orch, nil
}

// pollRouterStats periodically sums router_stats_map's per-CPU counters and
// feeds the deltas into the metrics registry, since the kernel-side counts
// are already cumulative and re-adding the full total every tick would
// double-count.
func pollRouterStats(ctx context.Context, rtr *router.Router, m *metrics.Registry, logger *slog.Logger) {
	const interval = time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last router.PacketStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := rtr.Stats()
			if err != nil {
				logger.ErrorContext(ctx, "reading router stats failed", "error", err)
				continue
			}
			m.IncPacketsTotal(statDelta(cur.Total, last.Total))
			m.IncPacketsMatched(statDelta(cur.Matched, last.Matched))
			m.IncPacketsPassed(statDelta(cur.Passed, last.Passed))
			m.IncPacketsDropped(statDelta(cur.Dropped, last.Dropped))
			last = cur
		}
	}
}

// statDelta guards against a kernel-side counter reset (e.g. a BPF object
// reload) producing a smaller reading than last time, which would otherwise
// underflow the unsigned subtraction.
func statDelta(cur, last uint64) uint64 {
	if cur < last {
		return 0
	}
	return cur - last
}

// RoutingPublisher matches supervisor.RoutingPublisher so orchestrator can
// substitute a no-op when no XDP interface is configured.
type RoutingPublisher = supervisor.RoutingPublisher

type noopRouter struct{}

func (noopRouter) RegisterPort(port uint16, pid uint32, addr uint32) error { return nil }
func (noopRouter) UnregisterPort(port uint16) error                       { return nil }

// HydrateWarmPools pre-spawns and checkpoints every function with a
// nonzero warm_pool_size.
func (o *Orchestrator) HydrateWarmPools(ctx context.Context) error {
	var warm int64
	for _, id := range o.reg.List() {
		rec, ok := o.reg.Get(id)
		if !ok {
			continue
		}
		if rec.Config().WarmPoolSize <= 0 {
			continue
		}
		if err := o.hydrate.Hydrate(ctx, id); err != nil {
			o.logger.ErrorContext(ctx, "warm pool hydration failed", "function_id", id, "error", err)
			continue
		}
		warm++
	}
	o.metrics.SetWarmPoolSize(warm)
	return nil
}

// Activate brings a function up, restoring from a warm snapshot if one
// exists, otherwise cold spawning.
func (o *Orchestrator) Activate(ctx context.Context, id string) error {
	return o.hydrate.Activate(ctx, id, triggerAddr)
}

// Run blocks publishing stats until ctx is cancelled or a control-socket
// "down" request closes shutdownCh, whichever happens first.
func (o *Orchestrator) Run(ctx context.Context) error {
	statsDone := make(chan error, 1)
	go func() { statsDone <- o.stats.Run(ctx) }()

	select {
	case err := <-statsDone:
		return err
	case <-o.shutdownCh:
		return nil
	}
}

// RequestShutdown asks a blocked Run call to return, satisfying
// control.Handler for the "down" operation. Idempotent: a second call after
// the first is a no-op.
func (o *Orchestrator) RequestShutdown() {
	o.shutdownOne.Do(func() { close(o.shutdownCh) })
}

// Deploy validates path as a configuration file and applies it to every
// function already registered, matching spec's "validate and hot-swap a
// running function's config" claim for the deploy operation. A changed
// config always takes effect in the registry immediately; with force, a
// Running function is also restarted so the change (e.g. a new handler
// binary) takes effect right away instead of at the function's next cold
// activation. Functions present in path but not already registered are
// skipped: adding a function requires restarting aetherd with the updated
// file, not a live deploy.
func (o *Orchestrator) Deploy(ctx context.Context, path string, force bool) error {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}

	for _, fn := range cfg.Functions {
		id := fn.ID.String()
		rec, ok := o.reg.Get(id)
		if !ok {
			continue
		}

		handlerPath, err := domain.NewHandlerPath(fn.HandlerPath)
		if err != nil {
			return err
		}
		newCfg := registry.Config{
			ID:           fn.ID,
			MemoryLimit:  fn.MemoryLimit,
			TriggerPort:  fn.TriggerPort,
			HandlerPath:  handlerPath,
			Timeout:      fn.Timeout,
			Environment:  fn.Environment,
			WarmPoolSize: cfg.Orchestrator.WarmPoolSize,
		}

		if reflect.DeepEqual(rec.Config(), newCfg) {
			continue
		}

		rec.UpdateConfig(newCfg)
		_ = o.auditLog.Record(ctx, id, audit.EventDeployed, "")
		o.logger.InfoContext(ctx, "deployed new config", "function_id", id, "force", force)

		if force && rec.State() == state.Running {
			if err := o.sup.Shutdown(ctx, id, time.Second); err != nil {
				return fmt.Errorf("restarting %s: %w", id, err)
			}
			if err := o.Activate(ctx, id); err != nil {
				return fmt.Errorf("restarting %s: %w", id, err)
			}
		}
	}
	return nil
}

// Shutdown gracefully stops every running function and releases
// subsystem resources in reverse acquisition order.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	for _, id := range o.reg.List() {
		_ = o.sup.Shutdown(ctx, id, time.Second)
	}
	if o.ctrl != nil {
		_ = o.ctrl.Close()
	}
	if o.statsCancel != nil {
		o.statsCancel()
	}
	if o.metricsSrv != nil {
		_ = o.metricsSrv.Close()
	}
	teardown(o.rtr, o.auditLog)
	return nil
}

func (o *Orchestrator) MetricsRegistry() *metrics.Registry { return o.metrics }
func (o *Orchestrator) Registry() *registry.Registry       { return o.reg }

// teardown releases subsystem resources acquired by New, in reverse order.
// The snapshot manager owns no file handles or goroutines of its own (it
// shells out to criu per call), so it has nothing to release here.
func teardown(rtr *router.Router, auditLog *audit.Log) {
	if rtr != nil {
		_ = rtr.Close()
	}
	_ = auditLog.Close()
}
