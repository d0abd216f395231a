package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"simplemounts.ai/internal/config"
	"simplemounts.ai/internal/lifecycle"
	"simplemounts.ai/internal/locks"
	"simplemounts.ai/internal/logging"
	"simplemounts.ai/internal/metrics"
	persistlog "simplemounts.ai/internal/persistence/log"
	"simplemounts.ai/internal/persistence/iopool"
	"simplemounts.ai/internal/persistence/offsite"
	"simplemounts.ai/internal/persistence/store"
	"simplemounts.ai/internal/platform/otel"
	"simplemounts.ai/internal/sim/loop"
	"simplemounts.ai/internal/sim/world"
	"simplemounts.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/mounts.yaml", "path to mounts.yaml (empty for defaults)")
		addr       = flag.String("addr", "", "http listen address (overrides server.addr)")
		dataDir    = flag.String("data", "", "runtime data directory (overrides storage.data_dir)")
	)
	flag.Parse()

	src, err := config.Open(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	src.Update(func(c *config.Config) {
		if *addr != "" {
			c.Server.Addr = *addr
		}
		if *dataDir != "" {
			c.Storage.DataDir = *dataDir
		}
	})
	cfg := src.Current()

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(src, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(src *config.Source, logger *zap.Logger) error {
	cfg := src.Current()
	ctx, cancel, again := signalContext()
	defer cancel()

	shutdownTracing, err := otel.Setup(ctx, otel.Settings{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = shutdownTracing(ctx2)
	}()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if dir := filepath.Dir(cfg.Storage.Path); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	db, err := store.Open(ctx, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	lockOpts := []locks.Option{locks.WithLogger(logger)}
	if cfg.Locks.Backend == config.LockBackendRedis {
		rc, err := locks.Dial(ctx, cfg.Locks.RedisAddr, cfg.Locks.RedisPassword, cfg.Locks.RedisDB)
		if err != nil {
			return fmt.Errorf("redis locks: %w", err)
		}
		defer rc.Close()
		lockOpts = append(lockOpts, locks.WithDistributed(locks.NewRedis(rc, cfg.Locks.Prefix)))
		logger.Info("distributed locks enabled", zap.String("redis", cfg.Locks.RedisAddr))
	}

	var mirror *offsite.Mirror
	if o := cfg.Offsite; o.Enabled {
		client, err := offsite.NewClient(offsite.Credentials{
			Endpoint:        o.Endpoint,
			Bucket:          o.Bucket,
			Region:          o.Region,
			AccessKeyID:     o.AccessKeyID,
			SecretAccessKey: o.SecretAccessKey,
		})
		if err != nil {
			return err
		}
		mirror = offsite.NewMirror(client, cfg.Storage.DataDir, o.Prefix, o.Workers, o.Queue, logger)
		defer mirror.Close()
		logger.Info("offsite mirror enabled", zap.String("bucket", o.Bucket), zap.String("prefix", o.Prefix))
	}

	audit := persistlog.NewAuditLogger(cfg.Storage.DataDir)
	audit.OnClose(mirror.Enqueue)
	defer audit.Close()

	m := metrics.New()
	pool := iopool.New(cfg.Storage.IOWorkers, cfg.Storage.IOQueue, logger)
	l := loop.New(loop.Config{TickRateHz: cfg.Server.TickRateHz}, logger)
	host := world.New(hostConfig(cfg.World), logger)

	var srv *ws.Server
	mgr := lifecycle.New(lifecycle.Deps{
		Config:   src,
		Store:    db,
		Pool:     pool,
		Loop:     l,
		Host:     host,
		Locks:    locks.New(lockOpts...),
		Audit:    audit,
		Metrics:  m,
		Notifier: lifecycle.NotifierFunc(func(n lifecycle.Notice) { srv.Notify(n) }),
		Logger:   logger,
		Tracer:   otel.Tracer("simplemounts.ai/lifecycle"),
	})
	srv = ws.NewServer(mgr, host, l, src, logger)
	coord := lifecycle.NewShutdownCoordinator(mgr)

	host.OnPlayerQuit(mgr.OnOwnerQuit)
	host.OnEntityDeath(mgr.OnDeath)
	l.OnTick(host.Tick)
	maint := lifecycle.NewMaintenance(mgr)
	if n, err := maint.RecoverStale(ctx); err != nil {
		logger.Warn("stale placement recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered stale placements", zap.Int64("rows", n))
	}
	maint.Register(l)
	lifecycle.NewDistanceMonitor(mgr).Register(l)

	m.GaugeFunc("sessions", "Connected players.", func() float64 { return float64(srv.Sessions()) })
	m.GaugeFunc("loop_tick", "Completed simulation ticks.", func() float64 { return float64(l.Tick()) })
	m.GaugeFunc("io_queue_depth", "Pending storage jobs.", func() float64 { return float64(pool.Stats().QueueDepth) })
	if mirror != nil {
		m.GaugeFunc("offsite_queue_depth", "Files waiting for offsite upload.", func() float64 { return float64(mirror.Stats().QueueDepth) })
		m.GaugeFunc("offsite_failed", "Offsite uploads that failed after retries.", func() float64 { return float64(mirror.Stats().Failed) })
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		if coord.Draining() || !l.Running() {
			http.Error(rw, "draining", http.StatusServiceUnavailable)
			return
		}
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", m.Handler())

	enableAdminHTTP := envBool("SM_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP())
	enablePprofHTTP := envBool("SM_ENABLE_PPROF_HTTP", false)
	if enableAdminHTTP {
		admin := &adminAPI{
			cfg:      src,
			store:    db,
			pool:     pool,
			loop:     l,
			mgr:      mgr,
			shutdown: coord,
			mirror:   mirror,
			sessions: srv.Sessions,
			logger:   logger.Named("admin"),
			now:      time.Now,
		}
		admin.register(mux)
	} else {
		logger.Info("admin endpoints disabled (SM_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", srv.Handler())

	hs := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// The loop outlives the signal context so the drain can still schedule stores on it.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := l.Run(loopCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("loop: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", hs.Addr))
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		src.WatchSignals(gctx, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		rep := drainOnShutdown(coord, src.Current().Shutdown.Timeout, again, logger)
		if rep.Failed > 0 {
			logger.Warn("mounts left unsaved after drain", zap.Int("failed", rep.Failed))
		}
		srv.CloseAll()

		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = hs.Shutdown(ctx2)

		stopLoop()
		select {
		case <-l.Done():
		case <-time.After(5 * time.Second):
			logger.Warn("loop did not stop in time")
		}
		pool.Close()
		return nil
	})
	return g.Wait()
}
