// Command pbs-serverd is a minimal composition root that wires the chunk
// store, backup session environment, and worker task registry into a
// long-running process, standing in for the HTTPS dispatcher that is out
// of scope for this module. It exists so the module is a complete,
// buildable program rather than only a library.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dolthub/gozstd"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultkeep/backupcore/backup"
	"github.com/vaultkeep/backupcore/chunk"
	"github.com/vaultkeep/backupcore/config"
	"github.com/vaultkeep/backupcore/hash"
	"github.com/vaultkeep/backupcore/log"
	"github.com/vaultkeep/backupcore/metrics"
	"github.com/vaultkeep/backupcore/worker"
)

// fsDatastore is the minimal backup.Datastore this process hosts itself,
// standing in for the real datastore registry the out-of-scope dispatcher
// would own.
type fsDatastore struct{ root string }

func (d fsDatastore) RemoveBackupDir(dir string) error {
	return os.RemoveAll(dir)
}

// sessionFactory is what a request dispatcher would hold to open a
// backup.Environment per incoming session; kept here so the module's
// wiring between chunk store, session state, and logging is exercised by a
// real running process rather than only by package tests.
type sessionFactory struct {
	store     chunk.Store
	datastore fsDatastore
}

func (f *sessionFactory) newSession(upid string) (*backup.Environment, error) {
	dir := filepath.Join(f.datastore.root, upid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return backup.NewEnvironment(f.datastore, dir, log.ForSession(upid)), nil
}

func main() {
	var (
		configPath  = flag.String("config", "", "path to a YAML config file (defaults used when empty)")
		metricsAddr = flag.String("metrics-addr", "", "address to serve Prometheus metrics on, e.g. :9221 (disabled when empty)")
		memory      = flag.Bool("memory", false, "use an in-memory chunk store instead of the on-disk one, for development")
		node        = flag.String("node", hostnameOrFallback(), "node name recorded in every worker UPID")
	)
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Base.WithError(err).Fatal("load config")
		}
	}

	var store chunk.Store
	if *memory {
		store = chunk.NewMemStore()
		log.Base.Info("using in-memory chunk store")
	} else {
		fsStore, err := chunk.NewFSStore(cfg.ChunkStorePath, cfg.CompressionLevel)
		if err != nil {
			log.Base.WithError(err).Fatal("create chunk store")
		}
		store = fsStore
		log.Base.WithField("path", cfg.ChunkStorePath).Info("opened chunk store")
	}

	snapshotRoot := filepath.Join(cfg.ChunkStorePath, "..", "snapshots")
	factory := &sessionFactory{store: store, datastore: fsDatastore{root: snapshotRoot}}

	registry := worker.NewRegistry(*node, cfg.TaskDir)

	var metricsSrv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Base.WithError(err).Error("metrics server")
			}
		}()
		log.Base.WithField("addr", *metricsAddr).Info("serving metrics")
	}

	// The HTTPS upload dispatcher that would call factory.newSession per
	// incoming client and register request-driven worker tasks via
	// registry.Spawn lives outside this module's scope. Run a startup
	// self-check here so the chunk store, session environment, and worker
	// registry are all exercised by one real session on every launch.
	if _, err := registry.Spawn("startup-check", "", "root@pam", true, func(t *worker.Task) error {
		return runStartupCheck(t, factory)
	}); err != nil {
		log.Base.WithError(err).Fatal("spawn startup task")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Base.Info("shutting down")
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}

	running := registry.Running()
	for _, t := range running {
		t.RequestAbort()
	}
	if len(running) > 0 {
		log.Base.WithField("count", len(running)).Warn("requested abort on tasks still running at shutdown")
	}
}

// runStartupCheck opens one throwaway session, round-trips a single chunk
// through the store and a dynamic index, and tears the session back down —
// a smoke test that the wiring between chunk, backup, and worker actually
// holds, run once at every process start.
func runStartupCheck(t *worker.Task, factory *sessionFactory) error {
	env, err := factory.newSession(t.UPID.String())
	if err != nil {
		return err
	}

	payload := []byte("pbs-serverd startup check")
	digest := hash.Of(payload)
	compressed := gozstd.Compress(nil, payload)
	if _, _, err := factory.store.Insert(context.Background(), digest, compressed); err != nil {
		return err
	}
	env.RegisterChunk(digest, uint32(len(payload)))

	wid, err := env.RegisterDynamicWriter("startup.didx")
	if err != nil {
		return err
	}
	size := uint32(len(payload))
	if err := env.RegisterDynamicChunk(wid, digest, size, uint32(len(compressed)), false); err != nil {
		return err
	}
	if err := env.DynamicWriterAppendChunk(wid, 0, size, digest); err != nil {
		return err
	}
	if err := env.DynamicWriterClose(wid, 1, uint64(size)); err != nil {
		return err
	}
	if err := env.FinishBackup(); err != nil {
		return err
	}
	if err := env.RemoveBackup(); err != nil {
		return err
	}

	t.Log("ingestion core ready")
	return nil
}

func hostnameOrFallback() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}
