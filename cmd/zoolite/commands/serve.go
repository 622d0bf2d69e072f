package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zoolite/zoolite/internal/logger"
	"github.com/zoolite/zoolite/internal/telemetry"
	"github.com/zoolite/zoolite/pkg/cache"
	"github.com/zoolite/zoolite/pkg/config"
	"github.com/zoolite/zoolite/pkg/coord"
	"github.com/zoolite/zoolite/pkg/coordstore"
	coordstorebadger "github.com/zoolite/zoolite/pkg/coordstore/badger"
	coordstorememory "github.com/zoolite/zoolite/pkg/coordstore/memory"
	coordstorepostgres "github.com/zoolite/zoolite/pkg/coordstore/postgres"
	"github.com/zoolite/zoolite/pkg/exchange"
	"github.com/zoolite/zoolite/pkg/invaldir"
	"github.com/zoolite/zoolite/pkg/lock"
	metricsprometheus "github.com/zoolite/zoolite/pkg/metrics/prometheus"
	"github.com/zoolite/zoolite/pkg/session"
	"github.com/zoolite/zoolite/pkg/sessionstore"
	sessionstorebadger "github.com/zoolite/zoolite/pkg/sessionstore/badger"
	sessionstorememory "github.com/zoolite/zoolite/pkg/sessionstore/memory"
	sessionstorepostgres "github.com/zoolite/zoolite/pkg/sessionstore/postgres"
	"github.com/zoolite/zoolite/pkg/transport"
	"github.com/zoolite/zoolite/pkg/transport/inproc"
	"github.com/zoolite/zoolite/pkg/transport/tcp"
	"github.com/zoolite/zoolite/pkg/waitdir"
)

var pidFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a zoolite coordination node",
	Long: `Run a zoolite coordination node in the foreground.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/zoolite/config.yaml.

Examples:
  # Run with the default config search path
  zoolite serve

  # Run with an explicit config file
  zoolite serve --config /etc/zoolite/config.yaml

  # Override a setting from the environment
  ZOOLITE_LOGGING_LEVEL=DEBUG zoolite serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file (default: none)")
	rootCmd.AddCommand(serveCmd)
}

// staticPeers is a fixed PeerLister built from configuration at startup;
// the node's own peer set does not change over its lifetime.
type staticPeers []string

func (p staticPeers) ListPeers(ctx context.Context) ([]string, error) { return p, nil }

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry.SDKConfig("zoolite", Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	logger.Info("configuration loaded", "source", getConfigSource(GetConfigFile()), "self", cfg.Self)
	if telemetry.IsEnabled() {
		logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("telemetry disabled")
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	coordStore, sessionStore, closeStores, err := openStores(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage backend: %w", err)
	}
	defer closeStores()

	tr, peers, closeTransport, err := openTransport(cfg)
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}
	defer closeTransport()

	registry := prometheus.NewRegistry()
	rec := metricsprometheus.New(registry)

	waitDir := waitdir.New()
	invalDir := invaldir.New()

	exchangeMgr, err := exchange.New(ctx, cfg.Self, tr, staticPeers(peers), waitDir, invalDir)
	if err != nil {
		return fmt.Errorf("failed to start exchange manager: %w", err)
	}
	exchangeMgr.SetMetrics(rec)
	defer func() {
		if err := exchangeMgr.Close(); err != nil {
			logger.Error("exchange manager close error", "error", err)
		}
	}()

	// sessMgr's cleanup hook calls back into lockMgr, and lockMgr's
	// constructor takes sessMgr as its EntryTracker: neither can be built
	// first, so lockMgr is declared up front and captured by the closure,
	// then assigned once it exists.
	var lockMgr *lock.Manager
	sessMgr := session.New(sessionStore, cfg.Session.ScanInterval, func(ctx context.Context, sid string, paths []string) {
		lockMgr.Cleanup(ctx, sid, paths)
	})
	sessMgr.SetMetrics(rec)
	sessMgr.Start()
	defer sessMgr.Close()

	lockMgr = lock.New(coordStore, waitDir, exchangeMgr, sessMgr)
	lockMgr.SetMetrics(rec)

	cacheMgr := cache.New(cfg.Self, lockMgr, invalDir)
	cacheMgr.SetMetrics(rec)

	coordMgr := coord.New(coordStore, lockMgr, cacheMgr, sessMgr, cfg.Self, cfg.Session.LeaseDuration)

	logger.Info("coordination manager ready",
		"self", cfg.Self,
		"storage_backend", cfg.Storage.Backend,
		"transport_backend", cfg.Transport.Backend,
		"lease_duration", cfg.Session.LeaseDuration)

	if cfg.Metrics.Enabled {
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr)
	} else {
		logger.Info("metrics collection disabled, serving /healthz only")
	}

	metricsServer := newMetricsServer(cfg, registry, coordMgr)
	serverDone := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
			return
		}
		serverDone <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("zoolite node is running", "metrics_addr", cfg.Metrics.ListenAddr)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown error", "error", err)
		}
		logger.Info("zoolite node stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("metrics server error", "error", err)
			return err
		}
	}

	return nil
}

// openStores builds the coordstore.Store and sessionstore.Store pair
// named by cfg.Storage.Backend. The returned close func releases both,
// tolerating backends (memory) that own nothing to release.
func openStores(ctx context.Context, cfg *config.Config) (coordstore.Store, sessionstore.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		return coordstorememory.New(), sessionstorememory.New(), func() {}, nil

	case "badger":
		cStore, err := coordstorebadger.Open(cfg.Storage.Badger.Dir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening badger coordstore: %w", err)
		}
		sStore, err := sessionstorebadger.Open(cfg.Storage.Badger.Dir)
		if err != nil {
			_ = cStore.Close()
			return nil, nil, nil, fmt.Errorf("opening badger sessionstore: %w", err)
		}
		return cStore, sStore, func() {
			_ = cStore.Close()
			_ = sStore.Close()
		}, nil

	case "postgres":
		cStore, err := coordstorepostgres.Open(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening postgres coordstore: %w", err)
		}
		sStore, err := sessionstorepostgres.Open(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			cStore.Close()
			return nil, nil, nil, fmt.Errorf("opening postgres sessionstore: %w", err)
		}
		return cStore, sStore, func() {
			cStore.Close()
			sStore.Close()
		}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}
}

// openTransport builds the transport.Transport named by
// cfg.Transport.Backend, along with the peer set the exchange manager
// should broadcast release notifications to.
func openTransport(cfg *config.Config) (transport.Transport, []string, func(), error) {
	switch cfg.Transport.Backend {
	case "inproc":
		registry := inproc.New()
		return registry, []string{cfg.Self}, func() {}, nil

	case "tcp":
		peers := make([]string, 0, len(cfg.Transport.TCP.Peers)+1)
		peers = append(peers, cfg.Self)
		for name := range cfg.Transport.TCP.Peers {
			if name == cfg.Self {
				continue
			}
			peers = append(peers, name)
		}

		tr, err := tcp.Listen(cfg.Self, cfg.Transport.TCP.ListenAddr, tcp.StaticResolver(cfg.Transport.TCP.Peers))
		if err != nil {
			return nil, nil, nil, err
		}
		return tr, peers, func() { _ = tr.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown transport backend: %q", cfg.Transport.Backend)
	}
}

// healthzHandler reports the node alive and names the session it holds
// on its own behalf, serving as both a liveness probe and a quick way
// to confirm the coordination manager initialized successfully.
func healthzHandler(coordMgr *coord.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid, err := coordMgr.GetSession(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok", "session_id": sid})
	}
}

func newMetricsServer(cfg *config.Config, registry *prometheus.Registry, coordMgr *coord.Manager) *http.Server {
	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("/healthz", healthzHandler(coordMgr))

	return &http.Server{
		Addr:    cfg.Metrics.ListenAddr,
		Handler: mux,
	}
}
