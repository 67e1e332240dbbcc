package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/refnet/resilience/internal/breaker"
	"github.com/refnet/resilience/internal/config"
	"github.com/refnet/resilience/internal/diagnostics"
	"github.com/refnet/resilience/internal/fallback"
	"github.com/refnet/resilience/internal/lifecycle"
	"github.com/refnet/resilience/internal/netstate"
	"github.com/refnet/resilience/internal/probe"
	"github.com/refnet/resilience/internal/resource"
	"github.com/refnet/resilience/internal/storage"
	"github.com/refnet/resilience/internal/stream"
	"github.com/refnet/resilience/internal/version"
)

// liveUpdatesBreaker is the shared breaker name guarding realtime work.
const liveUpdatesBreaker = "live-updates"

func main() {
	configPath := flag.String("config", "", "path to config file (empty runs with defaults)")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting resilienced",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	var cfg *config.Config
	var err error
	if *configPath == "" {
		cfg = config.DefaultConfig()
	} else {
		cfg, err = config.LoadAndValidate(*configPath)
		if err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"probe_url", cfg.Network.ProbeURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Open persistent storage
	var store storage.Store
	if cfg.Storage.Path != "" {
		sqliteStore, err := storage.OpenSQLite(ctx, cfg.Storage.Path, logger)
		if err != nil {
			logger.Error("failed to open storage", "error", err, "path", cfg.Storage.Path)
			os.Exit(1)
		}
		store = sqliteStore
		logger.Info("storage opened", "path", cfg.Storage.Path)
	} else {
		store = storage.NewMemoryStore()
		logger.Info("storage in-memory (no path configured)")
	}
	defer store.Close()

	// Network state manager
	prober := probe.NewHTTPProber(cfg.Network.ProbeURL, cfg.Network.ProbeTimeout, logger)
	observer := netstate.NewHostObserver(5*time.Second, logger)

	netTuning := netstate.DefaultTuning()
	if cfg.Network.LatencyWeight > 0 {
		netTuning.LatencyWeight = cfg.Network.LatencyWeight
		netTuning.StabilityWeight = cfg.Network.StabilityWeight
		netTuning.ThroughputWeight = cfg.Network.ThroughputWeight
	}
	if cfg.Network.BackoffBase > 0 {
		netTuning.BackoffBase = cfg.Network.BackoffBase
	}
	if cfg.Network.BackoffMax > 0 {
		netTuning.BackoffMax = cfg.Network.BackoffMax
	}

	netMgr := netstate.NewManager(netstate.Config{
		ReassessInterval: cfg.Network.ReassessInterval,
		HistorySize:      cfg.Network.HistorySize,
		Tuning:           netTuning,
	}, observer, prober, logger)

	if err := netMgr.Start(ctx); err != nil {
		logger.Error("failed to start network state manager", "error", err)
		os.Exit(1)
	}
	defer stopComponent(netMgr.Stop, "network state manager", logger)

	if err := netMgr.WaitForInitialization(ctx, 10*time.Second); err != nil {
		logger.Warn("network state not initialized yet, continuing", "error", err)
	}

	// Circuit breakers
	breakers := breaker.NewRegistry(breaker.Config{
		BaseFailureThreshold: cfg.Breaker.BaseFailureThreshold,
		BaseRecoveryTimeout:  cfg.Breaker.BaseRecoveryTimeout,
		MaxRecoveryTimeout:   cfg.Breaker.MaxRecoveryTimeout,
		ProactiveResetDelta:  cfg.Breaker.ProactiveResetDelta,
	}, netMgr, logger)
	liveBreaker := breakers.Get(liveUpdatesBreaker)

	// Realtime fallback service
	var newStream func() fallback.LiveStream
	if cfg.Fallback.StreamURL != "" {
		streamURL := cfg.Fallback.StreamURL
		newStream = func() fallback.LiveStream {
			streamCfg := stream.DefaultConfig()
			streamCfg.URL = streamURL
			return stream.NewClient(streamCfg, logger)
		}
	}

	fb := fallback.NewService(fallback.Config{
		BackoffAfterFailures: cfg.Fallback.BackoffAfterFailures,
		StopAfterFailures:    cfg.Fallback.StopAfterFailures,
		SlowPollInterval:     cfg.Fallback.SlowPollInterval,
	}, netMgr, liveBreaker, newRefresher(cfg.Fallback.RefreshURL, prober), newStream, logger)

	if err := fb.Start(ctx); err != nil {
		logger.Error("failed to start fallback service", "error", err)
		os.Exit(1)
	}
	defer stopComponent(fb.Stop, "fallback service", logger)

	// App lifecycle manager, driven by SIGUSR1 (background) / SIGUSR2 (active)
	appMgr := lifecycle.NewManager(lifecycle.Config{
		SuspendAfter:            cfg.Lifecycle.SuspendAfter,
		CleanupAfter:            cfg.Lifecycle.CleanupAfter,
		BackgroundSyncEnabled:   cfg.Lifecycle.BackgroundSyncEnabled,
		BackgroundSyncInterval:  cfg.Lifecycle.BackgroundSyncInterval,
		KeepCriticalConnections: cfg.Lifecycle.KeepCriticalConnections,
	}, fb, netMgr, store, nil, logger)

	if err := appMgr.Start(ctx); err != nil {
		logger.Error("failed to start app state manager", "error", err)
		os.Exit(1)
	}
	defer stopComponent(appMgr.Stop, "app state manager", logger)

	lifecycleCh := make(chan os.Signal, 1)
	signal.Notify(lifecycleCh, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range lifecycleCh {
			switch sig {
			case syscall.SIGUSR1:
				appMgr.HandleSignal(lifecycle.SignalBackground)
			case syscall.SIGUSR2:
				appMgr.HandleSignal(lifecycle.SignalActive)
			}
		}
	}()

	// Resource optimization manager
	resMgr := resource.NewManager(resource.Config{
		UpdateInterval:        cfg.Resource.UpdateInterval,
		OptimizeInterval:      cfg.Resource.OptimizeInterval,
		MemoryThresholdMB:     cfg.Resource.MemoryThresholdMB,
		LowBatteryThreshold:   cfg.Resource.LowBatteryThreshold,
		AggressiveRevertAfter: cfg.Resource.AggressiveRevertAfter,
	}, resource.NewSystemMetricsSource(), resource.NewSystemSensors(), netMgr,
		func() int { return len(fb.Jobs()) },
		resource.Actions{
			ReducePolling:       func() { fb.RecomputeMode("resource optimization") },
			DeferBackgroundSync: func() { appMgr.DeferBackgroundSync(10 * time.Minute) },
			TrimMemory:          debug.FreeOSMemory,
			// No close-idle hook: failing jobs stop themselves, and the
			// stream is detached whenever the mode drops it.
		}, store, logger)

	if err := resMgr.Start(ctx); err != nil {
		logger.Error("failed to start resource manager", "error", err)
		os.Exit(1)
	}
	defer stopComponent(resMgr.Stop, "resource manager", logger)

	// Diagnostics
	diag := diagnostics.New(diagnostics.Config{
		ProbeTimeout: cfg.Diagnostics.ProbeTimeout,
		HistorySize:  cfg.Diagnostics.HistorySize,
	}, netMgr, appMgr, resMgr, breakers, fb, prober, store, logger)

	// Health server
	healthPort := 8080
	if cfg.Health.Port > 0 {
		healthPort = cfg.Health.Port
	}

	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", healthPort),
		Handler: createHealthHandler(netMgr, fb, appMgr, resMgr, breakers, diag, logger),
	}

	go func() {
		logger.Info("starting health server", "port", healthPort)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	logger.Info("resilienced running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", healthPort),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	logger.Info("resilienced stopped")
}

// stopComponent stops a component with a bounded shutdown context.
func stopComponent(stop func(context.Context) error, name string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stop(ctx); err != nil {
		logger.Warn("component shutdown error", "component", name, "error", err)
	}
}

// newRefresher returns the polling refresh capability. With a refresh URL
// it GETs <url>/<entityID>; without one, a probe doubles as a liveness poll.
func newRefresher(refreshURL string, prober probe.Prober) fallback.Refresher {
	if refreshURL == "" {
		return fallback.RefresherFunc(func(ctx context.Context, entityID string) ([]byte, error) {
			if _, err := prober.Probe(ctx); err != nil {
				return nil, err
			}
			return nil, nil
		})
	}

	client := &http.Client{}
	return fallback.RefresherFunc(func(ctx context.Context, entityID string) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, refreshURL+"/"+entityID, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("refresh %s: status %d", entityID, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
}

// createHealthHandler creates the HTTP handler for health checks and
// debugging endpoints.
func createHealthHandler(netMgr *netstate.Manager, fb *fallback.Service, appMgr *lifecycle.Manager, resMgr *resource.Manager, breakers *breaker.Registry, diag *diagnostics.Diagnostics, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		quality := netMgr.CurrentQuality()
		if quality == nil {
			health.Status = "degraded"
			health.Components["network"] = "initializing"
		} else {
			health.Components["network"] = map[string]interface{}{
				"score": quality.Score,
				"level": quality.Level,
			}
			if quality.Level == netstate.LevelOffline {
				health.Status = "unhealthy"
			}
		}

		health.Components["fallback_mode"] = fb.Mode()
		health.Components["lifecycle"] = appMgr.State()
		health.Components["polling_jobs"] = len(fb.Jobs())

		for _, snap := range breakers.Snapshots() {
			if snap.State == breaker.StateOpen {
				health.Status = "degraded"
			}
		}
		health.Components["breakers"] = breakers.Snapshots()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/quality", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"state":   netMgr.CurrentState(),
			"quality": netMgr.CurrentQuality(),
			"trend":   netMgr.QualityTrend(),
			"history": netMgr.QualityHistory(),
		})
	})

	mux.HandleFunc("/debug/fallback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mode":         fb.Mode(),
			"mode_history": fb.ModeHistory(),
			"jobs":         fb.Jobs(),
		})
	})

	mux.HandleFunc("/debug/resources", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"profile":         resMgr.Profile(),
			"metrics":         resMgr.Metrics(),
			"recommendations": resMgr.Recommendations(),
			"aggressive":      resMgr.AggressiveOptimization(),
		})
	})

	mux.HandleFunc("/debug/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(diag.AssessConnectionHealth(ctx))
	})

	mux.HandleFunc("/debug/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		result := diag.ResetConnection(ctx, diagnostics.FullReset())
		logger.Info("connection reset via debug endpoint", "failed_steps", result.Failed())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"failed_steps": result.Failed(),
		})
	})

	return mux
}
