package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Commvault/cvpysdk-sub002/internal/config"
	"github.com/Commvault/cvpysdk-sub002/internal/exporter"
	"github.com/Commvault/cvpysdk-sub002/internal/logging"
	"github.com/Commvault/cvpysdk-sub002/internal/models"
	"github.com/Commvault/cvpysdk-sub002/internal/telemetry"
	"github.com/Commvault/cvpysdk-sub002/transport"
)

const (
	shutdownTimeout   = 10 * time.Second // Maximum time to wait for graceful shutdown
	readHeaderTimeout = 5 * time.Second  // HTTP server read header timeout
	telemetryTimeout  = 10 * time.Second // Maximum time to set up the OTLP exporter
)

// Server serves the Commcell inventory as Prometheus metrics.
//
// Server errors (such as port binding failures) are reported through
// ErrorChan() rather than log.Fatal, so the caller can still shut down
// gracefully.
//
// A configuration reload that changes the Commcell connection swaps in a new
// session and drops the cached inventory; the collector itself is kept.
type Server struct {
	cfgPath          string
	cfg              *models.SafeConfig
	httpSrv          *http.Server
	registry         *prometheus.Registry
	telemetryManager *telemetry.Manager // nil if disabled
	tracerProvider   trace.TracerProvider
	collector        *exporter.InventoryCollector

	mu   sync.RWMutex
	sess *session

	stopSIGHUP func()
	watcher    *fsnotify.Watcher

	// serverErrChan is buffered so the serving goroutine can report an error
	// before the caller starts listening.
	serverErrChan chan error
}

// NewServer creates a server for the configuration loaded from cfgPath.
func NewServer(cfgPath string, cfg *models.Config) *Server {
	var telemetryMgr *telemetry.Manager
	if cfg.OpenTelemetry.Enabled {
		telemetryMgr = telemetry.NewManager(telemetry.Config{
			Enabled:        cfg.OpenTelemetry.Enabled,
			Endpoint:       cfg.OpenTelemetry.Endpoint,
			Insecure:       cfg.OpenTelemetry.Insecure,
			SamplingRate:   cfg.OpenTelemetry.SamplingRate,
			ServiceName:    programName,
			ServiceVersion: programVersion,
			CommcellHost:   cfg.CommcellHost(),
		})
	}

	return &Server{
		cfgPath:          cfgPath,
		cfg:              models.NewSafeConfig(cfg),
		registry:         prometheus.NewRegistry(),
		telemetryManager: telemetryMgr,
		serverErrChan:    make(chan error, 1),
	}
}

// session returns the current Commcell session.
func (s *Server) session() *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sess
}

func (s *Server) clientOptions() []transport.ClientOption {
	opts := []transport.ClientOption{transport.WithMetrics(s.registry)}
	if s.tracerProvider != nil {
		opts = append(opts, transport.WithTracerProvider(s.tracerProvider))
	}
	return opts
}

// connect replaces the session with one built from the current configuration
// and closes the previous one.
func (s *Server) connect() error {
	imm, err := models.NewImmutableConfig(s.cfg.Get())
	if err != nil {
		return err
	}
	sess := newSession(imm, s.clientOptions()...)

	s.mu.Lock()
	old := s.sess
	s.sess = sess
	s.mu.Unlock()

	if old != nil {
		logging.LogInfo("Commcell connection changed, session rebuilt")
		if err := old.Close(); err != nil {
			logging.LogWarn("Failed to close previous Commcell session: " + err.Error())
		}
	}
	return nil
}

// inventorySources counts every collection through the session current at
// scrape time.
func (s *Server) inventorySources() []exporter.Source {
	names := collectionNames()
	sources := make([]exporter.Source, 0, len(names))
	for _, name := range names {
		sources = append(sources, exporter.NewSource(name, func(ctx context.Context) (int, error) {
			col, ok := s.session().collection(name)
			if !ok {
				return 0, fmt.Errorf("unknown collection %q", name)
			}
			return col.source.Count(ctx)
		}))
	}
	return sources
}

// setup initializes telemetry, the session, the collector and the HTTP
// handlers without listening.
func (s *Server) setup() error {
	if s.telemetryManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
		defer cancel()

		if err := s.telemetryManager.Initialize(ctx); err != nil {
			log.Warnf("Failed to initialize OpenTelemetry: %v. Continuing without tracing.", err)
		}
		if s.telemetryManager.IsEnabled() {
			s.tracerProvider = s.telemetryManager.TracerProvider()
		}
	}

	if err := s.connect(); err != nil {
		return fmt.Errorf("failed to connect to commcell: %w", err)
	}

	cfg := s.cfg.Get()
	collectorOpts := []exporter.CollectorOption{
		exporter.WithCacheTTL(models.Duration(cfg.Server.ScrapingInterval)),
		exporter.WithCommcellLabel(cfg.CommcellHost()),
		exporter.WithConnectivityCheck(func(ctx context.Context) error { return s.session().cc.Ping(ctx) }),
		exporter.WithBreakerState(func() string { return s.session().client.BreakerState() }),
	}
	if s.tracerProvider != nil {
		collectorOpts = append(collectorOpts, exporter.WithCollectorTracerProvider(s.tracerProvider))
	}
	s.collector = exporter.NewInventoryCollector(s.inventorySources(), collectorOpts...)

	if err := s.registry.Register(s.collector); err != nil {
		return fmt.Errorf("failed to register collector: %w", err)
	}
	if err := s.registry.Register(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("failed to register go collector: %w", err)
	}

	mux := http.NewServeMux()
	prometheusHandler := promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	if s.tracerProvider != nil {
		prometheusHandler = s.extractTraceContextMiddleware(prometheusHandler)
	}
	mux.Handle(cfg.Server.URI, prometheusHandler)
	mux.Handle("/health", s.collector.HealthHandler())

	s.httpSrv = &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// Start sets the server up, starts watching the configuration file and
// serves in a goroutine.
func (s *Server) Start() error {
	if err := s.setup(); err != nil {
		return err
	}

	s.stopSIGHUP = config.SetupSIGHUPHandler(s.cfgPath, s.reload)
	watcher, err := config.WatchConfigFile(s.cfgPath, s.reload)
	if err != nil {
		log.WithError(err).Warn("Config file watch disabled, reload with SIGHUP")
	}
	s.watcher = watcher

	go func() {
		cfg := s.cfg.Get()
		log.Infof("Starting %s on %s%s", programName, cfg.GetServerAddress(), cfg.Server.URI)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	return nil
}

// reload re-reads the configuration. A changed Commcell connection gets a
// new session and a fresh inventory on the next scrape.
func (s *Server) reload(path string) error {
	changed, err := s.cfg.ReloadConfig(path)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := s.connect(); err != nil {
		return err
	}
	s.collector.Reset()
	return nil
}

// ErrorChan returns the channel for receiving server errors.
func (s *Server) ErrorChan() <-chan error {
	return s.serverErrChan
}

// Shutdown stops the server components in order:
//  1. Stop config reloads and the HTTP server (no new scrapes accepted)
//  2. Shutdown OpenTelemetry (flush pending spans)
//  3. Close the Commcell session (drains API connections)
//
// Telemetry is shut down before the session so spans from in-flight
// requests are flushed before connections close.
func (s *Server) Shutdown() error {
	var errs []error

	if s.stopSIGHUP != nil {
		s.stopSIGHUP()
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
	}

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("Shutting down HTTP server...")
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}
	}

	if s.telemetryManager != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("Shutting down telemetry...")
		if err := s.telemetryManager.Shutdown(ctx); err != nil {
			log.Warnf("Telemetry shutdown warning: %v", err)
		}
	}

	if sess := s.session(); sess != nil {
		log.Info("Closing Commcell session...")
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session close: %w", err))
		}
	}

	close(s.serverErrChan)

	if len(errs) > 0 {
		log.Errorf("Shutdown completed with %d errors", len(errs))
		return errs[0]
	}
	log.Info("Server stopped gracefully")
	return nil
}

// extractTraceContextMiddleware continues the caller's trace, if any, in the
// scrape.
func (s *Server) extractTraceContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// waitForShutdown blocks until ctx is cancelled (SIGINT or SIGTERM) or the
// server reports an error.
func waitForShutdown(ctx context.Context, serverErr <-chan error) error {
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal, initiating graceful shutdown...")
		return nil
	case err := <-serverErr:
		return err
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the Commcell inventory as Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := validateConfig(configFile)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Server.LogName, debug); err != nil {
				return err
			}

			log.Infof("Starting %s...", programName)
			log.Infof("Commcell: %s", cfg.WebServiceURL())
			log.Infof("Scraping interval: %s", cfg.Server.ScrapingInterval)
			if debug {
				log.Infof("Auth token: %s", cfg.MaskToken())
			}

			server := NewServer(configFile, cfg)
			if err := server.Start(); err != nil {
				return err
			}
			if err := waitForShutdown(cmd.Context(), server.ErrorChan()); err != nil {
				logging.LogError("Server error: " + err.Error())
			}
			return server.Shutdown()
		},
	}
}
