package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/vendorshape/pkg/analysis"
	"github.com/synaptica-ai/vendorshape/pkg/catalog"
	"github.com/synaptica-ai/vendorshape/pkg/common/config"
	"github.com/synaptica-ai/vendorshape/pkg/common/database"
	"github.com/synaptica-ai/vendorshape/pkg/common/kafka"
	"github.com/synaptica-ai/vendorshape/pkg/common/logger"
	"github.com/synaptica-ai/vendorshape/pkg/common/middleware"
	"github.com/synaptica-ai/vendorshape/pkg/configstore"
	"github.com/synaptica-ai/vendorshape/pkg/crossmap"
	"github.com/synaptica-ai/vendorshape/pkg/dlp"
	"github.com/synaptica-ai/vendorshape/pkg/inference"
	"github.com/synaptica-ai/vendorshape/pkg/profiler"
	"github.com/synaptica-ai/vendorshape/pkg/semantic"
	"github.com/synaptica-ai/vendorshape/pkg/standards"
	"github.com/synaptica-ai/vendorshape/pkg/validation"
)

func main() {
	logger.Init()
	cfg, err := config.LoadWithOverlay()
	if err != nil {
		logger.Log.WithError(err).Fatal("Invalid configuration")
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load reference catalog")
	}
	table, err := semantic.LoadTable(cfg.SemanticPathsPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load semantic paths")
	}
	rules, err := inference.LoadRules(cfg.SignatureRules)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load signature rules")
	}
	dlpRules, err := dlp.LoadRules(cfg.DLPRulesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to load DLP rules")
	}
	detector, err := dlp.NewDetector(dlpRules)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to build DLP detector")
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("Failed to open configuration store")
	}
	defer database.ClosePostgres()
	defer database.CloseRedis()

	deps := profiler.Dependencies{
		Validator:     profiler.NewValidator(cfg.MaxBatchMessages),
		Analyzer:      analysis.NewAnalyzer(standards.DefaultRegistry(), cat, detector, cfg.AnalyzerWorkers),
		Inferrer:      inference.NewInferrer(rules),
		Store:         store,
		Planner:       validation.NewPlanner(cat),
		Resolver:      semantic.NewResolver(table),
		Mapper:        crossmap.NewMapper(cat, table),
		MinConfidence: cfg.MinConfidence,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.KafkaEnabled {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.ConfigEventsTopic)
		defer producer.Close()
		deps.Publisher = producer
	}
	service := profiler.NewService(deps)

	if cfg.KafkaEnabled {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.SamplesTopic, cfg.KafkaGroupID)
		defer consumer.Close()

		go func() {
			if err := consumer.Consume(ctx, service.HandleEvent); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Fatal("Consumer error")
			}
		}()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging)
	router.HandleFunc("/health", healthCheck).Methods(http.MethodGet)
	profiler.NewHTTPHandler(service, cfg.MaxRequestBody).Register(router.PathPrefix("/api/v1").Subrouter())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":          cfg.ServerHost,
			"port":          cfg.ServerPort,
			"store":         cfg.StoreBackend,
			"kafka":         cfg.KafkaEnabled,
			"cache":         cfg.RedisEnabled,
			"catalog":       cat.Version(),
			"semantic_view": table.Version(),
		}).Info("Vendor Profiler Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Vendor Profiler Service...")
	cancel()

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Log.WithError(err).Error("Server forced to shutdown")
	}

	logger.Log.Info("Vendor Profiler Service stopped")
}

// openStore builds the configured backend and, when Redis is enabled, fronts it with the
// latest-version cache.
func openStore(cfg *config.Config) (configstore.Store, error) {
	var store configstore.Store
	switch cfg.StoreBackend {
	case "postgres":
		db, err := database.GetPostgres(cfg)
		if err != nil {
			return nil, err
		}
		gs := configstore.NewGormStore(db)
		if err := gs.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrating configuration tables: %w", err)
		}
		store = gs
	default:
		fs, err := configstore.NewFileStore(cfg.StoreDir)
		if err != nil {
			return nil, err
		}
		store = fs
	}

	if cfg.RedisEnabled {
		store = configstore.NewCachedStore(store, configstore.NewRedisCache(database.GetRedis(cfg)), cfg.CacheTTL)
	}
	return store, nil
}

// healthCheck reports degraded when an opened store backend stops answering pings.
func healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"postgres": "ok", "redis": "ok"}
	status, code := "healthy", http.StatusOK
	if err := database.PingPostgres(ctx); err != nil {
		checks["postgres"] = err.Error()
		status, code = "degraded", http.StatusServiceUnavailable
	}
	if err := database.PingRedis(ctx); err != nil {
		// The cache falls through to the store, so Redis alone does not fail the check.
		checks["redis"] = err.Error()
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{"status": status, "checks": checks})
}
