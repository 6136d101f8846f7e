package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/continuumhq/continuum/api/handlers"
	"github.com/continuumhq/continuum/config"
	"github.com/continuumhq/continuum/events"
	"github.com/continuumhq/continuum/extract"
	"github.com/continuumhq/continuum/gitstate"
	"github.com/continuumhq/continuum/internal/cache"
	"github.com/continuumhq/continuum/internal/database"
	"github.com/continuumhq/continuum/internal/metrics"
	"github.com/continuumhq/continuum/internal/server"
	"github.com/continuumhq/continuum/internal/telemetry"
	"github.com/continuumhq/continuum/llm"
	"github.com/continuumhq/continuum/snapshot"
	"github.com/continuumhq/continuum/workflow"
)

// Server wires the engine together: database, snapshot store, event
// buses, the workflow registry, and the HTTP surface.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	collector   *metrics.Collector
	pool        *database.PoolManager
	redisClient *redis.Client
	mongoClient *mongo.Client
	memoryBus   *events.MemoryBus
	registry    *workflow.Registry
	httpManager *server.Manager
}

// NewServer creates an unstarted server.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
	}
}

// Start builds every component and begins serving. On error the caller
// exits; partially constructed resources are released by Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.collector = metrics.NewCollector("continuum", s.logger)

	db, err := database.Open(s.cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	s.pool, err = database.NewPoolManager(db, s.cfg.Database.Pool, s.logger)
	if err != nil {
		return fmt.Errorf("configure pool: %w", err)
	}

	store := workflow.NewStore(s.pool.DB(), s.logger)
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("migrate workflows: %w", err)
	}

	snapshots, err := s.buildSnapshotStore(ctx)
	if err != nil {
		return err
	}
	if s.cfg.Snapshots.CacheEnabled {
		client, redisErr := s.ensureRedis()
		if redisErr != nil {
			return redisErr
		}
		manager := cache.NewManagerWithClient(client, cache.Config{
			DefaultTTL: s.cfg.Snapshots.CacheTTL,
		}, s.logger)
		snapshots = snapshot.NewCachedStore(snapshots, manager, s.cfg.Snapshots.CacheTTL, s.logger)
	}

	bus, err := s.buildEventBus()
	if err != nil {
		return err
	}

	var inspector workflow.GitInspector
	if s.cfg.Git.RepoPath != "" {
		inspector = gitstate.NewInspector(s.cfg.Git.RepoPath, s.cfg.Git.CommandTimeout, s.logger)
	}

	var extractor workflow.Extractor
	if s.cfg.LLM.APIKey != "" {
		extractor = s.buildExtractor()
	} else {
		s.logger.Warn("no LLM API key configured, snapshots will degrade to raw history")
	}

	s.registry = workflow.NewRegistry(workflow.Deps{
		Store:           store,
		Snapshots:       snapshots,
		Inspector:       inspector,
		Extractor:       extractor,
		Compiler:        snapshot.NewCompiler(s.cfg.Compiler),
		Bus:             bus,
		Metrics:         s.collector,
		Logger:          s.logger,
		BoundaryTimeout: s.cfg.Pause.BoundaryTimeout,
		Capacity:        s.cfg.Capacity,
	})

	recovered, err := s.registry.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover workflows: %w", err)
	}
	if recovered > 0 {
		s.logger.Info("recovered persisted workflows", zap.Int("count", recovered))
	}

	return s.startHTTPServer(snapshots)
}

func (s *Server) buildSnapshotStore(ctx context.Context) (snapshot.Store, error) {
	if s.cfg.Snapshots.Backend != "mongo" {
		gs := snapshot.NewGormStore(s.pool.DB(), s.logger)
		if err := gs.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("migrate snapshots: %w", err)
		}
		return gs, nil
	}

	client, err := mongo.Connect(mongooptions.Client().ApplyURI(s.cfg.Snapshots.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	s.mongoClient = client
	ms := snapshot.NewMongoStore(client.Database(s.cfg.Snapshots.MongoDatabase), s.logger)
	if err := ms.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensure snapshot indexes: %w", err)
	}
	return ms, nil
}

// ensureRedis connects the shared Redis client on first use. The event
// tee and the snapshot cache both ride the same connection pool.
func (s *Server) ensureRedis() (*redis.Client, error) {
	if s.redisClient != nil {
		return s.redisClient, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         s.cfg.Redis.Addr,
		Password:     s.cfg.Redis.Password,
		DB:           s.cfg.Redis.DB,
		PoolSize:     s.cfg.Redis.PoolSize,
		MinIdleConns: s.cfg.Redis.MinIdleConns,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	s.redisClient = client
	return client, nil
}

// buildEventBus always creates the in-process bus; the websocket stream
// subscribes to it. Redis publication is layered on top with a tee.
func (s *Server) buildEventBus() (events.Bus, error) {
	s.memoryBus = events.NewMemoryBus(s.logger)
	if !s.cfg.Events.RedisEnabled {
		return s.memoryBus, nil
	}

	client, err := s.ensureRedis()
	if err != nil {
		return nil, err
	}
	redisBus := events.NewRedisBus(client, s.cfg.Events.Channel, s.logger)
	return events.Tee{s.memoryBus, redisBus}, nil
}

func (s *Server) buildExtractor() workflow.Extractor {
	generator := llm.NewOpenAIGenerator(llm.OpenAIConfig{
		APIKey:  s.cfg.LLM.APIKey,
		BaseURL: s.cfg.LLM.BaseURL,
		Model:   s.cfg.LLM.Model,
		Timeout: s.cfg.LLM.Timeout,
	}, s.logger)

	resilientCfg := llm.DefaultResilientConfig()
	if s.cfg.LLM.Timeout > 0 {
		resilientCfg.CallTimeout = s.cfg.LLM.Timeout
	}
	if s.cfg.LLM.MaxRetries > 0 {
		resilientCfg.MaxRetries = s.cfg.LLM.MaxRetries
	}
	resilientCfg.RequestsPerSecond = s.cfg.LLM.RequestsPerSecond

	resilient := llm.NewResilientGenerator(generator, resilientCfg, s.logger)
	return extract.NewExtractor(resilient, s.cfg.Extractor, s.logger)
}

func (s *Server) startHTTPServer(snapshots snapshot.Store) error {
	workflowHandler := handlers.NewWorkflowHandler(s.registry, s.logger)
	snapshotHandler := handlers.NewSnapshotHandler(snapshots, s.logger)
	eventsHandler := handlers.NewEventsHandler(s.memoryBus, s.logger)

	healthHandler := handlers.NewHealthHandler(s.logger)
	healthHandler.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	if s.redisClient != nil {
		healthHandler.RegisterCheck(handlers.NewPingCheck("redis", func(ctx context.Context) error {
			return s.redisClient.Ping(ctx).Err()
		}))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /workflows", workflowHandler.HandleCreate)
	mux.HandleFunc("GET /workflows", workflowHandler.HandleList)
	mux.HandleFunc("GET /workflows/{id}", workflowHandler.HandleGet)
	mux.HandleFunc("POST /workflows/{id}/start", workflowHandler.HandleStart)
	mux.HandleFunc("POST /workflows/{id}/pause", workflowHandler.HandlePause)
	mux.HandleFunc("POST /workflows/{id}/resume", workflowHandler.HandleResume)
	mux.HandleFunc("POST /workflows/{id}/cancel", workflowHandler.HandleCancel)
	mux.HandleFunc("POST /workflows/{id}/tasks/{task_id}/start", workflowHandler.HandleBeginTask)
	mux.HandleFunc("POST /workflows/{id}/tasks/{task_id}/finish", workflowHandler.HandleEndTask)

	mux.HandleFunc("GET /workflows/{id}/snapshots", snapshotHandler.HandleList)
	mux.HandleFunc("GET /workflows/{id}/snapshots/latest", snapshotHandler.HandleLatest)
	mux.HandleFunc("GET /workflows/{id}/snapshots/{snapshot_id}", snapshotHandler.HandleGet)
	mux.HandleFunc("GET /workflows/{id}/snapshots/{snapshot_id}/decisions", snapshotHandler.HandleDecisions)
	mux.HandleFunc("GET /workflows/{id}/snapshots/{snapshot_id}/errors", snapshotHandler.HandleErrors)

	mux.HandleFunc("GET /events", eventsHandler.HandleStream)

	mux.HandleFunc("GET /healthz", healthHandler.HandleHealth)
	mux.HandleFunc("GET /readyz", healthHandler.HandleReady)
	mux.HandleFunc("GET /version", healthHandler.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("GET /metrics", promhttp.Handler())

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Telemetry.Enabled {
		middlewares = append(middlewares, OTelTracing())
	}
	if s.cfg.RateLimit.Enabled {
		middlewares = append(middlewares, RateLimiter(s.cfg.RateLimit, s.logger))
	}
	if s.cfg.Auth.Enabled {
		middlewares = append(middlewares, JWTAuth(s.cfg.Auth, s.logger))
	}
	handler := Chain(mux, middlewares...)

	s.httpManager = server.NewManager(handler, s.cfg.Server, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	s.logger.Info("http server listening", zap.String("addr", s.cfg.Server.Addr))
	return nil
}

// WaitForShutdown blocks until the process receives a termination
// signal, then releases every resource Start acquired.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
	s.Shutdown()
}

// Shutdown releases non-HTTP resources. The HTTP manager drains itself
// before WaitForShutdown returns.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if s.mongoClient != nil {
		if err := s.mongoClient.Disconnect(ctx); err != nil {
			s.logger.Warn("mongodb disconnect failed", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Warn("database close failed", zap.Error(err))
		}
	}
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}
