package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/payrail/orchestrator/internal/callback"
	"github.com/payrail/orchestrator/internal/config"
	"github.com/payrail/orchestrator/internal/events"
	"github.com/payrail/orchestrator/internal/handler"
	"github.com/payrail/orchestrator/internal/lookup"
	"github.com/payrail/orchestrator/internal/metrics"
	"github.com/payrail/orchestrator/internal/orchestrator"
	"github.com/payrail/orchestrator/internal/recovery"
	"github.com/payrail/orchestrator/internal/repository"
	"github.com/payrail/orchestrator/internal/resolver"
	"github.com/payrail/orchestrator/internal/saga"
	"github.com/payrail/orchestrator/internal/tenant"
	"github.com/payrail/orchestrator/pkg/health"
	"github.com/payrail/orchestrator/pkg/logger"
	"github.com/payrail/orchestrator/pkg/streams"
	"github.com/payrail/orchestrator/pkg/tracing"
)

func main() {
	cfg := config.Load()
	log.Printf("Starting %s...", cfg.ServiceName)

	appLog := logger.New(cfg.ServiceName, os.Stdout)
	metrics.Init()

	shutdownTracing, err := tracing.Init(tracing.Config{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.TracingEndpoint,
		Enabled:     cfg.TracingEnabled,
		SampleRate:  cfg.TraceSampleRate,
	})
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	dbPingCtx, dbPingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dbPingCancel()
	if err := db.PingContext(dbPingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Printf("Connected to PostgreSQL")

	if cfg.DBEnsureSchema {
		schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := repository.EnsureSchema(schemaCtx, db); err != nil {
			schemaCancel()
			log.Fatalf("Failed to ensure schema: %v", err)
		}
		schemaCancel()
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     100,
		MinIdleConns: 10,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisPingCtx, redisPingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisPingCancel()
	if err := redisClient.Ping(redisPingCtx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	log.Printf("Connected to Redis")

	// Wiring
	sagaRepo := repository.NewSagaRepository(db)
	eventRepo := repository.NewEventRepository(db)

	streamClient := streams.NewClient(redisClient)
	eventSvc := events.NewService(eventRepo, streamClient, cfg.EventStream, appLog)

	registry := saga.NewRegistry()
	saga.RegisterBuiltins(registry)

	serviceTable := resolver.ParseTable(cfg.ServiceTable)
	if len(serviceTable) == 0 {
		log.Fatalf("SERVICE_TABLE resolved to an empty service table")
	}

	executor := orchestrator.NewExecutor(resolver.NewStatic(serviceTable), cfg.StepCallTimeout)
	orch := orchestrator.New(sagaRepo, registry, executor, eventSvc, appLog)
	orch.SetTenantResolver(tenant.NewCache(tenant.NewDBStore(db), redisClient, cfg.TenantCacheTTL))

	lookupSvc := lookup.NewService(sagaRepo)

	// Callback stream consumer
	var callbackLoop health.LoopMonitor
	callbackLoop.Tick()
	consumer := streams.NewConsumer(streamClient, cfg.CallbackStream, cfg.ConsumerGroup, cfg.ConsumerName,
		callback.NewHandler(orch, appLog), nil)
	consumer.Monitor(callbackLoop.Tick, callbackLoop.SetError)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				callbackLoop.SetError(fmt.Errorf("panic: %v", r))
				log.Printf("callback consumer panic: %v\n%s", r, string(debug.Stack()))
			}
		}()
		if err := consumer.Start(ctx); err != nil && ctx.Err() == nil {
			callbackLoop.SetError(err)
			log.Printf("callback consumer stopped: %v", err)
		}
	}()

	// Recovery sweeper
	sweeper := recovery.NewSweeper(sagaRepo, orch, streamClient, cfg.EventStream, recovery.Options{
		StuckAfter:   cfg.StuckAfter,
		Retention:    cfg.Retention,
		StreamMaxLen: cfg.StreamMaxLen,
		SweepSpec:    cfg.SweepSpec,
		PurgeSpec:    cfg.PurgeSpec,
	}, appLog)
	if err := sweeper.Start(ctx); err != nil {
		log.Fatalf("Failed to start recovery sweeper: %v", err)
	}
	defer sweeper.Stop()

	// Health
	h := health.New()
	h.Register(health.PostgresChecker{DB: db})
	h.Register(health.PingChecker{DepName: "redis", Target: redisPinger{redisClient}})
	h.Register(health.LoopChecker{DepName: "callbackConsumer", Loop: &callbackLoop, MaxAge: 45 * time.Second})
	h.SetReady(true)

	// HTTP server
	api := handler.New(orch, lookupSvc, eventSvc, registry, h, appLog, cfg.MaxBodyBytes)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Printf("HTTP server listening on :%d", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	h.SetReady(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}
	log.Println("Shutdown complete")
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
