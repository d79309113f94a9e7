package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vogiaan1904/runbattle/config"
	httpDelivery "github.com/vogiaan1904/runbattle/internal/delivery/http"
	"github.com/vogiaan1904/runbattle/internal/delivery/kafka/consumer"
	"github.com/vogiaan1904/runbattle/internal/delivery/kafka/producer"
	"github.com/vogiaan1904/runbattle/internal/infra/postgres"
	"github.com/vogiaan1904/runbattle/internal/infra/redis"
	"github.com/vogiaan1904/runbattle/internal/relay"
	pgRepo "github.com/vogiaan1904/runbattle/internal/repository/postgres"
	repo "github.com/vogiaan1904/runbattle/internal/repository/redis"
	"github.com/vogiaan1904/runbattle/internal/service"
	pkgGrpc "github.com/vogiaan1904/runbattle/pkg/grpc"
	pkgKafka "github.com/vogiaan1904/runbattle/pkg/kafka"
	pkgLog "github.com/vogiaan1904/runbattle/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	l := pkgLog.InitializeZapLogger(pkgLog.ZapConfig{
		Level:    cfg.Log.Level,
		Mode:     cfg.Log.Mode,
		Encoding: cfg.Log.Encoding,
		Service:  "battle-service",
	})

	redisCli, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		l.Fatalf(ctx, "Failed to connect to Redis: %v", err)
	}
	defer redis.Disconnect(redisCli)

	pgPool, err := postgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		l.Fatalf(ctx, "Failed to connect to Postgres: %v", err)
	}
	defer postgres.Disconnect(pgPool)

	if err := pgRepo.Migrate(ctx, pgPool); err != nil {
		l.Fatalf(ctx, "Failed to migrate Postgres schema: %v", err)
	}

	battleRepo := pgRepo.NewBattleRepository(pgPool, l)
	liveRepo := repo.NewRedisLiveRepository(redisCli, l)
	gpsRepo := repo.NewRedisGPSRepository(redisCli, l)
	qRepo := repo.NewRedisQueueRepository(redisCli, l)

	// Relay: every instance publishes to and delivers from one channel
	bus := relay.NewRedisBus(redisCli, relay.DefaultChannel, l)
	hub := relay.NewHub()
	pub := relay.NewPublisher(bus, l)
	go func() {
		if err := hub.Run(ctx, bus); err != nil && !errors.Is(err, context.Canceled) {
			l.Errorf(ctx, "Relay hub stopped: %v", err)
		}
	}()

	// Battle lifecycle producer, optional
	var prod producer.Producer
	if cfg.Kafka.Enabled {
		kSyncProd, err := pkgKafka.NewProducer(cfg.Kafka)
		if err != nil {
			l.Fatalf(ctx, "Failed to initialize Kafka producer: %v", err)
		}
		prod = producer.NewProducer(kSyncProd, l)
		defer prod.Close()
	}

	// Initialize gRpc Service Clients
	ratingCli, ratingClose, err := pkgGrpc.NewRatingClient(cfg.Microservice.Rating, cfg.Microservice.RatingTimeout)
	if err != nil {
		l.Fatalf(ctx, "Failed to initialize gRpc rating service client: %v", err)
	}
	defer ratingClose()

	// Initialize services
	trackerSvc := service.NewTrackerService(liveRepo, pub, cfg.Battle, l)
	summarizerSvc := service.NewSummarizerService(gpsRepo, pub, cfg.Battle, l)
	resultSvc := service.NewResultService(battleRepo, trackerSvc, cfg.Battle, l)
	readinessSvc := service.NewReadinessService(battleRepo, trackerSvc, summarizerSvc, resultSvc, pub, prod, service.NewTimeScheduler(), cfg.Battle, l)
	battleSvc := service.NewBattleService(battleRepo, readinessSvc, trackerSvc, summarizerSvc, resultSvc, ratingCli, cfg.Battle, l)
	mmSvc := service.NewMatchmakingService(qRepo, battleRepo, ratingCli, pub, cfg.Battle, cfg.Matchmaking, l)

	// Battle Consumer
	if cfg.Kafka.Enabled {
		kConsGr, err := pkgKafka.NewConsumer(cfg.Kafka)
		if err != nil {
			l.Fatalf(ctx, "Failed to initialize Kafka consumer: %v", err)
		}
		cons := consumer.NewConsumer(kConsGr, battleSvc, mmSvc, l)
		if err := cons.Start(ctx); err != nil {
			l.Fatalf(ctx, "Failed to start Kafka consumer: %v", err)
		}
		defer cons.Close()
	}

	// Match Processor
	var matchProcessor service.MatchProcessor
	if cfg.Matchmaking.ProcessorEnabled {
		strategy := service.ConsecutiveRatingStrategy{MaxSpread: cfg.Matchmaking.MaxRatingSpread}
		matchProcessor = service.NewMatchProcessor(mmSvc, battleSvc, strategy, l, cfg.Matchmaking)
		if err := matchProcessor.Start(ctx); err != nil {
			l.Fatalf(ctx, "Failed to start match processor: %v", err)
		}
	}

	// gRPC server, health only
	lnr, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRpcPort))
	if err != nil {
		l.Fatalf(ctx, "gRPC server failed to listen: %v", err)
	}

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	gRpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(gRpcSrv, healthSrv)

	go func() {
		l.Infof(ctx, "gRPC server is listening on port: %d", cfg.Server.GRpcPort)
		if err := gRpcSrv.Serve(lnr); err != nil {
			l.Fatalf(ctx, "Failed to serve gRPC: %v", err)
		}
	}()

	// http server
	h := httpDelivery.NewHTTPHandler(battleSvc, readinessSvc, mmSvc, hub, l)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		l.Infof(ctx, "HTTP server is listening on port: %d", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatalf(ctx, "Failed to serve HTTP: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info(ctx, "Server shutting down...")

	if matchProcessor != nil {
		if err := matchProcessor.Stop(); err != nil {
			l.Errorf(ctx, "Failed to stop match processor: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		l.Errorf(ctx, "HTTP server shutdown: %v", err)
	}

	healthSrv.Shutdown()
	cancel()
	time.Sleep(1 * time.Second)
	gRpcSrv.GracefulStop()

	l.Info(ctx, "Server exited")
}
