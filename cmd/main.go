package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tungvs/charity-delivery/internal/cache"
	"github.com/tungvs/charity-delivery/internal/config"
	"github.com/tungvs/charity-delivery/internal/db"
	"github.com/tungvs/charity-delivery/internal/events"
	"github.com/tungvs/charity-delivery/internal/kafka"
	"github.com/tungvs/charity-delivery/internal/logger"
	"github.com/tungvs/charity-delivery/internal/repository/postgresql"
	"github.com/tungvs/charity-delivery/internal/routing"
	"github.com/tungvs/charity-delivery/internal/server"
	"github.com/tungvs/charity-delivery/internal/service/delivery"
	"github.com/tungvs/charity-delivery/internal/service/route"
	"github.com/tungvs/charity-delivery/internal/service/stock"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	_ = godotenv.Load()
	log := logger.New()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	database, err := db.NewDb(ctx)
	if err != nil {
		log.Fatal("database init failed", zap.Error(err))
	}
	defer database.GetPool().Close()

	requestRepo := postgresql.NewDeliveryRequestRepo(database)
	routeRepo := postgresql.NewScheduledRouteRepo(database)
	stockRepo := postgresql.NewStockRepo(database)
	branchRepo := postgresql.NewBranchRepo(database)
	userRepo := postgresql.NewUserRepo(database)
	outboxRepo := postgresql.NewOutboxTaskRepo()

	branchCache := cache.NewBranchCache(branchRepo, log)
	if err := branchCache.LoadInitialData(ctx); err != nil {
		log.Fatal("branch cache load failed", zap.Error(err))
	}

	provider := buildProvider(cfg, log)
	emitter := events.NewEmitter(outboxRepo)

	stockSvc := stock.NewService(database, stockRepo, log)
	deliverySvc := delivery.NewService(database, requestRepo, routeRepo, emitter, cfg.Expiry, log)
	routeSvc := route.NewService(database, requestRepo, routeRepo, branchCache, userRepo, stockSvc, provider, emitter, cfg, log)

	producer := buildProducer(log)
	publisher := kafka.NewPublisher(database, outboxRepo, producer, kafka.PublisherConfig{
		PollInterval: 2 * time.Second,
		BatchSize:    20,
		MaxAttempts:  5,
	}, log)
	go publisher.Run(ctx)

	go runSweeps(ctx, deliverySvc, routeSvc, log)

	srv := server.New(deliverySvc, routeSvc, stockSvc, log)
	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "9000"
	}
	if err := srv.Run(ctx, port); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}

	publisher.Shutdown()
	log.Info("stopped")
}

// buildProvider selects the geo-routing backend: ORS when an API key is
// configured, the deterministic offline provider otherwise. A configured
// redis instance adds a leg cache in front of either.
func buildProvider(cfg config.Config, log *zap.Logger) routing.Provider {
	var provider routing.Provider
	if key := os.Getenv("ORS_API_KEY"); key != "" {
		ors, err := routing.NewORSProvider(key, time.Duration(cfg.Routing.TimeoutSeconds)*time.Second)
		if err != nil {
			log.Fatal("ors provider init failed", zap.Error(err))
		}
		provider = ors
		log.Info("using openrouteservice routing provider")
	} else {
		provider = routing.NewOfflineProvider()
		log.Warn("no ORS_API_KEY set, using offline routing provider")
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		provider = routing.NewCachedProvider(provider, client, 24*time.Hour, log)
		log.Info("routing leg cache enabled", zap.String("redis", addr))
	}
	return provider
}

func buildProducer(log *zap.Logger) kafka.Producer {
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		log.Warn("no KAFKA_BROKERS set, using console producer")
		return kafka.NewConsoleProducer(log)
	}
	return kafka.NewWriterProducer(strings.Split(brokers, ","))
}

// runSweeps drives the periodic maintenance: the stale route deadline sweep
// and the optional pending request expiry.
func runSweeps(ctx context.Context, deliverySvc *delivery.Service, routeSvc *route.Service, log *zap.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := routeSvc.CancelStale(ctx); err != nil {
				log.Error("stale route sweep failed", zap.Error(err))
			}
			if _, err := deliverySvc.ExpireStale(ctx); err != nil {
				log.Error("request expiry sweep failed", zap.Error(err))
			}
		}
	}
}
