/**
 * @description
 * This is the main entry point for the rewards-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the leaderboard client, the job queue, the payout
 * providers, the weekly scheduler, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Leaderboard reads and job dedupe keys.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/leaderboard, pkg/payout, pkg/queue: Service collaborators.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/blockquiz/rewards-service/internal/api"
	"github.com/blockquiz/rewards-service/internal/app"
	"github.com/blockquiz/rewards-service/internal/config"
	"github.com/blockquiz/rewards-service/internal/domain"
	"github.com/blockquiz/rewards-service/internal/store"
	"github.com/blockquiz/rewards-service/pkg/leaderboard"
	"github.com/blockquiz/rewards-service/pkg/payout"
	"github.com/blockquiz/rewards-service/pkg/queue"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if cfg.InternalAPIKey == "" {
		log.Println("level=warn component=bootstrap msg=\"internal api key not configured; admin endpoints are unauthenticated\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting rewards-service\" port=%s payout_mode=%s", cfg.ServerPort, cfg.PayoutMode)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Connect to Redis for leaderboard reads and job dedupe keys. The
	// leaderboard is required; a service that cannot see the rankings
	// cannot close rounds.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; round close and job dedupe disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"redis url parse failed\" err=%v", parseErr)
		}
		redisClient = redis.NewClient(redisOptions)
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelPing()
		if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"redis ping failed\" err=%v", pingErr)
		}
		defer redisClient.Close()
		log.Println("level=info component=bootstrap msg=\"redis connected\"")
	}

	var ranking app.RankingStore
	var dedupe *queue.DedupeStore
	if redisClient != nil {
		ranking = leaderboard.NewClient(redisClient, cfg.LeaderboardKeyPrefix)
		dedupe = queue.NewDedupeStore(redisClient, "rewards:jobs", time.Duration(cfg.DedupeWindowMinutes)*time.Minute)
	}

	// Initialize the job queue. A missing or failed queue degrades the
	// service to inline dispatch rather than preventing startup.
	var producer *queue.Producer
	if cfg.QueueEnabled {
		producer, err = queue.NewProducer(cfg.RabbitMQURL, cfg.JobExchange, dedupe)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"queue producer unavailable; dispatch runs inline\" err=%v", err)
			producer = nil
		} else {
			defer producer.Close()
			log.Println("level=info component=bootstrap msg=\"queue producer connected\"")
		}
	} else {
		log.Println("level=info component=bootstrap msg=\"queue disabled; dispatch runs inline\" env=QUEUE_ENABLED")
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	payoutConfig := payout.Config{
		CustodialAPIBaseURL:  cfg.CustodialAPIBaseURL,
		CustodialAPIKey:      cfg.CustodialAPIKey,
		CustodialWalletID:    cfg.CustodialWalletID,
		CustodialEntityKey:   cfg.CustodialEntityKey,
		CustodialBlockchain:  cfg.CustodialBlockchain,
		CustodialUSDCAddress: cfg.CustodialUSDCAddress,
		ChainRPCURL:          cfg.ChainRPCURL,
		ChainID:              cfg.ChainID,
		DistributorKeyHex:    cfg.DistributorPrivateKey,
		OnchainUSDCAddress:   cfg.OnchainUSDCAddress,
	}

	// Initialize the core application service with its dependencies.
	var jobQueue app.JobQueue
	if producer != nil {
		jobQueue = producer
	}
	rewardService := app.NewService(
		repository,
		ranking,
		jobQueue,
		func(mode domain.PayoutMode) (payout.Provider, error) {
			return payout.New(mode, payoutConfig)
		},
		app.Settings{
			Token:          domain.RewardToken(cfg.RewardToken),
			TotalPoolUnits: cfg.RewardTotalPoolUnits,
			Policy:         domain.AllocationPolicy(cfg.RewardPolicy),
			TopN:           cfg.RewardTopN,
			DefaultMode:    domain.NormalizeMode(cfg.PayoutMode),
			MaxAttempts:    cfg.DispatchMaxAttempts,
			Backoff:        time.Duration(cfg.DispatchBackoffSec) * time.Second,
			JobQueueName:   cfg.PayoutJobQueue,
			WeeklySchedule: cfg.WeeklyCloseSchedule,
		},
	)

	// Start the job consumer when the queue is in use.
	if producer != nil {
		consumer, err := queue.NewConsumer(cfg.RabbitMQURL, dedupe)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"queue consumer init failed\" err=%v", err)
		}
		defer consumer.Close()

		handlers := map[string]queue.Handler{
			app.JobDispatchPeriod: rewardService.HandleDispatchPeriod,
			app.JobSendAllocation: rewardService.HandleSendAllocation,
		}
		if err := consumer.Consume(cfg.JobExchange, cfg.PayoutJobQueue, cfg.WorkerConcurrency, handlers); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"queue consumer start failed\" err=%v", err)
		}
		log.Printf("level=info component=bootstrap msg=\"payout workers started\" queue=%s concurrency=%d", cfg.PayoutJobQueue, cfg.WorkerConcurrency)
	}

	// Start the weekly close scheduler. It needs the leaderboard, so it is
	// skipped when Redis is unavailable.
	if ranking != nil {
		scheduler := app.NewScheduler(rewardService, cfg.WeeklyCloseSchedule)
		if err := scheduler.Start(); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"scheduler start failed\" err=%v", err)
		}
		defer scheduler.Stop()
	}

	// Initialize the API handlers and router.
	handlers := api.NewHandler(rewardService)
	router := api.RewardRoutes(handlers, cfg.InternalAPIKey)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
