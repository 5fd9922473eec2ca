package main

import (
	"context"
	"fmt"
	"log"

	"storefront-api/core"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	if cfg.JWTSecret == "" {
		log.Fatalf("JWT_SECRET must be set")
	}

	userRepo := core.NewPgUserRepository(db)

	if err := core.BootstrapAdmin(ctx, userRepo, cfg); err != nil {
		log.Fatalf("bootstrap admin failed: %v", err)
	}

	deps := core.Deps{
		Users:      userRepo,
		Categories: core.NewPgCategoryRepository(db),
		Products:   core.NewPgProductRepository(db),
		Orders:     core.NewPgOrderRepository(db),
		Auth:       core.NewRepositoryAuthService(userRepo),
		Queue:      core.NewRedisQueue(redisClient),
		Metrics:    core.NewMetricsService(redisClient),
		Payments:   core.NewHTTPPaymentClient(cfg.PaymentGatewayURL),
	}

	router := core.NewRouter(cfg, deps)

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("starting api server on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
