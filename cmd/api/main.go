package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/lucasferrand/mangetout-backend/api/routes"
	"github.com/lucasferrand/mangetout-backend/internal/admin"
	"github.com/lucasferrand/mangetout-backend/internal/couriers"
	"github.com/lucasferrand/mangetout-backend/internal/fees"
	"github.com/lucasferrand/mangetout-backend/internal/orders"
	"github.com/lucasferrand/mangetout-backend/internal/refunds"
	"github.com/lucasferrand/mangetout-backend/internal/restaurants"
	"github.com/lucasferrand/mangetout-backend/internal/settlement"
	"github.com/lucasferrand/mangetout-backend/pkg/config"
	"github.com/lucasferrand/mangetout-backend/pkg/db"
	"github.com/lucasferrand/mangetout-backend/pkg/geocode"
	"github.com/lucasferrand/mangetout-backend/pkg/logger"
	"github.com/lucasferrand/mangetout-backend/pkg/migrate"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox"
	"github.com/lucasferrand/mangetout-backend/pkg/payments"
	"github.com/lucasferrand/mangetout-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	geocodeClient, err := geocode.NewClient(cfg.Geocode.APIKey,
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithHTTPClient(&http.Client{Timeout: cfg.Geocode.Timeout}),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create geocode client", err)
		os.Exit(1)
	}

	paymentsClient, err := payments.NewClient(cfg.Payments.APIKey,
		payments.WithBaseURL(cfg.Payments.BaseURL),
		payments.WithHTTPClient(&http.Client{Timeout: cfg.Payments.Timeout}),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments client", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	restaurantsRepo := restaurants.NewRepository(dbClient.DB())
	restaurantsService, err := restaurants.NewService(restaurantsRepo, cfg.Platform.DefaultCommissionRate)
	if err != nil {
		logg.Error(context.Background(), "failed to create restaurants service", err)
		os.Exit(1)
	}

	couriersRepo := couriers.NewRepository(dbClient.DB())
	couriersService, err := couriers.NewService(couriersRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create couriers service", err)
		os.Exit(1)
	}

	refundsService, err := refunds.NewService(refunds.Deps{
		Repo:    refunds.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Outbox:  outboxService,
		Gateway: paymentsClient,
		Window:  cfg.Platform.RefundWindow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refunds service", err)
		os.Exit(1)
	}

	feeSchedule := fees.ScheduleFromConfig(cfg.Fees)

	ordersService, err := orders.NewService(orders.Deps{
		Repo:         orders.NewRepository(dbClient.DB()),
		Tx:           dbClient,
		Outbox:       outboxService,
		Restaurants:  restaurantsRepo,
		Couriers:     couriersRepo,
		Refunds:      refundsService,
		Schedule:     feeSchedule,
		DeliveryRate: cfg.Platform.DeliveryCommissionRate,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.Deps{
		Repo:    settlement.NewRepository(dbClient.DB()),
		Tx:      dbClient,
		Outbox:  outboxService,
		Gateway: paymentsClient,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	adminService, err := admin.NewService(admin.Deps{
		Repo:       admin.NewRepository(dbClient.DB()),
		Tx:         dbClient,
		Outbox:     outboxService,
		Settlement: settlementService,
		Refunds:    refundsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create admin service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			feeSchedule,
			geocodeClient,
			restaurantsService,
			couriersService,
			ordersService,
			refundsService,
			settlementService,
			adminService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
