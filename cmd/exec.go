package cmd

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	pubnub "github.com/pubnub/go"

	"ticket-engine/config"
	"ticket-engine/internal/handlers"
	"ticket-engine/internal/services"
	"ticket-engine/internal/services/provider"
	"ticket-engine/monitoring"
	"ticket-engine/security"
	"ticket-engine/utils"
)

func Start() error {
	app := pocketbase.New()
	cfg := config.LoadConfig()

	// Redis backs the webhook idempotency guard, the sweep leader lock and
	// rate limiting. The engine still functions without it on a single
	// instance, so a connection failure downgrades instead of aborting.
	redisClient, err := utils.NewRedisClient(cfg.RedisURL)
	if err != nil {
		slog.Warn("redis unavailable, running degraded", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	notifier := buildNotifier(cfg)
	providers := buildProviders(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		db := app.DB()

		inventory := services.NewInventoryService(db)
		reservations := services.NewReservationService(db, inventory, redisClient, cfg.HoldTTL, cfg.SweepInterval)
		orders := services.NewOrderService(db, inventory, reservations, notifier)
		payments := services.NewPaymentService(orders, providers, redisClient)
		refunds := services.NewRefundService(db, providers, notifier, cfg.Currency)
		tickets := services.NewTicketService(db)

		orderHandler := handlers.NewOrderHandler(orders)
		paymentHandler := handlers.NewPaymentHandler(payments)
		refundHandler := handlers.NewRefundHandler(refunds, orders)
		ticketHandler := handlers.NewTicketHandler(tickets)

		limiter := security.NewRateLimiter(redisClient, int64(cfg.RateLimitRequests), cfg.RateLimitWindow)

		// Order endpoints
		e.Router.POST("/api/v1/orders", orderHandler.CreateOrder).BindFunc(limiter.Middleware("orders"))
		e.Router.GET("/api/v1/orders/{orderId}", orderHandler.GetOrder)
		e.Router.POST("/api/v1/orders/{orderId}/cancel", orderHandler.CancelOrder)
		e.Router.GET("/api/v1/orders/{orderId}/refunds", refundHandler.ListRefunds)

		// Payment endpoints
		e.Router.POST("/api/v1/payments/{provider}/confirm", paymentHandler.ConfirmWebhook)
		e.Router.POST("/api/v1/payments/confirm-cash", paymentHandler.ConfirmCash)

		// Refund endpoints
		e.Router.POST("/api/v1/refunds", refundHandler.RequestRefund).BindFunc(limiter.Middleware("refunds"))
		e.Router.POST("/api/v1/refunds/{refundId}/approve", refundHandler.ApproveRefund)
		e.Router.POST("/api/v1/refunds/{refundId}/process", refundHandler.ProcessRefund)
		e.Router.POST("/api/v1/refunds/force", refundHandler.ForceRefund)

		// Ticket endpoints
		e.Router.POST("/api/v1/tickets/{ticketId}/checkin", ticketHandler.CheckIn)
		e.Router.POST("/api/v1/tickets/{ticketId}/cancel", ticketHandler.CancelTicket)
		e.Router.GET("/api/v1/tickets", ticketHandler.ListMyTickets)

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if redisClient != nil {
				if err := utils.RedisHealthCheck(redisClient); err != nil {
					return e.JSON(503, map[string]string{
						"status": "unhealthy",
						"error":  err.Error(),
					})
				}
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		if err := startSweeper(ctx, reservations, cfg.SweepInterval); err != nil {
			return err
		}

		if cfg.EnableMetrics {
			monitoring.Serve(cfg.MetricsPort)
		}

		log.Println("Server routes registered")
		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

// startSweeper schedules the reservation expiry sweep. Every instance runs
// the scheduler; the Redis lock inside SweepExpired elects one sweeper per
// interval.
func startSweeper(ctx context.Context, reservations *services.ReservationService, interval time.Duration) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := reservations.SweepExpired(ctx); err != nil {
				slog.Error("reservation sweep failed", "error", err)
			}
		}),
	)
	if err != nil {
		return err
	}

	scheduler.Start()

	go func() {
		<-ctx.Done()
		if err := scheduler.Shutdown(); err != nil {
			slog.Error("sweep scheduler shutdown", "error", err)
		}
	}()

	return nil
}

func buildNotifier(cfg *config.Config) services.Notifier {
	if cfg.PubNubPublishKey == "" || cfg.PubNubSubscribeKey == "" {
		return services.NoopNotifier{}
	}

	pnConfig := pubnub.NewConfig()
	pnConfig.PublishKey = cfg.PubNubPublishKey
	pnConfig.SubscribeKey = cfg.PubNubSubscribeKey
	pnConfig.SecretKey = cfg.PubNubSecretKey

	return services.NewPubNubNotifier(pubnub.NewPubNub(pnConfig))
}

func buildProviders(cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register(provider.NewSandboxProvider(cfg.ProviderWebhookSecret))

	if cfg.ProviderBaseURL != "" {
		rest := provider.NewRESTProvider(&provider.RESTConfig{
			Name:          provider.Name(cfg.ProviderName),
			BaseURL:       cfg.ProviderBaseURL,
			APIKey:        cfg.ProviderAPIKey,
			WebhookSecret: cfg.ProviderWebhookSecret,
			Timeout:       cfg.ProviderTimeout,
		})
		registry.Register(rest)
		if err := registry.SetPrimary(rest.GetName()); err != nil {
			slog.Error("setting primary payment provider", "error", err)
		}
	}

	return registry
}

// handleShutdown handles graceful shutdown
func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutdown signal received, cleaning up...")
	cancel()
}
