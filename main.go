package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-booking/internal/auth"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/api"
	bookingdb "ms-booking/internal/booking/db"
	bookingredis "ms-booking/internal/booking/redis"
	"ms-booking/internal/catalog"
	"ms-booking/internal/config"
	"ms-booking/internal/currency"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/notify"
	"ms-booking/internal/payment"
	handlers "ms-booking/internal/payment/handler"
	"ms-booking/internal/pricing"
	"ms-booking/internal/sse"
	"ms-booking/internal/utils"
	"ms-booking/internal/voucher"
	"ms-booking/internal/wallet"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *sql.DB {
	var (
		sqldb *sql.DB
		err   error
	)
	const maxRetries = 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN())
		if err == nil {
			if err = sqldb.Ping(); err == nil {
				break
			}
			sqldb.Close()
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)
	log.Info("DATABASE", fmt.Sprintf("PostgreSQL connection successful (%s:%s/%s)", cfg.Host, cfg.Port, cfg.Database))
	return sqldb
}

// connectRedis returns nil when Redis is down. The service then runs
// without admission locks or a rate cache.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *goredis.Client {
	client, err := bookingredis.Connect(ctx, cfg, log)
	if err != nil {
		log.Warn("REDIS", "Continuing without Redis: admission locks and rate cache disabled")
		return nil
	}
	return client
}

func buildNotifications(ctx context.Context, cfg *config.Config, emitter *sse.BookingEventEmitter, log *logger.Logger) (*notify.Dispatcher, func()) {
	var (
		notifiers []notify.Notifier
		closers   []func()
	)

	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) > 0 {
		topics := kafka.AllTopics(cfg.Kafka.Topics)
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		notifiers = append(notifiers, kafka.NewNotifier(producer, cfg.Kafka.Topics))
		closers = append(closers, func() { producer.Close() })

		// Every instance reads every event back so its own SSE clients see
		// bookings admitted elsewhere.
		group := fmt.Sprintf("%s-%s", cfg.Kafka.GroupID, uuid.New().String()[:8])
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, topics, group, log)
		go consumer.Start(ctx, emitter.Emit)
		closers = append(closers, func() { consumer.Close() })
		log.Info("KAFKA", fmt.Sprintf("Booking events published to %v, relayed to SSE via group %s", topics, group))
	} else {
		notifiers = append(notifiers, emitter)
		log.Warn("KAFKA", "Kafka disabled, SSE clients only see bookings made on this instance")
	}

	if cfg.RabbitMQ.Enabled && cfg.RabbitMQ.URL != "" {
		notifiers = append(notifiers, notify.NewEmailQueue(cfg.RabbitMQ.URL, cfg.RabbitMQ.EmailQueue))
		log.Info("RABBITMQ", fmt.Sprintf("Customer emails queued on %s", cfg.RabbitMQ.EmailQueue))
	}

	dispatcher := notify.NewDispatcher(log, notifiers...)
	return dispatcher, func() {
		dispatcher.Wait()
		for _, c := range closers {
			c()
		}
	}
}

// accessLog writes one API line per request once the handler returns.
func accessLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(ww.Status()), time.Since(start).String())
		})
	}
}

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(logger.Options{
		Dir:     cfg.Log.Dir,
		Service: cfg.Log.Service,
		Level:   cfg.Log.Level,
		Color:   cfg.Log.Color,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	log.Info("APP", "Starting Booking Service initialization")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqldb := connectPostgres(cfg.Database, log)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(sqldb, migrations.Options{Dir: cfg.Database.MigrationsDir, AutoMigrate: true}, log)
		if err := runner.Up(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	redisClient := connectRedis(ctx, cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// --- Pricing and payments ---
	var rates currency.RateSource
	if cfg.Rates.APIKey != "" {
		rates = currency.NewHTTPSource(cfg.Rates.BaseURL, cfg.Rates.APIKey, cfg.Rates.Timeout)
		if redisClient != nil {
			rates = currency.NewRedisCache(redisClient, rates, cfg.Rates.CacheTTL, log)
		}
	} else {
		log.Warn("CONFIG", "RATES_API_KEY not set, cross-currency bookings will be refused")
	}

	stripeProvider := payment.NewStripeProvider(payment.StripeOptions{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Currency:      cfg.Stripe.Currency,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
	}, log)
	walletProvider := payment.NewWalletProvider(payment.WalletOptions{
		BaseURL:        cfg.Wallet.BaseURL,
		APIKey:         cfg.Wallet.APIKey,
		ReceiverWallet: cfg.Wallet.ReceiverWallet,
		Currency:       cfg.Wallet.Currency,
		SuccessURL:     cfg.Wallet.SuccessURL,
		FailURL:        cfg.Wallet.FailURL,
		Timeout:        cfg.Wallet.Timeout,
	}, log)

	// --- Notifications ---
	emitter := sse.NewBookingEventEmitter()
	dispatcher, closeNotifications := buildNotifications(ctx, cfg, emitter, log)
	defer closeNotifications()

	// --- Services ---
	store := bookingdb.New(bunDB)
	deps := booking.Deps{
		Store:     store,
		Resolver:  pricing.NewResolver(cfg.Pricing.Location()),
		Converter: currency.NewConverter(rates),
		Providers: payment.NewRegistry(stripeProvider, walletProvider),
		Events:    dispatcher,
		Logger:    log,
	}
	if redisClient != nil && cfg.Admission.LockEnabled {
		deps.Lock = bookingredis.NewRedis(redisClient, cfg.Admission.LockTTL, cfg.Admission.LockWait)
	}
	bookingService := booking.NewService(deps)

	catalogService := catalog.NewService(catalog.NewDB(bunDB), log)
	walletService := wallet.NewService(wallet.NewDB(bunDB), catalogService, cfg.Wallet.Currency, log)

	if cfg.Voucher.Secret == "" {
		log.Warn("CONFIG", "VOUCHER_SECRET not set, vouchers cannot be issued")
	}
	bookingHandler := api.NewHandler(api.Deps{
		Service:  bookingService,
		Vouchers: voucher.NewIssuer(cfg.Voucher.Secret, cfg.Voucher.Issuer),
		Ledger:   store,
		Agencies: catalogService,
		Events:   emitter,
		Logger:   log,
	})
	catalogHandler := catalog.NewHandler(catalogService, log)
	walletHandler := wallet.NewHandler(walletService, log)

	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Auth.IssuerURL, cfg.Auth.ClientID)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("OIDC discovery failed for %s: %v", cfg.Auth.IssuerURL, err))
	}

	// --- Payment callbacks (gin) ---
	gin.SetMode(gin.ReleaseMode)
	paymentRouter := gin.New()
	paymentRouter.Use(gin.Recovery())
	handlers.NewPaymentHandler(bookingService, stripeProvider, log).Register(paymentRouter)

	// --- Router ---
	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Mount("/payments", paymentRouter)

	r.Route("/api", func(r chi.Router) {
		r.Route("/catalog", catalogHandler.PublicRoutes)
		bookingHandler.PublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(verifier, log))
			bookingHandler.Routes(r)
			r.Route("/agency", catalogHandler.AgencyRoutes)
			r.Route("/wallet", walletHandler.AgencyRoutes)

			r.Route("/admin", func(r chi.Router) {
				r.Use(auth.RequireRole(cfg.Auth.AdminRole))
				r.Route("/catalog", catalogHandler.AdminRoutes)
				r.Route("/wallet", walletHandler.AdminRoutes)
			})
		})
	})
	log.Info("ROUTER", "Routes registered under /api and /payments")

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     r,
		ReadTimeout: cfg.Server.ReadTimeout,
		// No WriteTimeout: SSE responses stay open.
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "Booking Service shutdown complete")
	}
}
