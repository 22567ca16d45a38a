package main

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"harbormaster/internal/accounts"
	"harbormaster/internal/checkout"
	"harbormaster/internal/gate"
	"harbormaster/internal/handlers"
	"harbormaster/internal/kv"
	"harbormaster/internal/middleware"
	"harbormaster/pkg/auth"
	"harbormaster/pkg/config"
	"harbormaster/pkg/database"
	"harbormaster/pkg/logging"
	httpmw "harbormaster/pkg/middleware"
	"harbormaster/pkg/monitoring"
	"harbormaster/pkg/redis"
	"harbormaster/pkg/server"
	"harbormaster/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("harbormaster")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Harbormaster (API gatekeeper)")

	redisAddrs := config.GetEnv("REDIS_ADDRS", "")
	redisURL := config.GetEnv("REDIS_URL", "")
	dbURL := config.GetEnv("DATABASE_URL", "")
	paymentLink := config.GetEnv("PAYMENT_LINK_URL", "")
	stripeKey := config.GetEnv("STRIPE_SECRET_KEY", "")

	// Key-value store: Redis when configured, in-process memory otherwise.
	// REDIS_ADDRS covers every topology (single node, Sentinel with
	// REDIS_MASTER_NAME, Cluster seeds); REDIS_URL remains for single-node
	// deployments. The memory store serves a single instance and loses
	// state on restart.
	var store kv.Store
	var redisClient goredis.UniversalClient
	switch {
	case redisAddrs != "":
		addrs := strings.Split(redisAddrs, ",")
		for i := range addrs {
			addrs[i] = strings.TrimSpace(addrs[i])
		}
		client, err := redis.NewUniversalClient(context.Background(), redis.Config{
			Addrs:      addrs,
			MasterName: config.GetEnv("REDIS_MASTER_NAME", ""),
			Username:   config.GetEnv("REDIS_USERNAME", ""),
			Password:   config.GetEnv("REDIS_PASSWORD", ""),
			DB:         config.GetEnvInt("REDIS_DB", 0),
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()
		redisClient = client
		store = kv.NewRedisStore(client)
	case redisURL != "":
		client, err := redis.NewClientFromURL(context.Background(), redisURL)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer client.Close()
		redisClient = client
		store = kv.NewRedisStore(client)
	default:
		logger.Warn("REDIS_ADDRS and REDIS_URL not set; using the in-memory store")
		store = kv.NewMemoryStore()
	}

	// Postgres is optional: without it the gate still meters traffic, but
	// registration, login, and checkout stay disabled.
	var db database.PostgresConn
	if dbURL != "" {
		dbConfig := database.DefaultConfig()
		dbConfig.URL = dbURL
		db = database.MustConnect(dbConfig, logger)
		defer db.Close()

		// Deployments that manage migrations externally opt out.
		if config.GetEnvBool("DB_APPLY_SCHEMA", true) {
			schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := database.ApplySchema(schemaCtx, db, logger); err != nil {
				cancel()
				logger.WithError(err).Fatal("Failed to apply database schema")
			}
			cancel()
		}
	} else {
		logger.Warn("DATABASE_URL not set; account and checkout routes disabled")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("harbormaster", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("harbormaster", version.Version, version.GitCommit)

	requiredConfig := map[string]string{
		"PAYMENT_LINK_URL": paymentLink,
	}
	if stripeKey != "" {
		requiredConfig["STRIPE_WEBHOOK_SECRET"] = config.GetEnv("STRIPE_WEBHOOK_SECRET", "")
		requiredConfig["TOPUP_SUCCESS_URL"] = config.GetEnv("TOPUP_SUCCESS_URL", "")
	}
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(requiredConfig))
	if redisClient != nil {
		healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	}
	if db != nil {
		healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	}

	// The gate owns every decision on the metered surface.
	g := gate.New(gate.Config{
		FreeLimit:      config.GetEnvInt64("FREE_TIER_LIMIT", 5),
		Window:         time.Duration(config.GetEnvInt("FREE_TIER_WINDOW_SECONDS", 3600)) * time.Second,
		PricePerCall:   config.GetEnvInt64("PRICE_PER_REQUEST", 1),
		CacheTTL:       time.Duration(config.GetEnvInt("CACHE_TTL_SECONDS", 300)) * time.Second,
		CacheVersion:   config.GetEnv("CACHE_VERSION", "v1"),
		PaymentLink:    paymentLink,
		HandlerTimeout: time.Duration(config.GetEnvInt("HANDLER_TIMEOUT_SECONDS", 30)) * time.Second,
	}, store, logger, gate.NewMetrics(metricsCollector))

	imageProxy := handlers.NewImageProxy(
		config.GetEnv("IMAGE_API_URL", ""),
		config.GetEnv("IMAGE_API_KEY", ""),
		float64(config.GetEnvInt("IMAGE_API_RPS", 1)),
		logger,
	)
	handlers.Register(g, imageProxy)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "harbormaster", healthChecker, metricsCollector)

	// Metered surface: one wildcard route, the gate decides per path.
	router.Any("/api/*path", g.Handle)

	if db != nil {
		jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))
		registry := accounts.NewRegistry(db, store, config.GetEnvInt64("SIGNUP_CREDITS", 0), logger)
		accounts.Init(registry, jwtSecret, logger)

		// Register and login take anonymous traffic straight into bcrypt and
		// Postgres, so they sit behind a per-IP limiter.
		authLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{Logger: logger})
		defer authLimiter.Stop()
		authLimit := middleware.PerIPLimit(authLimiter,
			config.GetEnvInt("AUTH_RATE_LIMIT_PER_MINUTE", 30),
			config.GetEnvInt("AUTH_RATE_LIMIT_BURST", 10))

		// Everything touching Postgres runs under a deadline so a stalled
		// pool cannot pin connections open indefinitely.
		dbTimeout := httpmw.TimeoutMiddleware(
			time.Duration(config.GetEnvInt("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second)

		router.POST("/auth/register", authLimit, dbTimeout, accounts.RegisterHandler)
		router.POST("/auth/login", authLimit, dbTimeout, accounts.LoginHandler)

		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware(jwtSecret), dbTimeout)
		{
			protected.GET("/auth/me", accounts.MeHandler)
		}

		if stripeKey != "" {
			client := checkout.NewClient(checkout.Config{
				SecretKey:        stripeKey,
				WebhookSecret:    config.GetEnv("STRIPE_WEBHOOK_SECRET", ""),
				CreditPriceCents: config.GetEnvInt64("CREDIT_PRICE_CENTS", 10),
				SuccessURL:       config.GetEnv("TOPUP_SUCCESS_URL", ""),
				CancelURL:        config.GetEnv("TOPUP_CANCEL_URL", ""),
				Logger:           logger,
			})
			checkout.Init(registry, client, logger)

			protected.POST("/billing/topup", checkout.TopUpHandler)
			router.POST("/webhooks/stripe", dbTimeout, checkout.WebhookHandler)
		} else {
			logger.Warn("STRIPE_SECRET_KEY not set; top-up and webhook routes disabled")
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("harbormaster", "18090")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
