// Package main is the entrypoint for the Switchboard API Gateway.
//
// The gateway is a high-performance reverse proxy that sits between clients
// and backend microservices, providing features like:
// - Request routing and load balancing
// - Authentication and authorization
// - Rate limiting and traffic control
// - Response caching
// - Circuit breaking and resilience
// - Observability and analytics
//
// Underneath the proxy surface sits a coordination core of three in-process
// actors (rate limiter, service coordinator, hot-reload coordinator) that
// own their state behind a single-writer mailbox apiece.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/saidutt46/switchboard-gateway/internal/config"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/clock"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/eventbridge"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/hotreload"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/ratelimiter"
	"github.com/saidutt46/switchboard-gateway/internal/coreactor/servicecoord"
	"github.com/saidutt46/switchboard-gateway/internal/database"
	"github.com/saidutt46/switchboard-gateway/internal/gateway"
	"github.com/saidutt46/switchboard-gateway/internal/health"
	"github.com/saidutt46/switchboard-gateway/internal/logging"
	"github.com/saidutt46/switchboard-gateway/internal/plugin"
	"github.com/saidutt46/switchboard-gateway/internal/plugin/builtin"
	"github.com/saidutt46/switchboard-gateway/internal/proxy"
	"github.com/saidutt46/switchboard-gateway/internal/router"
)

// Version information (set during build via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Run the application and exit with appropriate code
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Application failed to start")
		os.Exit(1)
	}
}

// run contains the main application logic.
// Separating this from main() makes it easier to test and handle errors.
func run() error {
	// Print banner
	printBanner()

	// Load .env file if it exists (optional - won't fail if missing)
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	} else {
		log.Debug().Msg("Loaded configuration from .env file")
	}

	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logging
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("environment", cfg.Environment).
		Msg("Switchboard API Gateway starting...")

	// Connect to database
	db, err := database.NewDB(database.Config(cfg.Database))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}()

	repo := database.NewRepository(db)
	log.Info().Msg("Database connection established")

	routes, err := repo.GetRoutes(context.Background(), false)
	if err != nil {
		return fmt.Errorf("failed to load routes: %w", err)
	}

	services, err := repo.GetServices(context.Background(), false)
	if err != nil {
		return fmt.Errorf("failed to load services: %w", err)
	}

	rt := router.NewRouter(routes, services)
	log.Info().
		Int("routes", len(routes)).
		Int("services", len(services)).
		Msg("Router initialized")

	registry := plugin.NewRegistry()
	registry.Register("rate-limit", builtin.NewRateLimitPlugin)
	registry.Register("cors", builtin.NewCORSPlugin)
	registry.Register("request-logger", builtin.NewRequestLogger)

	if err := registry.Reload(context.Background(), repo); err != nil {
		log.Warn().Err(err).Msg("Failed to load initial plugin chain, starting with none")
	}

	// ---- Coordination core: rate limiter, service coordinator, hot reload ----

	realClock := clock.Real{}

	coordConfig := servicecoord.DefaultConfig()
	coordConfig.HealthCheckInterval = cfg.Coordinator.HealthCheckInterval
	coordConfig.FailureThreshold = cfg.Coordinator.FailureThreshold
	coordConfig.RecoveryTimeout = cfg.Coordinator.RecoveryTimeout

	limiter := ratelimiter.New(ratelimiter.DefaultConfig(), realClock)
	coord := servicecoord.New(coordConfig, realClock)
	reloader := hotreload.New(hotreload.DefaultConfig(), realClock)

	ctx, cancelActors := context.WithCancel(context.Background())
	defer cancelActors()

	go limiter.Start(ctx)
	go coord.Start(ctx)
	go reloader.Start(ctx)

	builtin.SetLocalLimiter(limiter)

	gw := gateway.New(rt, repo, registry)
	reloadEvents, err := reloader.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to hot-reload coordinator: %w", err)
	}
	go gw.Run(ctx, reloadEvents)

	// ---- Event bridge: fan out coordination events to Kafka/Redis ----

	bridge := eventbridge.New(eventbridge.Config{
		KafkaBrokers: strings.Split(cfg.KafkaBrokers, ","),
		Topic:        cfg.KafkaTopic,
		RedisAddr:    redisAddrFromConfig(cfg),
		Channel:      cfg.EventBridgeChannel,
	})
	defer bridge.Close()

	statusEvents, err := coord.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to service coordinator: %w", err)
	}
	go bridge.RunServiceEvents(ctx, statusEvents)

	bridgeReloadEvents, err := reloader.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to hot-reload coordinator: %w", err)
	}
	go bridge.RunReloadEvents(ctx, bridgeReloadEvents)

	// ---- Redis-backed config watcher feeds the hot-reload coordinator ----

	redisAddr := redisAddrFromConfig(cfg)
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis connection failed - config watcher disabled")
	} else {
		log.Info().Msg("Redis connection established")

		watcher := config.NewWatcher(redisClient, reloader)
		go func() {
			if err := watcher.Start(ctx); err != nil && err != context.Canceled {
				log.Error().Err(err).Msg("Config watcher stopped")
			}
		}()

		log.Info().Msg("Config watcher started - hot reload enabled")
	}

	// ---- HTTP server ----

	rproxy := proxy.NewProxy(rt, nil, coord)
	mux := setupRoutes(db, repo, coord, rproxy)

	server := &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info().Str("address", cfg.ServerAddress()).Msg("HTTP server starting")
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received, starting graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error during graceful shutdown, forcing shutdown")
			if err := server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		cancelActors()
		log.Info().Msg("Server stopped gracefully")
	}

	return nil
}

// redisAddrFromConfig resolves a bare host:port from the configured Redis
// URL, falling back to localhost:6379 on an unparseable URL.
func redisAddrFromConfig(cfg *config.Config) string {
	redisAddr := "localhost:6379"
	if len(cfg.RedisURL) == 0 {
		return redisAddr
	}
	if strings.HasPrefix(cfg.RedisURL, "redis://") {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Str("url", cfg.RedisURL).Msg("Failed to parse Redis URL, using default localhost:6379")
			return redisAddr
		}
		return opt.Addr
	}
	return cfg.RedisURL
}

// setupRoutes configures all HTTP routes for the gateway.
func setupRoutes(db *database.DB, repo *database.Repository, coord *servicecoord.Agent, rproxy *proxy.Proxy) *http.ServeMux {
	mux := http.NewServeMux()

	healthHandler := health.NewHandler(db, repo, coord)
	mux.HandleFunc("/health", healthHandler.Health)
	mux.HandleFunc("/ready", healthHandler.Ready)

	mux.Handle("/", rproxy)

	return mux
}

// printBanner prints the application banner with version information.
func printBanner() {
	banner := `
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   ███████╗██╗    ██╗██╗████████╗ ██████╗██╗  ██╗         ║
║   ██╔════╝██║    ██║██║╚══██╔══╝██╔════╝██║  ██║         ║
║   ███████╗██║ █╗ ██║██║   ██║   ██║     ███████║         ║
║   ╚════██║██║███╗██║██║   ██║   ██║     ██╔══██║         ║
║   ███████║╚███╔███╔╝██║   ██║   ╚██████╗██║  ██║         ║
║   ╚══════╝ ╚══╝╚══╝ ╚═╝   ╚═╝    ╚═════╝╚═╝  ╚═╝         ║
║                                                           ║
║              API Gateway - High Performance               ║
║                                                           ║
╚═══════════════════════════════════════════════════════════╝
`
	fmt.Println(banner)
	fmt.Printf("Version: %s | Build: %s | Commit: %s\n\n", Version, BuildTime, GitCommit)
}
