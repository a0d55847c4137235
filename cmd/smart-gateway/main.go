package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/config"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/domain/launch"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/domain/record"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/fhir"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/middleware"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/platform/smart"
	"github.com/Hisham-InfoGleam/smart-epic-salesforce/internal/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "smart-gateway",
		Short: "SMART on FHIR patient data gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateSessionsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateSessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-sessions",
		Short: "Create the Postgres session table",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to load config")
			}
			if cfg.DatabaseURL == "" {
				logger.Fatal().Msg("DATABASE_URL is required for migrate-sessions")
			}

			ctx := context.Background()
			pool, err := newPool(ctx, cfg.DatabaseURL)
			if err != nil {
				logger.Fatal().Err(err).Msg("failed to connect to database")
			}
			defer pool.Close()

			if _, err := pool.Exec(ctx, session.MigrationSessions); err != nil {
				logger.Fatal().Err(err).Msg("failed to apply session migration")
			}
			logger.Info().Msg("session table ready")
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	ttl := time.Duration(cfg.SessionTTLMinutes) * time.Minute

	store, closeStore, err := buildStore(ctx, cfg, ttl, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise session store")
	}
	defer closeStore()

	httpClient := &http.Client{}
	discoverer := smart.NewDiscoverer(httpClient, logger)
	flow := smart.NewFlow(smart.FlowConfig{
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.RedirectURI,
		Scopes:      cfg.ScopeList(),
		FHIRBaseURL: cfg.FHIRBaseURL,
	}, discoverer, httpClient, logger)
	fetcher := fhir.NewFetcher(httpClient, cfg.ObservationCategories, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet},
		AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(session.Middleware())

	launch.NewHandler(flow, store, cfg.DashboardPath, cfg.DemoEnabled, logger).RegisterRoutes(e)
	record.NewHandler(fetcher, store, cfg.ClientID, logger).RegisterRoutes(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("session_backing", cfg.SessionBacking).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildStore constructs the configured session store backing and returns a
// close function for whatever resources it holds.
func buildStore(ctx context.Context, cfg *config.Config, ttl time.Duration, logger zerolog.Logger) (session.Store, func(), error) {
	switch cfg.SessionBacking {
	case "postgres":
		pool, err := newPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("using postgres session store")
		return session.NewPGStoreFromPool(pool, ttl), pool.Close, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("using redis session store")
		return session.NewRedisStore(client, ttl), func() { _ = client.Close() }, nil

	default:
		store := session.NewMemoryStore(ttl)
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					store.Cleanup()
				case <-done:
					return
				}
			}
		}()
		logger.Info().Msg("using in-memory session store")
		return store, func() { close(done) }, nil
	}
}

func newPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
