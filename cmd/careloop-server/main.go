package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careloop/careloop/internal/asr"
	"github.com/careloop/careloop/internal/config"
	"github.com/careloop/careloop/internal/domain/identity"
	"github.com/careloop/careloop/internal/domain/memory"
	"github.com/careloop/careloop/internal/domain/thread"
	"github.com/careloop/careloop/internal/domain/ticket"
	"github.com/careloop/careloop/internal/domain/triage"
	"github.com/careloop/careloop/internal/llm"
	"github.com/careloop/careloop/internal/platform/audit"
	"github.com/careloop/careloop/internal/platform/auth"
	"github.com/careloop/careloop/internal/platform/db"
	"github.com/careloop/careloop/internal/platform/fingerprint"
	"github.com/careloop/careloop/internal/platform/middleware"
	"github.com/careloop/careloop/internal/platform/websocket"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careloop-server",
		Short: "Patient message triage API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the triage API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	clinicID, err := cfg.ClinicID()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid clinic id")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	auditor := audit.NewPGRecorder(pool, logger)

	// Redis-backed abuse tracking; without Redis the gate is not mounted.
	var abuseGate echo.MiddlewareFunc
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(redisOpts)
		abuse := fingerprint.NewService(rdb, auditor, logger, fingerprint.Options{
			StrikeLimit: int64(cfg.AbuseStrikeLimit),
			Lockout:     cfg.AbuseLockout(),
		})
		abuseGate = middleware.AbuseGate(abuse)
		logger.Info().Msg("abuse gate enabled")
	} else {
		logger.Warn().Msg("REDIS_URL not set; abuse gate disabled")
	}

	// Generative collaborator; without a key replies degrade to fallbacks.
	var replier triage.Replier
	var summarizer ticket.Summarizer
	if cfg.OpenAIAPIKey != "" {
		client := llm.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModelChat, cfg.OpenAIModelSummary, cfg.LLMTimeout())
		replier = client
		if cfg.UseLLMTriage {
			summarizer = client
		}
	} else {
		logger.Warn().Msg("OPENAI_API_KEY not set; assistant replies use fallbacks")
	}

	// Speech-to-text; without credentials audio messages transcribe empty.
	var transcriber asr.Transcriber
	if gt, err := asr.NewGoogleTranscriber(ctx, cfg.ASRLanguage); err != nil {
		logger.Warn().Err(err).Msg("speech client unavailable; audio messages disabled")
	} else {
		transcriber = gt
		defer gt.Close()
	}

	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL())
	hub := websocket.NewHub(logger)

	// Repositories and services
	userRepo := identity.NewRepo(pool)
	identitySvc := identity.NewService(userRepo, issuer, auditor, clinicID, logger)

	threadRepo := thread.NewRepo(pool)
	memorySvc := memory.NewService(memory.NewRepo(pool), db.PoolRunner{Pool: pool})
	ticketSvc := ticket.NewService(ticket.NewRepo(pool), memorySvc, summarizer, auditor, logger)
	triageSvc := triage.NewService(threadRepo, memorySvc, ticketSvc, replier, transcriber, hub, auditor, logger)

	// Development convenience: apply pending migrations and seed demo
	// accounts so a fresh database is usable immediately.
	if cfg.IsDev() {
		if n, err := db.NewMigrator(pool, "./migrations").Up(ctx); err != nil {
			logger.Warn().Err(err).Msg("auto-migrate failed")
		} else if n > 0 {
			logger.Info().Int("applied", n).Msg("migrations applied")
		}
		if err := identitySvc.SeedDemo(ctx); err != nil {
			logger.Warn().Err(err).Msg("demo seed failed")
		}
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	e.Use(middleware.RateLimit(rateLimitCfg))
	if abuseGate != nil {
		e.Use(abuseGate)
	}

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// Public auth routes
	api := e.Group("/api")
	identity.NewHandler(identitySvc).RegisterRoutes(api)

	// Authenticated role-scoped routes
	authed := api.Group("", auth.Middleware(issuer))
	patientGroup := authed.Group("/patient", auth.RequireRole(auth.RolePatient))
	clinGroup := authed.Group("/clinician", auth.RequireRole(auth.RoleClinician))

	triageHandler := triage.NewHandler(triageSvc, hub)
	triageHandler.RegisterRoutes(patientGroup, clinGroup)
	ticket.NewHandler(ticketSvc).RegisterRoutes(clinGroup)

	// Realtime topics (token accepted via query parameter for browser clients)
	wsGroup := e.Group("/ws", auth.Middleware(issuer))
	triageHandler.RegisterWS(wsGroup)

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
