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
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/vitalia/portal/internal/config"
	"github.com/vitalia/portal/internal/domain/audit"
	"github.com/vitalia/portal/internal/domain/chat"
	"github.com/vitalia/portal/internal/domain/clinic"
	"github.com/vitalia/portal/internal/domain/document"
	"github.com/vitalia/portal/internal/domain/grant"
	"github.com/vitalia/portal/internal/domain/patient"
	"github.com/vitalia/portal/internal/platform/aigateway"
	"github.com/vitalia/portal/internal/platform/auth"
	"github.com/vitalia/portal/internal/platform/blobstore"
	"github.com/vitalia/portal/internal/platform/db"
	"github.com/vitalia/portal/internal/platform/middleware"
	"github.com/vitalia/portal/internal/platform/notification"
	"github.com/vitalia/portal/internal/platform/registry"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Patient portal API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(clinicCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
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

			count, err := db.NewMigrator(pool, dir).Up(ctx)
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

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
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

func clinicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clinic",
		Short: "Manage clinics",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new clinic",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			city, _ := cmd.Flags().GetString("city")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

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

			var cityPtr *string
			if city != "" {
				cityPtr = &city
			}
			svc := clinic.NewService(clinic.NewRepoPG(pool), patient.NewRepoPG(pool))
			cl, err := svc.Create(ctx, name, cityPtr)
			if err != nil {
				return err
			}
			fmt.Printf("Clinic created: %s (%s)\n", cl.Name, cl.ID)
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Clinic name")
	createCmd.Flags().String("city", "", "Clinic city")

	cmd.AddCommand(createCmd)
	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	zlog.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// External collaborators.
	topus := registry.NewTopusClient(cfg.TopusBaseURL, cfg.TopusAPIKey)
	rethus := registry.NewRethusClient(cfg.RethusBaseURL, cfg.RethusAPIKey)
	gateway := aigateway.New(cfg.AIGatewayURL, cfg.AIGatewayKey, cfg.AIModel)
	blobs := blobstore.NewInMemoryStore(cfg.ShareBaseURL)
	mailer := notification.NewMailer(notification.LogEmailSender{}, notification.NewTemplateEngine())

	// Repositories and services.
	auditSvc := audit.NewService(audit.NewRepoPG(pool))
	patientRepo := patient.NewRepoPG(pool)
	patientSvc := patient.NewService(patientRepo, topus, rethus, auditSvc,
		func(ctx context.Context, fn func(ctx context.Context) error) error {
			return db.InTx(ctx, pool, fn)
		})
	docSvc := document.NewService(document.NewRepoPG(pool), blobs, patientSvc, mailer)
	grantSvc := grant.NewService(grant.NewRepoPG(pool), patientSvc, docSvc, auditSvc, mailer, cfg.ShareBaseURL)
	chatSvc := chat.NewService(chat.NewRepoPG(pool), gateway, patientSvc, docSvc)
	clinicSvc := clinic.NewService(clinic.NewRepoPG(pool), patientRepo)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.CORS(cfg.CORSOrigins))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	e.GET("/health", db.HealthHandler(pool))

	var authMW echo.MiddlewareFunc
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	}

	apiV1 := e.Group("/api/v1", authMW)

	grantHandler := grant.NewHandler(grantSvc, docSvc)
	chatHandler := chat.NewHandler(chatSvc, grantSvc)

	audit.NewHandler(auditSvc).RegisterRoutes(apiV1)
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	document.NewHandler(docSvc).RegisterRoutes(apiV1)
	grantHandler.RegisterRoutes(apiV1)
	chatHandler.RegisterRoutes(apiV1)
	clinic.NewHandler(clinicSvc).RegisterRoutes(apiV1)

	// Guest endpoints authenticate by share token alone.
	public := e.Group("")
	grantHandler.RegisterGuestRoutes(public)
	chatHandler.RegisterGuestRoutes(public)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
