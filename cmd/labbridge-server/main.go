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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labbridge/labbridge/internal/config"
	"github.com/labbridge/labbridge/internal/domain/integration"
	"github.com/labbridge/labbridge/internal/domain/order"
	"github.com/labbridge/labbridge/internal/domain/patient"
	"github.com/labbridge/labbridge/internal/domain/result"
	"github.com/labbridge/labbridge/internal/inbound"
	"github.com/labbridge/labbridge/internal/outbound"
	"github.com/labbridge/labbridge/internal/platform/auth"
	"github.com/labbridge/labbridge/internal/platform/db"
	"github.com/labbridge/labbridge/internal/platform/hl7v2"
	"github.com/labbridge/labbridge/internal/platform/metrics"
	"github.com/labbridge/labbridge/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "labbridge-server",
		Short: "LabBridge message integration engine",
	}
	rootCmd.AddCommand(serveCmd(), migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LabBridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
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
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-API-Key"},
	}))

	// Repositories
	integrationRepo := integration.NewRepoPG(pool)
	deliveryLogRepo := integration.NewDeliveryLogRepoPG(pool)
	syncLogRepo := integration.NewSyncLogRepoPG(pool)
	patientRepo := patient.NewRepoPG(pool)
	orderRepo := order.NewRepoPG(pool)
	resultRepo := result.NewRepoPG(pool)

	// Services
	integrationSvc := integration.NewService(integrationRepo, logger)
	patientSvc := patient.NewService(patientRepo, logger)
	orderSvc := order.NewService(orderRepo, patientSvc, logger)
	resultSvc := result.NewService(resultRepo, orderSvc, patientSvc, logger)

	// Outbound delivery engine and sync orchestrator
	engine := outbound.NewEngine(integrationSvc, deliveryLogRepo, outbound.Config{
		Timeout:  cfg.DeliveryDeadline(),
		RetryMax: cfg.OutboundRetries,
	}, logger)
	resultSvc.SetNotifier(engine)

	orchestrator := outbound.NewOrchestrator(integrationSvc, patientSvc, syncLogRepo, deliveryLogRepo, engine, cfg.SyncWorkers, logger)

	// Inbound intake endpoints carry their own API-key authentication and
	// stay outside the JWT group.
	inboundHandler := inbound.NewHandler(integrationSvc, orderSvc, patientSvc, resultSvc, logger)
	inboundHandler.RegisterRoutes(e)

	// Management API behind JWT
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.JWTSecret == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.JWTSecret),
		}))
	}
	integration.NewHandler(integrationSvc, deliveryLogRepo, syncLogRepo).RegisterRoutes(apiV1)
	result.NewHandler(resultSvc).RegisterRoutes(apiV1)
	outbound.NewHandler(orchestrator).RegisterRoutes(apiV1)

	// Health and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	metrics.RegisterRoutes(e)

	// HL7v2 MLLP TCP listener (optional, started when MLLP_LISTEN is set)
	var mllpServer *hl7v2.MLLPServer
	if cfg.MLLPListen != "" {
		mllpServer = hl7v2.NewMLLPServer(cfg.MLLPListen, inboundHandler.MLLPHandler(cfg.MLLPAPIKey), logger)
		go func() {
			if err := mllpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("MLLP server failed")
			}
		}()
		logger.Info().Str("addr", cfg.MLLPListen).Msg("MLLP server started")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
	if mllpServer != nil {
		if err := mllpServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("MLLP server shutdown failed")
		}
	}
	engine.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
