package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicbook/clinicbook/internal/config"
	"github.com/clinicbook/clinicbook/internal/domain/booking"
	"github.com/clinicbook/clinicbook/internal/platform/auth"
	"github.com/clinicbook/clinicbook/internal/platform/db"
	"github.com/clinicbook/clinicbook/internal/platform/events"
	"github.com/clinicbook/clinicbook/internal/platform/metrics"
	"github.com/clinicbook/clinicbook/internal/platform/middleware"
	"github.com/clinicbook/clinicbook/internal/platform/tracing"
	"github.com/clinicbook/clinicbook/migrations"
)

const version = "0.1.0"

// clock is the booking service's notion of now.
var clock booking.Clock = time.Now

func main() {
	rootCmd := &cobra.Command{
		Use:           "clinicbook-server",
		Short:         "Appointment booking API server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the booking API server",
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
			target, _ := cmd.Flags().GetInt("target")
			return withMigrator(cmd.Context(), dir, func(m *db.Migrator) error {
				count, err := m.UpTo(cmd.Context(), target)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded migrations)")
	upCmd.Flags().Int("target", 0, "Stop after this version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(m *db.Migrator) error {
				statuses, err := m.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default: embedded migrations)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func migrationFS(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func withMigrator(ctx context.Context, dir string, fn func(m *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Storage != config.StoragePostgres {
		return fmt.Errorf("migrations require STORAGE=%s", config.StoragePostgres)
	}
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(db.NewMigrator(pool, migrationFS(dir)))
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, db.PoolConfig{
		URL:             cfg.DatabaseURL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: cfg.DBMaxConnLife,
	})
}

// hstsMaxAge turns on Strict-Transport-Security in production only.
func hstsMaxAge(cfg *config.Config) time.Duration {
	if cfg.IsProduction() {
		return 365 * 24 * time.Hour
	}
	return 0
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	var w io.Writer = out
	if cfg.IsDev() {
		w = zerolog.ConsoleWriter{Out: out}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "clinicbook").Logger()
}

// app is a fully wired server. close releases everything newApp opened, in
// reverse order.
type app struct {
	echo    *echo.Echo
	service *booking.Service
	closers []func(context.Context) error
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		_ = a.close(ctx)
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return fail(err)
	}

	// Tracing
	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Env,
		SampleRate:  cfg.OTelSampleRate,
	})
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	// Metrics
	collector := metrics.NewCollector(cfg.MetricsNamespace)

	// Storage
	var store booking.Store
	var health echo.HandlerFunc
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		store = booking.NewMemoryStore()
		health = func(c echo.Context) error {
			return c.JSON(http.StatusOK, map[string]string{"status": "healthy", "storage": config.StorageMemory})
		}
	default:
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("connect to database: %w", err))
		}
		a.closers = append(a.closers, func(context.Context) error { pool.Close(); return nil })
		logger.Info().Msg("connected to database")

		if cfg.AutoMigrate {
			n, err := db.NewMigrator(pool, migrationFS(cfg.MigrationsDir)).Up(ctx)
			if err != nil {
				return fail(fmt.Errorf("auto-migrate: %w", err))
			}
			logger.Info().Int("applied", n).Msg("migrations applied")
		}

		store = booking.NewPostgresStore(pool)
		collector.Registry().MustRegister(db.NewPoolCollector(cfg.MetricsNamespace, db.PoolStatsFunc(pool)))
		health = db.HealthHandler(pool, db.PoolStatsFunc(pool))
	}

	// Events
	var publisher events.Publisher
	if cfg.KafkaEnabled() {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			return fail(err)
		}
		publisher = kp
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	} else {
		publisher = events.NewLogPublisher(logger.With().Str("component", "events").Logger())
	}
	a.closers = append(a.closers, func(context.Context) error { return publisher.Close() })

	// Booking
	svc := booking.NewService(store, booking.NewMatcher(clock, loc),
		logger.With().Str("component", "booking").Logger(),
		booking.WithPublisher(publisher),
		booking.WithMetrics(collector),
		booking.WithTracer(tp.Tracer("github.com/clinicbook/clinicbook/internal/domain/booking")),
		booking.WithBcryptCost(cfg.BcryptCost),
	)
	a.service = svc

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(tracing.Middleware(tp))
	e.Use(collector.Middleware())
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{HSTSMaxAge: hstsMaxAge(cfg)}))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{"Link", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", health)
	e.GET("/metrics", echo.WrapHandler(collector.Handler()))

	// API group: auth before rate limiting so limits apply per user.
	apiV1 := e.Group("/api/v1", middleware.RequestTimeout(cfg.RequestTimeout))
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		logger.Warn().Msg("development auth is active: unauthenticated requests act as admin")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}
		if cfg.AuthSigningKey != "" {
			jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
		}
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))

	booking.NewHandler(svc, logger.With().Str("component", "http").Logger()).RegisterRoutes(apiV1)

	a.echo = e
	return a, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("storage", cfg.Storage).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		_ = a.close(context.Background())
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if err := a.close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("releasing resources failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
