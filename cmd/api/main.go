package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tpsparking/api/internal/alert"
	"github.com/tpsparking/api/internal/auth"
	"github.com/tpsparking/api/internal/config"
	"github.com/tpsparking/api/internal/dashboard"
	"github.com/tpsparking/api/internal/db"
	"github.com/tpsparking/api/internal/fines"
	internalhttp "github.com/tpsparking/api/internal/http"
	"github.com/tpsparking/api/internal/mail"
	"github.com/tpsparking/api/internal/parkings"
	"github.com/tpsparking/api/internal/repo"
	"github.com/tpsparking/api/internal/service"
	"github.com/tpsparking/api/internal/shifts"
	"github.com/tpsparking/api/internal/storage"
	"github.com/tpsparking/api/internal/vehicles"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api stopped with error")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info().Strs("applied", applied).Msg("migrations done")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis parse: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	uploader, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	notifier := alert.New(cfg.AlertWebhookURL)

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	authService := service.NewAuthService(repo.New(pool), redisClient, jwtManager, mail.New(cfg.SMTP), service.Options{
		RefreshTTL: cfg.JWTRefreshTTL,
		ResetTTL:   cfg.PasswordResetTTL,
	})

	parkingService := parkings.NewService(parkings.NewRepository(pool))
	vehicleService := vehicles.NewService(vehicles.NewRepository(pool), parkingService, cfg.TariffLocation, notifier)
	fineService := fines.NewService(fines.NewRepository(pool), uploader)
	shiftService := shifts.NewService(shifts.NewRepository(pool))
	dashboardService := dashboard.NewService(dashboard.NewRepository(pool), cfg.TariffLocation)

	handler, err := internalhttp.NewRouter(internalhttp.Deps{
		Config: cfg,
		Auth:   authService,
		Redis:  redisClient,
		Checks: map[string]internalhttp.Checker{
			"db":    pool.Ping,
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
	},
		parkings.NewHandler(parkingService),
		vehicles.NewHandler(vehicleService),
		fines.NewHandler(fineService),
		shifts.NewHandler(shiftService),
		dashboard.NewHandler(dashboardService),
	)
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API listening on :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
