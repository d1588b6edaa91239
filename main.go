package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"token-warden/internal/alert"
	"token-warden/internal/auth"
	"token-warden/internal/common/logging"
	"token-warden/internal/config"
	"token-warden/internal/handlers"
	"token-warden/internal/notify"
	"token-warden/internal/provider"
	"token-warden/internal/server"
	"token-warden/internal/store"
	storefactory "token-warden/internal/store/factory"
	"token-warden/internal/token"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(logging.Config{
		Level: logging.ParseLevel(cfg.LogLevel),
		Name:  "token-warden",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	st, err := storefactory.New(cfg)
	if err != nil {
		logger.Error("failed to initialize store", err,
			logging.Field{Key: "store_type", Value: cfg.StoreType})
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store ready", logging.Field{Key: "store_type", Value: cfg.StoreType})

	prov := provider.NewClient(&provider.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthURL:      cfg.AuthURL,
		RedirectURI:  cfg.RedirectURI,
		APIBaseURL:   cfg.APIBaseURL,
	}, logger)
	if !prov.Configured() {
		logger.Warn("provider credentials not configured, token operations will fail until they are set")
	}

	fallback := token.NewFallback(cfg.FallbackDir, logger)
	manager := token.NewManager(st, prov, fallback, logger)

	dispatcher := alert.NewDispatcher(cfg, logger)
	scheduler := notify.NewScheduler(st, manager, dispatcher, logger)

	authService := auth.New(st, cfg.JWTSecret)
	ensureDefaultUser(st, logger)

	// Daily watchdog: raise an alert if the refresh window is closing,
	// otherwise look for a renewal that resolves a running cycle.
	c := cron.New()
	_, err = c.AddFunc(cfg.CronSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		fired, checkErr := scheduler.CheckExpiration(ctx)
		if checkErr != nil {
			logger.Error("expiry check failed", checkErr)
			return
		}
		if !fired {
			if _, renewErr := scheduler.CheckRenewed(ctx); renewErr != nil {
				logger.Error("renewal check failed", renewErr)
			}
		}
	})
	if err != nil {
		logger.Error("invalid cron spec", err,
			logging.Field{Key: "cron_spec", Value: cfg.CronSpec})
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()
	logger.Info("expiry watchdog scheduled", logging.Field{Key: "cron_spec", Value: cfg.CronSpec})

	h := handlers.New(cfg, st, manager, scheduler, prov, authService, logger)
	router := mux.NewRouter()
	handlers.SetupRoutes(router, h, authService.Middleware)

	srv := server.New(router, cfg.Port)
	errCh := srv.Start()
	logger.Info("server listening", logging.Field{Key: "port", Value: cfg.Port})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", logging.Field{Key: "signal", Value: sig.String()})
	case err := <-errCh:
		logger.Error("server failed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", err)
	}
}

// ensureDefaultUser seeds an initial admin account on first boot so the
// admin API is reachable. The generated password is logged once; the
// operator is expected to replace the account.
func ensureDefaultUser(st store.Store, logger logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := st.UserCount(ctx)
	if err != nil {
		logger.Error("failed to count users", err)
		return
	}
	if count > 0 {
		return
	}

	password := uuid.NewString()
	user, err := st.CreateUser(ctx, "admin", password)
	if err != nil {
		logger.Error("failed to seed default user", err)
		return
	}
	logger.Warn("seeded default admin user, change this account",
		logging.Field{Key: "username", Value: user.Username},
		logging.Field{Key: "password", Value: password})
}
