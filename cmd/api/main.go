package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/account-api/internal/authz"
	"github.com/jwalitptl/account-api/internal/config"
	"github.com/jwalitptl/account-api/internal/credential"
	"github.com/jwalitptl/account-api/internal/directory"
	"github.com/jwalitptl/account-api/internal/email"
	accountHandler "github.com/jwalitptl/account-api/internal/handler/account"
	authHandler "github.com/jwalitptl/account-api/internal/handler/auth"
	healthHandler "github.com/jwalitptl/account-api/internal/handler/health"
	"github.com/jwalitptl/account-api/internal/handler/prometheus"
	"github.com/jwalitptl/account-api/internal/middleware"
	"github.com/jwalitptl/account-api/internal/persist"
	"github.com/jwalitptl/account-api/internal/remote"
	"github.com/jwalitptl/account-api/internal/router"
	"github.com/jwalitptl/account-api/internal/service/account"
	"github.com/jwalitptl/account-api/internal/session"
	"github.com/jwalitptl/account-api/internal/store"
	"github.com/jwalitptl/account-api/internal/subscription"
	"github.com/jwalitptl/account-api/pkg/logger"
	"github.com/jwalitptl/account-api/pkg/messaging"
	redisbroker "github.com/jwalitptl/account-api/pkg/messaging/redis"
	"github.com/jwalitptl/account-api/pkg/security"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	appLog := logger.NewLogger(&logger.Config{
		Level:      level,
		TimeFormat: cfg.Logging.TimeFormat,
		Output:     os.Stdout,
	})

	var encryptor security.Encryptor
	if cfg.Security.CredentialsKey != "" {
		key, err := hex.DecodeString(cfg.Security.CredentialsKey)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid credentials key")
		}
		if encryptor, err = security.NewAESEncryptor(key); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize credentials encryption")
		}
	}

	localStore, err := store.NewStore(cfg.Store.Path, encryptor)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local cache")
	}
	defer localStore.Close()

	remoteClient := remote.NewClient(cfg.Remote.ToClientConfig())

	var broker messaging.Broker
	if cfg.Redis.Enabled {
		broker, err = redisbroker.NewRedisBroker(cfg.Redis.ToBrokerConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
	} else {
		broker = messaging.NewMemoryBroker()
	}
	defer broker.Close()

	var emailSvc email.Service
	if cfg.Email.Enabled {
		emailSvc = email.NewSMTPService(cfg.Email.ToSMTPConfig())
	} else {
		emailSvc = email.NewNoopService(appLog)
	}

	dir := directory.New(broker, appLog)
	bridge := persist.NewBridge(localStore, remoteClient, appLog)
	sessions := session.NewManager(localStore, remoteClient, appLog)
	engine := authz.NewEngine()

	svc := account.NewService(
		dir,
		bridge,
		sessions,
		engine,
		subscription.NewGate(),
		credential.NewGenerator(),
		security.NewBcryptHasher(cfg.Security.BcryptCost),
		emailSvc,
		appLog,
		account.OwnerSeed{
			Username: cfg.Owner.Username,
			Password: cfg.Owner.Password,
			Email:    cfg.Owner.Email,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Startup(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start account service")
	}
	if err := sessions.Watch(ctx, broker); err != nil {
		log.Fatal().Err(err).Msg("failed to watch account events")
	}

	authMiddleware := middleware.NewAuthMiddleware(sessions, engine)

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.Security.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Security.AllowedOrigins
	}

	var rateLimit rate.Limit
	if cfg.RateLimit.Enabled {
		rateLimit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
	}

	r := router.NewRouter(
		authMiddleware,
		authHandler.NewHandler(svc),
		accountHandler.NewHandler(svc),
		healthHandler.NewHandler(localStore),
		prometheus.New(),
		router.Config{
			RateLimit:  rateLimit,
			RateBurst:  cfg.RateLimit.Burst,
			CORSConfig: corsConfig,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Server.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
