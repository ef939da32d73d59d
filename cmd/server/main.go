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

	"github.com/gorilla/mux"
	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tickchat/internal/config"
	"github.com/tickchat/internal/handlers"
	"github.com/tickchat/internal/hub"
	"github.com/tickchat/internal/repository"
	"github.com/tickchat/internal/service"
	ws "github.com/tickchat/internal/websocket"
	"github.com/tickchat/pkg/jwt"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := config.SetupLogger(cfg)

	messageRepo, presenceRepo, err := openStores(ctx, cfg, &logger.Logger)
	if err != nil {
		return err
	}
	defer messageRepo.Close()
	if presenceRepo != nil {
		defer presenceRepo.Close()
	}

	jwtService := jwt.NewJWTService(cfg.JWTSecret)
	authService := service.NewAuthService(jwtService)
	messageService := service.NewMessageService(messageRepo, service.MessageOptions{
		MaxBodyLength: cfg.MaxBodyLength,
	})

	h := hub.NewHub(messageService, presenceRepo, hub.Options{
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		SweepInterval:    cfg.SweepInterval,
		Interest:         hub.InterestScope(cfg.PresenceInterest),
		AutoDeliver:      cfg.AutoDeliver,
	}, &logger.Logger)

	// connections outlive the signal until the hub has shut them down
	connCtx, stopConns := context.WithCancel(context.Background())
	defer stopConns()

	frameLimit := cfg.MaxFrameBytes
	if frameLimit == 0 {
		frameLimit = ws.FrameLimit(cfg.MaxBodyLength)
	}

	router := mux.NewRouter()
	router.Use(handlers.LoggingMiddleware(&logger.Logger))
	handlers.SetupRoutes(connCtx, router, h, authService, handlers.RouteOptions{
		AuthRequired:      cfg.AuthRequired,
		HistoryLimit:      cfg.HistoryLimit,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Client: ws.ClientOptions{
			SendBuffer:     cfg.SendBuffer,
			MaxMessageSize: frameLimit,
		},
	}, &logger.Logger)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return h.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("store", cfg.StoreDriver).
			Str("presence_store", cfg.PresenceStore).
			Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		gracefulShutdown(server, h, &logger.Logger)
		stopConns()
		return nil
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.MessageRepository, repository.PresenceRepository, error) {
	var (
		messageRepo  repository.MessageRepository
		presenceRepo repository.PresenceRepository
	)

	if cfg.StoreDriver == "bolt" {
		store, err := repository.NewBoltStorage(cfg.DSN(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bolt store: %w", err)
		}
		messageRepo = store
		if cfg.PresenceStore == "bolt" {
			presenceRepo = store.Presence()
		}
	} else {
		dialect, err := repository.DialectFor(cfg.StoreDriver)
		if err != nil {
			return nil, nil, err
		}
		db, err := repository.OpenSQL(dialect, cfg.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		messageRepo = repository.NewMessageRepository(db, dialect, logger)
		if cfg.PresenceStore == "sql" {
			presenceRepo = repository.NewStatusRepository(db, dialect, logger)
		}
	}

	if cfg.PresenceStore == "redis" {
		presenceRepo = repository.NewRedisPresenceRepository(repository.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
	}

	if err := messageRepo.Migrate(ctx); err != nil {
		messageRepo.Close()
		return nil, nil, fmt.Errorf("failed to migrate message store: %w", err)
	}
	if presenceRepo != nil {
		if err := presenceRepo.Migrate(ctx); err != nil {
			messageRepo.Close()
			return nil, nil, fmt.Errorf("failed to migrate presence store: %w", err)
		}
	}
	return messageRepo, presenceRepo, nil
}

func gracefulShutdown(server *http.Server, h *hub.Hub, logger *zerolog.Logger) {
	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	h.Shutdown(ctx)

	logger.Info().Msg("Server stopped")
}
