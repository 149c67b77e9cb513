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

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/StergiosCha/perpatame/internal/client"
	"github.com/StergiosCha/perpatame/internal/config"
	"github.com/StergiosCha/perpatame/internal/domain"
	"github.com/StergiosCha/perpatame/internal/handler"
	"github.com/StergiosCha/perpatame/internal/hub"
	"github.com/StergiosCha/perpatame/internal/idgen"
	"github.com/StergiosCha/perpatame/internal/metrics"
	"github.com/StergiosCha/perpatame/internal/relay"
	"github.com/StergiosCha/perpatame/internal/repository"
	"github.com/StergiosCha/perpatame/internal/service"
	"github.com/StergiosCha/perpatame/pkg/database"
	pkglog "github.com/StergiosCha/perpatame/pkg/log"
	"github.com/StergiosCha/perpatame/pkg/pubsub"
	"github.com/StergiosCha/perpatame/pkg/storage"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: cfg.Log.ServiceName,
	})
	logger := pkglog.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Story store
	var storyRepo repository.StoryRepository
	if cfg.Database.Driver == "memory" {
		storyRepo = repository.NewMemoryStoryRepository()
		logger.Warn().Msg("using in-memory story store, stories are lost on restart")
	} else {
		db, err := database.New(&cfg.Database)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer database.Close(db)

		if err := database.AutoMigrate(db, &domain.StoryModel{}); err != nil {
			logger.Fatal().Err(err).Msg("failed to auto-migrate")
		}
		logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")
		storyRepo = repository.NewGormStoryRepository(db)
	}

	// Transformation gateway
	transformer := client.NewHTTPTransformer(client.HTTPTransformerConfig{
		URL:             cfg.Transform.URL,
		APIKey:          cfg.Transform.APIKey,
		Timeout:         cfg.Transform.Timeout,
		MaxRetries:      cfg.Transform.MaxRetries,
		RetryBackoff:    cfg.Transform.RetryBackoff,
		MaxRetryBackoff: cfg.Transform.MaxRetryBackoff,
		BreakerFailures: cfg.Transform.BreakerFailures,
		BreakerWindow:   cfg.Transform.BreakerWindow,
		BreakerDelay:    cfg.Transform.BreakerDelay,
	})

	// Speech-to-text is optional
	var transcriber client.Transcriber
	if cfg.STT.APIKey != "" {
		dg, err := client.NewDeepgramTranscriber(client.DeepgramConfig{
			APIKey:    cfg.STT.APIKey,
			Model:     cfg.STT.Model,
			Languages: cfg.STT.Languages,
			Timeout:   cfg.STT.Timeout,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create transcriber")
		}
		transcriber = dg
	} else {
		logger.Warn().Msg("DEEPGRAM_API_KEY not set, transcription disabled")
	}

	var archive storage.Storage
	if cfg.Archive.Enabled {
		archive, err = storage.New(ctx, cfg.Archive.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize recording archive")
		}
		logger.Info().Str("driver", cfg.Archive.Storage.Driver).Msg("recording archive enabled")
	}

	// Connection registry
	wsHub := hub.NewHub(hub.Config{
		PingInterval:    cfg.WebSocket.PingInterval,
		LivenessTimeout: cfg.WebSocket.LivenessTimeout,
		WriteWait:       cfg.WebSocket.WriteWait,
		SweepInterval:   cfg.WebSocket.SweepInterval,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		SendBuffer:      cfg.WebSocket.SendBuffer,
	})
	go wsHub.Run(ctx)

	// Cross-instance relay
	var eventRelay *relay.Relay
	var forwarder service.Forwarder
	if cfg.Relay.Enabled {
		instanceID := cfg.Relay.InstanceID
		if instanceID == "" {
			instanceID = uuid.New().String()
		}
		ps, err := pubsub.NewPubSub(cfg.Relay.PubSub, instanceID)
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.Relay.PubSub.Driver).Msg("failed to connect to event bus")
		}
		eventRelay = relay.New(ps, cfg.Relay.Channel, instanceID, cfg.WebSocket.SendBuffer)
		forwarder = eventRelay
	}

	// Services
	storySvc := service.NewStoryService(
		storyRepo,
		transformer,
		client.NewContentFilter(cfg.Submission.IrrelevantThreshold),
		idgen.NewULIDGenerator(),
		wsHub,
		forwarder,
		service.Config{
			DisplayLimit:  cfg.Hydration.DisplayLimit,
			MinLength:     cfg.Submission.MinLength,
			MaxLength:     cfg.Submission.MaxLength,
			DecideTimeout: cfg.Moderation.DecideTimeout,
		},
	)
	if err := storySvc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start story service")
	}

	if eventRelay != nil {
		if err := eventRelay.Start(ctx, storySvc); err != nil {
			logger.Fatal().Err(err).Msg("failed to start relay")
		}
	}

	transcriptionSvc := service.NewTranscriptionService(transcriber, archive, service.TranscriptionConfig{
		MinAudioBytes: cfg.STT.MinAudioBytes,
		MaxAudioBytes: cfg.STT.MaxAudioBytes,
		ArchivePrefix: cfg.Archive.Prefix,
	})

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))
	r.MaxMultipartMemory = cfg.STT.MaxAudioBytes

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"gateway":     transformer.Healthy(),
			"moderators":  wsHub.Count(domain.ChannelModerator),
			"displays":    wsHub.Count(domain.ChannelDisplay),
			"transcriber": transcriber != nil,
		})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(metrics.Handler()))
	}

	handler.NewHandler(storySvc, transcriptionSvc, cfg.STT.MaxAudioBytes).RegisterRoutes(r)
	handler.NewWSHandler(wsHub, storySvc, cfg.WebSocket.AllowedOrigins).RegisterRoutes(r)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Str("driver", cfg.Database.Driver).
			Bool("relay", cfg.Relay.Enabled).
			Int("display_limit", cfg.Hydration.DisplayLimit).
			Msg("perpatame starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	if eventRelay != nil {
		if err := eventRelay.Stop(); err != nil {
			logger.Warn().Err(err).Msg("relay shutdown error")
		}
	}
	wsHub.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server exited")
}
