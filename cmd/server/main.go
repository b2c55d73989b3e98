package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/ai-salesbot/internal/ai"
	"github.com/suPer8Hu/ai-salesbot/internal/audit"
	"github.com/suPer8Hu/ai-salesbot/internal/chat"
	"github.com/suPer8Hu/ai-salesbot/internal/config"
	"github.com/suPer8Hu/ai-salesbot/internal/db"
	"github.com/suPer8Hu/ai-salesbot/internal/events"
	"github.com/suPer8Hu/ai-salesbot/internal/httpapi"
	"github.com/suPer8Hu/ai-salesbot/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-salesbot/internal/logging"
	"github.com/suPer8Hu/ai-salesbot/internal/messaging/whatsapp"
	"github.com/suPer8Hu/ai-salesbot/internal/models"
	"github.com/suPer8Hu/ai-salesbot/internal/retry"
	"github.com/suPer8Hu/ai-salesbot/internal/session"
	"github.com/suPer8Hu/ai-salesbot/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-salesbot/internal/store/redisstore"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb := db.Connect(log, cfg.DBDriver, cfg.DBDSN,
		&models.User{},
		&session.Record{},
		&chat.Message{},
		&chat.Seller{},
		&chat.Vendor{},
		&audit.Event{},
	)

	hub := events.NewHub(log.Named("hub"))
	bus := events.Multi{hub}

	var rdb *redisstore.Store
	if cfg.RedisAddr != "" {
		rdb = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx); err != nil {
			log.Warn("redis unavailable, pub/sub and rate limiting degrade", zap.Error(err))
		}
		cancel()
		defer func() { _ = rdb.Close() }()
		bus = append(bus, rdb)
	}

	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Warn("rabbitmq unavailable, lifecycle events are not audited", zap.Error(err))
		} else {
			defer func() { _ = pub.Close() }()
			bus = append(bus, pub)
		}
	}

	llm, err := ai.NewDefaultRegistry(cfg).Get(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Fatal("ai provider", zap.String("provider", cfg.AIProvider), zap.Error(err))
	}

	var describer ai.Describer
	if cfg.GeminiAPIKey != "" {
		d, err := ai.NewGeminiDescriber(ctx, cfg.GeminiAPIKey, cfg.GeminiVisionModel)
		if err != nil {
			log.Warn("image description disabled", zap.Error(err))
		} else {
			describer = d
		}
	}

	chatRepo := chat.NewRepo(gdb)
	replier := chat.NewService(chatRepo, llm, log.Named("resolver"),
		chat.WithRetries(cfg.LLMMaxRetries, 500*time.Millisecond),
	)
	pipeline := chat.NewPipeline(chat.PipelineDeps{
		Replier:     replier,
		Transcriber: ai.NewWhisperTranscriber(cfg.GroqBaseURL, cfg.GroqAPIKey, cfg.TranscribeModel),
		Describer:   describer,
		Store:       chatRepo,
		Log:         log.Named("pipeline"),
		TempDir:     cfg.TempDir,
	})

	sessionRepo := session.NewRepo(gdb)
	wa, err := openWhatsApp(ctx, cfg, sessionRepo, log.Named("whatsapp"))
	if err != nil {
		log.Fatal("whatsapp device store", zap.Error(err))
	}

	reg := session.NewRegistry(session.Deps{
		Store:     sessionRepo,
		Bus:       bus,
		Clients:   wa.Factory(),
		Responder: pipeline,
		Log:       log.Named("session"),
		Options: session.Options{
			InitPolicy: retry.Fixed(cfg.InitAttempts, cfg.InitRetryDelay),
		},
	})

	report, err := session.Recover(ctx, sessionRepo, reg, log.Named("recovery"), cfg.RecoveryConcurrency)
	if err != nil {
		log.Error("session recovery", zap.Error(err))
	} else {
		log.Info("sessions recovered",
			zap.Int("total", report.Total),
			zap.Int("recovered", report.Recovered),
			zap.Int("failed", report.Failed),
		)
	}

	h := handlers.NewHandler(handlers.Deps{
		DB:       gdb,
		Cfg:      cfg,
		Log:      log,
		Sessions: reg,
		Hub:      hub,
		Redis:    rdb,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	if err := reg.Shutdown(shutdownCtx); err != nil {
		log.Warn("session shutdown", zap.Error(err))
	}
	hub.Close()
}

func openWhatsApp(ctx context.Context, cfg config.Config, devices whatsapp.DeviceStore, log *zap.Logger) (*whatsapp.Provider, error) {
	dialect, err := whatsapp.Dialect(cfg.WAStoreDriver)
	if err != nil {
		return nil, err
	}
	driver := "postgres"
	if dialect == "sqlite3" {
		driver = "sqlite"
	}
	gdb, err := db.Open(driver, cfg.WAStoreDSN)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	return whatsapp.NewProvider(ctx, sqlDB, dialect, devices, log, cfg.AdapterInitTimeout)
}
