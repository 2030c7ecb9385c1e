// Command botserver runs the conversation service: the Telegram connector,
// the operator admin API and the metrics listener, all sharing one engine.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skedy/conversation-core/internal/classifier"
	appconfig "github.com/skedy/conversation-core/internal/config"
	"github.com/skedy/conversation-core/internal/connectors/telegram"
	"github.com/skedy/conversation-core/internal/escalation"
	"github.com/skedy/conversation-core/internal/llm"
	llmanthropic "github.com/skedy/conversation-core/internal/llm/anthropic"
	llmopenai "github.com/skedy/conversation-core/internal/llm/openai"
	"github.com/skedy/conversation-core/internal/resolver"
	"github.com/skedy/conversation-core/internal/router"
	"github.com/skedy/conversation-core/internal/scheduler"
	"github.com/skedy/conversation-core/internal/sentiment"
	"github.com/skedy/conversation-core/internal/server"
	"github.com/skedy/conversation-core/internal/store"
	"github.com/skedy/conversation-core/internal/tasks"
	"github.com/skedy/conversation-core/internal/transcription"
	"github.com/skedy/conversation-core/pkg/config"
	"github.com/skedy/conversation-core/pkg/logger"
	"github.com/skedy/conversation-core/pkg/metrics"
)

func main() {
	cfg := &appconfig.AppConfig{}
	if err := config.Load(os.Getenv("CONFIG_FILE"), cfg); err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	appLogger := logger.NewLogger(logger.Config{
		Level:   cfg.GetLogLevel(),
		Format:  cfg.Logging.Format,
		Service: cfg.ServiceName,
	})
	cfg.LogConfig(appLogger)

	mtx := metrics.NewMetrics(appLogger)
	if cfg.Monitoring.MetricsEnabled {
		mtx.Listen(cfg.Monitoring.MetricsPort)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, notifications, cleanup, err := buildStores(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Error("store setup failed", logger.ErrorField(err))
		os.Exit(1)
	}
	defer cleanup()

	sched := scheduler.New(cfg.Scheduler, appLogger,
		scheduler.WithStatsFunc(func(inFlight, queued int) {
			mtx.SchedulerInFlight.Set(float64(inFlight))
			mtx.SchedulerQueueDepth.Set(float64(queued))
		}))

	baseClient, err := buildLLMClient(cfg, appLogger)
	if err != nil {
		appLogger.Error("llm client setup failed", logger.ErrorField(err))
		os.Exit(1)
	}
	client := llm.NewScheduled(baseClient, sched, mtx)

	analyzer := sentiment.New(client, appLogger)
	detector := escalation.NewDetector(cfg.Escalation, client, analyzer, appLogger)
	transcriber := transcription.New(cfg.Transcription, client, transcription.NewHTTPFetcher(), appLogger)
	manager := escalation.NewManager(sessions, notifications, nil, mtx, appLogger)

	engine := router.New(cfg.Session,
		resolver.New(sessions, appLogger),
		classifier.New(client, appLogger),
		sessions, manager, detector, transcriber,
		tasks.NewRegistry(client, appLogger),
		mtx, appLogger)

	errChan := make(chan error, 2)

	if cfg.Telegram.BotToken != "" {
		connector, err := telegram.NewConnector(cfg.Telegram, engine, appLogger)
		if err != nil {
			appLogger.Error("telegram setup failed", logger.ErrorField(err))
			os.Exit(1)
		}
		manager.SetAdapter(connector)
		go func() {
			errChan <- connector.Start(ctx)
		}()
	} else {
		appLogger.Warn("no telegram bot token configured, connector disabled")
	}

	adminServer := server.New(cfg.Server, manager, mtx, appLogger)
	go func() {
		errChan <- adminServer.Listen()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		appLogger.Info("received signal, shutting down", logger.StringField("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			appLogger.Error("component failed", logger.ErrorField(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("admin server shutdown failed", logger.ErrorField(err))
	}

	appLogger.Info("shutdown complete")
}

// buildStores returns Postgres-backed stores when a database is configured and
// in-memory ones otherwise. The cleanup closes whatever was opened.
func buildStores(ctx context.Context, cfg *appconfig.AppConfig, appLogger logger.Logger) (store.SessionStore, store.NotificationStore, func(), error) {
	if cfg.Database.URL == "" {
		appLogger.Warn("no database configured, using in-memory stores")
		return store.NewMemory(), store.NewNotificationMemory(), func() {}, nil
	}

	if cfg.Database.MigrateOnStart {
		if err := store.RunMigrations(cfg.Database.URL, appLogger); err != nil {
			return nil, nil, nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConnections)
	poolCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	poolCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, err
	}

	appLogger.Info("connected to database",
		logger.IntField("max_connections", cfg.Database.MaxConnections))
	return store.NewPostgresSessions(pool, appLogger),
		store.NewPostgresNotifications(pool, appLogger),
		pool.Close, nil
}

func buildLLMClient(cfg *appconfig.AppConfig, appLogger logger.Logger) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		client, err := llmanthropic.New(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model, appLogger)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := llmopenai.New(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.Model, appLogger)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
