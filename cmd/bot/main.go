package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ami-tgbot-go/internal/config"
	"github.com/ami-tgbot-go/internal/handlers"
	"github.com/ami-tgbot-go/internal/i18n"
	"github.com/ami-tgbot-go/internal/middleware"
	"github.com/ami-tgbot-go/internal/pipeline"
	"github.com/ami-tgbot-go/internal/services/ai"
	"github.com/ami-tgbot-go/internal/services/cache"
	"github.com/ami-tgbot-go/internal/services/contextstore"
	"github.com/ami-tgbot-go/internal/services/search"
	"github.com/ami-tgbot-go/internal/services/sentiment"
	"github.com/ami-tgbot-go/internal/services/storage"
	"github.com/ami-tgbot-go/internal/services/trigger"
	"github.com/ami-tgbot-go/internal/services/voice"
	"github.com/ami-tgbot-go/internal/worker"
	"github.com/ami-tgbot-go/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Ami...")

	bot, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}
	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageManager, err := storage.NewManager(&cfg.Storage, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}
	defer storageManager.Close()

	store := contextstore.New(&cfg.Context, log)
	classifier := sentiment.NewClassifier()

	triggers := cfg.Triggers
	if triggers.BotUserID == 0 {
		triggers.BotUserID = bot.Self.ID
	}
	engine := trigger.NewEngineFromConfig(&triggers)

	backend := ai.NewOpenAIBackend(&cfg.Backend, log)
	if err := backend.Initialize(ctx, cfg.Backend.SystemPrompt); err != nil {
		log.WithError(err).Fatal("Failed to initialize backend")
	}

	cacheService := cache.NewCache(&cfg.Cache, log)
	metrics := middleware.NewMetrics()

	responder := pipeline.New(cfg, pipeline.Deps{
		Store:      store,
		Classifier: classifier,
		Backend:    backend,
		Searcher:   search.NewGoogleClient(&cfg.Search, cacheService, log),
		Synth:      voice.NewElevenLabs(&cfg.Voice, log),
		Metrics:    metrics,
		Logger:     log,
	})

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)
	defer rateLimiter.Stop()
	dailyLimiter := middleware.NewDailyLimiter(storageManager, &cfg.Limits, log)

	commandHandler := handlers.NewCommandHandler(bot, cfg, storageManager, classifier, localizer, log)
	messageHandler := handlers.NewMessageHandler(
		cfg,
		bot,
		engine,
		responder,
		storageManager,
		dailyLimiter,
		rateLimiter,
		localizer,
		metrics,
		log,
	)

	var metricsServer *http.Server
	if cfg.Monitoring.Metrics.Enabled {
		metricsServer = middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path)
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	updates, webhookServer := listen(bot, cfg, log)

	pool := worker.NewPool(cfg.Workers.Size, cfg.Workers.Queue, log)

	go func() {
		for update := range updates {
			update := update
			if err := pool.Submit(ctx, func(jobCtx context.Context) {
				handleUpdate(jobCtx, update, commandHandler, messageHandler, metrics, log)
			}); err != nil {
				log.WithError(err).Warn("Dropping update")
			}
		}
	}()

	go startPeriodicTasks(ctx, cfg.Context.SweepInterval, store, backend, storageManager, metrics, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("Shutdown signal received")

	if cfg.Bot.Webhook.Enabled {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.WithError(err).Error("Failed to delete webhook")
		}
	} else {
		bot.StopReceivingUpdates()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := pool.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("Workers did not finish in time")
	}
	cancel()

	if err := store.Save(); err != nil {
		log.WithError(err).Error("Failed to save context store")
	}

	for _, server := range []*http.Server{metricsServer, webhookServer} {
		if server == nil {
			continue
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("HTTP server shutdown failed")
		}
	}

	log.Info("Bot stopped")
}

// listen sets up long polling or, when configured, a webhook and the HTTP
// server receiving it
func listen(bot *tgbotapi.BotAPI, cfg *config.Config, log *logrus.Logger) (tgbotapi.UpdatesChannel, *http.Server) {
	if !cfg.Bot.Webhook.Enabled {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = cfg.Bot.UpdateTimeout
		log.Info("Using long polling")
		return bot.GetUpdatesChan(u), nil
	}

	webhookURL := fmt.Sprintf("%s/%s", cfg.Bot.Webhook.URL, bot.Token)
	webhook, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		log.WithError(err).Fatal("Failed to create webhook")
	}
	if _, err := bot.Request(webhook); err != nil {
		log.WithError(err).Fatal("Failed to set webhook")
	}

	updates := bot.ListenForWebhook("/" + bot.Token)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Bot.Webhook.Port),
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Webhook server failed")
		}
	}()

	log.WithField("port", cfg.Bot.Webhook.Port).Info("Webhook set")
	return updates, server
}

func handleUpdate(
	ctx context.Context,
	update tgbotapi.Update,
	commandHandler *handlers.CommandHandler,
	messageHandler *handlers.MessageHandler,
	metrics *middleware.Metrics,
	log *logrus.Logger,
) {
	message := update.Message
	if message == nil || message.Chat == nil {
		return
	}
	metrics.RecordMessageReceived(message.Chat.Type)

	var err error
	if message.IsCommand() && commandHandler.Handles(message.Command()) {
		metrics.RecordCommandExecuted(message.Command())
		err = commandHandler.HandleCommand(ctx, message)
	} else {
		err = messageHandler.HandleMessage(ctx, message)
	}

	if err != nil {
		log.WithError(err).WithField("chat_id", message.Chat.ID).Error("Failed to handle message")
		metrics.RecordMessageProcessed("error")
		return
	}
	metrics.RecordMessageProcessed("success")
}

// startPeriodicTasks sweeps the context store and refreshes gauges
func startPeriodicTasks(
	ctx context.Context,
	interval time.Duration,
	store *contextstore.Store,
	backend *ai.OpenAIBackend,
	storageManager *storage.Manager,
	metrics *middleware.Metrics,
	log *logrus.Logger,
) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := store.Sweep()
			metrics.RecordSweep(result.Expired, result.Evicted)
			metrics.SetContextBuckets(result.Remaining)
			metrics.SetBackendSessions(backend.ActiveSessions())

			if chats, err := storageManager.ActiveChats(ctx); err != nil {
				log.WithError(err).Warn("Failed to count active chats")
			} else {
				metrics.SetActiveChats(len(chats))
			}

			log.WithFields(logrus.Fields{
				"expired":   result.Expired,
				"evicted":   result.Evicted,
				"remaining": result.Remaining,
			}).Info("Context store swept")
		}
	}
}
