package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/sabr2007/smart-tasker-bot-sub000/app/configs"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/assistant"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/db"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/interaction/cli"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/interaction/telegram"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/match"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/nlu"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/reminder"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/scheduler"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/core/store"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/logger"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/ratelimit"
	"github.com/sabr2007/smart-tasker-bot-sub000/app/pkg/types"
)

func main() {
	if err := logger.Init("output/logs"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logger.Info("Tasker starting...")

	cfgManager, err := config.NewManager(config.DefaultPath())
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	database, err := db.NewSQLiteDB(cfg.Assistant.DataDir)
	if err != nil {
		logger.Error("Failed to initialize DB: %v", err)
		os.Exit(1)
	}
	defer database.Close()
	logger.Info("Database initialized successfully")

	taskStore := store.New(database)

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		logger.Error("OPENAI_API_KEY is not set")
		os.Exit(1)
	}
	nluClient := nlu.NewClient(apiKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)

	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowSec)*time.Second, nil)

	bot := assistant.New(taskStore, nluClient, limiter, assistant.Settings{
		Name: cfg.Assistant.Name,
		MatchOpts: match.Options{
			Threshold:       cfg.Matcher.Threshold,
			QuotedThreshold: cfg.Matcher.QuotedThreshold,
			AmbiguityDelta:  cfg.Matcher.AmbiguityDelta,
			TopK:            cfg.Matcher.TopK,
		},
		MaxBatchDeletes:        cfg.Batch.MaxDeletes,
		DefaultRemindOffsetMin: cfg.Reminder.DefaultOffsetMin,
		DefaultTimezone:        cfg.Assistant.DefaultTimezone,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var channels []types.Channel
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		channels = append(channels, telegram.NewChannel(telegram.Config{BotToken: token}))
	} else {
		logger.Info("TELEGRAM_BOT_TOKEN is not set, running CLI only")
		channels = append(channels, cli.NewCLIChannel(0))
	}

	for _, ch := range channels {
		ch := ch
		go func() {
			handler := func(msg types.Message) {
				replies, err := bot.Process(ctx, msg)
				if err != nil {
					logger.Error("process channel=%s user=%d: %v", ch.ID(), msg.UserID, err)
					replies = []types.Message{{
						Text:   "Что-то пошло не так, попробуй ещё раз чуть позже.",
						Role:   types.MessageRoleAssistant,
						UserID: msg.UserID,
						ChatID: msg.ChatID,
					}}
				}
				for _, reply := range replies {
					if err := ch.Send(ctx, reply); err != nil {
						logger.Error("send channel=%s chat=%d: %v", ch.ID(), reply.ChatID, err)
					}
				}
			}
			if err := ch.Start(ctx, handler); err != nil {
				logger.Error("channel %s stopped: %v", ch.ID(), err)
				cancel()
			}
		}()
	}

	// Reminders go out through the first (primary) channel.
	reminderSvc := reminder.New(taskStore, channels[0],
		time.Duration(cfg.Reminder.SweepIntervalSec)*time.Second, cfg.Assistant.DefaultTimezone)

	jobScheduler := scheduler.New()
	if err := jobScheduler.Register(reminderSvc.Job()); err != nil {
		logger.Error("Failed to register reminder job: %v", err)
		os.Exit(1)
	}
	if err := jobScheduler.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := jobScheduler.Stop(3 * time.Second); err != nil {
			logger.Error("Scheduler shutdown timeout: %v", err)
		}
	}()

	logger.Info("Tasker is ready to serve.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received signal: %v. Shutting down...", sig)
	cancel()
}
