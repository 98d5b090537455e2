package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"remindme/internal/bot"
	"remindme/internal/config"
	"remindme/internal/database"
	myopenai "remindme/internal/openai"
	"remindme/internal/store"
	"remindme/internal/twilio"
)

func main() {
	logger := log.New(os.Stdout, "[remindme] ", log.LstdFlags|log.Lshortfile)
	cfg := config.Load()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("database init failed: %v", err)
	}

	reminderStore := store.New(db)
	openAIClient := myopenai.New(cfg.OpenAIAPIKey)
	twilioClient := twilio.New(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioWhatsAppNumber, logger)

	reminderBot := bot.New(cfg, reminderStore, openAIClient, twilioClient, logger)
	if err := reminderBot.StartScheduler(); err != nil {
		logger.Fatalf("scheduler start: %v", err)
	}

	http.Handle("/twilio/webhook", reminderBot.Handler())

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: nil,
	}

	go func() {
		logger.Printf("server starting on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	waitForShutdown(server, reminderBot, logger)
}

func waitForShutdown(server *http.Server, reminderBot *bot.Bot, logger *log.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	reminderBot.StopScheduler()
}
