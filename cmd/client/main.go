package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-sync/internal/client"
	"chat-sync/internal/config"
	"chat-sync/internal/models"
)

// logNotifier prints incoming messages; a desktop build would surface system
// notifications instead.
type logNotifier struct{}

func (logNotifier) MessageReceived(msg models.Message) {
	log.Printf("new message conversation=%s from=%s", msg.ConversationID, msg.SenderID)
}

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Client.Token == "" || cfg.Client.UserID == "" {
		log.Fatal("CHAT_TOKEN and CHAT_USER_ID are required")
	}

	token := func() string { return cfg.Client.Token }
	engine := client.New(client.Options{
		API:           client.NewHTTPAPI(cfg.Client.APIBaseURL, token),
		Channel:       client.NewWSChannel(cfg.Client.SocketURL, token),
		Identity:      client.NewIdentity(cfg.Client.UserID),
		Cache:         client.NewFileCache(cfg.Client.SnapshotPath),
		Notifier:      logNotifier{},
		PageLimit:     cfg.Client.PageLimit,
		TypingTimeout: time.Duration(cfg.Client.TypingTimeoutSeconds) * time.Second,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("sync daemon starting user=%s api=%s", cfg.Client.UserID, cfg.Client.APIBaseURL)
	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("sync engine stopped: %v", err)
	}

	if err := engine.SaveSnapshot(); err != nil {
		log.Printf("snapshot save failed: %v", err)
	}
	log.Println("sync daemon stopped")
}
