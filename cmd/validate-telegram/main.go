package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/irfndi/flashloan-arb-go/internal/config"
	"github.com/joho/godotenv"
)

var (
	errNoToken  = errors.New("TELEGRAM_BOT_TOKEN is not configured")
	errNoChatID = errors.New("TELEGRAM_CHAT_ID is not configured")
)

type telegramClient interface {
	GetMe(ctx context.Context) (*tgmodels.User, error)
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

func main() {
	send := flag.Bool("send", false, "send a test alert to the configured chat")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  Warning: Could not load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg.Telegram.BotToken == "" {
		fmt.Printf("❌ %v\n", errNoToken)
		os.Exit(1)
	}

	b, err := bot.New(cfg.Telegram.BotToken)
	if err != nil {
		fmt.Printf("❌ Failed to create Telegram bot: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := validate(ctx, os.Stdout, cfg.Telegram, b, *send); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n🎉 All Telegram alert checks passed!")
}

// validate checks the alert configuration and, when send is set, delivers
// a test message to the operator chat.
func validate(ctx context.Context, out io.Writer, cfg config.TelegramConfig, client telegramClient, send bool) error {
	if cfg.BotToken == "" {
		return errNoToken
	}
	fmt.Fprintf(out, "✅ TELEGRAM_BOT_TOKEN is configured (length: %d)\n", len(cfg.BotToken))

	info, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	fmt.Fprintf(out, "✅ Bot API connection successful: @%s (id %d)\n", info.Username, info.ID)

	if cfg.ChatID == 0 {
		return errNoChatID
	}
	fmt.Fprintf(out, "✅ TELEGRAM_CHAT_ID is configured: %d\n", cfg.ChatID)

	if !send {
		return nil
	}
	_, err = client.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: cfg.ChatID,
		Text:   "Flash-loan arbitrage bot: alert channel check",
	})
	if err != nil {
		return fmt.Errorf("failed to send test alert: %w", err)
	}
	fmt.Fprintln(out, "✅ Test alert delivered")
	return nil
}
