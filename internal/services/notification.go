package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/irfndi/flashloan-arb-go/internal/models"
	"github.com/irfndi/flashloan-arb-go/internal/telemetry"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const notificationTimeout = 10 * time.Second

// MessageSender is the part of the Telegram client used for alerts.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// NotificationService pushes operator alerts to a Telegram chat. With no
// token or chat configured every notification is a no-op.
type NotificationService struct {
	sender MessageSender
	chatID int64
	tracer *telemetry.BusinessTracer
	logger *logrus.Logger
}

// NewNotificationService creates the Telegram client when a token and chat
// are configured. A client that cannot be created disables notifications.
func NewNotificationService(telegramBotToken string, chatID int64, logger *logrus.Logger) *NotificationService {
	ns := &NotificationService{chatID: chatID, tracer: telemetry.NewBusinessTracer(), logger: logger}
	if telegramBotToken == "" || chatID == 0 {
		return ns
	}

	telegramBot, err := bot.New(telegramBotToken)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize Telegram bot, notifications disabled")
		return ns
	}
	ns.sender = telegramBot
	return ns
}

// NewNotificationServiceWithSender wires an explicit sender.
func NewNotificationServiceWithSender(sender MessageSender, chatID int64, tracer *telemetry.BusinessTracer, logger *logrus.Logger) *NotificationService {
	if tracer == nil {
		tracer = telemetry.NewBusinessTracer()
	}
	return &NotificationService{sender: sender, chatID: chatID, tracer: tracer, logger: logger}
}

// Enabled reports whether alerts are delivered anywhere.
func (ns *NotificationService) Enabled() bool {
	return ns != nil && ns.sender != nil && ns.chatID != 0
}

// NotifyKillSwitch alerts that trading halted on low balance.
func (ns *NotificationService) NotifyKillSwitch(ctx context.Context, reason string) error {
	text := fmt.Sprintf("🛑 *Kill switch activated*\n\n%s\n\nTrading is halted until the kill switch is reset.", escapeMarkdown(reason))
	return ns.send(ctx, "kill_switch", text)
}

// NotifyCooldown alerts that the daily-loss threshold started a cooldown.
func (ns *NotificationService) NotifyCooldown(ctx context.Context, until time.Time, dailyPnl decimal.Decimal) error {
	text := fmt.Sprintf("⏸ *Risk cooldown*\n\nDaily PnL: %s ETH\nTrading resumes at %s",
		dailyPnl.StringFixed(6), until.Format("15:04 MST"))
	return ns.send(ctx, "cooldown", text)
}

// NotifyTrade reports a completed live trade.
func (ns *NotificationService) NotifyTrade(ctx context.Context, trade models.Trade) error {
	return ns.send(ctx, "trade", ns.formatTradeMessage(trade))
}

func (ns *NotificationService) formatTradeMessage(trade models.Trade) string {
	icon := "✅"
	if trade.Status == models.TradeStatusFailed {
		icon = "❌"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s *Trade %s*\n\n", icon, strings.ToUpper(string(trade.Status))))
	sb.WriteString(fmt.Sprintf("Route: %s\n", escapeMarkdown(trade.Opportunity.Route.Symbol)))
	sb.WriteString(fmt.Sprintf("Strategy: %s\n", escapeMarkdown(string(trade.Strategy))))
	sb.WriteString(fmt.Sprintf("Spread: %.2f%%\n", trade.Opportunity.Spread*100))
	sb.WriteString(fmt.Sprintf("PnL: %s ETH\n", trade.Profit.StringFixed(6)))
	if trade.TxHash != "" {
		sb.WriteString(fmt.Sprintf("Tx: `%s`\n", trade.TxHash))
	}
	return sb.String()
}

func (ns *NotificationService) send(ctx context.Context, kind, text string) error {
	if !ns.Enabled() {
		return nil
	}

	ctx, span := ns.tracer.TraceNotification(ctx, kind, "telegram")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, notificationTimeout)
	defer cancel()

	_, err := ns.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    ns.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	ns.tracer.RecordNotificationResult(span, err == nil, err)
	if err != nil {
		ns.logger.WithField("notification_type", kind).WithError(err).Warn("Failed to send telegram message")
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
