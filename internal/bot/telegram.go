package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"steady-hand/internal/domain"

	tele "gopkg.in/telebot.v3"
)

// PositionSource exposes the engine's open position ledger.
type PositionSource interface {
	Positions() []domain.Position
}

// AlertReader lists recent persisted alerts.
type AlertReader interface {
	RecentAlerts(ctx context.Context, limit int, includeResolved bool) ([]domain.RiskAlert, error)
}

// TelegramBot is the operator surface: status commands plus the halt/resume
// switch. It also implements the monitor's Notifier so alerts reach the
// operator chat.
type TelegramBot struct {
	bot       *tele.Bot
	chatID    int64
	positions PositionSource
	alerts    AlertReader
	state     *domain.PortfolioState
}

// StartTelegramBot wires the bot and starts polling. Returns nil when no
// token is configured; callers must treat that as "no notifier".
func StartTelegramBot(token string, chatID int64, positions PositionSource, alerts AlertReader, state *domain.PortfolioState) *TelegramBot {
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}

	t := &TelegramBot{bot: b, chatID: chatID, positions: positions, alerts: alerts, state: state}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/positions", func(c tele.Context) error {
		return c.Send(t.positionsText())
	})

	b.Handle("/pnl", func(c tele.Context) error {
		return c.Send(t.pnlText())
	})

	b.Handle("/alerts", func(c tele.Context) error {
		return c.Send(t.alertsText(context.Background()))
	})

	b.Handle("/halt", func(c tele.Context) error {
		if t.state.TriggerEmergency("halted by operator") {
			return c.Send("Trading halted. Use /resume to clear.")
		}
		_, reason, _ := t.state.EmergencyStatus()
		return c.Send("Already halted: " + reason)
	})

	b.Handle("/resume", func(c tele.Context) error {
		active, reason, _ := t.state.EmergencyStatus()
		if !active {
			return c.Send("Trading is not halted.")
		}
		t.state.ResetEmergency()
		log.Printf("Emergency mode reset via Telegram (was: %s)", reason)
		return c.Send("Emergency cleared. Trading resumes next cycle.")
	})

	log.Println("Telegram bot started")
	go b.Start()
	return t
}

// Notify pushes a risk alert to the operator chat.
func (t *TelegramBot) Notify(ctx context.Context, alert domain.RiskAlert) error {
	if t == nil || t.bot == nil || t.chatID == 0 {
		return nil
	}
	msg := fmt.Sprintf("[%s] %s\n%s", strings.ToUpper(string(alert.Severity)), alert.Type, alert.Message)
	if alert.Action != "" {
		msg += "\nAction: " + alert.Action
	}
	_, err := t.bot.Send(&tele.Chat{ID: t.chatID}, msg)
	return err
}

func (t *TelegramBot) positionsText() string {
	positions := t.positions.Positions()
	if len(positions) == 0 {
		return "No open positions."
	}
	var sb strings.Builder
	for _, p := range positions {
		fmt.Fprintf(&sb, "%s %s %.4f @ $%.2f (uPnL $%.2f)\n",
			p.Symbol, p.Side, p.Size, p.EntryPrice, p.UnrealizedPnL)
	}
	return sb.String()
}

func (t *TelegramBot) pnlText() string {
	m := t.state.Metrics()
	status := "trading"
	if t.state.EmergencyMode() {
		status = "HALTED"
	}
	return fmt.Sprintf(
		"Equity: $%.2f\nDaily PnL: $%.2f\nDrawdown: %.1f%%\nOpen positions: %d\nStatus: %s",
		m.Equity, m.DailyPnL, m.DrawdownPct, m.OpenPositions, status,
	)
}

func (t *TelegramBot) alertsText(ctx context.Context) string {
	alerts, err := t.alerts.RecentAlerts(ctx, 5, false)
	if err != nil {
		return fmt.Sprintf("Error fetching alerts: %v", err)
	}
	if len(alerts) == 0 {
		return "No unresolved alerts."
	}
	var sb strings.Builder
	for _, a := range alerts {
		fmt.Fprintf(&sb, "#%d [%s] %s: %s\n", a.ID, a.Severity, a.Type, a.Message)
	}
	return sb.String()
}
