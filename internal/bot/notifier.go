package bot

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/weathercal/internal/domain"
	"github.com/tazhate/weathercal/internal/logger"
)

// maxReportedFailures caps the failure lines in one message.
const maxReportedFailures = 5

// Notifier sends run reports to a Telegram chat.
type Notifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *logger.Logger
}

// NewNotifier authorizes the bot token against the Telegram API.
func NewNotifier(token string, chatID int64, log *logger.Logger) (*Notifier, error) {
	return NewNotifierWithEndpoint(token, tgbotapi.APIEndpoint, chatID, log)
}

// NewNotifierWithEndpoint is NewNotifier against a custom Bot API endpoint
// such as a self-hosted server.
func NewNotifierWithEndpoint(token, endpoint string, chatID int64, log *logger.Logger) (*Notifier, error) {
	if log == nil {
		log = logger.Nop()
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Infow("Telegram notifier authorized", "bot", api.Self.UserName, "chat", chatID)

	return &Notifier{
		api:    api,
		chatID: chatID,
		log:    log,
	}, nil
}

// NotifyRun sends the run report.
func (n *Notifier) NotifyRun(ctx context.Context, run *domain.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.SendMessage(n.chatID, FormatRunReport(run))
}

func (n *Notifier) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	_, err := n.api.Send(msg)
	return err
}

// FormatRunReport renders a run as a Telegram HTML message.
func FormatRunReport(run *domain.Run) string {
	var sb strings.Builder

	icon := "✅"
	switch run.Status {
	case domain.RunPartial:
		icon = "⚠️"
	case domain.RunFailed:
		icon = "❌"
	}

	sb.WriteString(fmt.Sprintf("%s <b>Weather sync %s</b>\n", icon, run.Status))
	sb.WriteString(fmt.Sprintf("Run <code>%s</code>", html.EscapeString(shortID(run.ID))))
	if d := run.Duration(); d > 0 {
		sb.WriteString(fmt.Sprintf(" in %s", d.Round(100*time.Millisecond)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("📅 Slots: %d\n", run.Slots))
	sb.WriteString(fmt.Sprintf("➕ Created: %d\n", run.Created))
	sb.WriteString(fmt.Sprintf("✏️ Updated: %d\n", run.Updated))
	if run.Dropped > 0 {
		sb.WriteString(fmt.Sprintf("🚫 Dropped: %d\n", run.Dropped))
	}
	if run.Failed > 0 {
		sb.WriteString(fmt.Sprintf("💥 Failed: %d\n", run.Failed))
	}
	if run.Pruned > 0 {
		sb.WriteString(fmt.Sprintf("🧹 Pruned: %d\n", run.Pruned))
	}

	failures := run.Failures()
	if len(failures) > 0 {
		sb.WriteString("\n<b>Problems:</b>\n")
		for i, f := range failures {
			if i == maxReportedFailures {
				sb.WriteString(fmt.Sprintf("…and %d more\n", len(failures)-maxReportedFailures))
				break
			}
			sb.WriteString(fmt.Sprintf("• slot %d: %s\n", f.SlotIndex, html.EscapeString(f.Error)))
		}
	} else if run.Error != "" {
		sb.WriteString(fmt.Sprintf("\n%s\n", html.EscapeString(run.Error)))
	}

	if run.Status != domain.RunSucceeded {
		if run.Retryable {
			sb.WriteString("\n<i>Will retry on the next run.</i>")
		} else {
			sb.WriteString("\n<i>Not retried automatically, check the configuration.</i>")
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
