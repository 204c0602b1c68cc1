package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/domain/ports/adapter"
	"sales-crm-docgen/internal/infra/i18n"
	"sales-crm-docgen/internal/infra/metrics"
)

var _ adapter.JobNotifier = (*JobNotifier)(nil)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// JobNotifier posts background job results to one operations chat.
type JobNotifier struct {
	bot    Sender
	chatID int64
	tr     *i18n.Translator
	log    *zerolog.Logger
}

// NewJobNotifier connects to the Bot API with token.
func NewJobNotifier(token string, chatID int64, tr *i18n.Translator, logger *zerolog.Logger) (*JobNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return NewJobNotifierWithSender(bot, chatID, tr, logger), nil
}

func NewJobNotifierWithSender(bot Sender, chatID int64, tr *i18n.Translator, logger *zerolog.Logger) *JobNotifier {
	l := logger.With().Str("component", "TelegramJobNotifier").Str("lang", tr.Lang()).Logger()
	return &JobNotifier{bot: bot, chatID: chatID, tr: tr, log: &l}
}

func (n *JobNotifier) JobFinished(ctx context.Context, job *model.DocJob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, FormatJob(n.tr, job))
	msg.DisableWebPagePreview = true
	if _, err := n.bot.Send(msg); err != nil {
		metrics.IncNotification("telegram", "failed")
		n.log.Error().Err(err).Str("job_id", job.ID).Msg("failed to send job notification")
		return err
	}
	metrics.IncNotification("telegram", "sent")
	return nil
}

const maxErrorChars = 300

// FormatJob renders the notification text for a finished job.
func FormatJob(tr *i18n.Translator, job *model.DocJob) string {
	var b strings.Builder
	switch job.Status {
	case model.DocJobStatusCompleted:
		b.WriteString(tr.T("job_completed", job.Action, job.ID, job.OwnerID))
		if job.Output != nil {
			b.WriteString("\n" + tr.T("job_tokens", job.Output.Usage.TotalTokens))
		}
		if job.Truncated {
			b.WriteString("\n" + tr.T("job_truncated"))
		}
	default:
		msg := job.ErrorMessage
		if r := []rune(msg); len(r) > maxErrorChars {
			msg = string(r[:maxErrorChars]) + "…"
		}
		b.WriteString(tr.T("job_failed", job.Action, job.ID, job.OwnerID, msg))
	}
	return b.String()
}
