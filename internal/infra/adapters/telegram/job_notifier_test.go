package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"sales-crm-docgen/internal/domain/model"
	"sales-crm-docgen/internal/infra/i18n"
)

func english(t *testing.T) *i18n.Translator {
	t.Helper()
	tr, err := i18n.NewTranslator(i18n.LocalesFS, "en")
	if err != nil {
		t.Fatalf("translator: %v", err)
	}
	return tr
}

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestJobFinished_SendsToChat(t *testing.T) {
	logger := zerolog.Nop()
	s := &fakeSender{}
	n := NewJobNotifierWithSender(s, -100123, english(t), &logger)

	job := &model.DocJob{
		ID: "01J", OwnerID: "u1", Action: model.ActionGenerateSOW,
		Status:    model.DocJobStatusCompleted,
		Output:    &model.DocJobOutput{Content: "# SOW", Usage: model.Usage{TotalTokens: 42}},
		Truncated: true,
	}
	if err := n.JobFinished(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(s.sent))
	}
	msg := s.sent[0]
	if msg.ChatID != -100123 {
		t.Fatalf("wrong chat id %d", msg.ChatID)
	}
	for _, want := range []string{"generate_sow finished", "01J", "tokens: 42", "token limit"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("message %q missing %q", msg.Text, want)
		}
	}
}

func TestJobFinished_SendError(t *testing.T) {
	logger := zerolog.Nop()
	n := NewJobNotifierWithSender(&fakeSender{err: errors.New("forbidden")}, 1, english(t), &logger)
	if err := n.JobFinished(context.Background(), &model.DocJob{ID: "x", Status: model.DocJobStatusFailed}); err == nil {
		t.Fatal("expected send error")
	}
}

func TestFormatJob_FailedTruncatesError(t *testing.T) {
	job := &model.DocJob{ID: "j", Action: model.ActionGenerateGoals, Status: model.DocJobStatusFailed, ErrorMessage: strings.Repeat("e", 500)}
	text := FormatJob(english(t), job)
	if !strings.Contains(text, "generate_goals failed") {
		t.Fatalf("unexpected text %q", text)
	}
	if strings.Count(text, "e") > maxErrorChars+10 {
		t.Fatalf("error not truncated: %d chars", len(text))
	}
}

func TestFormatJob_Persian(t *testing.T) {
	fa, err := i18n.NewTranslator(i18n.LocalesFS, "fa")
	if err != nil {
		t.Fatalf("translator: %v", err)
	}
	job := &model.DocJob{ID: "j", Action: model.ActionGenerateSOW, Status: model.DocJobStatusCompleted}
	text := FormatJob(fa, job)
	if !strings.Contains(text, "انجام شد") || !strings.Contains(text, "generate_sow") {
		t.Fatalf("unexpected text %q", text)
	}
}
