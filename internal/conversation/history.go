package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// compressHistory keeps conversations bounded. Once the transcript exceeds
// maxTurns messages, everything before the last keepTurns is folded into a
// single summary line. Summaries are best effort: when the model call
// fails the old messages are dropped and only the tail survives.
func (s *Service) compressHistory(ctx context.Context, history []ChatMessage, maxTurns, keepTurns int) []ChatMessage {
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}
	if keepTurns < 0 {
		keepTurns = 0
	}
	if keepTurns >= len(history) {
		return history
	}

	head := history[:len(history)-keepTurns]
	tail := history[len(history)-keepTurns:]

	summary, err := s.summarize(ctx, head)
	if err != nil {
		s.logger.Warn("history summary failed, truncating instead", "error", err)
		return append([]ChatMessage{}, tail...)
	}

	out := make([]ChatMessage, 0, keepTurns+1)
	out = append(out, ChatMessage{
		Role:    ChatRoleAssistant,
		Content: "Summary of the conversation so far: " + summary,
	})
	return append(out, tail...)
}

func (s *Service) summarize(ctx context.Context, messages []ChatMessage) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		if m.Role != ChatRoleUser && m.Role != ChatRoleAssistant {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, content)
	}

	// Summaries run on the cheaper auxiliary model when one is configured.
	resp, err := s.client.Complete(ctx, CompletionRequest{
		Model:     s.settings.SummarizeModel,
		System:    "Summarize this receptionist chat in one short sentence. Keep any patient name, contact details, and the appointment being discussed. Output only the sentence.",
		Messages:  []ChatMessage{{Role: ChatRoleUser, Content: transcript.String()}},
		MaxTokens: 120,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: summarize history: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", fmt.Errorf("conversation: summarize history: empty summary")
	}
	return strings.TrimSpace(resp.Text), nil
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// findEmail returns the most recent email address mentioned by the patient,
// used to greet returning patients by name.
func findEmail(history []ChatMessage, latest string) string {
	if m := emailPattern.FindString(latest); m != "" {
		return m
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != ChatRoleUser {
			continue
		}
		if m := emailPattern.FindString(history[i].Content); m != "" {
			return m
		}
	}
	return ""
}

var bookingDatePattern = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|today|ma.?ana|lunes|martes|mi.?rcoles|jueves|viernes|s.?bado|domingo)\b`)

// wantsBooking reports whether the message carries booking intent, and
// whether it already names a day. Booking intent without a day gets day
// options in the prompt; with a day it gets that day's slots.
func wantsBooking(message string) (intent bool, namesDay bool) {
	if !bookingIntentPattern.MatchString(message) {
		return false, false
	}
	return true, bookingDatePattern.MatchString(message)
}
