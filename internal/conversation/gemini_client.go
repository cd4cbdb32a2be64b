package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient implements CompletionClient using Google's Gemini API. It is
// the text-only fallback: tool declarations are ignored, so it can phrase
// answers when the primary provider is down but never commits bookings.
type GeminiClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiClient creates a Gemini-backed completion client.
func NewGeminiClient(ctx context.Context, apiKey, modelID string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: create gemini client: %w", err)
	}
	return &GeminiClient{client: client, modelID: modelID}, nil
}

// Complete sends the conversation to Gemini and returns the text reply.
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	model := c.client.GenerativeModel(c.modelID)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		model.SetTemperature(req.Temperature)
	}
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}

	cs := model.StartChat()
	if len(req.Messages) == 0 {
		return CompletionResponse{}, errors.New("conversation: gemini requires at least one message")
	}
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		content := strings.TrimSpace(msg.Content)
		if content == "" || msg.Role == ChatRoleSystem || msg.Role == ChatRoleTool {
			continue
		}
		role := "user"
		if msg.Role == ChatRoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(content)},
		})
	}

	last := req.Messages[len(req.Messages)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("conversation: gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return CompletionResponse{}, errors.New("conversation: gemini returned no candidates")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return CompletionResponse{Text: strings.TrimSpace(text.String())}, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
