package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements CompletionClient against an OpenAI-compatible
// chat completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client. baseURL may be empty for the public
// API or point at a compatible gateway.
func NewOpenAIClient(apiKey, baseURL, model string) (*OpenAIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: openai api key required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), model: model}, nil
}

// Complete sends one chat completion request, with tools when provided.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, toOpenAIMessage(m))
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toOpenAITools(req.Tools)
		chatReq.ToolChoice = "auto"
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return CompletionResponse{}, fmt.Errorf("conversation: openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return CompletionResponse{}, errors.New("conversation: openai returned no choices")
	}

	choice := resp.Choices[0].Message
	out := CompletionResponse{Text: strings.TrimSpace(choice.Content)}
	for _, tc := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func toOpenAIMessage(m ChatMessage) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Content: m.Content}
	switch m.Role {
	case ChatRoleAssistant:
		msg.Role = openai.ChatMessageRoleAssistant
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
	case ChatRoleTool:
		msg.Role = openai.ChatMessageRoleTool
		msg.ToolCallID = m.ToolCallID
	case ChatRoleSystem:
		msg.Role = openai.ChatMessageRoleSystem
	default:
		msg.Role = openai.ChatMessageRoleUser
	}
	return msg
}

func toOpenAITools(specs []ToolSpec) []openai.Tool {
	tools := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return tools
}
