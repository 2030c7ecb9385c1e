// Package openai backs the engine's model client with OpenAI chat and
// whisper models.
package openai

import (
	"context"
	"fmt"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/skedy/conversation-core/internal/llm"
	"github.com/skedy/conversation-core/pkg/logger"
)

// Client implements llm.Client on the OpenAI API.
type Client struct {
	client     *openai.Client
	chatModel  string
	audioModel string
	log        logger.Logger
}

// New creates an OpenAI-backed client.
func New(apiKey, chatModel string, log logger.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if chatModel == "" {
		return nil, fmt.Errorf("model name is required")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	return &Client{
		client:     &client,
		chatModel:  chatModel,
		audioModel: string(openai.AudioModelWhisper1),
		log:        log,
	}, nil
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := openai.ChatCompletionNewParams{
		Model:     c.chatModel,
		MaxTokens: openai.Int(maxTokens),
		Messages:  messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	return &llm.Response{
		Text:       completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
	}, nil
}

// Transcribe implements llm.Client using the whisper audio model.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	transcription, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(c.audioModel),
		File:  openai.File(audio, filename, "application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription error: %w", err)
	}
	return transcription.Text, nil
}
