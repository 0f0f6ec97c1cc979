// Package summarizer produces AI moderator messages from recent room chat.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/shravanisdakve/NexusAI-sub002/internal/config"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/log"
)

const systemPrompt = `You are a friendly moderator in a student study room.
Read the recent conversation and reply with one short message (at most three sentences)
that helps the group move forward: answer a question the group is stuck on, clarify a
concept, or gently steer a heated exchange back to the material. Do not repeat the
conversation back and do not address anyone by a username you were not given.`

var ErrEmptyCompletion = errors.New("summarizer: empty completion")

type Summarizer interface {
	Analyze(ctx context.Context, msgs []domain.Message) (string, error)
}

type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAI(cfg config.OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("summarizer: openai api key is not set")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(oc),
		model:     model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (o *OpenAI) Analyze(ctx context.Context, msgs []domain.Message) (string, error) {
	if len(msgs) == 0 {
		return "", errors.New("summarizer: no messages")
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: Transcript(msgs)},
		},
		MaxTokens: o.maxTokens,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyCompletion
	}

	l := log.Ctx(ctx)
	l.Debug().
		Str("model", resp.Model).
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("intervention generated")
	return text, nil
}

// Transcript renders messages as "name: body" lines. Image messages are
// rendered as a placeholder.
func Transcript(msgs []domain.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		name := m.SenderName
		if name == "" {
			name = m.SenderID
		}
		body := m.Body
		if m.Kind == domain.KindImage {
			body = "[shared an image]"
		}
		fmt.Fprintf(&b, "%s: %s\n", name, body)
	}
	return b.String()
}
