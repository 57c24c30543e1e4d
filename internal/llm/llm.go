// Package llm adapts agentsdk-go model providers to the plain
// turns-in, text-out contract the gateway needs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/lum/internal/config"
	"github.com/stellarlinkco/lum/internal/conversation"
)

// ErrEmptyReply is returned when the model answered with no text.
var ErrEmptyReply = errors.New("llm: empty reply")

const clientCacheTTL = time.Hour

type Generator struct {
	provider model.Provider
}

func New(provider model.Provider) *Generator {
	return &Generator{provider: provider}
}

// NewFromConfig picks the anthropic or openai provider from cfg.
func NewFromConfig(cfg *config.Config) (*Generator, error) {
	if cfg.Provider.APIKey == "" {
		return nil, errors.New("provider api key is not set")
	}
	var provider model.Provider
	switch cfg.Provider.Type {
	case config.ProviderAnthropic:
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
			CacheTTL:  clientCacheTTL,
		}
	case config.ProviderOpenAI, "":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
			CacheTTL:  clientCacheTTL,
		}
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Provider.Type)
	}
	return New(provider), nil
}

// Generate sends the turns to the model and returns the reply text. System
// turns are folded into the request's system prompt.
func (g *Generator) Generate(ctx context.Context, turns []conversation.Turn, maxTokens int) (string, error) {
	mdl, err := g.provider.Model(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve model: %w", err)
	}

	req := model.Request{MaxTokens: maxTokens}
	var system []string
	for _, t := range turns {
		if t.Role == conversation.RoleSystem {
			system = append(system, t.Content)
			continue
		}
		req.Messages = append(req.Messages, model.Message{Role: t.Role, Content: t.Content})
	}
	req.System = strings.Join(system, "\n\n")

	resp, err := mdl.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyReply
	}
	text := strings.TrimSpace(resp.Message.TextContent())
	if text == "" {
		return "", ErrEmptyReply
	}
	return text, nil
}
