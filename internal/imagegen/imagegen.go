// Package imagegen turns a prompt into a hosted image URL through the OpenAI
// images API.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	ErrNotConfigured = errors.New("imagegen: api key is not set")
	ErrNoImage       = errors.New("imagegen: response contained no image url")
)

type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
}

type Generator struct {
	client openai.Client
	model  string
	size   string
	ready  bool
}

func New(opts Options) *Generator {
	g := &Generator{model: opts.Model, size: opts.Size}
	if strings.TrimSpace(opts.APIKey) == "" {
		return g
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	g.client = openai.NewClient(reqOpts...)
	g.ready = true
	return g
}

// Generate requests one image for prompt and returns its URL.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if !g.ready {
		return "", ErrNotConfigured
	}
	params := openai.ImageGenerateParams{
		Prompt:         prompt,
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	}
	if g.model != "" {
		params.Model = openai.ImageModel(g.model)
	}
	if g.size != "" {
		params.Size = openai.ImageGenerateParamsSize(g.size)
	}

	resp, err := g.client.Images.Generate(ctx, params)
	if err != nil {
		return "", fmt.Errorf("generate image: %w", err)
	}
	if resp == nil || len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", ErrNoImage
	}
	return resp.Data[0].URL, nil
}
