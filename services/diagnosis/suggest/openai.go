// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suggest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// Generator turns a prompt into a completion.
type Generator interface {
	// Generate returns the model's reply to prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// DefaultOpenAIModel is used when OpenAIConfig.Model is empty.
const DefaultOpenAIModel = "gpt-4o"

// systemPrompt frames every completion.
const systemPrompt = "You are an expert Go and MySQL performance engineer. Answer with code only."

// OpenAIConfig configures an OpenAIGenerator.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
}

// OpenAIGenerator generates completions through the OpenAI chat API or any
// server speaking it.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIGenerator creates a generator.
//
// # Inputs
//
//   - cfg: APIKey is required. BaseURL overrides the public endpoint and
//     should include the version path, e.g. "http://localhost:8000/v1".
//
// # Outputs
//
//   - *OpenAIGenerator: The generator.
//   - error: ErrMissingAPIKey if cfg.APIKey is empty.
func NewOpenAIGenerator(cfg OpenAIConfig) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
		slog.Warn("OpenAI model not set, using default", slog.String("model", model))
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	slog.Info("Initializing OpenAI generator", slog.String("model", model))
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
	}, nil
}

// Name implements Generator.
func (o *OpenAIGenerator) Name() string { return "openai" }

// Generate implements Generator.
func (o *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	slog.Debug("Generating suggestion via OpenAI", slog.String("model", o.model))
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: o.temperature,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyCompletion)
	}
	slog.Debug("Received completion from OpenAI",
		slog.String("finish_reason", string(resp.Choices[0].FinishReason)),
	)
	return resp.Choices[0].Message.Content, nil
}
