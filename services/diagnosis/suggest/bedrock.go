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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const (
	// DefaultBedrockModel is used when BedrockConfig.Model is empty.
	DefaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

	anthropicVersion = "bedrock-2023-05-31"
	bedrockMaxTokens = 4096
)

// BedrockInvoker is the subset of the Bedrock runtime client used here.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockConfig configures a BedrockGenerator.
type BedrockConfig struct {
	Region      string
	Model       string
	Temperature float32
}

// BedrockGenerator generates completions with an Anthropic model on AWS
// Bedrock through InvokeModel.
type BedrockGenerator struct {
	client      BedrockInvoker
	model       string
	temperature float32
}

// NewBedrockGenerator loads the default AWS credential chain for cfg.Region
// and creates a generator.
func NewBedrockGenerator(ctx context.Context, cfg BedrockConfig) (*BedrockGenerator, error) {
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return NewBedrockGeneratorFromClient(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

// NewBedrockGeneratorFromClient creates a generator around an existing
// client.
func NewBedrockGeneratorFromClient(client BedrockInvoker, cfg BedrockConfig) *BedrockGenerator {
	model := cfg.Model
	if model == "" {
		model = DefaultBedrockModel
	}
	return &BedrockGenerator{client: client, model: model, temperature: cfg.Temperature}
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      float32            `json:"temperature,omitempty"`
	System           string             `json:"system,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

// Name implements Generator.
func (b *BedrockGenerator) Name() string { return "bedrock" }

// Generate implements Generator.
func (b *BedrockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        bedrockMaxTokens,
		Temperature:      b.temperature,
		System:           systemPrompt,
		Messages: []anthropicMessage{{
			Role:    "user",
			Content: []anthropicContent{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("bedrock: marshal request: %w", err)
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.model),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("bedrock: invoke model: %w", err)
	}

	var out anthropicResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return "", fmt.Errorf("bedrock: decode response: %w", err)
	}
	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("bedrock: %w", ErrEmptyCompletion)
	}
	return sb.String(), nil
}
