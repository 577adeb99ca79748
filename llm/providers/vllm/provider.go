// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package vllm adapts a self-hosted vLLM inference server. vLLM serves the
// OpenAI Chat Completions wire format, so this provider is a thin
// configuration layer over openaicompat.Provider — no protocol translation
// of its own.
package vllm

import (
	"net/http"

	"github.com/nexusgate/gateway/llm/providers"
	"github.com/nexusgate/gateway/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// Provider is vLLM's OpenAI-compatible adapter.
type Provider struct {
	*openaicompat.Provider
}

// New creates a new vLLM provider instance.
func New(cfg providers.VLLMConfig, logger *zap.Logger) *Provider {
	p := &Provider{
		Provider: openaicompat.New(openaicompat.Config{
			ProviderName: "vllm",
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			Timeout:      cfg.Timeout,
		}, logger),
	}

	// Self-hosted deployments commonly run without an API key; only send
	// the Authorization header when one is configured.
	p.SetBuildHeaders(func(req *http.Request, apiKey string) {
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
		req.Header.Set("Content-Type", "application/json")
	})

	return p
}
