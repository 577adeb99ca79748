// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package vllm adapts a self-hosted vLLM inference server. vLLM exposes an
// OpenAI-compatible wire format, so this package only configures
// llm/providers/openaicompat.Provider with vLLM's defaults.
package vllm
