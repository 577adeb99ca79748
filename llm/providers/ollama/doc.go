// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package ollama adapts a locally or self-hosted Ollama server to the
// gateway's llm.Provider contract, translating Ollama's newline-delimited
// JSON streaming format into canonical StreamChunks.
package ollama
