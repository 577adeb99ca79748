// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config loads the gateway's configuration: per-provider credentials
and endpoints (spec.md §6's recognized environment variables — OPENAI_*,
ANTHROPIC_*, GOOGLE_*, OLLAMA_*, VLLM_*), plus the gateway's own tunables
(listen port, timeouts, default budget cap). Config composes a YAML file
with environment variable overrides through a Loader builder, following
the precedence "defaults -> YAML file -> environment variables".

Unlike the provider env vars, which bind at their literal names
(OPENAI_API_KEY, not NEXUSGATE_OPENAI_API_KEY) to match spec.md exactly,
Loader's own tunables (Gateway, Log, Telemetry) bind under an optional
prefix (default NEXUSGATE) so they don't collide with unrelated
environment variables in a shared deployment.
*/
package config
