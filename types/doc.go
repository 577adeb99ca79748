// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 AgentFlow 框架的全局共享类型定义。

# 概述

types 是框架最底层的公共包，不依赖任何内部包，为上层模块提供统一的
类型契约，以避免循环依赖。

# 核心接口与类型

  - Tokenizer         — 框架级 Token 计数接口（Message / ToolSchema 感知）
  - TokenUsage        — Token 用量与费用统计（Add 累加）
  - Message / Role    — 对话消息（Role、Content、ToolCalls、Images）及构造函数
  - ToolSchema        — 工具定义（name + description + JSON Schema parameters）
  - ToolResult        — 工具执行结果，可转换为 tool 角色消息
  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - JSONSchema        — JSON Schema 定义与构建器（NewObjectSchema 等）

# 主要能力

  - Context 传播：WithTraceID / WithTenantID / WithUserID / WithRunID /
    WithLLMModel / WithPromptBundleVersion
  - 错误工具链：NewError 及 WithCause / WithHTTPStatus / WithRetryable /
    WithProvider 链式设置，IsRetryable / GetErrorCode 读取
  - Token 估算：EstimateTokenizer（中英文字符分别计算）
*/
package types
