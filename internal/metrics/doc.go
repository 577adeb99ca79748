// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package metrics provides the Prometheus instruments the gateway and
workflow cores export: per-provider health scores, cumulative budget
spend, and event bus subscriber drops. It is a narrow, ambient
observability surface, not a full telemetry pipeline — trace and log
export are handled by internal/telemetry.

A *Collector is constructed once per process against a prometheus.Registerer
and then threaded into the components that observe it. Every accessor
method tolerates a nil receiver so instrumentation can be wired in or left
out without branching at call sites.
*/
package metrics
