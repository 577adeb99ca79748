// Package cost turns TokenUsage and a model id into a priced breakdown, and
// estimates pre-flight cost for budget admission checks.
package cost
