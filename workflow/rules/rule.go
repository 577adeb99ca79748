// Package rules evaluates recursive boolean rule trees against a token's
// JSON-like data, the condition language that gates workflow transitions.
package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Kind discriminates the Rule variants.
type Kind string

const (
	KindAnd             Kind = "and"
	KindOr              Kind = "or"
	KindNot             Kind = "not"
	KindFieldExists     Kind = "field_exists"
	KindFieldEquals     Kind = "field_equals"
	KindFieldGreaterThan Kind = "field_greater_than"
	KindFieldLessThan   Kind = "field_less_than"
	KindFieldMatches    Kind = "field_matches"
)

// Rule is a recursive algebraic value: And/Or/Not compose child rules;
// the leaves test a single dot-separated field path against the token's
// merged {data, metadata} view. Every node carries a stable ID and
// human-readable description for explanations.
type Rule struct {
	ID          string
	Description string
	Kind        Kind

	Children []Rule // And, Or
	Child     *Rule  // Not

	Path    string      // FieldExists, FieldEquals, FieldGreaterThan, FieldLessThan, FieldMatches
	Value   any         // FieldEquals
	Number  float64     // FieldGreaterThan, FieldLessThan
	Pattern string      // FieldMatches
	regex   *regexp.Regexp
}

// And builds an And rule. Evaluation short-circuits at the first false
// child and records the result of every child evaluated up to that point.
func And(id, description string, children ...Rule) Rule {
	return Rule{ID: id, Description: description, Kind: KindAnd, Children: children}
}

// Or builds an Or rule, short-circuiting at the first true child.
func Or(id, description string, children ...Rule) Rule {
	return Rule{ID: id, Description: description, Kind: KindOr, Children: children}
}

// Not negates a single child rule.
func Not(id, description string, child Rule) Rule {
	return Rule{ID: id, Description: description, Kind: KindNot, Child: &child}
}

// FieldExists passes when path resolves to any value, including null.
func FieldExists(id, path string) Rule {
	return Rule{ID: id, Description: fmt.Sprintf("%s exists", path), Kind: KindFieldExists, Path: path}
}

// FieldEquals passes when the value at path deep-equals value.
func FieldEquals(id, path string, value any) Rule {
	return Rule{ID: id, Description: fmt.Sprintf("%s == %v", path, value), Kind: KindFieldEquals, Path: path, Value: value}
}

// FieldGreaterThan passes when the numeric value at path is > n.
func FieldGreaterThan(id, path string, n float64) Rule {
	return Rule{ID: id, Description: fmt.Sprintf("%s > %v", path, n), Kind: KindFieldGreaterThan, Path: path, Number: n}
}

// FieldLessThan passes when the numeric value at path is < n.
func FieldLessThan(id, path string, n float64) Rule {
	return Rule{ID: id, Description: fmt.Sprintf("%s < %v", path, n), Kind: KindFieldLessThan, Path: path, Number: n}
}

// FieldMatches compiles pattern at registration time and passes when the
// string value at path matches it. An invalid pattern returns an error
// here rather than surfacing at evaluation time.
func FieldMatches(id, path, pattern string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("field_matches rule %q: invalid pattern: %w", id, err)
	}
	return Rule{ID: id, Description: fmt.Sprintf("%s matches %s", path, pattern), Kind: KindFieldMatches, Path: path, Pattern: pattern, regex: re}, nil
}

// SubResult pairs a child rule's ID with its outcome, in evaluation order.
type SubResult struct {
	RuleID string
	Passed bool
}

// Result is the outcome of evaluating one Rule node.
type Result struct {
	RuleID      string
	Passed      bool
	Explanation string
	SubResults  []SubResult
}

// numberCoerce returns a float64 for JSON-decoded numeric types
// (float64 from encoding/json, or other numeric kinds a caller assembled
// by hand) and false if v is not a number.
func numberCoerce(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := strconv.ParseFloat(string(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
