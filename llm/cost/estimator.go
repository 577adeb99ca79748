package cost

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// modelEncodings maps OpenAI model prefixes to their tiktoken encoding,
// adapted from the provider tokenizer table used elsewhere in this module.
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

var (
	encCacheMu sync.Mutex
	encCache   = map[string]*tiktoken.Tiktoken{}
)

func encodingFor(model string) (*tiktoken.Tiktoken, bool) {
	var matched []string
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) {
			matched = append(matched, prefix)
		}
	}
	if len(matched) == 0 {
		return nil, false
	}

	// Longest prefix wins: "gpt-4" is itself a prefix of "gpt-4o", so
	// iterating modelEncodings directly would resolve "gpt-4o" to either
	// encoding nondeterministically depending on map order.
	sort.Slice(matched, func(i, j int) bool { return len(matched[i]) > len(matched[j]) })
	encoding := modelEncodings[matched[0]]

	encCacheMu.Lock()
	defer encCacheMu.Unlock()
	if enc, ok := encCache[encoding]; ok {
		return enc, true
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, false
	}
	encCache[encoding] = enc
	return enc, true
}

// EstimateInputTokens counts the tokens a request's text would consume.
// It prefers the real tiktoken encoder for models matching a modelEncodings
// prefix and falls back to ceil(total_chars/4) for everything else.
func EstimateInputTokens(model string, texts []string) int {
	if enc, ok := encodingFor(model); ok {
		total := 0
		for _, t := range texts {
			total += len(enc.Encode(t, nil, nil))
		}
		return total
	}

	totalChars := 0
	for _, t := range texts {
		totalChars += len(t)
	}
	return (totalChars + 3) / 4
}
