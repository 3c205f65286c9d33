// Package tokens provides token estimation and counting for claude-memory.
//
// Two scales coexist on purpose: the digest's printed numbers use the fixed
// ceil(chars/4) heuristic because its output format is part of the contract
// with compatibility tests, while worker stats use a real cl100k count.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Estimate approximates the token cost of text as ceil(len/4).
func Estimate(text string) int {
	return EstimateChars(len(text))
}

// EstimateChars converts a raw character count to tokens with the same
// ceil(chars/4) rule as Estimate. Callers that need the ceiling of a sum
// (rather than a sum of ceilings) accumulate characters and convert once.
func EstimateChars(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
	codecErr  error
)

// Count returns the cl100k token count of text. When the codec cannot be
// loaded or fails, it falls back to Estimate rather than erroring; stats
// are advisory.
func Count(text string) int {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	if codecErr != nil || codec == nil {
		return Estimate(text)
	}
	n, err := codec.Count(text)
	if err != nil {
		return Estimate(text)
	}
	return n
}
