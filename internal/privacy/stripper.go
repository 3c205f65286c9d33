// Package privacy removes content that must never reach the store:
// text the user fenced in <private> tags, and previously injected
// context digests that would otherwise echo back in as fresh memory.
package privacy

import (
	"regexp"
	"strings"
)

// Both patterns match lazily across newlines. An unclosed tag is left
// in place rather than swallowing everything after it.
var (
	privateBlock = regexp.MustCompile(`(?s)<private>.*?</private>`)
	contextBlock = regexp.MustCompile(`(?s)<claude-memory-context>.*?</claude-memory-context>`)
)

// StripPrivateTags removes every <private>...</private> block.
func StripPrivateTags(text string) string {
	return privateBlock.ReplaceAllString(text, "")
}

// StripMemoryTags removes every injected digest block.
func StripMemoryTags(text string) string {
	return contextBlock.ReplaceAllString(text, "")
}

// StripAllTags removes both private and injected-digest blocks.
func StripAllTags(text string) string {
	return StripMemoryTags(StripPrivateTags(text))
}

// IsEntirelyPrivate reports whether nothing but private blocks and
// whitespace make up the text.
func IsEntirelyPrivate(text string) bool {
	return strings.TrimSpace(StripPrivateTags(text)) == ""
}

// Clean strips all tags and trims the result. Every piece of user text
// goes through here before storage.
func Clean(text string) string {
	return strings.TrimSpace(StripAllTags(text))
}
