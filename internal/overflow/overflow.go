// Package overflow fits agent output into Discord's per-message size limit.
// Two policies: trim to a single truncated message, or split into an ordered
// run of messages whose bodies concatenate back to the original text.
package overflow

import "strings"

// MessageLimit is Discord's maximum message length in characters.
const MessageLimit = 2000

// Policy selects how oversized output is handled.
type Policy string

const (
	// PolicyTrim keeps one message, cutting the tail. Lossy on purpose:
	// deployments that want a single tidy reply over completeness.
	PolicyTrim Policy = "trim"
	// PolicySplit sends the full text across as many messages as needed.
	PolicySplit Policy = "split"
)

const truncationIndicator = "\n… (output truncated)"

// Format turns text into one or more chunks, each within limit. A zero or
// negative limit uses MessageLimit. Empty input yields no chunks.
func Format(text string, policy Policy, limit int) []string {
	if limit <= 0 {
		limit = MessageLimit
	}
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	switch policy {
	case PolicyTrim:
		return []string{trim(text, limit)}
	default:
		return split(text, limit)
	}
}

func trim(text string, limit int) string {
	keep := limit - len(truncationIndicator)
	if keep <= 0 {
		// No room for the indicator; a hard cut still honors the limit.
		cut := limit
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		return text[:cut]
	}
	// Don't cut mid-rune.
	for keep > 0 && !isRuneStart(text[keep]) {
		keep--
	}
	return text[:keep] + truncationIndicator
}

// split cuts at the last paragraph break within the limit, then the last
// line break, then hard at the limit when a single line is oversized.
// Chunks are exact substrings, so joining them reproduces the input.
func split(text string, limit int) []string {
	var chunks []string
	for len(text) > limit {
		cut := splitPoint(text, limit)
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func splitPoint(text string, limit int) int {
	window := text[:limit]

	// Paragraph boundary: cut after the blank line.
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 2
	}
	// Line boundary: cut after the newline.
	if idx := strings.LastIndexByte(window, '\n'); idx > 0 {
		return idx + 1
	}
	// Hard cut, backed off to a rune start.
	cut := limit
	for cut > 1 && !isRuneStart(text[cut]) {
		cut--
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
