package resilience

import "fmt"

// Chunk splits a message into pieces whose content is no longer than limit
// runes.
//
// Split points are chosen preferentially at a newline, then at a space, and
// never inside a rune. Chunks beyond the first carry a "[Part i/N] " prefix so
// recipients can reassemble long output; the prefix is not counted against
// the content limit.
func Chunk(text string, limit int) []string {
	if limit <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > 0 {
		if len(runes) <= limit {
			parts = append(parts, string(runes))
			break
		}
		cut := splitPoint(runes, limit)
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
		// A break character at the cut should not lead the next part.
		if len(runes) > 0 && (runes[0] == '\n' || runes[0] == ' ') {
			runes = runes[1:]
		}
	}

	for i := 1; i < len(parts); i++ {
		parts[i] = fmt.Sprintf("[Part %d/%d] %s", i+1, len(parts), parts[i])
	}
	return parts
}

// splitPoint finds the cut index for the next chunk: the last newline within
// the limit, else the last space, else a hard cut at the limit.
func splitPoint(runes []rune, limit int) int {
	window := runes[:limit]
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == '\n' {
			return i
		}
	}
	for i := len(window) - 1; i > 0; i-- {
		if window[i] == ' ' {
			return i
		}
	}
	return limit
}
