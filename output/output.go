// Package output shapes backend results into the text blocks returned to MCP clients.
package output

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxBytes  = 65536
	DefaultHeadBytes = 48 * 1024
	DefaultTailBytes = 16 * 1024
)

// Truncate keeps the head and tail of data within maxBytes, joined by a marker
// that reports the original size. Cuts never split a UTF-8 sequence.
func Truncate(data string, maxBytes int) (string, bool) {
	total := len(data)
	if total <= maxBytes {
		return data, false
	}
	if maxBytes <= 0 {
		return "", true
	}

	separator := fmt.Sprintf("\n... [TRUNCATED: %d bytes total. Narrow the request to see everything.] ...\n", total)
	if maxBytes <= len(separator) {
		return separator[:maxBytes], true
	}

	budget := maxBytes - len(separator)
	var headSize, tailSize int
	if maxBytes == DefaultMaxBytes {
		headSize = min(DefaultHeadBytes, budget)
		tailSize = min(DefaultTailBytes, budget-headSize)
	} else {
		headSize = budget * 3 / 4
		tailSize = budget - headSize
	}

	head := data[:headSize]
	for len(head) > 0 {
		if r, size := utf8.DecodeLastRuneInString(head); r != utf8.RuneError || size > 1 {
			break
		}
		head = head[:len(head)-1]
	}
	tail := data[total-tailSize:]
	for len(tail) > 0 && !utf8.RuneStart(tail[0]) {
		tail = tail[1:]
	}

	return head + separator + tail, true
}

// Bullets renders items as "- item" lines, or empty when there are none.
func Bullets(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	lines := make([]string, len(items))
	for i, item := range items {
		lines[i] = "- " + item
	}
	return strings.Join(lines, "\n")
}

// JSON renders v with two-space indentation.
func JSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(data), nil
}

// Or returns s, or fallback when s is blank.
func Or(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
