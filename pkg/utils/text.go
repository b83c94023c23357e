// Package utils provides shared utilities for text and logging.
package utils

import "unicode/utf8"

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
// Multi-byte characters are never split. If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
