package extract

import (
	"fmt"
	"unicode/utf8"
)

// extractPlain returns content as a string. Invalid UTF-8 is an error rather than being
// replaced, so a binary file uploaded under a text name is rejected.
func extractPlain(content []byte) (string, error) {
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%w: invalid UTF-8 at byte %d", ErrDecode, firstInvalid(content))
	}
	return string(content), nil
}

func firstInvalid(content []byte) int {
	for i := 0; i < len(content); {
		r, size := utf8.DecodeRune(content[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return -1
}
