package fsutil

import (
	"errors"
	"os"
	"strings"
)

// ReadLines returns the lines of path without trailing newlines. A missing
// file yields exists=false and no error.
func ReadLines(path string) (lines []string, exists bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return []string{}, true, nil
	}
	return strings.Split(text, "\n"), true, nil
}

// ContainsLine reports whether want appears as a whole line, ignoring
// surrounding whitespace.
func ContainsLine(lines []string, want string) bool {
	want = strings.TrimSpace(want)
	for _, l := range lines {
		if strings.TrimSpace(l) == want {
			return true
		}
	}
	return false
}

// JoinLines renders lines as newline-terminated text.
func JoinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}
