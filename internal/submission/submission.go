// Package submission parses counting messages and cleans up author names.
package submission

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// FallbackDisplayName replaces names that are empty after cleanup.
	FallbackDisplayName = "Counter"
	// MaxDisplayNameLength bounds stored display names, in characters.
	MaxDisplayNameLength = 80
)

var (
	countRe      = regexp.MustCompile(`(?i)^(?:owo)?\s*(\d+)$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Submission is a message that matched the counting format.
type Submission struct {
	// Raw is the digit run as written.
	Raw string
	// Value is the parsed number. Only meaningful when InRange is true.
	Value int64
	// InRange is false when Raw does not fit in an int64.
	InRange bool
}

// Parse matches content against the counting format: an optional
// case-insensitive "owo" marker, optional whitespace, then digits and nothing
// else. Surrounding whitespace is ignored.
func Parse(content string) (Submission, bool) {
	m := countRe.FindStringSubmatch(strings.TrimSpace(content))
	if m == nil {
		return Submission{}, false
	}
	sub := Submission{Raw: m[1]}
	if v, err := strconv.ParseInt(m[1], 10, 64); err == nil {
		sub.Value = v
		sub.InRange = true
	}
	return sub, true
}

// Is reports whether s is exactly n.
func (s Submission) Is(n int64) bool {
	return s.InRange && s.Value == n
}

// String returns the number as a user would read it back.
func (s Submission) String() string {
	if s.InRange {
		return strconv.FormatInt(s.Value, 10)
	}
	return s.Raw
}

// DisplayName collapses whitespace, trims, and bounds name. Empty names become
// FallbackDisplayName.
func DisplayName(name string) string {
	cleaned := strings.TrimSpace(whitespaceRe.ReplaceAllString(name, " "))
	if cleaned == "" {
		return FallbackDisplayName
	}
	if utf8.RuneCountInString(cleaned) > MaxDisplayNameLength {
		cleaned = string([]rune(cleaned)[:MaxDisplayNameLength])
	}
	return cleaned
}
