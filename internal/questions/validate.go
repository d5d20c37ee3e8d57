package questions

import (
	"strings"
	"unicode/utf8"
)

// NormalizeContent collapses runs of whitespace to single spaces and trims
// the ends, matching what the submission form does before sending.
func NormalizeContent(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

// ValidateContent checks normalized content against the submission rules.
// It is called before any store operation so invalid input never produces a
// remote write.
func ValidateContent(content string) error {
	if content == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}
