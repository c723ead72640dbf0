package content

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy = bluemonday.UGCPolicy()

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is applied to message content before persistence.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// RenderMarkdown converts markdown message content to sanitized HTML.
func RenderMarkdown(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return strings.TrimSpace(policy.Sanitize(buf.String())), nil
}

// Preview shortens content to at most max runes for notification payloads.
func Preview(input string, max int) string {
	input = strings.TrimSpace(input)
	if utf8.RuneCountInString(input) <= max {
		return input
	}
	runes := []rune(input)
	return string(runes[:max]) + "…"
}
