package sanitize

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

const maxChatTextPasses = 8

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

func Text(input string) string {
	return html.EscapeString(strings.TrimSpace(input))
}

// ChatText strips every HTML element from a chat message and returns plain
// text. Stripping and entity decoding repeat until the text is stable, so
// markup written as entities is removed too and the result parses to no
// elements.
func ChatText(input string) string {
	value := strings.TrimSpace(input)
	if value == "" {
		return ""
	}
	if !strings.ContainsAny(value, "<>&") {
		return value
	}

	policy := getStrictPolicy()
	for pass := 0; pass < maxChatTextPasses; pass++ {
		decoded := strings.TrimSpace(html.UnescapeString(policy.Sanitize(value)))
		if decoded == value {
			return value
		}
		value = decoded
	}
	// still changing; keep the escaped form
	return strings.TrimSpace(policy.Sanitize(value))
}

func getStrictPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})

	return strictPolicy
}
