package utils

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy     *bluemonday.Policy
	strictPolicyOnce sync.Once
)

// SanitizeText strips all markup from user-supplied text such as trade
// descriptions, proposal messages and change-request reasons.
func SanitizeText(s string) string {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strings.TrimSpace(strictPolicy.Sanitize(s))
}

// SanitizeList sanitizes every entry and drops the ones left empty.
func SanitizeList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = SanitizeText(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
