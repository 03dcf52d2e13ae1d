// Package strings normalizes operator-supplied string lists.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated value and returns the distinct,
// non-empty, trimmed entries in first-seen order.
//
//	SplitList(" spam, scam,,spam ") // []string{"spam", "scam"}
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return DedupeBy(strings.Split(raw, ","), nil)
}

// DedupeBy trims each value, drops empties, and keeps the first value for
// each distinct key(value). A nil key compares trimmed values as-is.
// The returned entries are the keyed forms.
func DedupeBy(values []string, key func(string) string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		k := strings.TrimSpace(v)
		if k == "" {
			continue
		}
		if key != nil {
			k = key(k)
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		result = append(result, k)
	}
	return result
}
