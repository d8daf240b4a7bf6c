package textutil

import (
	"strings"
	"unicode/utf8"
)

// Gateway metadata limits shared by Stripe and Tap.
const (
	MaxMetadataKeyRunes   = 40
	MaxMetadataValueRunes = 500
)

// NormalizeStringMap prepares a metadata map for a payment gateway. Keys and values are
// trimmed, entries with a blank side are dropped and both sides are clipped to the gateway
// limits. A map with no surviving entries is returned as nil.
func NormalizeStringMap(values map[string]string) map[string]string {
	var result map[string]string
	for key, value := range values {
		key = clipRunes(strings.TrimSpace(key), MaxMetadataKeyRunes)
		value = clipRunes(strings.TrimSpace(value), MaxMetadataValueRunes)
		if key == "" || value == "" {
			continue
		}
		if result == nil {
			result = make(map[string]string, len(values))
		}
		result[key] = value
	}
	return result
}

func clipRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
