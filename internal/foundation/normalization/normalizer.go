// Package normalization converts loosely formatted configuration strings
// (environment variables, flags, YAML scalars) into typed values.
package normalization

import (
	"fmt"
	"sort"
	"strings"
)

// Normalizer provides type-safe string-to-enum normalization with error handling.
type Normalizer[T comparable] struct {
	validValues  map[string]T
	defaultValue T
	validKeys    []string // Cached for error messages
}

// NewNormalizer creates a normalizer with a map of valid string->value pairs.
// The keys in the values map will be normalized using defaultNormalization.
func NewNormalizer[T comparable](values map[string]T, defaultValue T) *Normalizer[T] {
	normalized := make(map[string]T, len(values))
	validKeys := make([]string, 0, len(values))

	for k, v := range values {
		normalizedKey := defaultNormalization(k)
		normalized[normalizedKey] = v
		validKeys = append(validKeys, normalizedKey)
	}

	sort.Strings(validKeys)

	return &Normalizer[T]{
		validValues:  normalized,
		defaultValue: defaultValue,
		validKeys:    validKeys,
	}
}

// Normalize attempts to convert a string to the enum type.
// Returns the default value if the string is not recognized.
func (n *Normalizer[T]) Normalize(raw string) T {
	cleaned := defaultNormalization(raw)
	if value, exists := n.validValues[cleaned]; exists {
		return value
	}
	return n.defaultValue
}

// NormalizeWithError attempts to convert a string to the enum type.
// Returns an error if the string is not recognized.
func (n *Normalizer[T]) NormalizeWithError(raw string) (T, error) {
	cleaned := defaultNormalization(raw)
	if value, exists := n.validValues[cleaned]; exists {
		return value, nil
	}

	var zero T
	return zero, fmt.Errorf("invalid value %q, valid options: %v", raw, n.validKeys)
}

// ValidKeys returns all valid normalized keys.
func (n *Normalizer[T]) ValidKeys() []string {
	result := make([]string, len(n.validKeys))
	copy(result, n.validKeys)
	return result
}

var flagNormalizer = NewNormalizer(map[string]bool{
	"1": true, "true": true, "yes": true, "on": true, "y": true,
	"0": false, "false": false, "no": false, "off": false, "n": false,
}, false)

// ParseFlag interprets common boolean spellings used in CI environments.
// Blank input is reported as unset so callers can keep their default.
func ParseFlag(raw string) (value, set bool, err error) {
	if strings.TrimSpace(raw) == "" {
		return false, false, nil
	}
	v, err := flagNormalizer.NormalizeWithError(raw)
	if err != nil {
		return false, false, err
	}
	return v, true, nil
}

// SplitList splits a comma-separated list, trimming blanks and dropping empty
// items while preserving order and removing duplicates.
func SplitList(raw string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// defaultNormalization provides standard string normalization.
func defaultNormalization(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
