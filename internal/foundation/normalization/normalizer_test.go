package normalization

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type logFormat string

const (
	formatText logFormat = "text"
	formatJSON logFormat = "json"
)

func TestNormalizer_Basic(t *testing.T) {
	normalizer := NewNormalizer(map[string]logFormat{
		"text": formatText,
		"json": formatJSON,
	}, formatText)

	tests := []struct {
		name     string
		input    string
		expected logFormat
	}{
		{"exact match", "json", formatJSON},
		{"case insensitive", "JSON", formatJSON},
		{"with spaces", "  text  ", formatText},
		{"unknown falls back", "xml", formatText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, normalizer.Normalize(tt.input))
		})
	}

	_, err := normalizer.NormalizeWithError("xml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "[json text]")
	require.Equal(t, []string{"json", "text"}, normalizer.ValidKeys())
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		raw       string
		value     bool
		set       bool
		expectErr bool
	}{
		{"", false, false, false},
		{"  ", false, false, false},
		{"true", true, true, false},
		{"YES", true, true, false},
		{"1", true, true, false},
		{"off", false, true, false},
		{"0", false, true, false},
		{"maybe", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			value, set, err := ParseFlag(tt.raw)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.value, value)
			require.Equal(t, tt.set, set)
		})
	}
}

func TestSplitList(t *testing.T) {
	require.Nil(t, SplitList(""))
	require.Equal(t, []string{"ci", "tag:linux"}, SplitList(" ci, ,tag:linux,ci "))
	require.Equal(t, []string{"docker", "runner"}, SplitList("docker,runner"))
}
