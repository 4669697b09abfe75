package auth

import (
	"testing"
)

func TestHashKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", // SHA256 of empty
		},
		{
			name:     "whitespace only",
			input:    "   ",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := HashKey(tt.input); result != tt.expected {
				t.Errorf("HashKey() = %v, want %v", result, tt.expected)
			}
		})
	}

	if got := HashKey("  runner-secret  "); got != HashKey("runner-secret") {
		t.Errorf("surrounding whitespace should be ignored, got %v", got)
	}
	if len(HashKey("runner-secret")) != 64 {
		t.Error("expected a 64-char hex string")
	}
}

func TestSecret_Matches(t *testing.T) {
	s := NewSecret("runner-secret")

	tests := []struct {
		name      string
		presented string
		want      bool
	}{
		{"exact", "runner-secret", true},
		{"trailing newline from a file", "runner-secret\n", true},
		{"wrong", "runner-secreT", false},
		{"prefix", "runner", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Matches(tt.presented); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.presented, got, tt.want)
			}
		})
	}
}

func TestSecret_Unset(t *testing.T) {
	s := NewSecret("  ")
	if s.Set() {
		t.Error("blank secret should not be set")
	}
	if s.Matches("") || s.Matches("anything") {
		t.Error("an unset secret matches nothing")
	}
}
