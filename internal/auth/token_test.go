package auth

import (
	"testing"
)

func TestHashToken(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "whitespace only",
			input:    "  \n",
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashToken(tt.input); got != tt.expected {
				t.Errorf("HashToken() = %v, want %v", got, tt.expected)
			}
		})
	}

	if len(HashToken("adapter-secret")) != 64 {
		t.Error("expected a 64 char hex digest")
	}
	if HashToken("  adapter-secret ") != HashToken("adapter-secret") {
		t.Error("surrounding whitespace should not change the digest")
	}
}

func TestVerifier(t *testing.T) {
	v := NewVerifier("adapter-secret\n")

	tests := []struct {
		presented string
		want      bool
	}{
		{"adapter-secret", true},
		{"adapter-secret\n", false},
		{" adapter-secret", false},
		{"adapter-secre", false},
		{"adapter-secret-longer", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := v.Verify(tt.presented); got != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.presented, got, tt.want)
		}
	}
}
