package phase

import (
	"strings"
	"testing"
	"unicode/utf8"

	"mailintel_server/core/domain"
)

func TestTruncateBodyRuneBoundary(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		maxLen int
		want   string
	}{
		{"short body untouched", "hello", 10, "hello"},
		{"ascii cut", "hello world", 5, "hello..."},
		// "héllo" is h(1) é(2) l l o; a byte cut at 2 would split é.
		{"cut inside two-byte rune", "héllo", 2, "h..."},
		{"cut at rune boundary", "héllo", 3, "hé..."},
		// Each CJK rune is three bytes; cut at 4 lands mid-rune.
		{"cut inside three-byte rune", "注文確認", 4, "注..."},
		{"exact length kept", "héllo", 6, "héllo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateBody(tt.body, tt.maxLen)
			if got != tt.want {
				t.Errorf("truncateBody(%q, %d) = %q, want %q", tt.body, tt.maxLen, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("truncateBody(%q, %d) = %q is not valid UTF-8", tt.body, tt.maxLen, got)
			}
		})
	}
}

func TestPromptBuilderUserTruncatesBody(t *testing.T) {
	b := NewPromptBuilder(8)
	rec := &domain.EmailRecord{
		Email: domain.Email{
			Subject: "見積もり依頼",
			Sender:  "buyer@example.com",
			Body:    strings.Repeat("注", 10),
		},
		ChainScore:  0.42,
		ChainBucket: domain.ChainPartial,
	}
	got := b.User(rec)
	if !utf8.ValidString(got) {
		t.Fatalf("prompt is not valid UTF-8: %q", got)
	}
	if !strings.Contains(got, "注注...") {
		t.Errorf("body not truncated at a rune boundary:\n%s", got)
	}
}
