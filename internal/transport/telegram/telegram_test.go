package telegram

import (
	"strings"
	"testing"

	"weatherbot/pkg/logx"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	lines := []string{
		strings.Repeat("a", 30),
		strings.Repeat("b", 30),
		strings.Repeat("c", 30),
	}
	s := strings.Join(lines, "\n")
	chunks := splitText(s, 40)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != s {
		t.Fatal("chunks do not reassemble the input")
	}
	for i, c := range chunks {
		if len([]rune(c)) > 40 {
			t.Fatalf("chunk %d exceeds limit: %d runes", i, len([]rune(c)))
		}
	}
}

func TestSplitTextMultibyte(t *testing.T) {
	t.Parallel()
	s := strings.Repeat("天气", 50)
	chunks := splitText(s, 30)
	if strings.Join(chunks, "") != s {
		t.Fatal("multibyte input mangled")
	}
	for _, c := range chunks {
		if len([]rune(c)) > 30 {
			t.Fatalf("chunk exceeds limit: %q", c)
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("empty token must be rejected")
	}
}
