package prompts

import (
	"strings"
	"testing"
)

func TestExcerpt_ShortTextUnchanged(t *testing.T) {
	text := "A short invoice from the utility company."
	if got := Excerpt(text, 500); got != text {
		t.Errorf("Excerpt = %q, want the input unchanged", got)
	}
}

func TestExcerpt_ClipsToPrefix(t *testing.T) {
	text := strings.Repeat("paperwork filed under miscellaneous expenses ", 400)
	got := Excerpt(text, 100)
	if got == "" {
		t.Fatal("Excerpt returned nothing")
	}
	if len(got) >= len(text) {
		t.Errorf("Excerpt did not clip: %d chars in, %d out", len(text), len(got))
	}
	if !strings.HasPrefix(text, got) {
		t.Errorf("Excerpt is not a prefix of the input: %q", got[:40])
	}
}

func TestExcerpt_ZeroBudget(t *testing.T) {
	if got := Excerpt("anything", 0); got != "" {
		t.Errorf("Excerpt with zero budget = %q, want empty", got)
	}
}

func TestApproxClip(t *testing.T) {
	if got := approxClip("abcdefgh", 1); got != "abcd" {
		t.Errorf("approxClip = %q, want %q", got, "abcd")
	}
	if got := approxClip("ab", 1); got != "ab" {
		t.Errorf("approxClip under budget = %q, want input unchanged", got)
	}
}
