package divergence

import "testing"

func TestPromptApply(t *testing.T) {
	cfg := DefaultPromptConfig()
	if got := cfg.Apply("Der Wille", "german", true); got != "Aus Nietzsches Philosophie: Der Wille" {
		t.Fatalf("german prefix: %q", got)
	}
	if got := cfg.Apply("The will", "English", false); got != "From Nietzsche's philosophical work: The will" {
		t.Fatalf("english prefix should be case-insensitive on language: %q", got)
	}
	if got := cfg.Apply("texte", "french", false); got != "From Nietzsche's philosophical work: texte" {
		t.Fatalf("unknown language should fall back to english: %q", got)
	}

	e5 := PromptConfig{Style: PromptE5}
	if got := e5.Apply("Der Wille", "german", true); got != "query: Der Wille" {
		t.Fatalf("e5 query side: %q", got)
	}
	if got := e5.Apply("The will", "english", false); got != "passage: The will" {
		t.Fatalf("e5 passage side: %q", got)
	}

	none := PromptConfig{Style: PromptNone}
	if got := none.Apply("raw", "german", true); got != "raw" {
		t.Fatalf("none style should pass through: %q", got)
	}
}

func TestPromptApplyAll(t *testing.T) {
	cfg := PromptConfig{Style: PromptE5}
	out := cfg.ApplyAll([]string{"a", "b"}, "english", false)
	if len(out) != 2 || out[0] != "passage: a" || out[1] != "passage: b" {
		t.Fatalf("ApplyAll: %v", out)
	}
}
