package divergence

import (
	"fmt"
	"strings"
)

// PromptStyle selects how texts are wrapped before embedding. Several
// multilingual models respond strongly to the prompt format they were
// trained with; injecting domain context this way costs nothing at
// inference time.
type PromptStyle string

const (
	// PromptNone embeds the raw text.
	PromptNone PromptStyle = "none"
	// PromptContextPrefix prepends a per-language domain framing.
	PromptContextPrefix PromptStyle = "context_prefix"
	// PromptE5 uses the query:/passage: prefixes E5-family models
	// expect: query for the source language, passage for translations.
	PromptE5 PromptStyle = "e5"
)

// PromptConfig is passed to the embedding step at call time rather than
// living in package-level tables, so tests and callers can substitute
// their own templates without shared state.
type PromptConfig struct {
	Style PromptStyle `json:"style"`
	// Templates maps a language key to a template containing a single
	// %s verb for the passage text. Used by PromptContextPrefix.
	Templates map[string]string `json:"templates,omitempty"`
}

// DefaultPromptConfig returns the context-prefix templates for the
// Nietzsche corpus.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		Style: PromptContextPrefix,
		Templates: map[string]string{
			"german":  "Aus Nietzsches Philosophie: %s",
			"english": "From Nietzsche's philosophical work: %s",
		},
	}
}

// Apply wraps one text for embedding. isQuery marks the privileged source
// side for E5-style models. An unknown language falls back to english,
// then to the raw text.
func (p PromptConfig) Apply(text, language string, isQuery bool) string {
	switch p.Style {
	case PromptE5:
		if isQuery {
			return "query: " + text
		}
		return "passage: " + text
	case PromptContextPrefix:
		key := strings.ToLower(strings.TrimSpace(language))
		if tpl, ok := p.Templates[key]; ok {
			return fmt.Sprintf(tpl, text)
		}
		if tpl, ok := p.Templates["english"]; ok {
			return fmt.Sprintf(tpl, text)
		}
		return text
	default:
		return text
	}
}

// ApplyAll wraps a whole passage list.
func (p PromptConfig) ApplyAll(texts []string, language string, isQuery bool) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = p.Apply(t, language, isQuery)
	}
	return out
}
