package divergence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Aphorism is one numbered passage of a single source.
type Aphorism struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// SourceText is one source's extracted aphorisms: the German original or
// one translator's rendering. The on-disk shape is one JSON file per
// source with a name and an aphorism list.
type SourceText struct {
	Name      string     `json:"name"`
	Aphorisms []Aphorism `json:"aphorisms"`
}

// Corpus maps canonical source labels to their texts.
type Corpus struct {
	Sources map[string]*SourceText
}

// AlignedCorpus is the index-aligned view the pipeline operates on: for
// every retained aphorism number, one text per source, ordered
// identically across sources. Index i everywhere refers to Numbers[i].
type AlignedCorpus struct {
	Numbers []int
	Labels  []string
	Texts   map[string][]string
}

// DefaultLabelMap enumerates every known raw label variant and its
// canonical form. Upstream files disagree on spelling ("Walter Kaufman"
// vs "Kaufmann"); the mapping is explicit and validated at load time so
// an unrecognized variant fails loudly instead of being silently
// misfiled.
func DefaultLabelMap() map[string]string {
	return map[string]string{
		"Gutenberg":         "Gutenberg",
		"German":            "Gutenberg",
		"German Original":   "Gutenberg",
		"Kaufmann":          "Kaufmann",
		"Kaufman":           "Kaufmann",
		"Walter Kaufman":    "Kaufmann",
		"Walter Kaufmann":   "Kaufmann",
		"Hollingdale":       "Hollingdale",
		"R.J. Hollingdale":  "Hollingdale",
		"R. J. Hollingdale": "Hollingdale",
		"Zimmern":           "Zimmern",
		"Helen Zimmern":     "Zimmern",
		"Faber":             "Faber",
		"Marion Faber":      "Faber",
		"Norman":            "Norman",
		"Judith Norman":     "Norman",
	}
}

// CanonicalLabel resolves a raw source label against the mapping.
func CanonicalLabel(raw string, labels map[string]string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if canonical, ok := labels[trimmed]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("unrecognized source label %q: add it to the label map", raw)
}

// LoadCorpus reads every *.json source file in dir, canonicalizes its
// label and returns the corpus. Two files resolving to the same canonical
// label is an error.
func LoadCorpus(dir string, labels map[string]string) (*Corpus, error) {
	if labels == nil {
		labels = DefaultLabelMap()
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan corpus dir: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no corpus files in %s", dir)
	}
	sort.Strings(paths)
	corpus := &Corpus{Sources: make(map[string]*SourceText, len(paths))}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		var src SourceText
		if err := json.Unmarshal(data, &src); err != nil {
			return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
		}
		canonical, err := CanonicalLabel(src.Name, labels)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if _, dup := corpus.Sources[canonical]; dup {
			return nil, fmt.Errorf("duplicate source %q (from %s)", canonical, filepath.Base(path))
		}
		src.Name = canonical
		corpus.Sources[canonical] = &src
	}
	return corpus, nil
}

// Align intersects aphorism numbers across all sources and produces the
// index-aligned text table. Sources missing a number simply shrink the
// intersection; texts are NFKC-normalized. Alignment itself (splitting,
// numbering) is upstream work this package does not redo.
func (c *Corpus) Align() (*AlignedCorpus, error) {
	if len(c.Sources) == 0 {
		return nil, errors.New("empty corpus")
	}
	var common map[int]bool
	for _, src := range c.Sources {
		nums := make(map[int]bool, len(src.Aphorisms))
		for _, a := range src.Aphorisms {
			nums[a.Number] = true
		}
		if common == nil {
			common = nums
			continue
		}
		for n := range common {
			if !nums[n] {
				delete(common, n)
			}
		}
	}
	if len(common) == 0 {
		return nil, errors.New("no aphorism numbers shared by all sources")
	}
	numbers := make([]int, 0, len(common))
	for n := range common {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	labels := make([]string, 0, len(c.Sources))
	for label := range c.Sources {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	texts := make(map[string][]string, len(labels))
	for _, label := range labels {
		src := c.Sources[label]
		byNumber := make(map[int]string, len(src.Aphorisms))
		for _, a := range src.Aphorisms {
			byNumber[a.Number] = a.Text
		}
		list := make([]string, len(numbers))
		for i, n := range numbers {
			list[i] = NormalizeText(byNumber[n])
		}
		texts[label] = list
	}
	return &AlignedCorpus{Numbers: numbers, Labels: labels, Texts: texts}, nil
}

// Len returns the number of aligned passages.
func (a *AlignedCorpus) Len() int { return len(a.Numbers) }

// IndexOf returns the passage index of an aphorism number.
func (a *AlignedCorpus) IndexOf(number int) (int, error) {
	for i, n := range a.Numbers {
		if n == number {
			return i, nil
		}
	}
	return 0, fmt.Errorf("aphorism %d is not in the aligned corpus", number)
}

// NormalizeText performs NFKC normalization, trims whitespace and strips
// control characters except newlines and tabs.
func NormalizeText(text string) string {
	normed := norm.NFKC.String(text)
	normed = strings.TrimSpace(normed)
	normed = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normed)
	return normed
}

// NormalizeAll normalizes a slice of strings.
func NormalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = NormalizeText(t)
	}
	return out
}
