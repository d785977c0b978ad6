package parser

import (
	_ "embed"
	"fmt"

	"github.com/goccy/go-yaml"
)

//go:embed aliases.yaml
var defaultAliasesYAML []byte

// AliasEntry maps the spellings of one marker to its canonical name.
type AliasEntry struct {
	Canonical string   `yaml:"canonical"`
	Category  Category `yaml:"category"`
	SubGroup  SubGroup `yaml:"sub_group,omitempty"`
	Aliases   []string `yaml:"aliases,omitempty"`
}

type aliasDocument struct {
	Markers []AliasEntry `yaml:"markers"`
}

type aliasKey struct {
	norm  string
	coded string
	runes int
	entry int
}

// AliasTable is an immutable, ordered lookup table. Earlier entries win
// when two entries claim the same normalized alias.
type AliasTable struct {
	entries []AliasEntry
	exact   map[string]int
	// exact keys with their words sorted, mapped to entry index + 1
	words map[string]int
	keys  []aliasKey
}

// NewAliasTable validates entries and builds the lookup indexes.
func NewAliasTable(entries []AliasEntry) (*AliasTable, error) {
	t := &AliasTable{
		entries: make([]AliasEntry, 0, len(entries)),
		exact:   make(map[string]int),
		words:   make(map[string]int),
	}
	for i, e := range entries {
		if e.Canonical == "" {
			return nil, fmt.Errorf("alias entry %d: canonical name is empty", i)
		}
		if !e.Category.Valid() || e.Category == CategoryUncategorized {
			return nil, fmt.Errorf("alias entry %q: invalid category %q", e.Canonical, e.Category)
		}
		if e.Category == CategoryFattyAcids && !e.SubGroup.Valid() {
			return nil, fmt.Errorf("alias entry %q: fatty acid needs a valid sub_group, got %q", e.Canonical, e.SubGroup)
		}
		if e.Category != CategoryFattyAcids && e.SubGroup != SubGroupNone {
			return nil, fmt.Errorf("alias entry %q: sub_group is only allowed for fatty_acids", e.Canonical)
		}

		e.Aliases = append([]string(nil), e.Aliases...)
		idx := len(t.entries)
		t.entries = append(t.entries, e)

		for _, alias := range append([]string{e.Canonical}, e.Aliases...) {
			norm := NormalizeName(alias)
			if norm == "" {
				continue
			}
			if _, taken := t.exact[norm]; taken {
				continue
			}
			t.exact[norm] = idx
			if w := sortedWords(norm); t.words[w] == 0 {
				t.words[w] = idx + 1
			}
			t.keys = append(t.keys, aliasKey{norm: norm, coded: codedWords(norm), runes: len([]rune(norm)), entry: idx})
		}
	}
	return t, nil
}

// ParseAliasTable decodes a YAML alias document.
func ParseAliasTable(data []byte) (*AliasTable, error) {
	var doc aliasDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode alias table: %w", err)
	}
	if len(doc.Markers) == 0 {
		return nil, fmt.Errorf("alias table has no markers")
	}
	return NewAliasTable(doc.Markers)
}

// DefaultAliasTable returns the built-in German marker table.
func DefaultAliasTable() *AliasTable {
	t, err := ParseAliasTable(defaultAliasesYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded alias table is invalid: %v", err))
	}
	return t
}

// Entries returns a copy of the table in insertion order.
func (t *AliasTable) Entries() []AliasEntry {
	out := make([]AliasEntry, len(t.entries))
	for i, e := range t.entries {
		e.Aliases = append([]string(nil), e.Aliases...)
		out[i] = e
	}
	return out
}

func (t *AliasTable) Len() int { return len(t.entries) }

// MarshalYAML lets a loaded table be written back out by the CLI.
func (t *AliasTable) MarshalYAML() (any, error) {
	return aliasDocument{Markers: t.Entries()}, nil
}
