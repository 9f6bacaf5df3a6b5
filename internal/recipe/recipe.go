// Package recipe implements the layer -> material schedule and the frozen
// execution plan a monitoring session runs against.
package recipe

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	entrySep = ":"
	fieldSep = ","
)

// MaterialSet answers whether a material identifier is configured.
// *materials.Catalog satisfies this.
type MaterialSet interface {
	Has(id string) bool
}

// Entry schedules one material change: when the printer reaches Layer,
// the vat is swapped to Material.
type Entry struct {
	Layer    int    `json:"layer"`
	Material string `json:"material"`
}

// Recipe is an ordered, validated change schedule. Entries are only
// accessible as copies; a recipe is replaced wholesale, never edited.
type Recipe struct {
	entries []Entry
}

// ParseError reports why a recipe text was rejected.
type ParseError struct {
	Entry  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("invalid recipe: %s", e.Reason)
	}
	return fmt.Sprintf("invalid recipe entry %q: %s", e.Entry, e.Reason)
}

// Parse reads the text form "A,50:B,120:C,200". Layers must be strictly
// increasing positive integers and every material must be in the set.
func Parse(text string, set MaterialSet) (Recipe, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Recipe{}, &ParseError{Reason: "empty recipe"}
	}

	parts := strings.Split(trimmed, entrySep)
	entries := make([]Entry, 0, len(parts))
	lastLayer := 0

	for _, part := range parts {
		fields := strings.Split(part, fieldSep)
		if len(fields) != 2 {
			return Recipe{}, &ParseError{Entry: part, Reason: "expected MATERIAL,LAYER"}
		}

		material := strings.TrimSpace(fields[0])
		if material == "" {
			return Recipe{}, &ParseError{Entry: part, Reason: "empty material identifier"}
		}
		if !set.Has(material) {
			return Recipe{}, &ParseError{Entry: part, Reason: fmt.Sprintf("unknown material %s", material)}
		}

		layer, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil {
			return Recipe{}, &ParseError{Entry: part, Reason: "layer is not an integer"}
		}
		if layer <= 0 {
			return Recipe{}, &ParseError{Entry: part, Reason: "layer must be positive"}
		}
		if layer == lastLayer {
			return Recipe{}, &ParseError{Entry: part, Reason: fmt.Sprintf("duplicate layer %d", layer)}
		}
		if layer < lastLayer {
			return Recipe{}, &ParseError{Entry: part, Reason: fmt.Sprintf("layer %d not increasing (previous %d)", layer, lastLayer)}
		}

		entries = append(entries, Entry{Layer: layer, Material: material})
		lastLayer = layer
	}

	return Recipe{entries: entries}, nil
}

// Serialize renders the canonical text form. Parse(Serialize(r)) yields an
// equal recipe for any valid r.
func (r Recipe) Serialize() string {
	parts := make([]string, len(r.entries))
	for i, e := range r.entries {
		parts[i] = fmt.Sprintf("%s%s%d", e.Material, fieldSep, e.Layer)
	}
	return strings.Join(parts, entrySep)
}

func (r Recipe) String() string { return r.Serialize() }

// Entries returns a copy of the schedule.
func (r Recipe) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r Recipe) Len() int { return len(r.entries) }

func (r Recipe) IsEmpty() bool { return len(r.entries) == 0 }
