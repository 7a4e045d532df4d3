// Package mapping holds the code-to-name tables the console sends once per
// connection: fighters, stages, hit statuses and fighter statuses.
package mapping

import (
	"sort"
)

// FighterID identifies a playable character.
type FighterID uint8

// StageID identifies an arena.
type StageID uint16

// HitStatus is the console's hit/hurtbox state code.
type HitStatus uint8

// Status is a fighter action-state code. The same code can name different
// moves on different fighters, see StatusMapping.
type Status uint16

// Code is the set of integer code types a Table can be keyed by.
type Code interface {
	~uint8 | ~uint16
}

// Table is a bidirectional code <-> name lookup. The zero value is empty and
// ready to use. Lookups of unknown codes or names report false; there are no
// default names.
type Table[K Code] struct {
	names map[K]string
	codes map[string]K
}

// Add associates code with name, replacing any previous name for code.
func (t *Table[K]) Add(code K, name string) {
	if t.names == nil {
		t.names = make(map[K]string)
		t.codes = make(map[string]K)
	}
	if old, ok := t.names[code]; ok && t.codes[old] == code {
		delete(t.codes, old)
	}
	t.names[code] = name
	t.codes[name] = code
}

// Name returns the name registered for code.
func (t *Table[K]) Name(code K) (string, bool) {
	name, ok := t.names[code]
	return name, ok
}

// Code returns the code registered under name.
func (t *Table[K]) Code(name string) (K, bool) {
	code, ok := t.codes[name]
	return code, ok
}

func (t *Table[K]) Len() int { return len(t.names) }

// Codes returns all registered codes in ascending order.
func (t *Table[K]) Codes() []K {
	codes := make([]K, 0, len(t.names))
	for c := range t.names {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// Equal reports whether both tables hold the same code/name pairs.
func (t *Table[K]) Equal(o *Table[K]) bool {
	if t.Len() != o.Len() {
		return false
	}
	for code, name := range t.names {
		if other, ok := o.names[code]; !ok || other != name {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (t *Table[K]) Clone() Table[K] {
	var out Table[K]
	for _, code := range t.Codes() {
		out.Add(code, t.names[code])
	}
	return out
}
