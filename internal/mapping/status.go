package mapping

import "sort"

// BaseFighter is the fighter id the console uses on the wire for statuses
// shared by every fighter.
const BaseFighter FighterID = 255

// StatusMapping is the two-level fighter status table: a base name shared by
// all fighters and optional per-fighter overrides.
type StatusMapping struct {
	base     Table[Status]
	specific map[FighterID]*Table[Status]
}

func (m *StatusMapping) AddBase(status Status, name string) {
	m.base.Add(status, name)
}

func (m *StatusMapping) AddSpecific(fighter FighterID, status Status, name string) {
	if m.specific == nil {
		m.specific = make(map[FighterID]*Table[Status])
	}
	t, ok := m.specific[fighter]
	if !ok {
		t = &Table[Status]{}
		m.specific[fighter] = t
	}
	t.Add(status, name)
}

// Name resolves status for fighter, preferring the fighter-specific override.
func (m *StatusMapping) Name(fighter FighterID, status Status) (string, bool) {
	if t, ok := m.specific[fighter]; ok {
		if name, ok := t.Name(status); ok {
			return name, true
		}
	}
	return m.base.Name(status)
}

// BaseName ignores fighter overrides.
func (m *StatusMapping) BaseName(status Status) (string, bool) {
	return m.base.Name(status)
}

// Base exposes the shared table for iteration.
func (m *StatusMapping) Base() *Table[Status] { return &m.base }

// Specific returns the override table for fighter, or nil.
func (m *StatusMapping) Specific(fighter FighterID) *Table[Status] {
	return m.specific[fighter]
}

// SpecificFighters lists fighters with overrides in ascending order.
func (m *StatusMapping) SpecificFighters() []FighterID {
	ids := make([]FighterID, 0, len(m.specific))
	for id, t := range m.specific {
		if t.Len() > 0 {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (m *StatusMapping) Equal(o *StatusMapping) bool {
	if !m.base.Equal(&o.base) {
		return false
	}
	a, b := m.SpecificFighters(), o.SpecificFighters()
	if len(a) != len(b) {
		return false
	}
	for i, id := range a {
		if b[i] != id || !m.specific[id].Equal(o.specific[id]) {
			return false
		}
	}
	return true
}

func (m *StatusMapping) Clone() StatusMapping {
	out := StatusMapping{base: m.base.Clone()}
	for _, id := range m.SpecificFighters() {
		t := m.specific[id].Clone()
		if out.specific == nil {
			out.specific = make(map[FighterID]*Table[Status])
		}
		out.specific[id] = &t
	}
	return out
}
