package dataset

import "slices"

type chainEntry struct {
	filter   Filter
	enabled  bool
	inverted bool
}

// FilterChain is an ordered list of filters, each of which can be disabled
// or inverted. The chain holds filters by reference, so a caller keeping a
// filter can remove it and add it back later.
type FilterChain struct {
	entries []chainEntry
}

func NewFilterChain(filters ...Filter) *FilterChain {
	c := &FilterChain{}
	for _, f := range filters {
		c.Add(f)
	}
	return c
}

func (c *FilterChain) Len() int { return len(c.entries) }

func (c *FilterChain) Filter(i int) Filter { return c.entries[i].filter }

// Add appends f, enabled and not inverted.
func (c *FilterChain) Add(f Filter) {
	c.entries = append(c.entries, chainEntry{filter: f, enabled: true})
}

// Insert places f at position i, clamped to the chain bounds.
func (c *FilterChain) Insert(i int, f Filter) {
	i = max(0, min(i, len(c.entries)))
	c.entries = slices.Insert(c.entries, i, chainEntry{filter: f, enabled: true})
}

// Remove drops f and returns its former position, or -1 if f is not in the
// chain.
func (c *FilterChain) Remove(f Filter) int {
	i := c.IndexOf(f)
	if i >= 0 {
		c.entries = slices.Delete(c.entries, i, i+1)
	}
	return i
}

// IndexOf returns the position of f, or -1.
func (c *FilterChain) IndexOf(f Filter) int {
	return slices.IndexFunc(c.entries, func(e chainEntry) bool { return e.filter == f })
}

// MoveEarlier swaps the filter at i with its predecessor.
func (c *FilterChain) MoveEarlier(i int) bool {
	if i <= 0 || i >= len(c.entries) {
		return false
	}
	c.entries[i-1], c.entries[i] = c.entries[i], c.entries[i-1]
	return true
}

// MoveLater swaps the filter at i with its successor.
func (c *FilterChain) MoveLater(i int) bool {
	if i < 0 || i >= len(c.entries)-1 {
		return false
	}
	c.entries[i], c.entries[i+1] = c.entries[i+1], c.entries[i]
	return true
}

func (c *FilterChain) SetEnabled(i int, on bool)  { c.entries[i].enabled = on }
func (c *FilterChain) SetInverted(i int, on bool) { c.entries[i].inverted = on }
func (c *FilterChain) Enabled(i int) bool         { return c.entries[i].enabled }
func (c *FilterChain) Inverted(i int) bool        { return c.entries[i].inverted }

// Apply runs the enabled filters in order, each on the previous output. The
// result is always a new DataSet, even when no filter is enabled.
func (c *FilterChain) Apply(in *DataSet) *DataSet {
	out := in
	for _, e := range c.entries {
		if !e.enabled {
			continue
		}
		if e.inverted {
			out = e.filter.ApplyInverse(out)
		} else {
			out = e.filter.Apply(out)
		}
	}
	if out == in {
		fresh := New()
		fresh.MergeDataFrom(in)
		return fresh
	}
	return out
}
