// Package dataset flattens sessions into time-ordered samples for analysis
// and narrows them down with filter chains.
package dataset

import (
	"sort"

	"github.com/freeeve/reframed/internal/session"
)

// DataPoint is one player state together with the session it came from.
// Holding a DataPoint keeps its session alive; the session itself does not
// know about data sets.
type DataPoint struct {
	State   session.PlayerState
	Session *session.Session
	Player  int
}

// TimeStamp is State.TimeStamp.
func (p DataPoint) TimeStamp() uint64 { return p.State.TimeStamp }

// DataSet is a sequence of DataPoints sorted ascending by timestamp. Only
// AddSessionNoSort leaves it unsorted; call Sort before using it.
type DataSet struct {
	points []DataPoint
}

func New() *DataSet { return &DataSet{} }

// FromSessions builds a sorted data set from saved sessions.
func FromSessions(sessions ...*session.Session) *DataSet {
	ds := New()
	for _, s := range sessions {
		ds.AddSessionNoSort(s)
	}
	ds.Sort()
	return ds
}

func (ds *DataSet) Len() int { return len(ds.points) }

func (ds *DataSet) At(i int) DataPoint { return ds.points[i] }

// Points exposes the underlying slice. It must not be modified.
func (ds *DataSet) Points() []DataPoint { return ds.points }

// Reserve grows capacity for n more points.
func (ds *DataSet) Reserve(n int) {
	if cap(ds.points)-len(ds.points) < n {
		grown := make([]DataPoint, len(ds.points), len(ds.points)+n)
		copy(grown, ds.points)
		ds.points = grown
	}
}

// AddSessionNoSort appends every state of every player of s in session
// order. The set is unsorted afterwards.
func (ds *DataSet) AddSessionNoSort(s *session.Session) {
	n := 0
	for p := 0; p < s.PlayerCount(); p++ {
		n += s.StateCount(p)
	}
	ds.Reserve(n)
	for p := 0; p < s.PlayerCount(); p++ {
		for _, st := range s.States(p) {
			ds.points = append(ds.points, DataPoint{State: st, Session: s, Player: p})
		}
	}
}

// Sort orders the points by timestamp. Points with equal timestamps keep
// their relative order.
func (ds *DataSet) Sort() {
	sort.SliceStable(ds.points, func(i, j int) bool {
		return ds.points[i].State.TimeStamp < ds.points[j].State.TimeStamp
	})
}

// IsSorted reports whether the points are in timestamp order.
func (ds *DataSet) IsSorted() bool {
	return sort.SliceIsSorted(ds.points, func(i, j int) bool {
		return ds.points[i].State.TimeStamp < ds.points[j].State.TimeStamp
	})
}

// AddDataPointToEnd appends p. Callers normally add points in order; a point
// older than the last one is inserted after all points with a timestamp not
// greater than its own, so the set stays sorted.
func (ds *DataSet) AddDataPointToEnd(p DataPoint) {
	n := len(ds.points)
	if n == 0 || ds.points[n-1].State.TimeStamp <= p.State.TimeStamp {
		ds.points = append(ds.points, p)
		return
	}
	i := sort.Search(n, func(i int) bool {
		return ds.points[i].State.TimeStamp > p.State.TimeStamp
	})
	ds.points = append(ds.points, DataPoint{})
	copy(ds.points[i+1:], ds.points[i:])
	ds.points[i] = p
}

// MergeDataFrom merges the sorted set other into ds. Only the suffix starting
// at the first point not older than other's first point is re-sorted.
func (ds *DataSet) MergeDataFrom(other *DataSet) {
	if other.Len() == 0 {
		return
	}
	first := other.points[0].State.TimeStamp
	offset := sort.Search(len(ds.points), func(i int) bool {
		return ds.points[i].State.TimeStamp >= first
	})
	ds.points = append(ds.points, other.points...)

	tail := ds.points[offset:]
	sort.SliceStable(tail, func(i, j int) bool {
		return tail[i].State.TimeStamp < tail[j].State.TimeStamp
	})
}

// ReplaceDataWith makes ds a copy of other.
func (ds *DataSet) ReplaceDataWith(other *DataSet) {
	ds.Clear()
	ds.MergeDataFrom(other)
}

func (ds *DataSet) Clear() { ds.points = nil }

// Clone returns an independent copy sharing the underlying sessions.
func (ds *DataSet) Clone() *DataSet {
	return &DataSet{points: append([]DataPoint(nil), ds.points...)}
}

// Sessions lists the distinct sessions referenced by ds in order of first
// appearance.
func (ds *DataSet) Sessions() []*session.Session {
	seen := make(map[*session.Session]bool)
	var out []*session.Session
	for _, p := range ds.points {
		if !seen[p.Session] {
			seen[p.Session] = true
			out = append(out, p.Session)
		}
	}
	return out
}

// filter returns the points for which match equals want.
func (ds *DataSet) filter(match func(DataPoint) bool, want bool) *DataSet {
	out := &DataSet{points: make([]DataPoint, 0, len(ds.points))}
	for _, p := range ds.points {
		if match(p) == want {
			out.points = append(out.points, p)
		}
	}
	return out
}
