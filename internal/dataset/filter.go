package dataset

import (
	"slices"
	"time"

	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

// Filter narrows a DataSet. Apply keeps the matching points and ApplyInverse
// keeps the rest, so together they partition the input. Neither modifies
// the input. The concrete filters in this package are used by pointer so a
// FilterChain can find them again by identity.
type Filter interface {
	Name() string
	Apply(ds *DataSet) *DataSet
	ApplyInverse(ds *DataSet) *DataSet
}

// Predicate turns a per-point test into a Filter.
type Predicate struct {
	Label string
	Match func(DataPoint) bool
}

func (p *Predicate) Name() string                      { return p.Label }
func (p *Predicate) Apply(ds *DataSet) *DataSet        { return ds.filter(p.Match, true) }
func (p *Predicate) ApplyInverse(ds *DataSet) *DataSet { return ds.filter(p.Match, false) }

// DateRange keeps points whose timestamp lies in [Start, End], compared at
// millisecond precision. A zero bound is open.
type DateRange struct {
	Start, End time.Time
}

func (f *DateRange) Name() string { return "date-range" }

func (f *DateRange) contains(p DataPoint) bool {
	ts := p.State.TimeStamp
	if !f.Start.IsZero() && ts < uint64(f.Start.UnixMilli()) {
		return false
	}
	if !f.End.IsZero() && ts > uint64(f.End.UnixMilli()) {
		return false
	}
	return true
}

func (f *DateRange) Apply(ds *DataSet) *DataSet        { return ds.filter(f.contains, true) }
func (f *DateRange) ApplyInverse(ds *DataSet) *DataSet { return ds.filter(f.contains, false) }

// GameFilter keeps points from game sessions matching a set format, a
// winner and a length range. Training sessions never match.
type GameFilter struct {
	// AnyFormat disables the format check.
	AnyFormat bool
	Format    session.SetFormat

	// Winner is a player name; empty matches any winner.
	Winner string

	// MinLength and MaxLength bound the session length. Zero MaxLength is
	// unbounded.
	MinLength time.Duration
	MaxLength time.Duration
}

func (f *GameFilter) Name() string { return "game" }

func (f *GameFilter) matchSession(s *session.Session) bool {
	if !s.IsGame() {
		return false
	}
	if !f.AnyFormat && s.Format() != f.Format {
		return false
	}
	if f.Winner != "" {
		w := s.Winner()
		if w < 0 || s.Name(w) != f.Winner {
			return false
		}
	}
	l := s.Length()
	if l < f.MinLength {
		return false
	}
	if f.MaxLength > 0 && l > f.MaxLength {
		return false
	}
	return true
}

func (f *GameFilter) Apply(ds *DataSet) *DataSet {
	return ds.filter(sessionMatcher(f.matchSession), true)
}

func (f *GameFilter) ApplyInverse(ds *DataSet) *DataSet {
	return ds.filter(sessionMatcher(f.matchSession), false)
}

// PlayerCountFilter keeps points from sessions with Min..Max players. Zero
// Max is unbounded.
type PlayerCountFilter struct {
	Min, Max int
}

func (f *PlayerCountFilter) Name() string { return "player-count" }

func (f *PlayerCountFilter) matchSession(s *session.Session) bool {
	n := s.PlayerCount()
	return n >= f.Min && (f.Max == 0 || n <= f.Max)
}

func (f *PlayerCountFilter) Apply(ds *DataSet) *DataSet {
	return ds.filter(sessionMatcher(f.matchSession), true)
}

func (f *PlayerCountFilter) ApplyInverse(ds *DataSet) *DataSet {
	return ds.filter(sessionMatcher(f.matchSession), false)
}

// StageFilter keeps points from sessions played on one of Stages.
type StageFilter struct {
	Stages []mapping.StageID
}

func (f *StageFilter) Name() string { return "stage" }

func (f *StageFilter) matchSession(s *session.Session) bool {
	return slices.Contains(f.Stages, s.Stage())
}

func (f *StageFilter) Apply(ds *DataSet) *DataSet {
	return ds.filter(sessionMatcher(f.matchSession), true)
}

func (f *StageFilter) ApplyInverse(ds *DataSet) *DataSet {
	return ds.filter(sessionMatcher(f.matchSession), false)
}

// FighterFilter keeps points whose own player plays one of Fighters.
type FighterFilter struct {
	Fighters []mapping.FighterID
}

func (f *FighterFilter) Name() string { return "fighter" }

func (f *FighterFilter) match(p DataPoint) bool {
	return slices.Contains(f.Fighters, p.Session.Fighter(p.Player))
}

func (f *FighterFilter) Apply(ds *DataSet) *DataSet        { return ds.filter(f.match, true) }
func (f *FighterFilter) ApplyInverse(ds *DataSet) *DataSet { return ds.filter(f.match, false) }

// sessionMatcher evaluates a per-session test once per distinct session.
func sessionMatcher(match func(*session.Session) bool) func(DataPoint) bool {
	memo := make(map[*session.Session]bool)
	return func(p DataPoint) bool {
		ok, seen := memo[p.Session]
		if !seen {
			ok = match(p.Session)
			memo[p.Session] = ok
		}
		return ok
	}
}
