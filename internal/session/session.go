package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/freeeve/reframed/internal/mapping"
)

// Kind is the structural axis of a session.
type Kind uint8

const (
	KindGame Kind = iota
	KindTraining
)

func (k Kind) String() string {
	if k == KindTraining {
		return "training"
	}
	return "game"
}

// GameMeta is the user-editable metadata of a competitive game.
type GameMeta struct {
	SetNumber   int
	GameNumber  int
	Format      SetFormat
	PlayerNames []string // display names, same length as the player count
}

// TrainingMeta is the fixed fighter assignment of a training session.
type TrainingMeta struct {
	PlayerFighter mapping.FighterID
	CPUFighter    mapping.FighterID
}

// Params describes a session at construction. Exactly one of Game and
// Training must be set.
type Params struct {
	ID       uuid.UUID // generated when zero
	Mapping  *mapping.Info
	Stage    mapping.StageID
	Fighters []mapping.FighterID
	Tags     []string

	Game     *GameMeta
	Training *TrainingMeta

	// MappingChecksumMismatch marks a session whose stored mapping block did
	// not match its recorded checksum.
	MappingChecksumMismatch bool
}

// Session is a game or training session, either running (growing, fed by
// the decoder) or saved (frozen). A Session is not safe for concurrent
// mutation; once saved it is safe for concurrent reads.
type Session struct {
	id      uuid.UUID
	kind    Kind
	running bool

	mapping  *mapping.Info
	stage    mapping.StageID
	fighters []mapping.FighterID
	tags     []string
	states   [][]PlayerState

	game     GameMeta
	training TrainingMeta
	winner   int

	checksumMismatch bool
	listeners        []Listener
}

// NewRunning creates an empty running session.
func NewRunning(p Params) (*Session, error) {
	s, err := build(p, nil)
	if err != nil {
		return nil, err
	}
	s.running = true
	return s, nil
}

// NewSaved creates a frozen session from recorded states. states must have
// one slice per player; the slices are owned by the session afterwards.
func NewSaved(p Params, states [][]PlayerState) (*Session, error) {
	s, err := build(p, states)
	if err != nil {
		return nil, err
	}
	s.winner = s.computeWinner()
	return s, nil
}

func build(p Params, states [][]PlayerState) (*Session, error) {
	n := len(p.Fighters)
	if n == 0 {
		return nil, fmt.Errorf("%w: no players", ErrInvariant)
	}
	if len(p.Tags) != n {
		return nil, fmt.Errorf("%w: %d fighters but %d tags", ErrInvariant, n, len(p.Tags))
	}
	if states != nil && len(states) != n {
		return nil, fmt.Errorf("%w: %d fighters but %d state sequences", ErrInvariant, n, len(states))
	}
	if p.Mapping == nil {
		return nil, fmt.Errorf("%w: nil mapping info", ErrInvariant)
	}
	if (p.Game == nil) == (p.Training == nil) {
		return nil, fmt.Errorf("%w: exactly one of game or training metadata required", ErrInvariant)
	}

	s := &Session{
		id:               p.ID,
		mapping:          p.Mapping,
		stage:            p.Stage,
		fighters:         append([]mapping.FighterID(nil), p.Fighters...),
		tags:             append([]string(nil), p.Tags...),
		states:           states,
		winner:           -1,
		checksumMismatch: p.MappingChecksumMismatch,
	}
	if s.id == uuid.Nil {
		s.id = uuid.New()
	}
	if s.states == nil {
		s.states = make([][]PlayerState, n)
	}

	if p.Game != nil {
		s.kind = KindGame
		s.game = *p.Game
		switch {
		case len(s.game.PlayerNames) == 0:
			s.game.PlayerNames = append([]string(nil), p.Tags...)
		case len(s.game.PlayerNames) != n:
			return nil, fmt.Errorf("%w: %d fighters but %d player names", ErrInvariant, n, len(s.game.PlayerNames))
		default:
			s.game.PlayerNames = append([]string(nil), s.game.PlayerNames...)
		}
	} else {
		s.kind = KindTraining
		s.training = *p.Training
	}
	return s, nil
}

func (s *Session) ID() uuid.UUID          { return s.id }
func (s *Session) Kind() Kind             { return s.kind }
func (s *Session) IsGame() bool           { return s.kind == KindGame }
func (s *Session) IsTraining() bool       { return s.kind == KindTraining }
func (s *Session) IsRunning() bool        { return s.running }
func (s *Session) Mapping() *mapping.Info { return s.mapping }
func (s *Session) Stage() mapping.StageID { return s.stage }
func (s *Session) PlayerCount() int       { return len(s.fighters) }
func (s *Session) Tag(player int) string  { return s.tags[player] }
func (s *Session) Fighter(player int) mapping.FighterID {
	return s.fighters[player]
}

// MappingChecksumMismatch reports whether the stored mapping block failed
// validation when the session was loaded.
func (s *Session) MappingChecksumMismatch() bool { return s.checksumMismatch }

// Name returns the display name of player. Training sessions and unnamed
// players fall back to the tag.
func (s *Session) Name(player int) string {
	if s.kind == KindGame && s.game.PlayerNames[player] != "" {
		return s.game.PlayerNames[player]
	}
	return s.tags[player]
}

// StateCount returns the number of recorded states for player.
func (s *Session) StateCount(player int) int { return len(s.states[player]) }

// State returns the i-th state of player.
func (s *Session) State(player, i int) PlayerState { return s.states[player][i] }

// States exposes the state sequence of player. The slice must not be
// modified by the caller.
func (s *Session) States(player int) []PlayerState { return s.states[player] }

// LastState returns the most recent state of player.
func (s *Session) LastState(player int) (PlayerState, bool) {
	st := s.states[player]
	if len(st) == 0 {
		return PlayerState{}, false
	}
	return st[len(st)-1], true
}

// TimeStampStarted is the earliest first timestamp over all players, 0
// for a session with no states.
func (s *Session) TimeStampStarted() uint64 {
	var ts uint64
	for _, st := range s.states {
		if len(st) > 0 && (ts == 0 || st[0].TimeStamp < ts) {
			ts = st[0].TimeStamp
		}
	}
	return ts
}

// TimeStampEnded is the latest last timestamp over all players.
func (s *Session) TimeStampEnded() uint64 {
	var ts uint64
	for _, st := range s.states {
		if len(st) > 0 && st[len(st)-1].TimeStamp > ts {
			ts = st[len(st)-1].TimeStamp
		}
	}
	return ts
}

func (s *Session) Length() time.Duration {
	return time.Duration(s.TimeStampEnded()-s.TimeStampStarted()) * time.Millisecond
}

// Game returns a copy of the game metadata. ok is false for training.
func (s *Session) Game() (meta GameMeta, ok bool) {
	if s.kind != KindGame {
		return GameMeta{}, false
	}
	meta = s.game
	meta.PlayerNames = append([]string(nil), s.game.PlayerNames...)
	return meta, true
}

// Training returns the fighter assignment. ok is false for games.
func (s *Session) Training() (TrainingMeta, bool) {
	return s.training, s.kind == KindTraining
}

func (s *Session) SetNumber() int    { return s.game.SetNumber }
func (s *Session) GameNumber() int   { return s.game.GameNumber }
func (s *Session) Format() SetFormat { return s.game.Format }

// Winner is the index of the player currently ahead, or -1 for training
// sessions and sessions without states.
func (s *Session) Winner() int { return s.winner }

func (s *Session) AddListener(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Session) RemoveListener(l Listener) {
	for i, x := range s.listeners {
		if x == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Session) each(fn func(Listener)) {
	for _, l := range s.listeners {
		fn(l)
	}
}

// AddPlayerState appends state to player's sequence. Every call notifies
// OnNewPlayerState; OnNewUniquePlayerState only fires when state differs
// from the previous state of that player. Games recompute the winner
// afterwards.
func (s *Session) AddPlayerState(player int, state PlayerState) error {
	if !s.running {
		return ErrFrozen
	}
	if player < 0 || player >= len(s.states) {
		return fmt.Errorf("%w: player %d out of range [0,%d)", ErrInvariant, player, len(s.states))
	}
	prev, hasPrev := s.LastState(player)
	if hasPrev && state.TimeStamp < prev.TimeStamp {
		return fmt.Errorf("%w: player %d %d < %d", ErrNonMonotonic, player, state.TimeStamp, prev.TimeStamp)
	}
	s.states[player] = append(s.states[player], state)

	if !hasPrev || !prev.SameAs(state) {
		s.each(func(l Listener) { l.OnNewUniquePlayerState(s, player, state) })
	}
	s.each(func(l Listener) { l.OnNewPlayerState(s, player, state) })

	if s.kind == KindGame {
		if w := s.computeWinner(); w != s.winner {
			s.winner = w
			s.each(func(l Listener) { l.OnWinnerChanged(s, w) })
		}
	}
	return nil
}

// computeWinner picks the player with the most stocks, breaking ties by the
// lowest damage. Players without states are skipped.
func (s *Session) computeWinner() int {
	if s.kind != KindGame {
		return -1
	}
	winner := -1
	var best PlayerState
	for i := range s.states {
		st, ok := s.LastState(i)
		if !ok {
			continue
		}
		if winner < 0 || st.Stocks > best.Stocks ||
			(st.Stocks == best.Stocks && st.Damage < best.Damage) {
			winner, best = i, st
		}
	}
	return winner
}

// SetPlayerName changes the display name of player.
func (s *Session) SetPlayerName(player int, name string) error {
	if s.kind != KindGame {
		return ErrWrongKind
	}
	if player < 0 || player >= len(s.game.PlayerNames) {
		return fmt.Errorf("%w: player %d out of range", ErrInvariant, player)
	}
	if s.game.PlayerNames[player] == name {
		return nil
	}
	s.game.PlayerNames[player] = name
	s.each(func(l Listener) { l.OnPlayerNameChanged(s, player, name) })
	return nil
}

func (s *Session) SetSetNumber(n int) error {
	if s.kind != KindGame {
		return ErrWrongKind
	}
	if s.game.SetNumber == n {
		return nil
	}
	s.game.SetNumber = n
	s.each(func(l Listener) { l.OnSetNumberChanged(s, n) })
	return nil
}

func (s *Session) SetGameNumber(n int) error {
	if s.kind != KindGame {
		return ErrWrongKind
	}
	if s.game.GameNumber == n {
		return nil
	}
	s.game.GameNumber = n
	s.each(func(l Listener) { l.OnGameNumberChanged(s, n) })
	return nil
}

func (s *Session) SetFormat(f SetFormat) error {
	if s.kind != KindGame {
		return ErrWrongKind
	}
	if s.game.Format == f {
		return nil
	}
	s.game.Format = f
	s.each(func(l Listener) { l.OnFormatChanged(s, f) })
	return nil
}

// Freeze turns a running session into a saved one. The winner keeps its
// last computed value. Freezing twice is a no-op.
func (s *Session) Freeze() {
	s.running = false
}

// ResetTraining notifies listeners that the training instance was reset and
// freezes the session. The caller is expected to continue in a new running
// session, see NewRunning.
func (s *Session) ResetTraining() error {
	if s.kind != KindTraining {
		return ErrWrongKind
	}
	if !s.running {
		return ErrFrozen
	}
	s.each(func(l Listener) { l.OnTrainingReset(s) })
	s.Freeze()
	return nil
}

// Params returns the construction parameters of s, with a fresh ID. It is
// used to continue a training session after a reset and by persistence.
func (s *Session) Params() Params {
	p := Params{
		Mapping:                 s.mapping,
		Stage:                   s.stage,
		Fighters:                append([]mapping.FighterID(nil), s.fighters...),
		Tags:                    append([]string(nil), s.tags...),
		MappingChecksumMismatch: s.checksumMismatch,
	}
	if s.kind == KindGame {
		g, _ := s.Game()
		p.Game = &g
	} else {
		t := s.training
		p.Training = &t
	}
	return p
}
