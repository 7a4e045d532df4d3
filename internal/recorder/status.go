package recorder

import (
	"time"

	"github.com/freeeve/reframed/internal/session"
)

// Status is a snapshot of the recorder. Unlike the sessions themselves it
// may be read from any goroutine.
type Status struct {
	Connected bool        `json:"connected"`
	Addr      string      `json:"addr,omitempty"`
	Saved     int         `json:"saved"`
	LastSaved string      `json:"last_saved,omitempty"`
	LastError string      `json:"last_error,omitempty"`
	Game      *GameStatus `json:"game,omitempty"`
	Training  bool        `json:"training"`
}

// GameStatus describes the running game.
type GameStatus struct {
	ID      string         `json:"id"`
	Format  string         `json:"format"`
	Set     int            `json:"set"`
	Game    int            `json:"game"`
	Stage   string         `json:"stage"`
	Players []PlayerStatus `json:"players"`
	Winner  int            `json:"winner"`
	Started time.Time      `json:"started"`
}

type PlayerStatus struct {
	Tag     string `json:"tag"`
	Name    string `json:"name"`
	Fighter string `json:"fighter"`
}

// Status returns the latest snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status
	if st.Game != nil {
		g := *st.Game
		g.Players = append([]PlayerStatus(nil), g.Players...)
		st.Game = &g
	}
	return st
}

func (m *Manager) updateStatus(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	m.mu.Unlock()
}

func (m *Manager) gameStatus(s *session.Session) *GameStatus {
	g := &GameStatus{
		ID:      s.ID().String(),
		Format:  s.Format().Description(),
		Set:     s.SetNumber(),
		Game:    s.GameNumber(),
		Stage:   s.Mapping().StageName(s.Stage()),
		Winner:  s.Winner(),
		Started: m.cfg.Clock(),
	}
	for i := 0; i < s.PlayerCount(); i++ {
		g.Players = append(g.Players, PlayerStatus{
			Tag:     s.Tag(i),
			Name:    s.Name(i),
			Fighter: m.fighterName(s, i),
		})
	}
	return g
}

// watcher refreshes the snapshot when the running game changes.
type watcher struct {
	session.NopListener
	m *Manager
}

func (w watcher) refresh(s *session.Session) {
	g := w.m.gameStatus(s)
	w.m.updateStatus(func(st *Status) {
		if st.Game != nil {
			g.Started = st.Game.Started
		}
		st.Game = g
	})
}

func (w watcher) OnPlayerNameChanged(s *session.Session, _ int, _ string) { w.refresh(s) }
func (w watcher) OnSetNumberChanged(s *session.Session, _ int)            { w.refresh(s) }
func (w watcher) OnGameNumberChanged(s *session.Session, _ int)           { w.refresh(s) }
func (w watcher) OnFormatChanged(s *session.Session, _ session.SetFormat) { w.refresh(s) }
func (w watcher) OnWinnerChanged(s *session.Session, _ int)               { w.refresh(s) }
