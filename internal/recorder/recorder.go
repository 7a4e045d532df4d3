// Package recorder follows the sessions produced by a protocol.Decoder,
// keeps set and game numbering across games, and saves every finished
// session to disk.
package recorder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/protocol"
	"github.com/freeeve/reframed/internal/session"
	"github.com/freeeve/reframed/internal/store"
)

// Saver writes a finished session. *store.Store implements it.
type Saver interface {
	SaveFile(path string, s *session.Session) error
}

// Config configures a Manager.
type Config struct {
	OutputDir    string
	Format       session.SetFormat
	Player1      string // display name override for player 1 in 1v1 games
	Player2      string
	SaveTraining bool
	Logger       zerolog.Logger
	Clock        func() time.Time // default time.Now

	// OnSaved is called after a session was written.
	OnSaved func(path string, s *session.Session)
}

// Manager is a protocol.Listener. Its methods run on the decoder's
// goroutine; the setters must not be called concurrently with Decoder.Run.
type Manager struct {
	protocol.NopListener

	cfg   Config
	saver Saver
	log   zerolog.Logger

	// carried between games while no game is running
	format     session.SetFormat
	setNumber  int
	gameNumber int
	names      [2]string

	active   *session.Session
	past     []*session.Session
	training int
	watch    watcher

	mu     sync.Mutex
	status Status
}

func New(cfg Config, saver Saver) (*Manager, error) {
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	m := &Manager{
		cfg:        cfg,
		saver:      saver,
		log:        cfg.Logger,
		format:     cfg.Format,
		setNumber:  1,
		gameNumber: 1,
		names:      [2]string{cfg.Player1, cfg.Player2},
	}
	m.watch = watcher{m: m}
	return m, nil
}

// Active returns the running game, if any.
func (m *Manager) Active() *session.Session { return m.active }

// SetFormat changes the format of the running game, or of the next one.
func (m *Manager) SetFormat(f session.SetFormat) {
	if m.active != nil {
		m.active.SetFormat(f)
		return
	}
	m.format = f
}

// SetPlayerName changes the display name of player 0 or 1. An empty name
// reverts a running game to the player's tag.
func (m *Manager) SetPlayerName(player int, name string) {
	if player < 0 || player > 1 {
		return
	}
	if m.active != nil && m.active.PlayerCount() == 2 {
		if name == "" {
			name = m.active.Tag(player)
		}
		m.active.SetPlayerName(player, name)
		return
	}
	m.names[player] = name
}

// SetGameNumber changes the game number of the running game, or of the
// next one. A running game is renumbered until its file name is free.
func (m *Manager) SetGameNumber(n int) {
	if m.active != nil {
		m.active.SetGameNumber(n)
		m.findUniqueNumbers(m.active)
		return
	}
	m.gameNumber = n
}

func (m *Manager) OnConnected(addr string) {
	m.log.Info().Str("addr", addr).Msg("console connected")
	m.updateStatus(func(st *Status) {
		st.Connected = true
		st.Addr = addr
		st.LastError = ""
	})
}

func (m *Manager) OnConnectFailed(addr string, err error) {
	m.updateStatus(func(st *Status) {
		st.Addr = addr
		st.LastError = err.Error()
	})
}

func (m *Manager) OnDisconnected(err error) {
	m.updateStatus(func(st *Status) {
		st.Connected = false
		st.Game = nil
		st.Training = false
		if err != nil {
			st.LastError = err.Error()
		}
	})
}

func (m *Manager) OnMappingInfoReceived(info *mapping.Info) {
	m.log.Info().
		Int("fighters", info.Fighter.Len()).
		Int("stages", info.Stage.Len()).
		Uint32("checksum", info.ConsoleChecksum).
		Msg("mapping info received")
}

func (m *Manager) OnGameStarted(s *session.Session) { m.begin(s) }
func (m *Manager) OnGameResumed(s *session.Session) { m.begin(s) }
func (m *Manager) OnGameEnded(s *session.Session)   { m.end(s) }

func (m *Manager) OnTrainingStarted(s *session.Session) {
	m.log.Info().Str("player", m.fighterName(s, 0)).Str("cpu", m.fighterName(s, 1)).Msg("training started")
	m.updateStatus(func(st *Status) { st.Training = true })
}

func (m *Manager) OnTrainingResumed(s *session.Session) { m.OnTrainingStarted(s) }

func (m *Manager) OnTrainingReset(old, _ *session.Session) {
	m.saveTraining(old)
}

func (m *Manager) OnTrainingEnded(s *session.Session) {
	m.saveTraining(s)
	m.updateStatus(func(st *Status) { st.Training = false })
}

// begin copies the carried metadata into a new game and numbers it.
func (m *Manager) begin(s *session.Session) {
	s.SetFormat(m.format)
	s.SetSetNumber(m.setNumber)
	s.SetGameNumber(m.gameNumber)
	if s.PlayerCount() == 2 {
		for i, name := range m.names {
			if name != "" {
				s.SetPlayerName(i, name)
			}
		}
	}

	if m.startsNewSet(s) {
		s.SetGameNumber(1)
		s.SetSetNumber(1)
		m.past = nil
	} else {
		s.SetGameNumber(s.GameNumber() + 1)
	}
	m.findUniqueNumbers(s)

	m.active = s
	s.AddListener(m.watch)
	g := m.gameStatus(s)
	m.updateStatus(func(st *Status) { st.Game = g })
	m.log.Info().
		Str("format", s.Format().ShortDescription()).
		Int("set", s.SetNumber()).
		Int("game", s.GameNumber()).
		Str("players", m.players(s)).
		Msg("game started")
}

func (m *Manager) end(s *session.Session) {
	// the date may have rolled over since the game started
	m.findUniqueNumbers(s)
	m.save(s, m.GameFileName(s))

	m.format = s.Format()
	m.setNumber = s.SetNumber()
	m.gameNumber = s.GameNumber()
	if s.PlayerCount() == 2 {
		// only names that differ from the tag follow into the next game
		for i := range m.names {
			m.names[i] = ""
			if s.Name(i) != s.Tag(i) {
				m.names[i] = s.Name(i)
			}
		}
	}
	m.past = append(m.past, s)
	m.active = nil
	s.RemoveListener(m.watch)
	m.updateStatus(func(st *Status) { st.Game = nil })
}

func (m *Manager) saveTraining(s *session.Session) {
	if !m.cfg.SaveTraining || s.StateCount(0) == 0 {
		return
	}
	m.training++
	name := m.TrainingFileName(s, m.training)
	for {
		taken, err := m.exists(name)
		if err != nil {
			m.log.Warn().Err(err).Str("name", name).Msg("cannot check training file name")
			break
		}
		if !taken {
			break
		}
		m.training++
		name = m.TrainingFileName(s, m.training)
	}
	m.save(s, name)
}

func (m *Manager) save(s *session.Session, name string) {
	path := filepath.Join(m.cfg.OutputDir, name)
	if err := m.saver.SaveFile(path, s); err != nil {
		m.log.Error().Err(err).Str("path", path).Msg("save failed")
		m.updateStatus(func(st *Status) { st.LastError = err.Error() })
		return
	}
	m.updateStatus(func(st *Status) {
		st.Saved++
		st.LastSaved = path
	})
	m.log.Info().
		Str("path", path).
		Dur("length", s.Length()).
		Int("winner", s.Winner()).
		Msg("session saved")
	if m.cfg.OnSaved != nil {
		m.cfg.OnSaved(path, s)
	}
}

// startsNewSet reports whether s begins a new set rather than continuing
// the previous games.
func (m *Manager) startsNewSet(s *session.Session) bool {
	if s.PlayerCount() != 2 || len(m.past) == 0 {
		return true
	}
	prev := m.past[len(m.past)-1]
	if prev.PlayerCount() != 2 {
		return true
	}
	for i := 0; i < 2; i++ {
		if prev.Tag(i) != s.Tag(i) || prev.Name(i) != s.Name(i) {
			return true
		}
	}
	if prev.Format().Kind != s.Format().Kind {
		return true
	}

	need := s.Format().WinsRequired()
	if need == 0 {
		return false
	}
	var wins [2]int
	for _, p := range m.past {
		if w := p.Winner(); w == 0 || w == 1 {
			wins[w]++
		}
	}
	return wins[0] >= need || wins[1] >= need
}

// findUniqueNumbers bumps the game number (open formats) or the set number
// until no saved file has the session's name. It stops at the first stat
// error other than not-exist; the save then reports the real problem.
func (m *Manager) findUniqueNumbers(s *session.Session) {
	for {
		name := m.GameFileName(s)
		taken, err := m.exists(name)
		if err != nil {
			m.log.Warn().Err(err).Str("name", name).Msg("cannot check game file name")
			return
		}
		if !taken {
			return
		}
		switch s.Format().Kind {
		case session.Friendlies, session.Practice, session.Other:
			s.SetGameNumber(s.GameNumber() + 1)
		default:
			s.SetSetNumber(s.SetNumber() + 1)
		}
	}
}

func (m *Manager) exists(name string) (bool, error) {
	_, err := os.Stat(filepath.Join(m.cfg.OutputDir, name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	}
	return false, err
}

func (m *Manager) date(s *session.Session) string {
	t := m.cfg.Clock()
	if ts := s.TimeStampStarted(); ts != 0 {
		t = time.UnixMilli(int64(ts))
	}
	return t.Format("2006-01-02")
}

// GameFileName names a game file like
// "2024-05-01 - Best of 3 (2) - A (Fox) vs B (Falco) Game 3.rfr". The set
// number is left out for the first set.
func (m *Manager) GameFileName(s *session.Session) string {
	format := s.Format().Description()
	if s.SetNumber() != 1 {
		format = fmt.Sprintf("%s (%d)", format, s.SetNumber())
	}
	return sanitize(fmt.Sprintf("%s - %s - %s Game %d%s",
		m.date(s), format, m.players(s), s.GameNumber(), store.Ext))
}

// TrainingFileName names the n-th saved training session of a day.
func (m *Manager) TrainingFileName(s *session.Session, n int) string {
	return sanitize(fmt.Sprintf("%s - Training - %s Session %d%s",
		m.date(s), m.players(s), n, store.Ext))
}

func (m *Manager) players(s *session.Session) string {
	list := make([]string, s.PlayerCount())
	for i := range list {
		name := s.Name(i)
		if f, ok := s.Mapping().Fighter.Name(s.Fighter(i)); ok {
			name += " (" + f + ")"
		}
		list[i] = name
	}
	return truncateName(strings.Join(list, " vs "), maxPlayersLen)
}

// maxPlayersLen bounds the player part of a file name so the whole name
// stays under the usual 255-byte limit.
const maxPlayersLen = 160

func truncateName(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n-3]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s + "..."
}

func (m *Manager) fighterName(s *session.Session, player int) string {
	return s.Mapping().FighterName(s.Fighter(player))
}

var unsafeChars = strings.NewReplacer("/", "_", "\\", "_", ":", "_", "\x00", "")

func sanitize(name string) string { return unsafeChars.Replace(name) }
