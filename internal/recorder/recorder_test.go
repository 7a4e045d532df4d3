package recorder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
	"github.com/freeeve/reframed/internal/store"
)

var day = time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)

type harness struct {
	t     *testing.T
	dir   string
	m     *Manager
	st    *store.Store
	saved []string
	clock time.Time
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	st, err := store.New(store.Config{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(st.Close)

	h := &harness{t: t, dir: t.TempDir(), st: st, clock: day}
	cfg.OutputDir = h.dir
	cfg.Logger = zerolog.Nop()
	cfg.Clock = func() time.Time { return h.clock }
	cfg.OnSaved = func(path string, _ *session.Session) { h.saved = append(h.saved, filepath.Base(path)) }
	m, err := New(cfg, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.m = m
	return h
}

// play runs one game between tags through the manager. winner gets three
// stocks, the other player one.
func (h *harness) play(tags [2]string, winner int) *session.Session {
	h.t.Helper()
	info := &mapping.Info{}
	info.Fighter.Add(1, "Fox")
	s, err := session.NewRunning(session.Params{
		Mapping:  info,
		Stage:    31,
		Fighters: []mapping.FighterID{1, 2},
		Tags:     tags[:],
		Game:     &session.GameMeta{SetNumber: 1, GameNumber: 1},
	})
	if err != nil {
		h.t.Fatalf("NewRunning: %v", err)
	}
	h.m.OnGameStarted(s)
	if h.m.Active() != s {
		h.t.Fatalf("Active() is not the started game")
	}

	ts := uint64(h.clock.UnixMilli())
	for p := 0; p < 2; p++ {
		stocks := uint8(1)
		if p == winner {
			stocks = 3
		}
		st := session.PlayerState{TimeStamp: ts, Frame: 1, Stocks: stocks}
		if err := s.AddPlayerState(p, st); err != nil {
			h.t.Fatalf("AddPlayerState: %v", err)
		}
	}
	h.clock = h.clock.Add(5 * time.Minute)

	s.Freeze()
	h.m.OnGameEnded(s)
	if h.m.Active() != nil {
		h.t.Fatalf("Active() = %v after game end, want nil", h.m.Active())
	}
	return s
}

func (h *harness) requireSaved(want ...string) {
	h.t.Helper()
	if len(h.saved) != len(want) {
		h.t.Fatalf("saved %q, want %q", h.saved, want)
	}
	for i := range want {
		if h.saved[i] != want[i] {
			h.t.Fatalf("saved[%d] = %q, want %q", i, h.saved[i], want[i])
		}
		if _, err := os.Stat(filepath.Join(h.dir, want[i])); err != nil {
			h.t.Fatalf("stat %s: %v", want[i], err)
		}
	}
}

func TestBestOfThreeStartsNewSetAfterTwoWins(t *testing.T) {
	h := newHarness(t, Config{Format: session.Format(session.Bo3)})
	ab := [2]string{"A", "B"}

	h.play(ab, 0)
	h.play(ab, 0)
	third := h.play(ab, 1)

	h.requireSaved(
		"2024-05-01 - Best of 3 - A (Fox) vs B Game 1.rfr",
		"2024-05-01 - Best of 3 - A (Fox) vs B Game 2.rfr",
		"2024-05-01 - Best of 3 (2) - A (Fox) vs B Game 1.rfr",
	)
	if third.SetNumber() != 2 || third.GameNumber() != 1 {
		t.Fatalf("third game = set %d game %d, want set 2 game 1", third.SetNumber(), third.GameNumber())
	}
}

func TestBestOfThreeContinuesAfterSplit(t *testing.T) {
	h := newHarness(t, Config{Format: session.Format(session.Bo3)})
	ab := [2]string{"A", "B"}

	h.play(ab, 0)
	h.play(ab, 1)
	third := h.play(ab, 0)
	if third.GameNumber() != 3 || third.SetNumber() != 1 {
		t.Fatalf("third game = set %d game %d, want set 1 game 3", third.SetNumber(), third.GameNumber())
	}
}

func TestFriendliesKeepCounting(t *testing.T) {
	h := newHarness(t, Config{Player1: "Alice"})
	ab := [2]string{"A", "B"}

	for i := 0; i < 4; i++ {
		s := h.play(ab, i%2)
		if s.GameNumber() != i+1 {
			t.Fatalf("game %d numbered %d", i+1, s.GameNumber())
		}
		if s.Name(0) != "Alice" {
			t.Fatalf("Name(0) = %q, want Alice", s.Name(0))
		}
	}
	if got := h.saved[3]; got != "2024-05-01 - Friendlies - Alice (Fox) vs B Game 4.rfr" {
		t.Fatalf("saved[3] = %q", got)
	}
}

func TestChangedPlayersStartNewSet(t *testing.T) {
	h := newHarness(t, Config{})
	h.play([2]string{"A", "B"}, 0)
	s := h.play([2]string{"A", "C"}, 0)
	if s.GameNumber() != 1 {
		t.Fatalf("GameNumber = %d, want 1", s.GameNumber())
	}
}

func TestExistingFileBumpsGameNumber(t *testing.T) {
	h := newHarness(t, Config{})
	taken := filepath.Join(h.dir, "2024-05-01 - Friendlies - A (Fox) vs B Game 1.rfr")
	if err := os.WriteFile(taken, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s := h.play([2]string{"A", "B"}, 0)
	if s.GameNumber() != 2 {
		t.Fatalf("GameNumber = %d, want 2", s.GameNumber())
	}
	data, err := os.ReadFile(taken)
	if err != nil || string(data) != "x" {
		t.Fatalf("existing file was modified")
	}
}

func TestSavedGameLoadsBack(t *testing.T) {
	h := newHarness(t, Config{Format: session.Format(session.Bo5), Player2: "Bob"})
	h.play([2]string{"A", "B"}, 1)

	loaded, err := h.st.LoadFile(filepath.Join(h.dir, h.saved[0]))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loaded.Format() != session.Format(session.Bo5) {
		t.Fatalf("Format = %v, want Bo5", loaded.Format())
	}
	if loaded.Name(1) != "Bob" || loaded.Winner() != 1 {
		t.Fatalf("Name(1) = %q winner %d, want Bob 1", loaded.Name(1), loaded.Winner())
	}
}

func TestSetterChangesRunningGame(t *testing.T) {
	h := newHarness(t, Config{})
	s, err := session.NewRunning(session.Params{
		Mapping:  &mapping.Info{},
		Fighters: []mapping.FighterID{1, 2},
		Tags:     []string{"A", "B"},
		Game:     &session.GameMeta{SetNumber: 1, GameNumber: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.m.OnGameStarted(s)

	h.m.SetPlayerName(1, "Bob")
	h.m.SetFormat(session.Format(session.FT5))
	h.m.SetGameNumber(7)
	if s.Name(1) != "Bob" || s.Format().Kind != session.FT5 || s.GameNumber() != 7 {
		t.Fatalf("running game not updated: %q %v %d", s.Name(1), s.Format(), s.GameNumber())
	}
	h.m.SetPlayerName(1, "")
	if s.Name(1) != "B" {
		t.Fatalf("Name(1) = %q, want tag B", s.Name(1))
	}
}

func TestTrainingSavedOnReset(t *testing.T) {
	h := newHarness(t, Config{SaveTraining: true})
	s, err := session.NewRunning(session.Params{
		Mapping:  &mapping.Info{},
		Fighters: []mapping.FighterID{1, 2},
		Tags:     []string{"Player 1", "CPU"},
		Training: &session.TrainingMeta{PlayerFighter: 1, CPUFighter: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.m.OnTrainingStarted(s)
	for p := 0; p < 2; p++ {
		if err := s.AddPlayerState(p, session.PlayerState{TimeStamp: uint64(day.UnixMilli())}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.ResetTraining(); err != nil {
		t.Fatal(err)
	}
	next, err := session.NewRunning(s.Params())
	if err != nil {
		t.Fatal(err)
	}
	h.m.OnTrainingReset(s, next)
	h.m.OnTrainingEnded(next) // no states, not saved

	h.requireSaved("2024-05-01 - Training - Player 1 vs CPU Session 1.rfr")
}

func TestStatusFollowsGames(t *testing.T) {
	h := newHarness(t, Config{Format: session.Format(session.Bo3)})
	h.m.OnConnected("console:42069")

	s, err := session.NewRunning(session.Params{
		Mapping:  &mapping.Info{},
		Fighters: []mapping.FighterID{1, 2},
		Tags:     []string{"A", "B"},
		Game:     &session.GameMeta{SetNumber: 1, GameNumber: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	h.m.OnGameStarted(s)

	st := h.m.Status()
	if !st.Connected || st.Addr != "console:42069" {
		t.Fatalf("status = %+v, want connected to console:42069", st)
	}
	if st.Game == nil || st.Game.Format != "Best of 3" || len(st.Game.Players) != 2 {
		t.Fatalf("game status = %+v", st.Game)
	}

	h.m.SetPlayerName(0, "Alice")
	if got := h.m.Status().Game.Players[0].Name; got != "Alice" {
		t.Fatalf("player 0 name = %q, want Alice", got)
	}

	s.Freeze()
	h.m.OnGameEnded(s)
	st = h.m.Status()
	if st.Game != nil || st.Saved != 1 || st.LastSaved == "" {
		t.Fatalf("status after save = %+v", st)
	}

	h.m.OnDisconnected(errors.New("read: connection reset"))
	st = h.m.Status()
	if st.Connected || st.LastError != "read: connection reset" {
		t.Fatalf("status after disconnect = %+v", st)
	}
}

func TestLongPlayerListFitsFileName(t *testing.T) {
	h := newHarness(t, Config{})
	info := &mapping.Info{}
	info.Fighter.Add(1, "Captain Falcon")

	const players = 8
	fighters := make([]mapping.FighterID, players)
	tags := make([]string, players)
	for i := range tags {
		fighters[i] = 1
		tags[i] = fmt.Sprintf("Player %04d", i)
	}
	s, err := session.NewRunning(session.Params{
		Mapping:  info,
		Stage:    31,
		Fighters: fighters,
		Tags:     tags,
		Game:     &session.GameMeta{SetNumber: 1, GameNumber: 1},
	})
	if err != nil {
		t.Fatalf("NewRunning: %v", err)
	}

	done := make(chan struct{})
	go func() {
		h.m.OnGameStarted(s)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("OnGameStarted did not return, game number %d", s.GameNumber())
	}
	if s.GameNumber() != 1 {
		t.Fatalf("game number = %d, want 1", s.GameNumber())
	}

	ts := uint64(h.clock.UnixMilli())
	for p := 0; p < players; p++ {
		if err := s.AddPlayerState(p, session.PlayerState{TimeStamp: ts, Frame: 1, Stocks: 1}); err != nil {
			t.Fatalf("AddPlayerState: %v", err)
		}
	}
	s.Freeze()
	h.m.OnGameEnded(s)

	if len(h.saved) != 1 {
		t.Fatalf("saved %q, want one file", h.saved)
	}
	if n := len(h.saved[0]); n > 255 {
		t.Fatalf("file name is %d bytes: %q", n, h.saved[0])
	}
}

func TestStatErrorDoesNotBumpNumbers(t *testing.T) {
	h := newHarness(t, Config{})
	// A regular file as output dir makes every stat fail with ENOTDIR.
	file := filepath.Join(h.dir, "not-a-dir")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	h.m.cfg.OutputDir = file

	s, err := session.NewRunning(session.Params{
		Mapping:  &mapping.Info{},
		Fighters: []mapping.FighterID{1, 2},
		Tags:     []string{"A", "B"},
		Game:     &session.GameMeta{SetNumber: 1, GameNumber: 1},
	})
	if err != nil {
		t.Fatalf("NewRunning: %v", err)
	}
	h.m.OnGameStarted(s)
	if s.GameNumber() != 1 || s.SetNumber() != 1 {
		t.Fatalf("numbers = set %d game %d, want 1 1", s.SetNumber(), s.GameNumber())
	}
}

func TestTruncateName(t *testing.T) {
	long := strings.Repeat("é", 100) // 200 bytes
	got := truncateName(long, 50)
	if len(got) > 50 || !utf8.ValidString(got) || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncateName = %q (%d bytes)", got, len(got))
	}
	if got := truncateName("short", 50); got != "short" {
		t.Fatalf("truncateName(short) = %q", got)
	}
}
