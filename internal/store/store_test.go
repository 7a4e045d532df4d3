package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func testMapping() *mapping.Info {
	var m mapping.Info
	m.ConsoleChecksum = 77
	m.Fighter.Add(1, "MARIO")
	m.Fighter.Add(2, "FOX")
	m.Stage.Add(31, "battlefield")
	m.HitStatus.Add(0, "normal")
	m.Status.AddBase(0, "WAIT")
	m.Status.AddSpecific(2, 480, "FOX_SPECIAL_N")
	return &m
}

func testGame(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.NewRunning(session.Params{
		Mapping:  testMapping(),
		Stage:    31,
		Fighters: []mapping.FighterID{1, 2},
		Tags:     []string{"alice", "bob"},
		Game: &session.GameMeta{
			SetNumber:   3,
			GameNumber:  2,
			Format:      session.OtherFormat("Pools"),
			PlayerNames: []string{"Alice A.", ""},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	ts := uint64(1_700_000_000_000)
	for i := 0; i < 300; i++ {
		for p := 0; p < 2; p++ {
			st := session.PlayerState{
				TimeStamp:       ts + uint64(i*16),
				Frame:           uint32(i),
				PosX:            float32(i) * 0.5,
				PosY:            float32(-i),
				Damage:          float32(i / 10),
				Hitstun:         float32(i % 7),
				Shield:          50,
				Status:          mapping.Status(i % 40),
				Motion:          0xFF_0000_0000 | uint64(i),
				HitStatus:       mapping.HitStatus(i % 3),
				Stocks:          uint8(3 - p),
				AttackConnected: i%5 == 0,
				FacingDirection: p == 1,
			}
			if err := s.AddPlayerState(p, st); err != nil {
				t.Fatal(err)
			}
		}
	}
	s.Freeze()
	return s
}

type sessionView struct {
	ID       string
	Kind     session.Kind
	Stage    mapping.StageID
	Fighters []mapping.FighterID
	Tags     []string
	Names    []string
	Game     session.GameMeta
	Training session.TrainingMeta
	States   [][]session.PlayerState
	Winner   int
}

func view(s *session.Session) sessionView {
	v := sessionView{
		ID:     s.ID().String(),
		Kind:   s.Kind(),
		Stage:  s.Stage(),
		Winner: s.Winner(),
	}
	for p := 0; p < s.PlayerCount(); p++ {
		v.Fighters = append(v.Fighters, s.Fighter(p))
		v.Tags = append(v.Tags, s.Tag(p))
		v.Names = append(v.Names, s.Name(p))
		v.States = append(v.States, append([]session.PlayerState{}, s.States(p)...))
	}
	v.Game, _ = s.Game()
	v.Training, _ = s.Training()
	return v
}

func TestRoundTripGame(t *testing.T) {
	st := newTestStore(t)
	in := testGame(t)

	var buf bytes.Buffer
	if err := st.Save(&buf, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := st.Load(&buf)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(view(in), view(out)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(in.Mapping(), out.Mapping()); diff != "" {
		t.Fatalf("mapping mismatch (-want +got):\n%s", diff)
	}
	if out.MappingChecksumMismatch() {
		t.Fatalf("clean file flagged as checksum mismatch")
	}
	if out.IsRunning() {
		t.Fatalf("loaded session is running")
	}
}

func TestRoundTripTraining(t *testing.T) {
	st := newTestStore(t)
	in, err := session.NewRunning(session.Params{
		Mapping:  testMapping(),
		Stage:    31,
		Fighters: []mapping.FighterID{2, 1},
		Tags:     []string{"Player 1", "CPU"},
		Training: &session.TrainingMeta{PlayerFighter: 2, CPUFighter: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = in.AddPlayerState(0, session.PlayerState{TimeStamp: 10, Frame: 1, Damage: 3})
	in.Freeze()

	data, err := st.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := st.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(view(in), view(out)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTripEmptySession(t *testing.T) {
	st := newTestStore(t)
	in, err := session.NewSaved(session.Params{
		Mapping:  &mapping.Info{},
		Fighters: []mapping.FighterID{1},
		Tags:     []string{"solo"},
		Game:     &session.GameMeta{},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	data, err := st.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := st.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.StateCount(0) != 0 || out.Winner() != -1 {
		t.Fatalf("states = %d winner = %d", out.StateCount(0), out.Winner())
	}
}

func TestMappingChecksumMismatchStillLoads(t *testing.T) {
	st := newTestStore(t)
	data, err := st.Encode(testGame(t))
	if err != nil {
		t.Fatal(err)
	}
	data[8] ^= 0xFF // MappingChecksum

	out, err := st.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !out.MappingChecksumMismatch() {
		t.Fatalf("mismatch not flagged")
	}
	if out.StateCount(0) != 300 {
		t.Fatalf("states = %d, want 300", out.StateCount(0))
	}
}

func TestCorruptFrameBlock(t *testing.T) {
	st := newTestStore(t)
	data, err := st.Encode(testGame(t))
	if err != nil {
		t.Fatal(err)
	}
	data[24] ^= 0x01 // FramesChecksum
	if _, err := st.Decode(data); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if _, err := st.Decode(data[:len(data)-10]); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("truncated: err = %v, want ErrCorrupt", err)
	}
}

func TestOversizedFrameBlockRejected(t *testing.T) {
	st := newTestStore(t)
	data, err := st.Encode(testGame(t))
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(data[20:24], 0xF0000000) // FramesRawLen

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err = st.Decode(data)
	runtime.ReadMemStats(&after)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 64<<20 {
		t.Fatalf("decoding a %d byte file allocated %d MiB", len(data), grew>>20)
	}
}

func TestUnsupportedVersion(t *testing.T) {
	st := newTestStore(t)
	data, err := st.Encode(testGame(t))
	if err != nil {
		t.Fatal(err)
	}
	data[4] = 9
	_, err = st.Decode(data)
	if !errors.Is(err, ErrUnrecognizedFormat) || !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("err = %v, want unrecognized + unsupported version", err)
	}
}

func TestUnrecognizedPayloads(t *testing.T) {
	st := newTestStore(t)
	for name, data := range map[string][]byte{
		"empty":       nil,
		"binary":      {0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06},
		"json array":  []byte(`[1,2,3]`),
		"no version":  []byte(`{"mappinginfo": {}}`),
		"future json": []byte(`{"version": "1.5", "mappinginfo": {}}`),
		"wrong shape": []byte(`{"version": "1.2", "mappinginfo": [], "gameinfo": {}, "playerinfo": [], "playerstates": ""}`),
	} {
		if _, err := st.Decode(data); !errors.Is(err, ErrUnrecognizedFormat) {
			t.Fatalf("%s: err = %v, want ErrUnrecognizedFormat", name, err)
		}
	}
}

func TestSaveFileLoadFile(t *testing.T) {
	st := newTestStore(t)
	in := testGame(t)
	path := filepath.Join(t.TempDir(), "nested", "game"+Ext)

	if err := st.SaveFile(path, in); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want only the saved file", len(entries))
	}
	out, err := st.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if out.ID() != in.ID() {
		t.Fatalf("ID = %v, want %v", out.ID(), in.ID())
	}
	format, err := st.Identify(mustRead(t, path))
	if err != nil || format != "RFRS v1" {
		t.Fatalf("Identify = %q, %v", format, err)
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
