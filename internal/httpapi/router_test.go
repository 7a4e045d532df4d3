package httpapi

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/freeeve/reframed/internal/mapping"
	"github.com/freeeve/reframed/internal/recorder"
	"github.com/freeeve/reframed/internal/session"
	"github.com/freeeve/reframed/internal/store"
)

type fixedStatus recorder.Status

func (f fixedStatus) Status() recorder.Status { return recorder.Status(f) }

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestStatusAndReadiness(t *testing.T) {
	st := fixedStatus{Connected: true, Addr: "console:42069", Saved: 3,
		Game: &recorder.GameStatus{Format: "Best of 5", Set: 1, Game: 2}}
	h := NewRouter(zerolog.Nop(), st, nil, t.TempDir())

	rec := get(t, h, "/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing X-Request-ID")
	}
	var got recorder.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Saved != 3 || got.Game == nil || got.Game.Game != 2 {
		t.Fatalf("decoded status = %+v", got)
	}

	if rec := get(t, h, "/readyz"); rec.Code != http.StatusOK {
		t.Fatalf("readyz connected = %d, want 200", rec.Code)
	}
	down := NewRouter(zerolog.Nop(), fixedStatus{}, nil, t.TempDir())
	if rec := get(t, down, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz disconnected = %d, want 503", rec.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	h := NewRouter(zerolog.Nop(), fixedStatus{}, nil, t.TempDir())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc123" {
		t.Fatalf("X-Request-ID = %q, want abc123", got)
	}
}

func TestSessionListing(t *testing.T) {
	dir := t.TempDir()
	st, err := store.New(store.Config{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	s, err := session.NewSaved(session.Params{
		Mapping:  &mapping.Info{},
		Fighters: []mapping.FighterID{1, 2},
		Tags:     []string{"A", "B"},
		Game:     &session.GameMeta{SetNumber: 1, GameNumber: 1},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveFile(filepath.Join(dir, "old"+store.Ext), s); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveFile(filepath.Join(dir, "new"+store.Ext), s); err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "old"+store.Ext), past, past); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	h := NewRouter(zerolog.Nop(), fixedStatus{}, st, dir)
	rec := get(t, h, "/v1/sessions")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}
	var files []SessionFile
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(files) != 2 || files[0].Name != "new.rfr" || files[1].Name != "old.rfr" {
		t.Fatalf("files = %+v", files)
	}
	if files[0].Version != "RFRS v1" {
		t.Fatalf("version = %q, want RFRS v1", files[0].Version)
	}

	rec = get(t, h, "/v1/sessions?limit=1")
	files = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil || len(files) != 1 {
		t.Fatalf("limit=1 returned %d files (%v)", len(files), err)
	}
	if rec := get(t, h, "/v1/sessions?limit=x"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d, want 400", rec.Code)
	}
}
