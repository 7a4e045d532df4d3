// Package httpapi serves the recorder's status over HTTP.
package httpapi

import (
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/freeeve/reframed/internal/recorder"
	"github.com/freeeve/reframed/internal/store"
)

// StatusSource provides recorder snapshots. *recorder.Manager implements it.
type StatusSource interface {
	Status() recorder.Status
}

// Identifier names the container version of a session file. *store.Store
// implements it.
type Identifier interface {
	Identify(data []byte) (string, error)
}

type Handler struct {
	src StatusSource
	ids Identifier
	dir string
	log zerolog.Logger
}

// NewRouter serves the recorder status and lists the session files in
// dir. ids is optional; without it listings carry no version.
func NewRouter(log zerolog.Logger, src StatusSource, ids Identifier, dir string) http.Handler {
	h := &Handler{src: src, ids: ids, dir: dir, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /readyz", h.ready)
	mux.HandleFunc("GET /v1/status", h.status)
	mux.HandleFunc("GET /v1/sessions", h.sessions)

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return RequestID(AccessLog(log, mux))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ready succeeds only while a console is connected.
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if !h.src.Status().Connected {
		http.Error(w, "not connected", http.StatusServiceUnavailable)
		return
	}
	h.health(w, r)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Status())
}

// sessions lists saved files, newest first. ?limit=N caps the listing
// (default 100).
func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	entries, err := os.ReadDir(h.dir)
	if err != nil {
		h.log.Error().Err(err).Str("dir", h.dir).Msg("list sessions")
		writeError(w, http.StatusInternalServerError, "cannot list sessions")
		return
	}

	files := make([]SessionFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), store.Ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, SessionFile{Name: e.Name(), Size: info.Size(), Modified: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].Modified.Equal(files[j].Modified) {
			return files[i].Modified.After(files[j].Modified)
		}
		return files[i].Name < files[j].Name
	})
	if len(files) > limit {
		files = files[:limit]
	}

	if h.ids != nil {
		for i := range files {
			data, err := os.ReadFile(filepath.Join(h.dir, files[i].Name))
			if err != nil {
				continue
			}
			files[i].Version, _ = h.ids.Identify(data)
		}
	}
	writeJSON(w, http.StatusOK, files)
}
