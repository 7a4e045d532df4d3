// Package loader reads batches of saved sessions on a fixed pool of workers
// and hands each batch back as one DataSet.
package loader

import (
	"context"
	"errors"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/reframed/internal/dataset"
	"github.com/freeeve/reframed/internal/session"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("loader: closed")

// SessionLoader reads one session file. *store.Store implements it.
type SessionLoader interface {
	LoadFile(path string) (*session.Session, error)
}

// Config configures a Loader.
type Config struct {
	Workers     int // default runtime.NumCPU()
	ResultQueue int // buffered results, default 16
	Logger      zerolog.Logger
}

// Result is a completed batch. Sessions follow the submitted path order with
// failed paths left out; Failed maps those paths to their error.
type Result struct {
	TaskID   uint64
	Group    string
	DataSet  *dataset.DataSet
	Sessions []*session.Session
	Failed   map[string]error
	Elapsed  time.Duration
}

type task struct {
	id        uint64
	group     string
	paths     []string
	sessions  []*session.Session
	failed    map[string]error
	remaining int
	started   time.Time
}

type job struct {
	task  *task
	index int
}

// Loader runs batches submitted with Submit. Results are collected with
// Next. A cancelled batch is never delivered, even if its files were
// already read.
type Loader struct {
	cfg Config
	src SessionLoader
	log zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []job
	tasks    map[uint64]*task
	nextID   uint64
	shutdown bool

	results chan Result
	done    chan struct{}
	wg      sync.WaitGroup
}

// New starts the worker pool.
func New(cfg Config, src SessionLoader) *Loader {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.ResultQueue <= 0 {
		cfg.ResultQueue = 16
	}
	l := &Loader{
		cfg:     cfg,
		src:     src,
		log:     cfg.Logger,
		tasks:   make(map[uint64]*task),
		results: make(chan Result, cfg.ResultQueue),
		done:    make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)

	l.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go l.worker()
	}
	return l
}

// Submit queues paths as one batch for group and returns its task id.
// Task ids increase monotonically from 1. Batches submitted after Close
// are never run.
func (l *Loader) Submit(group string, paths []string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	t := &task{
		id:        l.nextID,
		group:     group,
		paths:     slices.Clone(paths),
		sessions:  make([]*session.Session, len(paths)),
		failed:    make(map[string]error),
		remaining: len(paths),
		started:   time.Now(),
	}
	if l.shutdown {
		return t.id
	}
	l.tasks[t.id] = t

	if len(paths) == 0 {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.deliver(t)
		}()
		return t.id
	}

	for i := range paths {
		l.queue = append(l.queue, job{task: t, index: i})
	}
	l.cond.Broadcast()
	l.log.Debug().Uint64("task", t.id).Str("group", group).Int("files", len(paths)).Msg("batch queued")
	return t.id
}

// Next blocks until a batch that is still wanted completes.
func (l *Loader) Next(ctx context.Context) (Result, error) {
	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case r, ok := <-l.results:
			if !ok {
				return Result{}, ErrClosed
			}
			l.mu.Lock()
			_, wanted := l.tasks[r.TaskID]
			delete(l.tasks, r.TaskID)
			l.mu.Unlock()
			if !wanted {
				l.log.Debug().Uint64("task", r.TaskID).Msg("discarding cancelled batch")
				continue
			}
			return r, nil
		}
	}
}

// Pending is the number of submitted batches not yet returned by Next or
// cancelled.
func (l *Loader) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Cancel drops the batch with the given id. It reports whether the batch
// was still pending.
func (l *Loader) Cancel(id uint64) bool {
	return l.cancelWhere(func(t *task) bool { return t.id == id }) > 0
}

// CancelGroup drops every pending batch of group and returns how many.
func (l *Loader) CancelGroup(group string) int {
	return l.cancelWhere(func(t *task) bool { return t.group == group })
}

// CancelAll drops every pending batch.
func (l *Loader) CancelAll() int {
	return l.cancelWhere(func(*task) bool { return true })
}

func (l *Loader) cancelWhere(match func(*task) bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for id, t := range l.tasks {
		if match(t) {
			delete(l.tasks, id)
			n++
		}
	}
	if n > 0 {
		l.queue = slices.DeleteFunc(l.queue, func(j job) bool {
			_, ok := l.tasks[j.task.id]
			return !ok
		})
	}
	return n
}

// Close stops the workers and waits for them. A worker in the middle of a
// read finishes that file first. Queued work is abandoned.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.shutdown {
		l.mu.Unlock()
		return
	}
	l.shutdown = true
	l.queue = nil
	l.cond.Broadcast()
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()
	close(l.results)
}

func (l *Loader) worker() {
	defer l.wg.Done()
	for {
		j, ok := l.dequeue()
		if !ok {
			return
		}
		path := j.task.paths[j.index]
		s, err := l.src.LoadFile(path)
		if err != nil {
			l.log.Warn().Err(err).Str("path", path).Msg("load failed")
		}
		if t := l.complete(j, s, err); t != nil {
			l.deliver(t)
		}
	}
}

func (l *Loader) dequeue() (job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) == 0 && !l.shutdown {
		l.cond.Wait()
	}
	if l.shutdown {
		return job{}, false
	}
	j := l.queue[0]
	l.queue = l.queue[1:]
	return j, true
}

// complete records one file and returns the task once all of its files
// are done. Results of cancelled tasks are dropped here.
func (l *Loader) complete(j job, s *session.Session, err error) *task {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := j.task
	if _, ok := l.tasks[t.id]; !ok {
		return nil
	}
	if err != nil {
		t.failed[t.paths[j.index]] = err
	} else {
		t.sessions[j.index] = s
	}
	t.remaining--
	if t.remaining > 0 {
		return nil
	}
	return t
}

func (l *Loader) deliver(t *task) {
	sessions := slices.DeleteFunc(t.sessions, func(s *session.Session) bool { return s == nil })
	r := Result{
		TaskID:   t.id,
		Group:    t.group,
		DataSet:  dataset.FromSessions(sessions...),
		Sessions: sessions,
		Failed:   t.failed,
		Elapsed:  time.Since(t.started),
	}
	l.log.Info().
		Uint64("task", t.id).
		Str("group", t.group).
		Int("sessions", len(sessions)).
		Int("failed", len(t.failed)).
		Int("points", r.DataSet.Len()).
		Dur("elapsed", r.Elapsed).
		Msg("batch loaded")

	select {
	case l.results <- r:
	case <-l.done:
	}
}
