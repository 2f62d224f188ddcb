// Package scheduler defers ingestion to a single background worker. An
// accepted entity is queued with a jittered due time; the worker polls
// at a fixed interval and runs the ingest unit of work for every entry
// whose due time has passed. Delivery is at most once: an entry leaves
// the queue whether ingestion succeeds or fails.
package scheduler

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/preservio/entitystore/internal/resolve"
	"github.com/preservio/entitystore/pkg/model"
)

// Ingester is the unit of work the worker executes for due entries.
type Ingester interface {
	Ingest(entity *model.IntellectualEntity) (*model.IntellectualEntity, error)
}

// Options tune the worker. Zero values select the defaults.
type Options struct {
	// PollInterval is the worker's sleep between queue scans.
	PollInterval time.Duration
	// JitterBase and JitterSpread delay each entry by
	// base + rand(spread), desynchronizing ingest bursts.
	JitterBase   time.Duration
	JitterSpread time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.JitterBase <= 0 {
		o.JitterBase = 5 * time.Second
	}
	if o.JitterSpread <= 0 {
		o.JitterSpread = 5 * time.Second
	}
	// the due-time collision re-roll needs a spread of at least one
	// millisecond to ever advance
	if o.JitterSpread < time.Millisecond {
		o.JitterSpread = time.Millisecond
	}
}

// Scheduler owns the pending queue and the worker goroutine.
type Scheduler struct {
	log  *slog.Logger
	ing  Ingester
	opts Options

	mu       sync.Mutex
	queue    map[int64]*model.IntellectualEntity
	inflight map[string]*model.IntellectualEntity

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func New(ing Ingester, logger *slog.Logger, opts Options) *Scheduler {
	opts.applyDefaults()
	return &Scheduler{
		log:   logger,
		ing:   ing,
		opts:  opts,
		queue:    make(map[int64]*model.IntellectualEntity),
		inflight: make(map[string]*model.IntellectualEntity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. Safe to call once; later calls are no-ops.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// Stop signals the worker and waits for it to drain the current poll
// iteration. Entries still queued are discarded; callers must stop the
// scheduler before purging the store.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
}

// Enqueue accepts an entity for deferred ingestion and returns it with
// a confirmed identifier and lifecycle state INGESTING. The full
// identity resolution happens later inside the worker's ingest.
func (s *Scheduler) Enqueue(entity *model.IntellectualEntity) *model.IntellectualEntity {
	pending := *entity
	if pending.Identifier == "" {
		pending.Identifier = resolve.NewID()
	}
	pending.LifecycleState = model.LifecycleState{Message: "async ingest", State: model.StateIngesting}

	s.mu.Lock()
	due := time.Now().Add(s.opts.JitterBase).UnixMilli()
	for {
		due += rand.Int63n(int64(s.opts.JitterSpread/time.Millisecond) + 1)
		if _, taken := s.queue[due]; !taken {
			break
		}
	}
	s.queue[due] = &pending
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("queued async ingest", "id", pending.Identifier, "due", time.UnixMilli(due))
	}
	return &pending
}

// PendingState reports the lifecycle state of an entity that is not
// yet durable, whether still queued or currently being ingested by the
// worker. Used as a fallback after a store miss.
func (s *Scheduler) PendingState(id string) (model.LifecycleState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pending := range s.queue {
		if pending.Identifier == id {
			return pending.LifecycleState, true
		}
	}
	if pending, ok := s.inflight[id]; ok {
		return pending.LifecycleState, true
	}
	return model.LifecycleState{}, false
}

// PendingCount returns the number of queued or in-flight entries.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) + len(s.inflight)
}

func (s *Scheduler) run() {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.processDue(time.Now())
		}
	}
}

// processDue moves every due entry to the in-flight set and runs the
// ingest for each. An entry stays visible to PendingState until its
// attempt completes; it is removed success-or-fail afterwards, so a
// failed ingest is logged and dropped with no retry.
func (s *Scheduler) processDue(now time.Time) {
	nowMillis := now.UnixMilli()

	s.mu.Lock()
	due := make([]*model.IntellectualEntity, 0)
	for at, pending := range s.queue {
		if at <= nowMillis {
			due = append(due, pending)
			delete(s.queue, at)
			s.inflight[pending.Identifier] = pending
		}
	}
	s.mu.Unlock()

	for _, pending := range due {
		_, err := s.ing.Ingest(pending)

		s.mu.Lock()
		delete(s.inflight, pending.Identifier)
		s.mu.Unlock()

		if err != nil {
			if s.log != nil {
				s.log.Error("async ingest failed, dropping entry", "id", pending.Identifier, "error", err)
			}
			continue
		}
		if s.log != nil {
			s.log.Info("async ingest completed", "id", pending.Identifier)
		}
	}
}
