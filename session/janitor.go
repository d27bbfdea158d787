package session

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// JanitorOptions configures the background eviction loop.
type JanitorOptions struct {
	// Interval between sweeps. Defaults to one minute.
	Interval time.Duration
	// Logger receives eviction events. Defaults to a no-op logger.
	Logger logging.Logger
}

// Janitor periodically evicts sessions whose idle time exceeds the configured
// timeout. It shares a KeyedMutex with the dispatcher so a sweep never
// destroys a session while a request against it is in flight: the janitor
// takes the per-session lock, re-reads the idle timestamp and only then
// evicts.
type Janitor struct {
	store       core.SessionStore
	locks       *core.KeyedMutex
	idleTimeout time.Duration
	interval    time.Duration
	logger      logging.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewJanitor creates a janitor for the given store. The locks argument must be
// the same KeyedMutex the dispatcher serializes session access with. An
// idleTimeout of zero disables eviction entirely.
func NewJanitor(store core.SessionStore, locks *core.KeyedMutex, idleTimeout time.Duration, optFns ...func(o *JanitorOptions)) *Janitor {
	opts := JanitorOptions{
		Interval: time.Minute,
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Janitor{
		store:       store,
		locks:       locks,
		idleTimeout: idleTimeout,
		interval:    opts.Interval,
		logger:      opts.Logger,
		done:        make(chan struct{}),
	}
}

// Start launches the background sweep loop. It is a no-op when the idle
// timeout is zero.
func (j *Janitor) Start() {
	if j.idleTimeout <= 0 {
		return
	}

	j.wg.Add(1)
	go j.run()
}

// Stop terminates the sweep loop and waits for an in-progress sweep to finish.
func (j *Janitor) Stop() {
	j.stopOnce.Do(func() { close(j.done) })
	j.wg.Wait()
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep(context.Background())
		}
	}
}

// Sweep performs a single eviction pass and returns the number of sessions
// evicted. Exposed so callers (and tests) can trigger a pass without waiting
// for the ticker.
func (j *Janitor) Sweep(ctx context.Context) int {
	ids, err := j.store.List(ctx)
	if err != nil {
		j.logger.Warn("session.janitor.list_failed", "error", err.Error())
		return 0
	}

	cutoff := time.Now().Add(-j.idleTimeout)
	evicted := 0

	for _, id := range ids {
		sess, err := j.store.Get(ctx, id)
		if err != nil {
			continue // already gone
		}
		if sess.IdleSince().After(cutoff) {
			continue
		}

		// Candidate. Take the per-session lock so an in-flight request cannot
		// race the eviction, then re-check: the request may have refreshed the
		// idle timestamp while we waited for the lock.
		j.locks.Lock(id)
		sess, err = j.store.Get(ctx, id)
		if err == nil && !sess.IdleSince().After(cutoff) {
			if err := j.store.Evict(ctx, id); err != nil {
				j.logger.Warn("session.evict_failed", "session_id", id, "error", err.Error())
			} else {
				evicted++
				j.logger.Info("session.evicted", "session_id", id, "idle", time.Since(sess.IdleSince()).String())
			}
		}
		j.locks.Unlock(id)
	}

	return evicted
}
