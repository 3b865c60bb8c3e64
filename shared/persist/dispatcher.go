// Package persist moves leaderboard writes off the session engine. The
// Dispatcher queues writes on worker lanes chosen by a consistent-hash ring
// so every (course, entity) key is written in FIFO order by one goroutine.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/eapache/queue"
	"github.com/google/uuid"
	"github.com/stathat/consistent"
)

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("persist dispatcher closed")

// Writer is what the session engine writes through.
type Writer interface {
	RecordRun(run models.FinishedRun)
	SaveOngoingRun(run models.OngoingRun)
	ClearOngoingRun(course string, entity uuid.UUID)
	// Flush blocks until everything queued before the call has been written.
	Flush(ctx context.Context) error
	Close()
}

// RecordedFunc is invoked after a finished run was stored successfully.
type RecordedFunc func(ctx context.Context, run models.FinishedRun)

type jobKind int

const (
	jobRecord jobKind = iota
	jobOngoing
	jobClear
	jobBarrier
)

type job struct {
	kind    jobKind
	key     string
	course  string
	entity  uuid.UUID
	name    string
	elapsed time.Duration
	done    chan struct{}
	skip    bool // superseded while queued
}

// lane is one worker's FIFO of *job.
type lane struct {
	name   string
	mu     sync.Mutex
	cond   *sync.Cond
	queue  *queue.Queue
	closed bool
}

// supersede marks queued snapshots for key as skipped. Callers hold l.mu.
func (l *lane) supersede(key string) {
	for i := 0; i < l.queue.Length(); i++ {
		if j := l.queue.Get(i).(*job); j.kind == jobOngoing && j.key == key {
			j.skip = true
		}
	}
}

// Options configures a Dispatcher.
type Options struct {
	Workers    int           // number of lanes, default 4
	QueueLimit int           // per-lane backlog before snapshots are dropped, default 256
	Timeout    time.Duration // per-write timeout, default 5s
	OnRecorded RecordedFunc
}

// Dispatcher implements Writer with asynchronous worker lanes.
type Dispatcher struct {
	store      leaderboard.Store
	ring       *consistent.Consistent
	lanes      map[string]*lane
	queueLimit int
	timeout    time.Duration
	onRecorded RecordedFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

var _ Writer = (*Dispatcher)(nil)

// NewDispatcher starts the worker lanes.
func NewDispatcher(store leaderboard.Store, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	d := &Dispatcher{
		store:      store,
		ring:       consistent.New(),
		lanes:      make(map[string]*lane, opts.Workers),
		queueLimit: opts.QueueLimit,
		timeout:    opts.Timeout,
		onRecorded: opts.OnRecorded,
	}
	for i := 0; i < opts.Workers; i++ {
		l := &lane{name: fmt.Sprintf("lane-%d", i), queue: queue.New()}
		l.cond = sync.NewCond(&l.mu)
		d.lanes[l.name] = l
		d.ring.Add(l.name)
		d.wg.Add(1)
		go d.run(l)
	}
	log.Printf("INFO: Persist: dispatcher started with %d lanes", opts.Workers)
	return d
}

func pairKey(course string, entity uuid.UUID) string {
	return course + "/" + entity.String()
}

func (d *Dispatcher) laneFor(key string) *lane {
	name, err := d.ring.Get(key)
	if err != nil {
		// The ring is never empty after construction.
		log.Printf("ERROR: Persist: consistent hash lookup for %s failed: %v", key, err)
		return d.lanes["lane-0"]
	}
	return d.lanes[name]
}

// RecordRun queues a finished run. Queued snapshots for the same pair are discarded.
func (d *Dispatcher) RecordRun(run models.FinishedRun) {
	key := pairKey(run.Course, run.Entity)
	l := d.laneFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		log.Printf("WARNING: Persist: dropping run for %s after close", key)
		return
	}
	l.supersede(key)
	l.queue.Add(&job{kind: jobRecord, key: key, course: run.Course, entity: run.Entity, name: run.Name, elapsed: run.Duration})
	l.cond.Signal()
}

// SaveOngoingRun queues a snapshot. A queued snapshot for the same pair is replaced in place.
func (d *Dispatcher) SaveOngoingRun(run models.OngoingRun) {
	key := pairKey(run.Course, run.Entity)
	l := d.laneFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		log.Printf("WARNING: Persist: dropping ongoing snapshot for %s after close", key)
		return
	}
	// Only the tail can be replaced; anything after an older snapshot must stay ordered.
	if n := l.queue.Length(); n > 0 {
		if last := l.queue.Get(n - 1).(*job); last.kind == jobOngoing && last.key == key && !last.skip {
			last.name = run.Name
			last.elapsed = run.Elapsed
			return
		}
	}
	if n := l.queue.Length(); n >= d.queueLimit {
		log.Printf("WARNING: Persist: %s backlog full (%d), dropping ongoing snapshot for %s", l.name, n, key)
		return
	}
	l.queue.Add(&job{kind: jobOngoing, key: key, course: run.Course, entity: run.Entity, name: run.Name, elapsed: run.Elapsed})
	l.cond.Signal()
}

// ClearOngoingRun queues removal of a snapshot.
func (d *Dispatcher) ClearOngoingRun(course string, entity uuid.UUID) {
	key := pairKey(course, entity)
	l := d.laneFor(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.supersede(key)
	l.queue.Add(&job{kind: jobClear, key: key, course: course, entity: entity})
	l.cond.Signal()
}

// Flush waits for every lane to drain what was queued before the call.
func (d *Dispatcher) Flush(ctx context.Context) error {
	dones := make([]chan struct{}, 0, len(d.lanes))
	for _, l := range d.lanes {
		done := make(chan struct{})
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return ErrClosed
		}
		l.queue.Add(&job{kind: jobBarrier, done: done})
		l.cond.Signal()
		l.mu.Unlock()
		dones = append(dones, done)
	}
	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("flush persistence queue: %w", ctx.Err())
		}
	}
	return nil
}

// Close stops accepting work, drains the lanes and waits for the workers.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		for _, l := range d.lanes {
			l.mu.Lock()
			l.closed = true
			l.cond.Broadcast()
			l.mu.Unlock()
		}
		d.wg.Wait()
		log.Println("INFO: Persist: dispatcher stopped")
	})
}

func (l *lane) next() (*job, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.queue.Length() == 0 && !l.closed {
		l.cond.Wait()
	}
	if l.queue.Length() == 0 {
		return nil, false
	}
	return l.queue.Remove().(*job), true
}

func (d *Dispatcher) run(l *lane) {
	defer d.wg.Done()
	for {
		j, ok := l.next()
		if !ok {
			return
		}
		d.execute(j)
	}
}

func (d *Dispatcher) execute(j *job) {
	switch {
	case j.kind == jobBarrier:
		close(j.done)
		return
	case j.skip:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	apply(ctx, d.store, *j, d.onRecorded)
}

// apply performs one write. Failures are logged and otherwise ignored; the
// next natural write for the pair repairs the stored state.
func apply(ctx context.Context, store leaderboard.Store, j job, onRecorded RecordedFunc) {
	switch j.kind {
	case jobRecord:
		if err := store.RecordRun(ctx, j.course, j.entity, j.name, j.elapsed); err != nil {
			log.Printf("ERROR: Persist: failed to record run for %s (%s): %v", j.key, models.FormatDuration(j.elapsed), err)
			return
		}
		if onRecorded != nil {
			onRecorded(ctx, models.FinishedRun{Course: j.course, Entity: j.entity, Name: j.name, Duration: j.elapsed})
		}
	case jobOngoing:
		if err := store.SaveOngoingRun(ctx, j.course, j.entity, j.name, j.elapsed); err != nil {
			log.Printf("ERROR: Persist: failed to save ongoing run for %s: %v", j.key, err)
		}
	case jobClear:
		if err := store.ClearOngoingRun(ctx, j.course, j.entity); err != nil {
			log.Printf("ERROR: Persist: failed to clear ongoing run for %s: %v", j.key, err)
		}
	}
}
