package session

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/geometry"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Courses supplies course geometry. It is consulted on every evaluation.
type Courses interface {
	Start(course string) (models.Zone, bool)
	End(course string) (models.Zone, bool)
	IsConfigured(course string) bool
	Checkpoints(course string) []models.Zone
	// Keys lists the courses whose start zones are watched.
	Keys() []string
}

// Sink receives persistence work. Calls happen under the engine lock and must not block.
type Sink interface {
	RecordRun(run models.FinishedRun)
	SaveOngoingRun(run models.OngoingRun)
	ClearOngoingRun(course string, entity uuid.UUID)
}

// Options configures an Engine.
type Options struct {
	CountdownSeconds  int
	CountdownInterval time.Duration
	Clock             clockwork.Clock
	Notify            Notifier
}

// tracker retains positions between evaluations.
type tracker struct {
	name    string
	last    models.Point
	current models.Point
}

// Engine owns every Session. All methods are safe for concurrent use; the
// engine lock is the single execution context for session state.
type Engine struct {
	mu               sync.Mutex
	courses          Courses
	sink             Sink
	clock            clockwork.Clock
	notify           Notifier
	countdownSeconds int
	interval         time.Duration

	sessions map[uuid.UUID]*Session
	tracked  map[uuid.UUID]*tracker
}

// NewEngine creates an engine. A zero CountdownInterval means one second and
// a nil Clock means the real clock.
func NewEngine(courses Courses, sink Sink, opts Options) *Engine {
	if opts.CountdownInterval <= 0 {
		opts.CountdownInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Engine{
		courses:          courses,
		sink:             sink,
		clock:            opts.Clock,
		notify:           opts.Notify,
		countdownSeconds: opts.CountdownSeconds,
		interval:         opts.CountdownInterval,
		sessions:         make(map[uuid.UUID]*Session),
		tracked:          make(map[uuid.UUID]*tracker),
	}
}

func (e *Engine) emit(ev Event) {
	if e.notify == nil {
		return
	}
	ev.Type = ev.Kind.String()
	ev.At = e.clock.Now()
	e.notify(ev)
}

// Join starts tracking an entity at pos and resumes its paused run. The seed
// position never produces a transition on its own.
func (e *Engine) Join(entity uuid.UUID, name string, pos models.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tracked[entity] = &tracker{name: name, last: pos, current: pos}
	s, ok := e.sessions[entity]
	if !ok {
		return
	}
	if name != "" {
		s.Name = name
	}
	if s.State == Paused {
		s.State = Running
		s.RunStart = e.clock.Now()
		e.emit(Event{Kind: EventResume, Entity: entity, Course: s.Course, Elapsed: s.Accumulated})
	}
}

// Quit stops tracking an entity. A running session is paused and snapshotted,
// a countdown is cancelled.
func (e *Engine) Quit(entity uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.tracked, entity)
	s, ok := e.sessions[entity]
	if !ok {
		return
	}
	now := e.clock.Now()
	switch s.State {
	case CountingDown:
		e.cancel(s, ReasonDisconnected)
	case Running:
		s.Accumulated = s.Elapsed(now)
		s.State = Paused
		s.RunStart = time.Time{}
		e.sink.SaveOngoingRun(s.ongoing(now))
		e.emit(Event{Kind: EventPause, Entity: entity, Course: s.Course, Elapsed: s.Accumulated})
	}
}

// Observe records the current position for the next Tick. An unknown entity
// is seeded without evaluation.
func (e *Engine) Observe(entity uuid.UUID, pos models.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.tracked[entity]
	if !ok {
		e.tracked[entity] = &tracker{last: pos, current: pos}
		return
	}
	tr.current = pos
}

// Move evaluates a movement notification immediately against the retained
// last position. An unknown entity is seeded without evaluation.
func (e *Engine) Move(entity uuid.UUID, pos models.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tr, ok := e.tracked[entity]
	if !ok {
		e.tracked[entity] = &tracker{last: pos, current: pos}
		return
	}
	from := tr.last
	tr.last = pos
	tr.current = pos
	e.evaluate(entity, tr, from, pos, e.clock.Now())
}

// Tick evaluates every tracked entity from its retained last position to its
// current one, then fires due countdowns.
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	for entity, tr := range e.tracked {
		from := tr.last
		tr.last = tr.current
		e.evaluate(entity, tr, from, tr.current, now)
	}
	for entity, s := range e.sessions {
		if s.State == CountingDown && s.countdown.due(now) {
			e.fireCountdown(s, e.tracked[entity], now)
		}
	}
}

func (e *Engine) evaluate(entity uuid.UUID, tr *tracker, from, to models.Point, now time.Time) {
	if s, ok := e.sessions[entity]; ok {
		switch s.State {
		case Paused:
			return
		case CountingDown:
			start, ok := e.courses.Start(s.Course)
			if !ok || !e.courses.IsConfigured(s.Course) {
				e.cancel(s, ReasonUnconfigured)
			} else if !geometry.Contains(to, start) {
				e.cancel(s, ReasonLeftStart)
			}
			return
		case Running:
			e.evaluateRun(s, from, to, now)
			return
		}
	}

	for _, key := range e.courses.Keys() {
		if !e.courses.IsConfigured(key) {
			continue
		}
		start, ok := e.courses.Start(key)
		if ok && geometry.IsEntering(from, to, start) {
			e.beginCountdown(entity, tr, key, now)
			return
		}
	}
}

func (e *Engine) evaluateRun(s *Session, from, to models.Point, now time.Time) {
	start, okStart := e.courses.Start(s.Course)
	end, okEnd := e.courses.End(s.Course)
	if !okStart || !okEnd || !e.courses.IsConfigured(s.Course) {
		log.Printf("WARNING: Engine: course %q lost its zones, discarding run of %s", s.Course, s.Entity)
		e.sink.ClearOngoingRun(s.Course, s.Entity)
		e.cancel(s, ReasonUnconfigured)
		return
	}

	if geometry.IsEntering(from, to, start) {
		s.Accumulated = 0
		s.RunStart = now
		s.NextCheckpoint = 0
		e.emit(Event{Kind: EventRestart, Entity: s.Entity, Course: s.Course})
		return
	}
	if geometry.IsEntering(from, to, end) {
		e.finish(s, now)
		return
	}
	checkpoints := e.courses.Checkpoints(s.Course)
	if s.NextCheckpoint < len(checkpoints) && geometry.IsEntering(from, to, checkpoints[s.NextCheckpoint]) {
		s.NextCheckpoint++
		e.emit(Event{Kind: EventCheckpoint, Entity: s.Entity, Course: s.Course, Checkpoint: s.NextCheckpoint, Elapsed: s.Elapsed(now)})
	}
}

func (e *Engine) beginCountdown(entity uuid.UUID, tr *tracker, course string, now time.Time) {
	s, ok := e.sessions[entity]
	if !ok {
		s = &Session{Entity: entity, Name: tr.name}
		e.sessions[entity] = s
	}
	s.countdown.Stop()
	s.countdown = nil
	s.Course = course
	s.State = CountingDown
	s.Accumulated = 0
	s.NextCheckpoint = 0

	if e.countdownSeconds <= 0 {
		e.startRun(s, now)
		return
	}
	s.countdown = newCountdown(e.countdownSeconds, e.interval, now)
	e.fireCountdown(s, tr, now)
}

// fireCountdown re-validates the start zone and either announces, starts the run or cancels.
func (e *Engine) fireCountdown(s *Session, tr *tracker, now time.Time) {
	start, ok := e.courses.Start(s.Course)
	if !ok || !e.courses.IsConfigured(s.Course) {
		e.cancel(s, ReasonUnconfigured)
		return
	}
	if tr == nil {
		e.cancel(s, ReasonDisconnected)
		return
	}
	if !geometry.Contains(tr.current, start) {
		e.cancel(s, ReasonLeftStart)
		return
	}
	c := s.countdown
	if c.Remaining() <= 0 {
		e.startRun(s, now)
		return
	}
	e.emit(Event{Kind: EventCountdown, Entity: s.Entity, Course: s.Course, Seconds: c.Remaining()})
	c.advance(now)
}

func (e *Engine) startRun(s *Session, now time.Time) {
	s.countdown.Stop()
	s.countdown = nil
	s.State = Running
	s.Accumulated = 0
	s.RunStart = now
	s.NextCheckpoint = 0
	e.emit(Event{Kind: EventGo, Entity: s.Entity, Course: s.Course})
}

func (e *Engine) finish(s *Session, now time.Time) {
	d := s.Elapsed(now)
	run := models.FinishedRun{Course: s.Course, Entity: s.Entity, Name: s.Name, Duration: d}
	e.remove(s)
	if d <= 0 {
		return
	}
	e.sink.RecordRun(run)
	e.emit(Event{Kind: EventFinish, Entity: run.Entity, Course: run.Course, Elapsed: d})
}

// cancel drops a session to Idle and removes it.
func (e *Engine) cancel(s *Session, reason CancelReason) {
	course := s.Course
	e.remove(s)
	e.emit(Event{Kind: EventCancel, Entity: s.Entity, Course: course, Reason: reason})
}

func (e *Engine) remove(s *Session) {
	s.countdown.Stop()
	s.countdown = nil
	s.State = Idle
	s.Course = ""
	s.Accumulated = 0
	s.RunStart = time.Time{}
	delete(e.sessions, s.Entity)
}

// Leave handles an explicit leave request and returns the course that was left.
// The ongoing snapshot is discarded.
func (e *Engine) Leave(entity uuid.UUID) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[entity]
	if !ok || s.Course == "" {
		return "", false
	}
	course := s.Course
	if s.timed() {
		e.sink.ClearOngoingRun(course, entity)
	}
	e.cancel(s, ReasonLeft)
	return course, true
}

// ResetEntity drops the entity's session. A non-empty course restricts the
// reset to a session on that course. Stored records are left to the caller.
func (e *Engine) ResetEntity(entity uuid.UUID, course string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[entity]
	if !ok {
		return false
	}
	if course != "" && s.Course != models.CourseKey(course) {
		return false
	}
	e.cancel(s, ReasonReset)
	return true
}

// ResetCourse drops every session on course and returns how many were dropped.
func (e *Engine) ResetCourse(course string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := models.CourseKey(course)
	n := 0
	for _, s := range e.sessions {
		if s.Course == key {
			e.cancel(s, ReasonReset)
			n++
		}
	}
	return n
}

// LiveElapsed returns the current run time of a running or paused session.
// A non-empty course must match the session's course.
func (e *Engine) LiveElapsed(entity uuid.UUID, course string) (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[entity]
	if !ok || !s.timed() {
		return 0, false
	}
	if course != "" && s.Course != models.CourseKey(course) {
		return 0, false
	}
	return s.Elapsed(e.clock.Now()), true
}

// PersistOngoing hands a snapshot of every running or paused session to the
// sink and returns how many were written. Doing this under the engine lock
// keeps snapshots ordered with finishes in the sink.
func (e *Engine) PersistOngoing() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	n := 0
	for _, s := range e.sessions {
		if s.timed() {
			e.sink.SaveOngoingRun(s.ongoing(now))
			n++
		}
	}
	return n
}

// Snapshot returns the ongoing state of every running or paused session,
// ordered by course and entity.
func (e *Engine) Snapshot() []models.OngoingRun {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	runs := make([]models.OngoingRun, 0, len(e.sessions))
	for _, s := range e.sessions {
		if s.timed() {
			runs = append(runs, s.ongoing(now))
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Course != runs[j].Course {
			return runs[i].Course < runs[j].Course
		}
		return runs[i].Entity.String() < runs[j].Entity.String()
	})
	return runs
}

// Restore rebuilds Paused sessions from persisted snapshots. Entities that
// already have a session are skipped.
func (e *Engine) Restore(runs []models.OngoingRun) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, run := range runs {
		key := models.CourseKey(run.Course)
		if key == "" || run.Elapsed < 0 {
			continue
		}
		if _, ok := e.sessions[run.Entity]; ok {
			continue
		}
		e.sessions[run.Entity] = &Session{
			Entity:      run.Entity,
			Name:        run.Name,
			Course:      key,
			State:       Paused,
			Accumulated: run.Elapsed,
		}
		n++
	}
	return n
}

// Session returns a copy of the entity's session.
func (e *Engine) Session(entity uuid.UUID) (View, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[entity]
	if !ok {
		return View{}, false
	}
	return s.view(e.clock.Now()), true
}

// Sessions returns copies of all sessions ordered by entity id.
func (e *Engine) Sessions() []View {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	views := make([]View, 0, len(e.sessions))
	for _, s := range e.sessions {
		views = append(views, s.view(now))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Entity.String() < views[j].Entity.String() })
	return views
}


// Len is the number of live sessions.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
