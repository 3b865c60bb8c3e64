// Package service wires the session engine to the leaderboard store, the
// persistence writer, the course registry and presence tracking.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/course"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/Ftotnem/GO-TIMING/shared/persist"
	"github.com/Ftotnem/GO-TIMING/timer/session"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// eventHistory is how many recent events are kept per entity.
const eventHistory = 16

// ErrCoursesReadOnly is returned by course edits when no course store is configured.
var ErrCoursesReadOnly = errors.New("course source is read-only")

// Presence is the subset of the presence store the service uses.
type Presence interface {
	SetOnline(ctx context.Context, entity uuid.UUID, since time.Time) error
	Refresh(ctx context.Context, entity uuid.UUID) error
	Remove(ctx context.Context, entity uuid.UUID) error
	OnlineSet(ctx context.Context) (map[uuid.UUID]struct{}, error)
}

// WriterFactory builds the persistence writer once the service can receive
// recorded-run callbacks.
type WriterFactory func(store leaderboard.Store, onRecorded persist.RecordedFunc) persist.Writer

// Options configures a TimerService.
type Options struct {
	CountdownSeconds  int
	CountdownInterval time.Duration
	EventMode         bool
	Clock             clockwork.Clock
	Presence          Presence
	NewWriter         WriterFactory
	CourseStore       course.Store
}

// RunResult is the stored outcome of an entity's latest finished run.
type RunResult struct {
	Course     string        `json:"course"`
	Entity     uuid.UUID     `json:"uuid"`
	Name       string        `json:"name"`
	Duration   time.Duration `json:"durationNanos"`
	Best       time.Duration `json:"bestNanos"`
	Rank       int           `json:"rank"`
	RecordedAt time.Time     `json:"recordedAt"`
}

// Standing is an entity's position on one course.
type Standing struct {
	Course string        `json:"course"`
	Entity uuid.UUID     `json:"uuid"`
	Best   time.Duration `json:"bestNanos"`
	Rank   int           `json:"rank"`
}

// TimerService is the business layer behind the timer HTTP API.
type TimerService struct {
	Engine   *session.Engine
	Store    leaderboard.Store
	Writer   persist.Writer
	Courses  *course.Registry
	Presence Presence

	// CourseStore persists admin course edits; nil makes courses read-only.
	CourseStore course.Store

	clock     clockwork.Clock
	eventMode bool

	mu      sync.Mutex
	results map[uuid.UUID]RunResult
	events  map[uuid.UUID][]session.Event
	// joined holds entities that announced themselves through Join and have
	// not quit since. Only these are subject to the presence sweep.
	joined map[uuid.UUID]struct{}
}

// NewTimerService creates the service and its engine. A nil NewWriter writes inline.
func NewTimerService(store leaderboard.Store, courses *course.Registry, opts Options) *TimerService {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.NewWriter == nil {
		opts.NewWriter = func(store leaderboard.Store, onRecorded persist.RecordedFunc) persist.Writer {
			return persist.NewInline(store, onRecorded)
		}
	}
	ts := &TimerService{
		Store:       store,
		Courses:     courses,
		Presence:    opts.Presence,
		CourseStore: opts.CourseStore,
		clock:       opts.Clock,
		eventMode:   opts.EventMode,
		results:     make(map[uuid.UUID]RunResult),
		events:      make(map[uuid.UUID][]session.Event),
		joined:      make(map[uuid.UUID]struct{}),
	}
	ts.Writer = opts.NewWriter(store, ts.onRecorded)
	ts.Engine = session.NewEngine(courses, ts.Writer, session.Options{
		CountdownSeconds:  opts.CountdownSeconds,
		CountdownInterval: opts.CountdownInterval,
		Clock:             opts.Clock,
		Notify:            ts.onEvent,
	})
	return ts
}

func (ts *TimerService) onEvent(ev session.Event) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	list := append(ts.events[ev.Entity], ev)
	if len(list) > eventHistory {
		list = list[len(list)-eventHistory:]
	}
	ts.events[ev.Entity] = list
}

// onRecorded runs after a finished run reached the store.
func (ts *TimerService) onRecorded(ctx context.Context, run models.FinishedRun) {
	result := RunResult{
		Course:     run.Course,
		Entity:     run.Entity,
		Name:       run.Name,
		Duration:   run.Duration,
		RecordedAt: ts.clock.Now(),
	}
	if best, ok, err := ts.Store.GetBestTime(ctx, run.Course, run.Entity); err != nil {
		log.Printf("WARNING: Service: best time lookup after finish for %s on %s failed: %v", run.Entity, run.Course, err)
	} else if ok {
		result.Best = best
	}
	if rank, ok, err := ts.Store.GetRank(ctx, run.Course, run.Entity); err != nil {
		log.Printf("WARNING: Service: rank lookup after finish for %s on %s failed: %v", run.Entity, run.Course, err)
	} else if ok {
		result.Rank = rank
	}

	ts.mu.Lock()
	ts.results[run.Entity] = result
	ts.mu.Unlock()
	log.Printf("INFO: Service: %s finished %s in %s (best %s, rank %d)", run.Entity, run.Course,
		models.FormatDuration(run.Duration), models.FormatDuration(result.Best), result.Rank)
}

// Join starts tracking an entity and marks it present.
func (ts *TimerService) Join(ctx context.Context, entity uuid.UUID, name string, pos models.Point) {
	ts.Engine.Join(entity, name, pos)
	ts.mu.Lock()
	ts.joined[entity] = struct{}{}
	ts.mu.Unlock()
	if ts.Presence != nil {
		if err := ts.Presence.SetOnline(ctx, entity, ts.clock.Now()); err != nil {
			log.Printf("WARNING: Service: failed to mark %s online: %v", entity, err)
		}
	}
}

// Quit handles a disconnect: a running session is paused.
func (ts *TimerService) Quit(ctx context.Context, entity uuid.UUID) {
	ts.Engine.Quit(entity)
	ts.mu.Lock()
	delete(ts.joined, entity)
	ts.mu.Unlock()
	if ts.Presence != nil {
		if err := ts.Presence.Remove(ctx, entity); err != nil {
			log.Printf("WARNING: Service: failed to clear presence of %s: %v", entity, err)
		}
	}
}

// Heartbeat keeps an entity's presence key alive.
func (ts *TimerService) Heartbeat(ctx context.Context, entity uuid.UUID) error {
	if ts.Presence == nil {
		return nil
	}
	return ts.Presence.Refresh(ctx, entity)
}

// UpdatePosition feeds a position to the engine. In event mode the position is
// evaluated immediately, otherwise on the next tick.
func (ts *TimerService) UpdatePosition(entity uuid.UUID, pos models.Point) {
	if ts.eventMode {
		ts.Engine.Move(entity, pos)
		return
	}
	ts.Engine.Observe(entity, pos)
}

// Tick drives one evaluation cycle.
func (ts *TimerService) Tick() {
	ts.Engine.Tick()
}

// Leave cancels the entity's session and discards its ongoing snapshot.
func (ts *TimerService) Leave(entity uuid.UUID) (string, bool) {
	return ts.Engine.Leave(entity)
}

// ResetCourse wipes a course: live sessions first, then queued writes are
// flushed so the store reset sees and archives everything.
func (ts *TimerService) ResetCourse(ctx context.Context, courseName string) (bool, error) {
	key := models.CourseKey(courseName)
	if key == "" {
		return false, fmt.Errorf("course %q: %w", courseName, leaderboard.ErrInvalidArgument)
	}
	dropped := ts.Engine.ResetCourse(key)
	if err := ts.Writer.Flush(ctx); err != nil {
		return false, fmt.Errorf("failed to flush pending writes before resetting %s: %w", key, err)
	}
	changed, err := ts.Store.ResetCourse(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to reset course %s: %w", key, err)
	}

	ts.mu.Lock()
	for id, r := range ts.results {
		if r.Course == key {
			delete(ts.results, id)
		}
	}
	ts.mu.Unlock()
	log.Printf("INFO: Service: course %s reset (sessions dropped: %d, records changed: %v)", key, dropped, changed)
	return changed || dropped > 0, nil
}

// ResetEntity wipes one entity's records on a course.
func (ts *TimerService) ResetEntity(ctx context.Context, courseName string, entity uuid.UUID) (bool, error) {
	key := models.CourseKey(courseName)
	if key == "" {
		return false, fmt.Errorf("course %q: %w", courseName, leaderboard.ErrInvalidArgument)
	}
	dropped := ts.Engine.ResetEntity(entity, key)
	if err := ts.Writer.Flush(ctx); err != nil {
		return false, fmt.Errorf("failed to flush pending writes before resetting %s on %s: %w", entity, key, err)
	}
	changed, err := ts.Store.ResetEntity(ctx, key, entity)
	if err != nil {
		return false, fmt.Errorf("failed to reset %s on course %s: %w", entity, key, err)
	}

	ts.mu.Lock()
	if r, ok := ts.results[entity]; ok && r.Course == key {
		delete(ts.results, entity)
	}
	ts.mu.Unlock()
	return changed || dropped, nil
}

// BestTime returns the entity's best time on a course.
func (ts *TimerService) BestTime(ctx context.Context, courseName string, entity uuid.UUID) (time.Duration, bool, error) {
	return ts.Store.GetBestTime(ctx, courseName, entity)
}

// Standing returns best time and rank together.
func (ts *TimerService) Standing(ctx context.Context, courseName string, entity uuid.UUID) (Standing, bool, error) {
	best, ok, err := ts.Store.GetBestTime(ctx, courseName, entity)
	if err != nil || !ok {
		return Standing{}, false, err
	}
	rank, ok, err := ts.Store.GetRank(ctx, courseName, entity)
	if err != nil || !ok {
		return Standing{}, false, err
	}
	return Standing{Course: models.CourseKey(courseName), Entity: entity, Best: best, Rank: rank}, true, nil
}

// TopEntry returns the entry at a 1-based position.
func (ts *TimerService) TopEntry(ctx context.Context, courseName string, position int) (models.LeaderboardEntry, bool, error) {
	if position < 1 {
		return models.LeaderboardEntry{}, false, fmt.Errorf("position %d: %w", position, leaderboard.ErrInvalidArgument)
	}
	return ts.Store.GetTopEntry(ctx, courseName, position)
}

// Entries returns the full ranking of a course.
func (ts *TimerService) Entries(ctx context.Context, courseName string) ([]models.LeaderboardEntry, error) {
	return ts.Store.GetEntries(ctx, courseName)
}

// Archive returns what the last reset removed for an entity.
func (ts *TimerService) Archive(ctx context.Context, courseName string, entity uuid.UUID) (models.ArchiveEntry, bool, error) {
	return ts.Store.GetArchive(ctx, courseName, entity)
}

// LiveElapsed returns the current run time of a running or paused entity.
func (ts *TimerService) LiveElapsed(entity uuid.UUID, courseName string) (time.Duration, bool) {
	return ts.Engine.LiveElapsed(entity, courseName)
}

// SessionView returns the entity's live session.
func (ts *TimerService) SessionView(entity uuid.UUID) (session.View, bool) {
	return ts.Engine.Session(entity)
}

// LastResult returns the entity's latest stored finish.
func (ts *TimerService) LastResult(entity uuid.UUID) (RunResult, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	r, ok := ts.results[entity]
	return r, ok
}

// Events returns the entity's recent events, oldest first.
func (ts *TimerService) Events(entity uuid.UUID) []session.Event {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]session.Event(nil), ts.events[entity]...)
}

// ListCourses returns every known course.
func (ts *TimerService) ListCourses() []models.Course {
	return ts.Courses.All()
}

// SaveCourse persists a course and makes it live immediately. Zones are
// normalized so a negative radius is stored as 0.
func (ts *TimerService) SaveCourse(ctx context.Context, c models.Course) (models.Course, error) {
	if ts.CourseStore == nil {
		return models.Course{}, ErrCoursesReadOnly
	}
	c.Key = models.CourseKey(c.Key)
	if c.Key == "" {
		c.Key = models.CourseKey(c.Name)
	}
	if c.Key == "" {
		return models.Course{}, fmt.Errorf("course %q: %w", c.Name, leaderboard.ErrInvalidArgument)
	}
	if c.Name == "" {
		c.Name = c.Key
	}
	if c.Start != nil {
		z := models.NewZone(c.Start.Center, c.Start.Radius)
		c.Start = &z
	}
	if c.End != nil {
		z := models.NewZone(c.End.Center, c.End.Radius)
		c.End = &z
	}
	for i, cp := range c.Checkpoints {
		c.Checkpoints[i] = models.NewZone(cp.Center, cp.Radius)
	}

	if err := ts.CourseStore.Save(ctx, c); err != nil {
		return models.Course{}, fmt.Errorf("failed to save course %s: %w", c.Key, err)
	}
	ts.Courses.Put(c)
	log.Printf("INFO: Service: course %s saved (configured: %v)", c.Key, c.IsConfigured())
	return c, nil
}

// DeleteCourse removes a course. Live sessions on it are discarded by the
// engine on their next evaluation; recorded times stay until a reset.
func (ts *TimerService) DeleteCourse(ctx context.Context, courseName string) (bool, error) {
	if ts.CourseStore == nil {
		return false, ErrCoursesReadOnly
	}
	key := models.CourseKey(courseName)
	if key == "" {
		return false, fmt.Errorf("course %q: %w", courseName, leaderboard.ErrInvalidArgument)
	}
	deleted, err := ts.CourseStore.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete course %s: %w", key, err)
	}
	removed := ts.Courses.Remove(key)
	log.Printf("INFO: Service: course %s deleted", key)
	return deleted || removed, nil
}

// ReloadCourses refreshes the registry from loader.
func (ts *TimerService) ReloadCourses(ctx context.Context, loader course.Loader) (int, error) {
	n, err := ts.Courses.Reload(ctx, loader)
	if err != nil {
		return 0, fmt.Errorf("failed to reload courses: %w", err)
	}
	return n, nil
}

// RestoreSessions rebuilds paused sessions from persisted ongoing runs.
func (ts *TimerService) RestoreSessions(ctx context.Context) (int, error) {
	runs, err := ts.Store.GetAllOngoingRuns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load ongoing runs: %w", err)
	}
	n := ts.Engine.Restore(runs)
	log.Printf("INFO: Service: restored %d paused sessions from %d ongoing runs", n, len(runs))
	return n, nil
}

// SnapshotOngoing persists every running or paused session.
func (ts *TimerService) SnapshotOngoing() int {
	return ts.Engine.PersistOngoing()
}

// SweepPresence pauses every joined entity whose presence key has expired.
// Entities only ever seen through position updates have no presence key and
// are left alone.
func (ts *TimerService) SweepPresence(ctx context.Context) (int, error) {
	if ts.Presence == nil {
		return 0, nil
	}
	online, err := ts.Presence.OnlineSet(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read presence: %w", err)
	}

	var expired []uuid.UUID
	ts.mu.Lock()
	for id := range ts.joined {
		if _, ok := online[id]; !ok {
			expired = append(expired, id)
			delete(ts.joined, id)
		}
	}
	ts.mu.Unlock()

	for _, id := range expired {
		ts.Engine.Quit(id)
	}
	n := len(expired)
	if n > 0 {
		log.Printf("INFO: Service: presence sweep paused %d disconnected entities", n)
	}
	return n, nil
}

// Shutdown snapshots live runs, drains the writer and closes the store.
func (ts *TimerService) Shutdown(ctx context.Context) error {
	n := ts.Engine.PersistOngoing()
	log.Printf("INFO: Service: saved %d ongoing runs before shutdown", n)

	var errs []error
	if err := ts.Writer.Flush(ctx); err != nil && !errors.Is(err, persist.ErrClosed) {
		errs = append(errs, fmt.Errorf("flush writer: %w", err))
	}
	ts.Writer.Close()
	if err := ts.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
