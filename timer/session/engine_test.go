package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	startZone = models.NewZone(models.Point{World: "w"}, 1)
	endZone   = models.NewZone(models.Point{World: "w", X: 20}, 1)
	cpZone    = models.NewZone(models.Point{World: "w", X: 10}, 1)

	atStart      = models.Point{World: "w"}
	atEnd        = models.Point{World: "w", X: 20}
	atCheckpoint = models.Point{World: "w", X: 10}
	outside      = models.Point{World: "w", X: 5, Z: 5}
)

type fakeCourses struct {
	courses map[string]*models.Course
}

func newFakeCourses() *fakeCourses {
	start, end := startZone, endZone
	return &fakeCourses{courses: map[string]*models.Course{
		"lava-run": {Key: "lava-run", Name: "Lava Run", Start: &start, End: &end, Checkpoints: []models.Zone{cpZone}},
	}}
}

func (f *fakeCourses) Start(course string) (models.Zone, bool) {
	c, ok := f.courses[course]
	if !ok || c.Start == nil {
		return models.Zone{}, false
	}
	return *c.Start, true
}

func (f *fakeCourses) End(course string) (models.Zone, bool) {
	c, ok := f.courses[course]
	if !ok || c.End == nil {
		return models.Zone{}, false
	}
	return *c.End, true
}

func (f *fakeCourses) IsConfigured(course string) bool {
	c, ok := f.courses[course]
	return ok && c.IsConfigured()
}

func (f *fakeCourses) Checkpoints(course string) []models.Zone {
	if c, ok := f.courses[course]; ok {
		return c.Checkpoints
	}
	return nil
}

func (f *fakeCourses) Keys() []string {
	keys := make([]string, 0, len(f.courses))
	for k := range f.courses {
		keys = append(keys, k)
	}
	return keys
}

type recordingSink struct {
	runs    []models.FinishedRun
	ongoing []models.OngoingRun
	cleared []string
}

func (r *recordingSink) RecordRun(run models.FinishedRun)      { r.runs = append(r.runs, run) }
func (r *recordingSink) SaveOngoingRun(run models.OngoingRun)  { r.ongoing = append(r.ongoing, run) }
func (r *recordingSink) ClearOngoingRun(c string, _ uuid.UUID) { r.cleared = append(r.cleared, c) }

type harness struct {
	engine  *Engine
	clock   *clockwork.FakeClock
	courses *fakeCourses
	sink    *recordingSink
	events  []Event
}

func newHarness(t *testing.T, countdown int) *harness {
	t.Helper()
	h := &harness{
		clock:   clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)),
		courses: newFakeCourses(),
		sink:    &recordingSink{},
	}
	h.engine = NewEngine(h.courses, h.sink, Options{
		CountdownSeconds:  countdown,
		CountdownInterval: time.Second,
		Clock:             h.clock,
		Notify:            func(ev Event) { h.events = append(h.events, ev) },
	})
	return h
}

func (h *harness) step(entity uuid.UUID, pos models.Point, advance time.Duration) {
	h.clock.Advance(advance)
	h.engine.Observe(entity, pos)
	h.engine.Tick()
}

func (h *harness) kinds() []EventKind {
	out := make([]EventKind, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Kind)
	}
	return out
}

func (h *harness) state(t *testing.T, entity uuid.UUID) string {
	t.Helper()
	v, ok := h.engine.Session(entity)
	if !ok {
		return Idle.String()
	}
	return v.State
}

// startRunning drives entity through a full countdown into Running.
func (h *harness) startRunning(t *testing.T, entity uuid.UUID) {
	t.Helper()
	h.engine.Join(entity, "Steve", outside)
	h.step(entity, atStart, 0)
	for i := 0; i < 3; i++ {
		h.step(entity, atStart, time.Second)
	}
	if got := h.state(t, entity); got != Running.String() {
		t.Fatalf("state after countdown = %s, want running", got)
	}
}

func TestCountdownGoAndFinish(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.engine.Join(entity, "Steve", outside)

	h.step(entity, atStart, 0)
	v, ok := h.engine.Session(entity)
	if !ok || v.State != CountingDown.String() {
		t.Fatalf("session = %+v ok=%v, want counting down", v, ok)
	}
	for _, want := range []int{2, 1} {
		h.step(entity, atStart, time.Second)
		if got := h.events[len(h.events)-1].Seconds; got != want {
			t.Fatalf("countdown seconds = %d, want %d", got, want)
		}
	}
	h.step(entity, atStart, time.Second)
	if got := h.state(t, entity); got != Running.String() {
		t.Fatalf("state = %s, want running", got)
	}

	h.step(entity, outside, 2*time.Second)
	h.step(entity, atEnd, 3*time.Second)

	if h.engine.Len() != 0 {
		t.Fatalf("sessions = %d, want 0 after finish", h.engine.Len())
	}
	if len(h.sink.runs) != 1 {
		t.Fatalf("recorded runs = %d, want 1", len(h.sink.runs))
	}
	run := h.sink.runs[0]
	if run.Duration != 5*time.Second || run.Course != "lava-run" || run.Name != "Steve" {
		t.Fatalf("run = %+v, want 5s on lava-run by Steve", run)
	}

	want := []EventKind{EventCountdown, EventCountdown, EventCountdown, EventGo, EventFinish}
	got := h.kinds()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if h.events[0].Seconds != 3 {
		t.Fatalf("first announcement = %d, want 3", h.events[0].Seconds)
	}
}

func TestCountdownCancelledWhenLeavingStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.engine.Join(entity, "Steve", outside)
	h.step(entity, atStart, 0)
	h.step(entity, outside, 500*time.Millisecond)

	if h.engine.Len() != 0 {
		t.Fatal("session survived leaving the start zone")
	}
	last := h.events[len(h.events)-1]
	if last.Kind != EventCancel || last.Reason != ReasonLeftStart {
		t.Fatalf("last event = %+v, want cancel/left start", last)
	}
	h.step(entity, outside, 5*time.Second)
	if len(h.sink.runs) != 0 {
		t.Fatal("cancelled countdown recorded a run")
	}
}

func TestCountdownZeroStartsImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)
	entity := uuid.New()
	h.engine.Join(entity, "Steve", outside)
	h.step(entity, atStart, 0)

	if got := h.state(t, entity); got != Running.String() {
		t.Fatalf("state = %s, want running", got)
	}
	if got := h.kinds(); len(got) != 1 || got[0] != EventGo {
		t.Fatalf("events = %v, want [go]", got)
	}
}

func TestZeroDurationFinishIsNotRecorded(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)
	entity := uuid.New()
	h.engine.Join(entity, "Steve", outside)
	h.step(entity, atStart, 0)
	h.engine.Move(entity, atEnd)

	if h.engine.Len() != 0 {
		t.Fatal("session not cleared after finish")
	}
	if len(h.sink.runs) != 0 {
		t.Fatalf("zero-duration run recorded: %+v", h.sink.runs)
	}
}

func TestRestartOnReentry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.startRunning(t, entity)

	h.step(entity, outside, 4*time.Second)
	if d, _ := h.engine.LiveElapsed(entity, ""); d != 4*time.Second {
		t.Fatalf("elapsed before restart = %v, want 4s", d)
	}
	h.step(entity, atStart, time.Second)

	v, ok := h.engine.Session(entity)
	if !ok || v.State != Running.String() {
		t.Fatalf("session after re-entry = %+v ok=%v, want running", v, ok)
	}
	if v.Elapsed != 0 {
		t.Fatalf("accumulated after restart = %v, want 0", v.Elapsed)
	}
	if v.SecondsRemaining != 0 {
		t.Fatal("restart started a countdown")
	}
	if len(h.sink.runs) != 0 {
		t.Fatal("restart recorded a finish")
	}
	h.clock.Advance(1500 * time.Millisecond)
	if d, _ := h.engine.LiveElapsed(entity, "Lava Run"); d != 1500*time.Millisecond {
		t.Fatalf("elapsed after restart = %v, want 1.5s", d)
	}
}

func TestPauseResumeFreezesClock(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.startRunning(t, entity)
	h.step(entity, outside, 2*time.Second)

	h.engine.Quit(entity)
	if got := h.state(t, entity); got != Paused.String() {
		t.Fatalf("state after quit = %s, want paused", got)
	}
	if len(h.sink.ongoing) != 1 || h.sink.ongoing[0].Elapsed != 2*time.Second {
		t.Fatalf("ongoing snapshots = %+v, want one at 2s", h.sink.ongoing)
	}

	h.clock.Advance(10 * time.Second)
	h.engine.Tick()
	if d, ok := h.engine.LiveElapsed(entity, ""); !ok || d != 2*time.Second {
		t.Fatalf("paused elapsed = %v ok=%v, want 2s", d, ok)
	}

	h.engine.Join(entity, "Steve", outside)
	if got := h.state(t, entity); got != Running.String() {
		t.Fatalf("state after rejoin = %s, want running", got)
	}
	if d, _ := h.engine.LiveElapsed(entity, ""); d != 2*time.Second {
		t.Fatalf("elapsed right after resume = %v, want 2s", d)
	}
	h.step(entity, atEnd, 3*time.Second)
	if len(h.sink.runs) != 1 || h.sink.runs[0].Duration != 5*time.Second {
		t.Fatalf("runs = %+v, want one of 5s", h.sink.runs)
	}
}

func TestPausedSessionIgnoresMovement(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.startRunning(t, entity)
	h.engine.Quit(entity)

	h.engine.Observe(entity, outside)
	h.step(entity, atEnd, time.Second)
	if got := h.state(t, entity); got != Paused.String() {
		t.Fatalf("state = %s, want paused", got)
	}
	if len(h.sink.runs) != 0 {
		t.Fatal("paused session finished")
	}
}

func TestQuitDuringCountdownCancels(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.engine.Join(entity, "Steve", outside)
	h.step(entity, atStart, 0)
	h.engine.Quit(entity)

	if h.engine.Len() != 0 {
		t.Fatal("countdown survived disconnect")
	}
	if last := h.events[len(h.events)-1]; last.Reason != ReasonDisconnected {
		t.Fatalf("cancel reason = %q, want %q", last.Reason, ReasonDisconnected)
	}
}

func TestSeedPositionNeverTransitions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	joined := uuid.New()
	h.engine.Join(joined, "Steve", atStart)
	h.engine.Tick()

	observed := uuid.New()
	h.engine.Observe(observed, atStart)
	h.engine.Tick()

	moved := uuid.New()
	h.engine.Move(moved, atStart)

	if h.engine.Len() != 0 {
		t.Fatalf("sessions = %d, want 0 for seeded positions", h.engine.Len())
	}
}

func TestReconnectInsideStartDoesNotRetrigger(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.engine.Join(entity, "Steve", outside)
	h.step(entity, atStart, 0)
	h.engine.Quit(entity)
	h.engine.Join(entity, "Steve", atStart)
	h.engine.Tick()

	if h.engine.Len() != 0 {
		t.Fatal("reconnect inside start zone began a countdown")
	}
}

func TestDuplicateMoveNotificationsAreIgnored(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.engine.Join(entity, "Steve", outside)
	h.engine.Move(entity, atStart)
	h.engine.Move(entity, atStart)
	h.engine.Move(entity, atStart)

	countdowns := 0
	for _, ev := range h.events {
		if ev.Kind == EventCountdown {
			countdowns++
		}
	}
	if countdowns != 1 {
		t.Fatalf("countdown announcements = %d, want 1", countdowns)
	}
}

func TestCheckpointsFireInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	extra := models.NewZone(models.Point{World: "w", X: 15}, 1)
	h.courses.courses["lava-run"].Checkpoints = append(h.courses.courses["lava-run"].Checkpoints, extra)
	entity := uuid.New()
	h.startRunning(t, entity)

	h.step(entity, models.Point{World: "w", X: 15}, time.Second)
	h.step(entity, atCheckpoint, time.Second)
	h.step(entity, outside, time.Second)
	h.step(entity, models.Point{World: "w", X: 15}, time.Second)

	var got []int
	for _, ev := range h.events {
		if ev.Kind == EventCheckpoint {
			got = append(got, ev.Checkpoint)
		}
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("checkpoints = %v, want [1 2]", got)
	}
	if v, _ := h.engine.Session(entity); v.NextCheckpoint != 2 {
		t.Fatalf("next checkpoint = %d, want 2", v.NextCheckpoint)
	}
}

func TestUnconfiguredCourseDiscardsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.startRunning(t, entity)

	h.courses.courses["lava-run"].End = nil
	h.step(entity, atEnd, time.Second)

	if h.engine.Len() != 0 {
		t.Fatal("session survived losing its end zone")
	}
	if len(h.sink.runs) != 0 {
		t.Fatal("run recorded on unconfigured course")
	}
	if len(h.sink.cleared) != 1 {
		t.Fatalf("cleared snapshots = %v, want 1", h.sink.cleared)
	}
}

func TestCountdownRevalidatesCourse(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	h.engine.Join(entity, "Steve", outside)
	h.step(entity, atStart, 0)

	delete(h.courses.courses, "lava-run")
	h.step(entity, atStart, time.Second)
	if h.engine.Len() != 0 {
		t.Fatal("countdown survived removal of its course")
	}
}

func TestLeaveAndResets(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	h.startRunning(t, a)
	h.startRunning(t, b)
	h.startRunning(t, c)
	h.engine.Quit(c)

	course, ok := h.engine.Leave(a)
	if !ok || course != "lava-run" {
		t.Fatalf("leave = %q ok=%v, want lava-run", course, ok)
	}
	if len(h.sink.cleared) != 1 {
		t.Fatalf("leave did not clear the snapshot: %v", h.sink.cleared)
	}
	if _, ok := h.engine.Leave(a); ok {
		t.Fatal("second leave reported a course")
	}

	if h.engine.ResetEntity(b, "ice-path") {
		t.Fatal("reset on another course dropped the session")
	}
	if got := h.engine.ResetCourse("Lava Run"); got != 2 {
		t.Fatalf("reset course dropped %d sessions, want 2", got)
	}
	if h.engine.Len() != 0 {
		t.Fatalf("sessions after reset = %d, want 0", h.engine.Len())
	}
}

func TestRestoreBuildsPausedSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	entity := uuid.New()
	n := h.engine.Restore([]models.OngoingRun{
		{Course: "Lava Run", Entity: entity, Name: "Steve", Elapsed: 1500 * time.Millisecond},
		{Course: "", Entity: uuid.New(), Elapsed: time.Second},
	})
	if n != 1 {
		t.Fatalf("restored = %d, want 1", n)
	}
	v, ok := h.engine.Session(entity)
	if !ok || v.State != Paused.String() || v.Elapsed != 1500*time.Millisecond || v.Course != "lava-run" {
		t.Fatalf("restored session = %+v", v)
	}
	if h.engine.Restore([]models.OngoingRun{{Course: "lava-run", Entity: entity, Elapsed: time.Hour}}) != 0 {
		t.Fatal("restore overwrote an existing session")
	}

	h.engine.Join(entity, "", outside)
	h.step(entity, atEnd, 500*time.Millisecond)
	if len(h.sink.runs) != 1 || h.sink.runs[0].Duration != 2*time.Second || h.sink.runs[0].Name != "Steve" {
		t.Fatalf("runs = %+v, want 2s by Steve", h.sink.runs)
	}
}

func TestPersistOngoingSnapshotsTimedSessions(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 3)
	running, counting := uuid.New(), uuid.New()
	h.startRunning(t, running)
	h.engine.Join(counting, "Alex", outside)
	h.step(counting, atStart, 0)

	h.clock.Advance(time.Second)
	if n := h.engine.PersistOngoing(); n != 1 {
		t.Fatalf("persisted = %d, want 1", n)
	}
	last := h.sink.ongoing[len(h.sink.ongoing)-1]
	if last.Entity != running || last.Elapsed != time.Second {
		t.Fatalf("snapshot = %+v, want %s at 1s", last, running)
	}
	snap := h.engine.Snapshot()
	if len(snap) != 1 || snap[0].Entity != running || snap[0].Elapsed != time.Second {
		t.Fatalf("Snapshot() = %+v, want one run for %s", snap, running)
	}
}

func TestNeverRunningAndCountingDown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	rng := rand.New(rand.NewSource(42))
	positions := []models.Point{atStart, atEnd, atCheckpoint, outside}
	entities := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range entities {
		h.engine.Join(id, "", outside)
	}

	for i := 0; i < 2000; i++ {
		id := entities[rng.Intn(len(entities))]
		switch rng.Intn(10) {
		case 0:
			h.engine.Quit(id)
		case 1:
			h.engine.Join(id, "", positions[rng.Intn(len(positions))])
		default:
			h.engine.Observe(id, positions[rng.Intn(len(positions))])
		}
		h.clock.Advance(time.Duration(rng.Intn(1500)) * time.Millisecond)
		h.engine.Tick()

		h.engine.mu.Lock()
		for _, s := range h.engine.sessions {
			if (s.State == CountingDown) != (s.countdown != nil) {
				h.engine.mu.Unlock()
				t.Fatalf("step %d: state %s with countdown handle %v", i, s.State, s.countdown != nil)
			}
			if s.State == Idle || s.Course == "" {
				h.engine.mu.Unlock()
				t.Fatalf("step %d: idle session kept in map: %+v", i, s)
			}
		}
		h.engine.mu.Unlock()
	}
}
