package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/course"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard/filestore"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	outside = models.Point{World: "overworld", X: -10, Y: 64}
	atStart = models.Point{World: "overworld", X: 0, Y: 64}
	atEnd   = models.Point{World: "overworld", X: 30, Y: 64}
	between = models.Point{World: "overworld", X: 15, Y: 64}
)

func testCourses() *course.Registry {
	start := models.NewZone(atStart, 2)
	end := models.NewZone(atEnd, 2)
	return course.NewRegistry(models.Course{Name: "Lava Run", Start: &start, End: &end})
}

type fixture struct {
	svc   *TimerService
	clock *clockwork.FakeClock
	path  string
}

func newFixture(t *testing.T, path string, presence Presence) *fixture {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "stats.json")
	}
	store, err := filestore.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	svc := NewTimerService(store, testCourses(), Options{
		CountdownSeconds: 0,
		EventMode:        true,
		Clock:            clock,
		Presence:         presence,
	})
	return &fixture{svc: svc, clock: clock, path: path}
}

// run starts a run for entity and finishes it after d.
func (f *fixture) run(entity uuid.UUID, name string, d time.Duration) {
	f.svc.Join(context.Background(), entity, name, outside)
	f.svc.UpdatePosition(entity, atStart)
	f.svc.UpdatePosition(entity, between)
	f.clock.Advance(d)
	f.svc.UpdatePosition(entity, atEnd)
	f.svc.UpdatePosition(entity, outside)
}

func TestFinishRecordsBestAndRank(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	ctx := context.Background()
	steve, alex := uuid.New(), uuid.New()

	f.run(steve, "Steve", 5*time.Second)
	f.run(alex, "Alex", 3*time.Second)
	f.run(steve, "Steve", 7*time.Second)

	best, ok, err := f.svc.BestTime(ctx, "lava run", steve)
	if err != nil || !ok || best != 5*time.Second {
		t.Fatalf("best = %s ok=%v err=%v, want 5s", best, ok, err)
	}
	res, ok := f.svc.LastResult(steve)
	if !ok || res.Duration != 7*time.Second || res.Best != 5*time.Second || res.Rank != 2 {
		t.Fatalf("last result = %+v ok=%v", res, ok)
	}
	st, ok, err := f.svc.Standing(ctx, "Lava Run", alex)
	if err != nil || !ok || st.Rank != 1 {
		t.Fatalf("standing = %+v ok=%v err=%v", st, ok, err)
	}
	top, ok, err := f.svc.TopEntry(ctx, "lava-run", 2)
	if err != nil || !ok || top.Entity != steve || top.Rank != 2 {
		t.Fatalf("top 2 = %+v ok=%v err=%v", top, ok, err)
	}
	if _, _, err := f.svc.TopEntry(ctx, "lava-run", 0); !errors.Is(err, leaderboard.ErrInvalidArgument) {
		t.Fatalf("top 0 error = %v, want ErrInvalidArgument", err)
	}
	entries, err := f.svc.Entries(ctx, "lava-run")
	if err != nil || len(entries) != 2 {
		t.Fatalf("entries = %+v err=%v", entries, err)
	}

	events := f.svc.Events(steve)
	if len(events) == 0 || events[len(events)-1].Type != "finish" {
		t.Fatalf("events = %+v, want trailing finish", events)
	}
}

func TestPausedRunSurvivesRestart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	ctx := context.Background()
	steve := uuid.New()

	f.svc.Join(ctx, steve, "Steve", outside)
	f.svc.UpdatePosition(steve, atStart)
	f.svc.UpdatePosition(steve, between)
	f.clock.Advance(2 * time.Second)
	f.svc.Quit(ctx, steve)
	if err := f.svc.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	g := newFixture(t, f.path, nil)
	n, err := g.svc.RestoreSessions(ctx)
	if err != nil || n != 1 {
		t.Fatalf("restored = %d err=%v, want 1", n, err)
	}
	if elapsed, ok := g.svc.LiveElapsed(steve, "lava run"); !ok || elapsed != 2*time.Second {
		t.Fatalf("live elapsed = %s ok=%v, want 2s", elapsed, ok)
	}

	g.clock.Advance(time.Hour)
	g.svc.Join(ctx, steve, "Steve", between)
	g.clock.Advance(time.Second)
	g.svc.UpdatePosition(steve, atEnd)

	best, ok, err := g.svc.BestTime(ctx, "lava run", steve)
	if err != nil || !ok || best != 3*time.Second {
		t.Fatalf("best = %s ok=%v err=%v, want 3s", best, ok, err)
	}
	runs, err := g.svc.Store.GetAllOngoingRuns(ctx)
	if err != nil || len(runs) != 0 {
		t.Fatalf("ongoing after finish = %+v err=%v", runs, err)
	}
}

func TestResetCourseDropsSessionsAndArchives(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	ctx := context.Background()
	steve, alex := uuid.New(), uuid.New()

	f.run(steve, "Steve", 4*time.Second)
	f.svc.Join(ctx, alex, "Alex", outside)
	f.svc.UpdatePosition(alex, atStart)
	f.clock.Advance(time.Second)
	f.svc.SnapshotOngoing()

	changed, err := f.svc.ResetCourse(ctx, "Lava Run")
	if err != nil || !changed {
		t.Fatalf("reset = %v err=%v, want changed", changed, err)
	}
	if _, ok := f.svc.SessionView(alex); ok {
		t.Fatal("alex still has a session after course reset")
	}
	if _, ok := f.svc.LastResult(steve); ok {
		t.Fatal("steve's result survived the reset")
	}
	arch, ok, err := f.svc.Archive(ctx, "lava-run", steve)
	if err != nil || !ok || arch.Finished == nil || *arch.Finished != 4*time.Second {
		t.Fatalf("archive = %+v ok=%v err=%v", arch, ok, err)
	}
	arch, ok, err = f.svc.Archive(ctx, "lava-run", alex)
	if err != nil || !ok || arch.Unfinished == nil || *arch.Unfinished != time.Second {
		t.Fatalf("alex archive = %+v ok=%v err=%v", arch, ok, err)
	}

	changed, err = f.svc.ResetCourse(ctx, "lava run")
	if err != nil || changed {
		t.Fatalf("second reset = %v err=%v, want unchanged", changed, err)
	}
	if _, err := f.svc.ResetCourse(ctx, ""); !errors.Is(err, leaderboard.ErrInvalidArgument) {
		t.Fatalf("reset of unusable key error = %v", err)
	}
}

func TestResetEntity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	ctx := context.Background()
	steve := uuid.New()
	f.run(steve, "Steve", 4*time.Second)

	changed, err := f.svc.ResetEntity(ctx, "lava run", steve)
	if err != nil || !changed {
		t.Fatalf("reset entity = %v err=%v", changed, err)
	}
	if _, ok, _ := f.svc.BestTime(ctx, "lava run", steve); ok {
		t.Fatal("best time survived entity reset")
	}
	changed, err = f.svc.ResetEntity(ctx, "lava run", steve)
	if err != nil || changed {
		t.Fatalf("second reset entity = %v err=%v", changed, err)
	}
}

func TestLeaveDiscardsSnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	ctx := context.Background()
	steve := uuid.New()
	f.svc.Join(ctx, steve, "Steve", outside)
	f.svc.UpdatePosition(steve, atStart)
	f.clock.Advance(time.Second)
	f.svc.SnapshotOngoing()

	course, ok := f.svc.Leave(steve)
	if !ok || course != "lava-run" {
		t.Fatalf("leave = %q ok=%v", course, ok)
	}
	runs, err := f.svc.Store.GetAllOngoingRuns(ctx)
	if err != nil || len(runs) != 0 {
		t.Fatalf("ongoing after leave = %+v err=%v", runs, err)
	}
	if _, ok := f.svc.Leave(steve); ok {
		t.Fatal("second leave reported a course")
	}
}

type fakePresence struct {
	online map[uuid.UUID]struct{}
}

func (p *fakePresence) SetOnline(_ context.Context, id uuid.UUID, _ time.Time) error {
	p.online[id] = struct{}{}
	return nil
}

func (p *fakePresence) Refresh(context.Context, uuid.UUID) error { return nil }

func (p *fakePresence) Remove(_ context.Context, id uuid.UUID) error {
	delete(p.online, id)
	return nil
}

func (p *fakePresence) OnlineSet(context.Context) (map[uuid.UUID]struct{}, error) {
	out := make(map[uuid.UUID]struct{}, len(p.online))
	for id := range p.online {
		out[id] = struct{}{}
	}
	return out, nil
}

func TestSweepPresencePausesExpiredEntities(t *testing.T) {
	t.Parallel()

	presence := &fakePresence{online: map[uuid.UUID]struct{}{}}
	f := newFixture(t, "", presence)
	ctx := context.Background()
	steve, alex := uuid.New(), uuid.New()

	for _, id := range []uuid.UUID{steve, alex} {
		f.svc.Join(ctx, id, "", outside)
		f.svc.UpdatePosition(id, atStart)
	}
	delete(presence.online, steve)
	f.clock.Advance(time.Second)

	n, err := f.svc.SweepPresence(ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep = %d err=%v, want 1", n, err)
	}
	if v, ok := f.svc.SessionView(steve); !ok || v.State != "paused" {
		t.Fatalf("steve = %+v ok=%v, want paused", v, ok)
	}
	if v, ok := f.svc.SessionView(alex); !ok || v.State != "running" {
		t.Fatalf("alex = %+v ok=%v, want running", v, ok)
	}
}

func TestSweepPresenceIgnoresEntitiesThatNeverJoined(t *testing.T) {
	t.Parallel()

	presence := &fakePresence{online: map[uuid.UUID]struct{}{}}
	f := newFixture(t, "", presence)
	ctx := context.Background()
	walker := uuid.New()

	// Position updates alone start tracking but never mark the entity online.
	f.svc.UpdatePosition(walker, outside)
	f.svc.UpdatePosition(walker, atStart)
	f.clock.Advance(time.Second)

	n, err := f.svc.SweepPresence(ctx)
	if err != nil || n != 0 {
		t.Fatalf("sweep = %d err=%v, want 0", n, err)
	}
	if v, ok := f.svc.SessionView(walker); !ok || v.State != "running" {
		t.Fatalf("walker = %+v ok=%v, want running", v, ok)
	}
}

func TestSweepPresenceQuitsOnce(t *testing.T) {
	t.Parallel()

	presence := &fakePresence{online: map[uuid.UUID]struct{}{}}
	f := newFixture(t, "", presence)
	ctx := context.Background()
	steve := uuid.New()

	f.svc.Join(ctx, steve, "Steve", outside)
	delete(presence.online, steve)
	if n, err := f.svc.SweepPresence(ctx); err != nil || n != 1 {
		t.Fatalf("first sweep = %d err=%v, want 1", n, err)
	}
	if n, err := f.svc.SweepPresence(ctx); err != nil || n != 0 {
		t.Fatalf("second sweep = %d err=%v, want 0", n, err)
	}
}

func TestCourseEditsGoLive(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "", nil)
	ctx := context.Background()
	if _, err := f.svc.SaveCourse(ctx, models.Course{Name: "Ice"}); !errors.Is(err, ErrCoursesReadOnly) {
		t.Fatalf("save without store error = %v, want ErrCoursesReadOnly", err)
	}

	coursesFile := filepath.Join(t.TempDir(), "courses.json")
	f.svc.CourseStore = course.FileLoader{Path: coursesFile}
	start := models.NewZone(models.Point{World: "overworld", X: 100, Y: 64}, -1)
	end := models.NewZone(models.Point{World: "overworld", X: 130, Y: 64}, 2)
	saved, err := f.svc.SaveCourse(ctx, models.Course{Name: "Ice Path", Start: &start, End: &end})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Key != "ice-path" || !f.svc.Courses.IsConfigured("ice path") {
		t.Fatalf("saved = %+v, not live", saved)
	}
	if _, err := f.svc.SaveCourse(ctx, models.Course{}); !errors.Is(err, leaderboard.ErrInvalidArgument) {
		t.Fatalf("save without name error = %v", err)
	}
	stored, err := course.FileLoader{Path: coursesFile}.LoadAll(ctx)
	if err != nil || len(stored) != 1 || stored[0].Key != "ice-path" {
		t.Fatalf("stored = %+v err=%v", stored, err)
	}

	steve := uuid.New()
	f.svc.Join(ctx, steve, "Steve", outside)
	f.svc.UpdatePosition(steve, atStart)
	f.svc.UpdatePosition(steve, between)

	deleted, err := f.svc.DeleteCourse(ctx, "Lava Run")
	if err != nil || !deleted {
		t.Fatalf("delete = %v err=%v", deleted, err)
	}
	f.svc.UpdatePosition(steve, atEnd)
	if _, ok := f.svc.SessionView(steve); ok {
		t.Fatal("session on a deleted course survived its next evaluation")
	}
	if _, ok, _ := f.svc.BestTime(ctx, "lava run", steve); ok {
		t.Fatal("run on a deleted course was recorded")
	}
	deleted, err = f.svc.DeleteCourse(ctx, "lava run")
	if err != nil || deleted {
		t.Fatalf("second delete = %v err=%v, want false", deleted, err)
	}
}
