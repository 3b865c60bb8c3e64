package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/course"
	"github.com/Ftotnem/GO-TIMING/shared/leaderboard/filestore"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/Ftotnem/GO-TIMING/timer/service"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	outside = models.Point{World: "overworld", X: -10, Y: 64}
	atStart = models.Point{World: "overworld", X: 0, Y: 64}
	atEnd   = models.Point{World: "overworld", X: 30, Y: 64}
)

type recordingUploader struct {
	keys []string
	err  error
}

func (u *recordingUploader) Upload(_ context.Context, key, path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	u.keys = append(u.keys, key)
	return u.err
}

type staticLoader struct {
	courses []models.Course
	err     error
}

func (l staticLoader) LoadAll(context.Context) ([]models.Course, error) { return l.courses, l.err }

func newService(t *testing.T) (*service.TimerService, *clockwork.FakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.json")
	store, err := filestore.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	start := models.NewZone(atStart, 2)
	end := models.NewZone(atEnd, 2)
	clock := clockwork.NewFakeClockAt(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	svc := service.NewTimerService(store, course.NewRegistry(models.Course{Name: "Lava Run", Start: &start, End: &end}),
		service.Options{EventMode: true, Clock: clock})
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return svc, clock, path
}

func TestStartSchedulesEnabledJobs(t *testing.T) {
	t.Parallel()

	svc, clock, path := newService(t)
	s, err := NewSyncer(Config{
		SnapshotInterval:     30 * time.Second,
		CourseReloadInterval: time.Minute,
		BackupInterval:       time.Hour,
		BackupPath:           path,
	}, svc, staticLoader{}, &recordingUploader{}, clock)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	names := s.JobNames()
	slices.Sort(names)
	want := []string{JobCourses, JobBackup, JobSnapshot}
	slices.Sort(want)
	if !slices.Equal(names, want) {
		t.Fatalf("jobs = %v, want %v", names, want)
	}
}

func TestSnapshotPersistsRunningSessions(t *testing.T) {
	t.Parallel()

	svc, clock, _ := newService(t)
	s, err := NewSyncer(Config{}, svc, nil, nil, clock)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	id := uuid.New()
	svc.Join(context.Background(), id, "Steve", outside)
	svc.UpdatePosition(id, atStart)
	clock.Advance(2 * time.Second)

	s.Snapshot()
	runs, err := svc.Store.GetAllOngoingRuns(context.Background())
	if err != nil || len(runs) != 1 || runs[0].Elapsed != 2*time.Second {
		t.Fatalf("ongoing = %+v err=%v", runs, err)
	}
}

func TestReloadCoursesKeepsPreviousOnError(t *testing.T) {
	t.Parallel()

	svc, clock, _ := newService(t)
	failing, err := NewSyncer(Config{}, svc, staticLoader{err: errors.New("mongo down")}, nil, clock)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	failing.ReloadCourses()
	if !svc.Courses.IsConfigured("lava run") {
		t.Fatal("failed reload dropped existing courses")
	}

	start := models.NewZone(atStart, 2)
	replacing, err := NewSyncer(Config{}, svc, staticLoader{courses: []models.Course{{Name: "Ice Run", Start: &start}}}, nil, clock)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	replacing.ReloadCourses()
	if svc.Courses.IsConfigured("lava run") {
		t.Fatal("reload kept a course the loader no longer returns")
	}
	if _, ok := svc.Courses.Get("ice run"); !ok {
		t.Fatal("reload did not add ice run")
	}
}

func TestBackupUploadsTimestampedKey(t *testing.T) {
	t.Parallel()

	svc, clock, path := newService(t)
	if err := svc.Store.RecordRun(context.Background(), "lava-run", uuid.New(), "Steve", time.Second); err != nil {
		t.Fatalf("seed: %v", err)
	}
	up := &recordingUploader{}
	s, err := NewSyncer(Config{BackupPath: path, BackupPrefix: "timer"}, svc, nil, up, clock)
	if err != nil {
		t.Fatalf("NewSyncer() error = %v", err)
	}
	s.Backup()
	if len(up.keys) != 1 || up.keys[0] != "timer/stats-20260301T120000Z.json" {
		t.Fatalf("uploaded keys = %v", up.keys)
	}
}
