// Package syncer runs the timer service's periodic background jobs on a
// gocron scheduler: ongoing-run snapshots, the presence sweep, course
// reloads and document backups.
package syncer

import (
	"context"
	"fmt"
	"log"
	"path"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/course"
	"github.com/Ftotnem/GO-TIMING/timer/service"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
)

// Job names.
const (
	JobSnapshot = "ongoing-snapshot"
	JobPresence = "presence-sweep"
	JobCourses  = "course-reload"
	JobBackup   = "document-backup"
)

// Uploader stores a local file under an object key.
type Uploader interface {
	Upload(ctx context.Context, key, path string) error
}

// Config holds job intervals. A zero interval disables the job.
type Config struct {
	SnapshotInterval     time.Duration
	PresenceInterval     time.Duration
	CourseReloadInterval time.Duration
	BackupInterval       time.Duration
	BackupTimeout        time.Duration
	BackupPrefix         string
	BackupPath           string
}

// Syncer owns the scheduler.
type Syncer struct {
	cfg      Config
	svc      *service.TimerService
	loader   course.Loader
	uploader Uploader
	clock    clockwork.Clock
	sched    gocron.Scheduler
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewSyncer creates the scheduler. loader and uploader may be nil to disable
// the course reload and backup jobs.
func NewSyncer(cfg Config, svc *service.TimerService, loader course.Loader, uploader Uploader, clock clockwork.Clock) (*Syncer, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BackupTimeout <= 0 {
		cfg.BackupTimeout = time.Minute
	}
	sched, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		cfg:      cfg,
		svc:      svc,
		loader:   loader,
		uploader: uploader,
		clock:    clock,
		sched:    sched,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (s *Syncer) add(name string, every time.Duration, fn func()) error {
	if every <= 0 {
		return nil
	}
	_, err := s.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	log.Printf("INFO: Syncer: scheduled %s every %v", name, every)
	return nil
}

// Start registers the enabled jobs and starts the scheduler.
func (s *Syncer) Start() error {
	if err := s.add(JobSnapshot, s.cfg.SnapshotInterval, s.Snapshot); err != nil {
		return err
	}
	if s.svc.Presence != nil {
		if err := s.add(JobPresence, s.cfg.PresenceInterval, s.SweepPresence); err != nil {
			return err
		}
	}
	if s.loader != nil {
		if err := s.add(JobCourses, s.cfg.CourseReloadInterval, s.ReloadCourses); err != nil {
			return err
		}
	}
	if s.uploader != nil && s.cfg.BackupPath != "" {
		if err := s.add(JobBackup, s.cfg.BackupInterval, s.Backup); err != nil {
			return err
		}
	}
	s.sched.Start()
	return nil
}

// Stop cancels running jobs and shuts the scheduler down.
func (s *Syncer) Stop() error {
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		return fmt.Errorf("failed to shut down scheduler: %w", err)
	}
	log.Println("INFO: Syncer: stopped.")
	return nil
}

// JobNames lists the scheduled jobs.
func (s *Syncer) JobNames() []string {
	jobs := s.sched.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

// Snapshot persists every running or paused session.
func (s *Syncer) Snapshot() {
	if n := s.svc.SnapshotOngoing(); n > 0 {
		log.Printf("INFO: Syncer: snapshotted %d ongoing runs", n)
	}
}

// SweepPresence pauses entities whose presence expired.
func (s *Syncer) SweepPresence() {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	if _, err := s.svc.SweepPresence(ctx); err != nil {
		log.Printf("ERROR: Syncer: presence sweep failed: %v", err)
	}
}

// ReloadCourses refreshes course geometry. On failure the previous set stays.
func (s *Syncer) ReloadCourses() {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	n, err := s.svc.ReloadCourses(ctx, s.loader)
	if err != nil {
		log.Printf("ERROR: Syncer: course reload failed, keeping previous courses: %v", err)
		return
	}
	log.Printf("INFO: Syncer: loaded %d courses", n)
}

// BackupKey is the object key for a backup taken at t.
func (s *Syncer) BackupKey(t time.Time) string {
	name := fmt.Sprintf("%s-%s%s", trimExt(path.Base(s.cfg.BackupPath)), t.UTC().Format("20060102T150405Z"), path.Ext(s.cfg.BackupPath))
	return path.Join(s.cfg.BackupPrefix, name)
}

// Backup uploads the leaderboard document.
func (s *Syncer) Backup() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.BackupTimeout)
	defer cancel()
	key := s.BackupKey(s.clock.Now())
	if err := s.uploader.Upload(ctx, key, s.cfg.BackupPath); err != nil {
		log.Printf("ERROR: Syncer: backup of %s failed: %v", s.cfg.BackupPath, err)
		return
	}
	log.Printf("INFO: Syncer: uploaded %s as %s", s.cfg.BackupPath, key)
}

func trimExt(name string) string {
	return name[:len(name)-len(path.Ext(name))]
}
