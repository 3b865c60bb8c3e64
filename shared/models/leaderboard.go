package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeaderboardEntry is one entity's best time on a course.
// Rank is 1-based and only set by ranked queries.
type LeaderboardEntry struct {
	Entity   uuid.UUID     `json:"uuid"`
	Name     string        `json:"name"`
	Duration time.Duration `json:"durationNanos"`
	Rank     int           `json:"rank,omitempty"`
}

// FinishedRun is a completed run handed from the session engine to persistence.
type FinishedRun struct {
	Course   string
	Entity   uuid.UUID
	Name     string
	Duration time.Duration
}

// OngoingRun is the crash-recovery snapshot of an unfinished run.
type OngoingRun struct {
	Course  string        `json:"course"`
	Entity  uuid.UUID     `json:"uuid"`
	Name    string        `json:"name"`
	Elapsed time.Duration `json:"elapsedNanos"`
}

// ArchiveEntry keeps the last values removed by a reset for one (course, entity) pair.
// Either side may be nil when that value was never archived.
type ArchiveEntry struct {
	Course     string         `json:"course"`
	Entity     uuid.UUID      `json:"uuid"`
	Finished   *time.Duration `json:"finishedNanos,omitempty"`
	Unfinished *time.Duration `json:"unfinishedNanos,omitempty"`
	DeletedAt  time.Time      `json:"deletedAt"`
}

// FormatDuration renders d as MM:SS.mmm. Non-positive durations render as 00:00.000.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "00:00.000"
	}
	ms := d.Milliseconds()
	minutes := ms / 60000
	seconds := (ms / 1000) % 60
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d.%03d", minutes, seconds, millis)
}
