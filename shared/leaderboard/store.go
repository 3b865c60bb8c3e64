// Package leaderboard defines the persistence contract for best times,
// ongoing-run snapshots and the reset archive. Backends live in the
// filestore and sqlstore sub-packages.
package leaderboard

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/google/uuid"
)

var (
	// ErrPersistence wraps every I/O or connection failure returned by a backend.
	ErrPersistence = errors.New("leaderboard persistence failure")
	// ErrConfiguration is returned when a backend cannot be opened with the given settings.
	ErrConfiguration = errors.New("leaderboard configuration error")
	// ErrInvalidArgument is returned for malformed course keys or positions.
	ErrInvalidArgument = errors.New("leaderboard invalid argument")
)

// Store is implemented by every leaderboard backend. Course arguments are
// normalized with models.CourseKey. Lookups of unknown courses or entities
// return ok=false with a nil error.
type Store interface {
	// RecordRun keeps min(existing, d) as the best time, stores a non-empty
	// display name, and clears any ongoing snapshot for the pair.
	// Non-positive durations are ignored.
	RecordRun(ctx context.Context, course string, entity uuid.UUID, name string, d time.Duration) error
	// ResetEntity archives and deletes the best time and ongoing snapshot for the pair.
	ResetEntity(ctx context.Context, course string, entity uuid.UUID) (bool, error)
	// ResetCourse does ResetEntity for every entity on the course.
	ResetCourse(ctx context.Context, course string) (bool, error)

	GetBestTime(ctx context.Context, course string, entity uuid.UUID) (time.Duration, bool, error)
	GetRank(ctx context.Context, course string, entity uuid.UUID) (int, bool, error)
	GetTopEntry(ctx context.Context, course string, position int) (models.LeaderboardEntry, bool, error)
	GetEntries(ctx context.Context, course string) ([]models.LeaderboardEntry, error)

	// SaveOngoingRun upserts an in-progress snapshot. Negative elapsed values are ignored.
	SaveOngoingRun(ctx context.Context, course string, entity uuid.UUID, name string, elapsed time.Duration) error
	// ClearOngoingRun drops a snapshot without archiving it.
	ClearOngoingRun(ctx context.Context, course string, entity uuid.UUID) error
	GetAllOngoingRuns(ctx context.Context) ([]models.OngoingRun, error)

	GetArchive(ctx context.Context, course string, entity uuid.UUID) (models.ArchiveEntry, bool, error)

	Close() error
}

// SortName is the tie-break key used after duration: the lower-cased display
// name, or the entity id when no name is known.
func SortName(name string, entity uuid.UUID) string {
	if name == "" {
		return entity.String()
	}
	return strings.ToLower(name)
}

// Less orders entries by duration, then SortName, then entity id.
func Less(a, b models.LeaderboardEntry) bool {
	if a.Duration != b.Duration {
		return a.Duration < b.Duration
	}
	an, bn := SortName(a.Name, a.Entity), SortName(b.Name, b.Entity)
	if an != bn {
		return an < bn
	}
	return a.Entity.String() < b.Entity.String()
}
