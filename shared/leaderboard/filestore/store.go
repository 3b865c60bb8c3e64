// Package filestore is the file-backed leaderboard backend: one JSON
// document loaded into memory at open and fully rewritten after every
// mutation.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/google/uuid"
)

// document is the on-disk layout.
type document struct {
	Players map[string]string                      `json:"players"`
	Maps    map[string]map[string]int64            `json:"maps"`
	Ongoing map[string]map[string]int64            `json:"ongoing"`
	Deleted map[string]map[string]deletedEntryJSON `json:"deleted"`
}

type deletedEntryJSON struct {
	Finished   *int64 `json:"finished,omitempty"`
	Unfinished *int64 `json:"unfinished,omitempty"`
	DeletedAt  int64  `json:"deletedAt"`
}

type archived struct {
	finished   *time.Duration
	unfinished *time.Duration
	deletedAt  time.Time
}

// Store implements leaderboard.Store on top of a single JSON file.
type Store struct {
	mu      sync.Mutex
	path    string
	dirty   bool
	now     func() time.Time
	players map[uuid.UUID]string
	best    map[string]map[uuid.UUID]time.Duration
	ongoing map[string]map[uuid.UUID]time.Duration
	deleted map[string]map[uuid.UUID]archived
}

var _ leaderboard.Store = (*Store)(nil)

// Open loads path into memory, creating parent directories as needed.
// A missing file starts an empty store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: storage file path is required", leaderboard.ErrConfiguration)
	}
	s := &Store{
		path:    filepath.Clean(path),
		now:     time.Now,
		players: make(map[uuid.UUID]string),
		best:    make(map[string]map[uuid.UUID]time.Duration),
		ongoing: make(map[string]map[uuid.UUID]time.Duration),
		deleted: make(map[string]map[uuid.UUID]archived),
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create storage dir: %w", leaderboard.ErrPersistence, err)
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file the store writes to.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", leaderboard.ErrPersistence, s.path, err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: decode %s: %w", leaderboard.ErrPersistence, s.path, err)
	}

	for id, name := range doc.Players {
		entity, ok := parseEntity(id, "players")
		if !ok {
			continue
		}
		s.players[entity] = name
	}
	loadDurations(doc.Maps, s.best, "maps", 1)
	loadDurations(doc.Ongoing, s.ongoing, "ongoing", 0)
	for course, byEntity := range doc.Deleted {
		for id, entry := range byEntity {
			entity, ok := parseEntity(id, "deleted")
			if !ok {
				continue
			}
			a := archived{deletedAt: time.UnixMilli(entry.DeletedAt).UTC()}
			if entry.Finished != nil {
				d := time.Duration(*entry.Finished)
				a.finished = &d
			}
			if entry.Unfinished != nil {
				d := time.Duration(*entry.Unfinished)
				a.unfinished = &d
			}
			bucket(s.deleted, course)[entity] = a
		}
	}
	return nil
}

func loadDurations(src map[string]map[string]int64, dst map[string]map[uuid.UUID]time.Duration, section string, min int64) {
	for course, byEntity := range src {
		for id, nanos := range byEntity {
			entity, ok := parseEntity(id, section)
			if !ok {
				continue
			}
			if nanos < min {
				log.Printf("WARNING: filestore: skipping %s entry %s/%s with invalid duration %d", section, course, id, nanos)
				continue
			}
			bucket(dst, course)[entity] = time.Duration(nanos)
		}
	}
}

func parseEntity(id, section string) (uuid.UUID, bool) {
	entity, err := uuid.Parse(id)
	if err != nil {
		log.Printf("WARNING: filestore: skipping %s entry with invalid uuid %q: %v", section, id, err)
		return uuid.Nil, false
	}
	return entity, true
}

func bucket[V any](m map[string]map[uuid.UUID]V, course string) map[uuid.UUID]V {
	b, ok := m[course]
	if !ok {
		b = make(map[uuid.UUID]V)
		m[course] = b
	}
	return b
}

// save rewrites the whole document when dirty. On failure the store stays
// dirty so the next mutation retries the write.
func (s *Store) save() error {
	if !s.dirty {
		return nil
	}
	doc := document{
		Players: make(map[string]string, len(s.players)),
		Maps:    make(map[string]map[string]int64, len(s.best)),
		Ongoing: make(map[string]map[string]int64, len(s.ongoing)),
		Deleted: make(map[string]map[string]deletedEntryJSON, len(s.deleted)),
	}
	for entity, name := range s.players {
		doc.Players[entity.String()] = name
	}
	dumpDurations(s.best, doc.Maps)
	dumpDurations(s.ongoing, doc.Ongoing)
	for course, byEntity := range s.deleted {
		out := make(map[string]deletedEntryJSON, len(byEntity))
		for entity, a := range byEntity {
			entry := deletedEntryJSON{DeletedAt: a.deletedAt.UnixMilli()}
			if a.finished != nil {
				n := int64(*a.finished)
				entry.Finished = &n
			}
			if a.unfinished != nil {
				n := int64(*a.unfinished)
				entry.Unfinished = &n
			}
			out[entity.String()] = entry
		}
		doc.Deleted[course] = out
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode document: %w", leaderboard.ErrPersistence, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".stats-*.json")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", leaderboard.ErrPersistence, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write temp file: %w", leaderboard.ErrPersistence, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: sync temp file: %w", leaderboard.ErrPersistence, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close temp file: %w", leaderboard.ErrPersistence, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: replace %s: %w", leaderboard.ErrPersistence, s.path, err)
	}
	s.dirty = false
	return nil
}

func dumpDurations(src map[string]map[uuid.UUID]time.Duration, dst map[string]map[string]int64) {
	for course, byEntity := range src {
		if len(byEntity) == 0 {
			continue
		}
		out := make(map[string]int64, len(byEntity))
		for entity, d := range byEntity {
			out[entity.String()] = int64(d)
		}
		dst[course] = out
	}
}

func (s *Store) setName(entity uuid.UUID, name string) {
	if name == "" || s.players[entity] == name {
		return
	}
	s.players[entity] = name
	s.dirty = true
}

// RecordRun implements leaderboard.Store.
func (s *Store) RecordRun(ctx context.Context, course string, entity uuid.UUID, name string, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := models.CourseKey(course)
	if key == "" || d <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setName(entity, name)
	if byEntity, ok := s.ongoing[key]; ok {
		if _, ok := byEntity[entity]; ok {
			delete(byEntity, entity)
			s.dirty = true
		}
	}
	times := bucket(s.best, key)
	if current, ok := times[entity]; !ok || d < current {
		times[entity] = d
		s.dirty = true
	}
	return s.save()
}

// ResetEntity implements leaderboard.Store.
func (s *Store) ResetEntity(ctx context.Context, course string, entity uuid.UUID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := models.CourseKey(course)
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := s.resetLocked(key, entity)
	if err := s.save(); err != nil {
		return changed, err
	}
	return changed, nil
}

// ResetCourse implements leaderboard.Store.
func (s *Store) ResetCourse(ctx context.Context, course string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	key := models.CourseKey(course)
	if key == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entities := make(map[uuid.UUID]struct{})
	for entity := range s.best[key] {
		entities[entity] = struct{}{}
	}
	for entity := range s.ongoing[key] {
		entities[entity] = struct{}{}
	}
	changed := false
	for entity := range entities {
		if s.resetLocked(key, entity) {
			changed = true
		}
	}
	delete(s.best, key)
	delete(s.ongoing, key)
	if err := s.save(); err != nil {
		return changed, err
	}
	return changed, nil
}

func (s *Store) resetLocked(key string, entity uuid.UUID) bool {
	finished, hasFinished := s.best[key][entity]
	unfinished, hasUnfinished := s.ongoing[key][entity]
	if !hasFinished && !hasUnfinished {
		return false
	}
	archive := bucket(s.deleted, key)
	a := archive[entity]
	if hasFinished {
		f := finished
		a.finished = &f
		delete(s.best[key], entity)
	}
	if hasUnfinished {
		u := unfinished
		a.unfinished = &u
		delete(s.ongoing[key], entity)
	}
	a.deletedAt = s.now().UTC()
	archive[entity] = a
	s.dirty = true
	return true
}

// GetBestTime implements leaderboard.Store.
func (s *Store) GetBestTime(ctx context.Context, course string, entity uuid.UUID) (time.Duration, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.best[models.CourseKey(course)][entity]
	return d, ok, nil
}

// GetRank implements leaderboard.Store.
func (s *Store) GetRank(ctx context.Context, course string, entity uuid.UUID) (int, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.rankedLocked(models.CourseKey(course)) {
		if e.Entity == entity {
			return e.Rank, true, nil
		}
	}
	return 0, false, nil
}

// GetTopEntry implements leaderboard.Store.
func (s *Store) GetTopEntry(ctx context.Context, course string, position int) (models.LeaderboardEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.LeaderboardEntry{}, false, err
	}
	if position <= 0 {
		return models.LeaderboardEntry{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ranked := s.rankedLocked(models.CourseKey(course))
	if position > len(ranked) {
		return models.LeaderboardEntry{}, false, nil
	}
	return ranked[position-1], true, nil
}

// GetEntries implements leaderboard.Store.
func (s *Store) GetEntries(ctx context.Context, course string) ([]models.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rankedLocked(models.CourseKey(course)), nil
}

func (s *Store) rankedLocked(key string) []models.LeaderboardEntry {
	times := s.best[key]
	entries := make([]models.LeaderboardEntry, 0, len(times))
	for entity, d := range times {
		entries = append(entries, models.LeaderboardEntry{Entity: entity, Name: s.players[entity], Duration: d})
	}
	sort.Slice(entries, func(i, j int) bool { return leaderboard.Less(entries[i], entries[j]) })
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// SaveOngoingRun implements leaderboard.Store.
func (s *Store) SaveOngoingRun(ctx context.Context, course string, entity uuid.UUID, name string, elapsed time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := models.CourseKey(course)
	if key == "" || elapsed < 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setName(entity, name)
	runs := bucket(s.ongoing, key)
	if current, ok := runs[entity]; !ok || current != elapsed {
		runs[entity] = elapsed
		s.dirty = true
	}
	return s.save()
}

// ClearOngoingRun implements leaderboard.Store.
func (s *Store) ClearOngoingRun(ctx context.Context, course string, entity uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs, ok := s.ongoing[models.CourseKey(course)]
	if !ok {
		return nil
	}
	if _, ok := runs[entity]; !ok {
		return nil
	}
	delete(runs, entity)
	s.dirty = true
	return s.save()
}

// GetAllOngoingRuns implements leaderboard.Store. Runs are ordered by course, then entity id.
func (s *Store) GetAllOngoingRuns(ctx context.Context) ([]models.OngoingRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var runs []models.OngoingRun
	for course, byEntity := range s.ongoing {
		for entity, elapsed := range byEntity {
			runs = append(runs, models.OngoingRun{Course: course, Entity: entity, Name: s.players[entity], Elapsed: elapsed})
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].Course != runs[j].Course {
			return runs[i].Course < runs[j].Course
		}
		return runs[i].Entity.String() < runs[j].Entity.String()
	})
	return runs, nil
}

// GetArchive implements leaderboard.Store.
func (s *Store) GetArchive(ctx context.Context, course string, entity uuid.UUID) (models.ArchiveEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.ArchiveEntry{}, false, err
	}
	key := models.CourseKey(course)
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.deleted[key][entity]
	if !ok {
		return models.ArchiveEntry{}, false, nil
	}
	return models.ArchiveEntry{
		Course:     key,
		Entity:     entity,
		Finished:   a.finished,
		Unfinished: a.unfinished,
		DeletedAt:  a.deletedAt,
	}, true, nil
}

// Close flushes any pending dirty state.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}
