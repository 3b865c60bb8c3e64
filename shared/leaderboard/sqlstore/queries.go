package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/google/uuid"
)

// sort_name holds leaderboard.SortName so SQL never folds case itself.
const upsertPlayerSQL = `INSERT INTO players (id, name, sort_name) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, sort_name = excluded.sort_name`

func (s *Store) upsertPlayer(ctx context.Context, tx *sql.Tx, entity uuid.UUID, name string) error {
	if name == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, s.rebind(upsertPlayerSQL), entity.String(), name, leaderboard.SortName(name, entity))
	return err
}

// backfillSortNames fills sort_name for players written before the column existed.
func (s *Store) backfillSortNames(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM players WHERE sort_name = '' AND name <> ''`)
	if err != nil {
		return fmt.Errorf("select unsorted players: %w", err)
	}
	type player struct{ id, name string }
	var pending []player
	for rows.Next() {
		var p player
		if err := rows.Scan(&p.id, &p.name); err != nil {
			rows.Close()
			return fmt.Errorf("scan player: %w", err)
		}
		pending = append(pending, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate players: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		for _, p := range pending {
			entity, err := uuid.Parse(p.id)
			if err != nil {
				log.Printf("WARNING: sqlstore: skipping sort name for invalid player id %q: %v", p.id, err)
				continue
			}
			_, err = tx.ExecContext(ctx, s.rebind(`UPDATE players SET sort_name = ? WHERE id = ?`), leaderboard.SortName(p.name, entity), p.id)
			if err != nil {
				return fmt.Errorf("update sort name for %s: %w", p.id, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("INFO: sqlstore: backfilled sort names for %d players", len(pending))
	return nil
}

// RecordRun implements leaderboard.Store.
func (s *Store) RecordRun(ctx context.Context, course string, entity uuid.UUID, name string, d time.Duration) error {
	key := models.CourseKey(course)
	if key == "" || d <= 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertPlayer(ctx, tx, entity, name); err != nil {
			return fmt.Errorf("upsert player: %w", err)
		}
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO map_times (map_key, player_id, best_nanos) VALUES (?, ?, ?)
ON CONFLICT (map_key, player_id) DO UPDATE SET best_nanos = excluded.best_nanos
WHERE excluded.best_nanos < map_times.best_nanos`), key, entity.String(), int64(d))
		if err != nil {
			return fmt.Errorf("upsert best time: %w", err)
		}
		_, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM map_times_uncompleted WHERE map_key = ? AND player_id = ?`), key, entity.String())
		if err != nil {
			return fmt.Errorf("delete ongoing run: %w", err)
		}
		return nil
	})
	if err != nil {
		return persistErr("record run", err)
	}
	return nil
}

// archiveFinishedSQL and archiveUnfinishedSQL copy rows into map_times_deleted,
// overwriting only their own column so the other archived value is kept.
// The trailing filter is appended per call.
const archiveFinishedSQL = `INSERT INTO map_times_deleted (map_key, player_id, finished_nanos, deleted_at)
SELECT map_key, player_id, best_nanos, CAST(? AS BIGINT) FROM map_times WHERE map_key = ?%s
ON CONFLICT (map_key, player_id) DO UPDATE SET finished_nanos = excluded.finished_nanos, deleted_at = excluded.deleted_at`

const archiveUnfinishedSQL = `INSERT INTO map_times_deleted (map_key, player_id, unfinished_nanos, deleted_at)
SELECT map_key, player_id, elapsed_nanos, CAST(? AS BIGINT) FROM map_times_uncompleted WHERE map_key = ?%s
ON CONFLICT (map_key, player_id) DO UPDATE SET unfinished_nanos = excluded.unfinished_nanos, deleted_at = excluded.deleted_at`

// reset archives then deletes rows for key, optionally restricted to one entity.
func (s *Store) reset(ctx context.Context, key string, entity *uuid.UUID) (bool, error) {
	filter := ""
	args := []any{time.Now().UTC().UnixMilli(), key}
	deleteArgs := []any{key}
	if entity != nil {
		filter = " AND player_id = ?"
		args = append(args, entity.String())
		deleteArgs = append(deleteArgs, entity.String())
	}

	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.rebind(fmt.Sprintf(archiveFinishedSQL, filter)), args...); err != nil {
			return fmt.Errorf("archive finished: %w", err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(fmt.Sprintf(archiveUnfinishedSQL, filter)), args...); err != nil {
			return fmt.Errorf("archive unfinished: %w", err)
		}
		var removed int64
		for _, table := range []string{"map_times", "map_times_uncompleted"} {
			res, err := tx.ExecContext(ctx, s.rebind("DELETE FROM "+table+" WHERE map_key = ?"+filter), deleteArgs...)
			if err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected in %s: %w", table, err)
			}
			removed += n
		}
		changed = removed > 0
		return nil
	})
	if err != nil {
		return false, persistErr("reset", err)
	}
	return changed, nil
}

// ResetEntity implements leaderboard.Store.
func (s *Store) ResetEntity(ctx context.Context, course string, entity uuid.UUID) (bool, error) {
	key := models.CourseKey(course)
	if key == "" {
		return false, nil
	}
	return s.reset(ctx, key, &entity)
}

// ResetCourse implements leaderboard.Store.
func (s *Store) ResetCourse(ctx context.Context, course string) (bool, error) {
	key := models.CourseKey(course)
	if key == "" {
		return false, nil
	}
	return s.reset(ctx, key, nil)
}

// GetBestTime implements leaderboard.Store.
func (s *Store) GetBestTime(ctx context.Context, course string, entity uuid.UUID) (time.Duration, bool, error) {
	var nanos int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT best_nanos FROM map_times WHERE map_key = ? AND player_id = ?`),
		models.CourseKey(course), entity.String()).Scan(&nanos)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, persistErr("get best time", err)
	}
	return time.Duration(nanos), true, nil
}

// rankedSQL ranks one course. The ORDER BY mirrors leaderboard.Less: player ids
// are lower-case uuid strings, so they stand in for SortName of unnamed entities.
func (s *Store) rankedSQL() string {
	c := s.collate()
	return `SELECT player_id, name, best_nanos, rnk FROM (
    SELECT m.player_id AS player_id, COALESCE(p.name, '') AS name, m.best_nanos AS best_nanos,
        ROW_NUMBER() OVER (
            PARTITION BY m.map_key
            ORDER BY m.best_nanos, COALESCE(NULLIF(p.sort_name, ''), m.player_id)` + c + `, m.player_id` + c + `
        ) AS rnk
    FROM map_times m
    LEFT JOIN players p ON p.id = m.player_id
    WHERE m.map_key = ?
) ranked`
}

func scanEntry(row interface{ Scan(...any) error }) (models.LeaderboardEntry, error) {
	var (
		id    string
		name  string
		nanos int64
		rank  int64
	)
	if err := row.Scan(&id, &name, &nanos, &rank); err != nil {
		return models.LeaderboardEntry{}, err
	}
	entity, err := uuid.Parse(id)
	if err != nil {
		return models.LeaderboardEntry{}, fmt.Errorf("invalid player id %q: %w", id, err)
	}
	return models.LeaderboardEntry{Entity: entity, Name: name, Duration: time.Duration(nanos), Rank: int(rank)}, nil
}

// GetRank implements leaderboard.Store.
func (s *Store) GetRank(ctx context.Context, course string, entity uuid.UUID) (int, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(s.rankedSQL()+` WHERE player_id = ?`), models.CourseKey(course), entity.String())
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, persistErr("get rank", err)
	}
	return e.Rank, true, nil
}

// GetTopEntry implements leaderboard.Store.
func (s *Store) GetTopEntry(ctx context.Context, course string, position int) (models.LeaderboardEntry, bool, error) {
	if position <= 0 {
		return models.LeaderboardEntry{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, s.rebind(s.rankedSQL()+` WHERE rnk = ?`), models.CourseKey(course), int64(position))
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return models.LeaderboardEntry{}, false, nil
	}
	if err != nil {
		return models.LeaderboardEntry{}, false, persistErr("get top entry", err)
	}
	return e, true, nil
}

// GetEntries implements leaderboard.Store.
func (s *Store) GetEntries(ctx context.Context, course string) ([]models.LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(s.rankedSQL()+` ORDER BY rnk`), models.CourseKey(course))
	if err != nil {
		return nil, persistErr("get entries", err)
	}
	defer rows.Close()

	entries := make([]models.LeaderboardEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, persistErr("scan entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate entries", err)
	}
	return entries, nil
}

// SaveOngoingRun implements leaderboard.Store.
func (s *Store) SaveOngoingRun(ctx context.Context, course string, entity uuid.UUID, name string, elapsed time.Duration) error {
	key := models.CourseKey(course)
	if key == "" || elapsed < 0 {
		return nil
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.upsertPlayer(ctx, tx, entity, name); err != nil {
			return fmt.Errorf("upsert player: %w", err)
		}
		_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO map_times_uncompleted (map_key, player_id, elapsed_nanos) VALUES (?, ?, ?)
ON CONFLICT (map_key, player_id) DO UPDATE SET elapsed_nanos = excluded.elapsed_nanos`), key, entity.String(), int64(elapsed))
		if err != nil {
			return fmt.Errorf("upsert ongoing run: %w", err)
		}
		return nil
	})
	if err != nil {
		return persistErr("save ongoing run", err)
	}
	return nil
}

// ClearOngoingRun implements leaderboard.Store.
func (s *Store) ClearOngoingRun(ctx context.Context, course string, entity uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM map_times_uncompleted WHERE map_key = ? AND player_id = ?`),
		models.CourseKey(course), entity.String())
	if err != nil {
		return persistErr("clear ongoing run", err)
	}
	return nil
}

// GetAllOngoingRuns implements leaderboard.Store. Runs are ordered by course, then entity id.
func (s *Store) GetAllOngoingRuns(ctx context.Context) ([]models.OngoingRun, error) {
	c := s.collate()
	rows, err := s.db.QueryContext(ctx, `SELECT u.map_key, u.player_id, COALESCE(p.name, ''), u.elapsed_nanos
FROM map_times_uncompleted u
LEFT JOIN players p ON p.id = u.player_id
ORDER BY u.map_key`+c+`, u.player_id`+c)
	if err != nil {
		return nil, persistErr("get ongoing runs", err)
	}
	defer rows.Close()

	var runs []models.OngoingRun
	for rows.Next() {
		var (
			key, id, name string
			nanos         int64
		)
		if err := rows.Scan(&key, &id, &name, &nanos); err != nil {
			return nil, persistErr("scan ongoing run", err)
		}
		entity, err := uuid.Parse(id)
		if err != nil {
			log.Printf("WARNING: sqlstore: skipping ongoing run with invalid player id %q: %v", id, err)
			continue
		}
		runs = append(runs, models.OngoingRun{Course: key, Entity: entity, Name: name, Elapsed: time.Duration(nanos)})
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate ongoing runs", err)
	}
	return runs, nil
}

// GetArchive implements leaderboard.Store.
func (s *Store) GetArchive(ctx context.Context, course string, entity uuid.UUID) (models.ArchiveEntry, bool, error) {
	key := models.CourseKey(course)
	var (
		finished, unfinished sql.NullInt64
		deletedAt            int64
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT finished_nanos, unfinished_nanos, deleted_at FROM map_times_deleted
WHERE map_key = ? AND player_id = ?`), key, entity.String()).Scan(&finished, &unfinished, &deletedAt)
	if err == sql.ErrNoRows {
		return models.ArchiveEntry{}, false, nil
	}
	if err != nil {
		return models.ArchiveEntry{}, false, persistErr("get archive", err)
	}
	entry := models.ArchiveEntry{Course: key, Entity: entity, DeletedAt: time.UnixMilli(deletedAt).UTC()}
	if finished.Valid {
		d := time.Duration(finished.Int64)
		entry.Finished = &d
	}
	if unfinished.Valid {
		d := time.Duration(unfinished.Int64)
		entry.Unfinished = &d
	}
	return entry, true, nil
}
