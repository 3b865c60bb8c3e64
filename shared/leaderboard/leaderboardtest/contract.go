// Package leaderboardtest holds the behaviour suite every leaderboard.Store
// backend must pass.
package leaderboardtest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/Ftotnem/GO-TIMING/shared/leaderboard"
	"github.com/Ftotnem/GO-TIMING/shared/models"
	"github.com/google/uuid"
)

// Factory opens a store persisted under dir. Calling it twice with the same
// dir must observe the data written by the first store once it is closed.
type Factory func(t *testing.T, dir string) leaderboard.Store

var (
	entityA = uuid.MustParse("0c8a3f4e-0000-4000-8000-000000000001")
	entityB = uuid.MustParse("0c8a3f4e-0000-4000-8000-000000000002")
	entityC = uuid.MustParse("0c8a3f4e-0000-4000-8000-000000000003")
)

const courseKey = "lava-run"

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// RunContract runs the shared suite against the backend produced by open.
func RunContract(t *testing.T, open Factory) {
	t.Helper()

	t.Run("BestTimeKeepsMinimum", func(t *testing.T) { testBestTimeKeepsMinimum(t, open) })
	t.Run("RecordRunIgnoresNonPositive", func(t *testing.T) { testRecordRunIgnoresNonPositive(t, open) })
	t.Run("RecordRunUpdatesName", func(t *testing.T) { testRecordRunUpdatesName(t, open) })
	t.Run("CourseKeyIsCaseInsensitive", func(t *testing.T) { testCourseKeyIsCaseInsensitive(t, open) })
	t.Run("RankingTieBreak", func(t *testing.T) { testRankingTieBreak(t, open) })
	t.Run("RankingTieBreakFoldsUnicode", func(t *testing.T) { testRankingTieBreakFoldsUnicode(t, open) })
	t.Run("RankingTieBreakFallsBackToID", func(t *testing.T) { testRankingTieBreakFallsBackToID(t, open) })
	t.Run("RankingScopedPerCourse", func(t *testing.T) { testRankingScopedPerCourse(t, open) })
	t.Run("UnknownLookups", func(t *testing.T) { testUnknownLookups(t, open) })
	t.Run("ResetCourse", func(t *testing.T) { testResetCourse(t, open) })
	t.Run("ResetEntity", func(t *testing.T) { testResetEntity(t, open) })
	t.Run("ResetArchivesValues", func(t *testing.T) { testResetArchivesValues(t, open) })
	t.Run("OngoingRunSurvivesRestart", func(t *testing.T) { testOngoingRunSurvivesRestart(t, open) })
	t.Run("OngoingRunIndependentOfBest", func(t *testing.T) { testOngoingRunIndependentOfBest(t, open) })
	t.Run("BestTimesSurviveRestart", func(t *testing.T) { testBestTimesSurviveRestart(t, open) })
}

func openStore(t *testing.T, open Factory, dir string) leaderboard.Store {
	t.Helper()
	store := open(t, dir)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mustRecord(t *testing.T, store leaderboard.Store, course string, entity uuid.UUID, name string, d time.Duration) {
	t.Helper()
	if err := store.RecordRun(context.Background(), course, entity, name, d); err != nil {
		t.Fatalf("record run %s/%s: %v", course, entity, err)
	}
}

func mustBest(t *testing.T, store leaderboard.Store, course string, entity uuid.UUID) (time.Duration, bool) {
	t.Helper()
	d, ok, err := store.GetBestTime(context.Background(), course, entity)
	if err != nil {
		t.Fatalf("get best time: %v", err)
	}
	return d, ok
}

func mustEntries(t *testing.T, store leaderboard.Store, course string) []models.LeaderboardEntry {
	t.Helper()
	entries, err := store.GetEntries(context.Background(), course)
	if err != nil {
		t.Fatalf("get entries: %v", err)
	}
	return entries
}

func mustOngoing(t *testing.T, store leaderboard.Store) []models.OngoingRun {
	t.Helper()
	runs, err := store.GetAllOngoingRuns(context.Background())
	if err != nil {
		t.Fatalf("get ongoing runs: %v", err)
	}
	return runs
}

func testBestTimeKeepsMinimum(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())

	mustRecord(t, store, courseKey, entityA, "A", ms(5000))
	mustRecord(t, store, courseKey, entityA, "A", ms(3000))
	if d, ok := mustBest(t, store, courseKey, entityA); !ok || d != ms(3000) {
		t.Fatalf("best = %v (ok=%v), want %v", d, ok, ms(3000))
	}
	mustRecord(t, store, courseKey, entityA, "A", ms(4000))
	if d, _ := mustBest(t, store, courseKey, entityA); d != ms(3000) {
		t.Fatalf("best after worse run = %v, want %v", d, ms(3000))
	}
	mustRecord(t, store, courseKey, entityA, "A", ms(3000))
	if d, _ := mustBest(t, store, courseKey, entityA); d != ms(3000) {
		t.Fatalf("best after replay = %v, want %v", d, ms(3000))
	}
	if got := len(mustEntries(t, store, courseKey)); got != 1 {
		t.Fatalf("entries = %d, want 1", got)
	}
}

func testRecordRunIgnoresNonPositive(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())

	mustRecord(t, store, courseKey, entityA, "A", 0)
	mustRecord(t, store, courseKey, entityA, "A", -ms(10))
	if _, ok := mustBest(t, store, courseKey, entityA); ok {
		t.Fatal("non-positive duration was recorded")
	}
	if got := len(mustEntries(t, store, courseKey)); got != 0 {
		t.Fatalf("entries = %d, want 0", got)
	}
}

func testRecordRunUpdatesName(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())
	ctx := context.Background()

	mustRecord(t, store, courseKey, entityA, "Steve", ms(2000))
	mustRecord(t, store, courseKey, entityA, "", ms(2500))
	entry, ok, err := store.GetTopEntry(ctx, courseKey, 1)
	if err != nil || !ok {
		t.Fatalf("get top entry: ok=%v err=%v", ok, err)
	}
	if entry.Name != "Steve" {
		t.Fatalf("name = %q, want %q", entry.Name, "Steve")
	}

	mustRecord(t, store, courseKey, entityA, "Alex", ms(9000))
	entry, _, _ = store.GetTopEntry(ctx, courseKey, 1)
	if entry.Name != "Alex" {
		t.Fatalf("name after rename = %q, want %q", entry.Name, "Alex")
	}
	if entry.Duration != ms(2000) {
		t.Fatalf("duration after rename = %v, want %v", entry.Duration, ms(2000))
	}
}

func testCourseKeyIsCaseInsensitive(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())

	mustRecord(t, store, "Lava Run", entityA, "A", ms(1000))
	if d, ok := mustBest(t, store, "LAVA RUN", entityA); !ok || d != ms(1000) {
		t.Fatalf("best via other casing = %v (ok=%v)", d, ok)
	}
	if got := len(mustEntries(t, store, courseKey)); got != 1 {
		t.Fatalf("entries under normalized key = %d, want 1", got)
	}
}

func testRankingTieBreak(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())
	ctx := context.Background()

	mustRecord(t, store, courseKey, entityA, "Bob", ms(2000))
	mustRecord(t, store, courseKey, entityB, "alice", ms(2000))
	mustRecord(t, store, courseKey, entityC, "Carl", ms(1000))

	entries := mustEntries(t, store, courseKey)
	want := []struct {
		name   string
		entity uuid.UUID
	}{{"Carl", entityC}, {"alice", entityB}, {"Bob", entityA}}
	if len(entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if entries[i].Name != w.name || entries[i].Entity != w.entity {
			t.Fatalf("entries[%d] = %s/%s, want %s/%s", i, entries[i].Name, entries[i].Entity, w.name, w.entity)
		}
		if entries[i].Rank != i+1 {
			t.Fatalf("entries[%d].Rank = %d, want %d", i, entries[i].Rank, i+1)
		}

		rank, ok, err := store.GetRank(ctx, courseKey, w.entity)
		if err != nil || !ok || rank != i+1 {
			t.Fatalf("rank(%s) = %d ok=%v err=%v, want %d", w.name, rank, ok, err, i+1)
		}

		top, ok, err := store.GetTopEntry(ctx, courseKey, i+1)
		if err != nil || !ok || top.Entity != w.entity {
			t.Fatalf("top(%d) = %+v ok=%v err=%v, want %s", i+1, top, ok, err, w.name)
		}
	}

	for _, pos := range []int{0, -1, 4} {
		if _, ok, err := store.GetTopEntry(ctx, courseKey, pos); err != nil || ok {
			t.Fatalf("top(%d) ok=%v err=%v, want empty", pos, ok, err)
		}
	}
}

// assertLessOrder checks that entries come back in the order leaderboard.Less
// gives and that the order matches want.
func assertLessOrder(t *testing.T, store leaderboard.Store, recorded []models.LeaderboardEntry, want []uuid.UUID) {
	t.Helper()

	expected := append([]models.LeaderboardEntry(nil), recorded...)
	sort.SliceStable(expected, func(i, j int) bool { return leaderboard.Less(expected[i], expected[j]) })
	for i, id := range want {
		if expected[i].Entity != id {
			t.Fatalf("Less order[%d] = %s, want %s", i, expected[i].Entity, id)
		}
	}

	entries := mustEntries(t, store, courseKey)
	if len(entries) != len(expected) {
		t.Fatalf("entries = %d, want %d", len(entries), len(expected))
	}
	for i := range expected {
		if entries[i].Entity != expected[i].Entity || entries[i].Rank != i+1 {
			t.Fatalf("entries[%d] = %q/%s rank %d, want %q/%s rank %d",
				i, entries[i].Name, entries[i].Entity, entries[i].Rank, expected[i].Name, expected[i].Entity, i+1)
		}
		top, ok, err := store.GetTopEntry(context.Background(), courseKey, i+1)
		if err != nil || !ok || top.Entity != expected[i].Entity {
			t.Fatalf("top(%d) = %+v ok=%v err=%v, want %s", i+1, top, ok, err, expected[i].Entity)
		}
	}
}

func testRankingTieBreakFoldsUnicode(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())

	recorded := []models.LeaderboardEntry{
		{Entity: entityA, Name: "Émile", Duration: ms(2000)},
		{Entity: entityB, Name: "ébert", Duration: ms(2000)},
	}
	for _, e := range recorded {
		mustRecord(t, store, courseKey, e.Entity, e.Name, e.Duration)
	}
	// "ébert" < "émile" once both are folded.
	assertLessOrder(t, store, recorded, []uuid.UUID{entityB, entityA})
}

func testRankingTieBreakFallsBackToID(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())

	// entityA has no name, so it sorts by "0c8a3f4e-...": after "0", before "zed".
	recorded := []models.LeaderboardEntry{
		{Entity: entityA, Name: "", Duration: ms(2000)},
		{Entity: entityB, Name: "zed", Duration: ms(2000)},
		{Entity: entityC, Name: "0", Duration: ms(2000)},
	}
	for _, e := range recorded {
		mustRecord(t, store, courseKey, e.Entity, e.Name, e.Duration)
	}
	assertLessOrder(t, store, recorded, []uuid.UUID{entityC, entityA, entityB})
}

func testRankingScopedPerCourse(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())
	ctx := context.Background()

	mustRecord(t, store, courseKey, entityA, "A", ms(5000))
	mustRecord(t, store, "ice-path", entityB, "B", ms(1000))
	mustRecord(t, store, "ice-path", entityA, "A", ms(2000))

	rank, ok, err := store.GetRank(ctx, courseKey, entityA)
	if err != nil || !ok || rank != 1 {
		t.Fatalf("rank on %s = %d ok=%v err=%v, want 1", courseKey, rank, ok, err)
	}
	rank, _, _ = store.GetRank(ctx, "ice-path", entityA)
	if rank != 2 {
		t.Fatalf("rank on ice-path = %d, want 2", rank)
	}
}

func testUnknownLookups(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())
	ctx := context.Background()

	if _, ok := mustBest(t, store, "nowhere", entityA); ok {
		t.Fatal("best time found on unknown course")
	}
	if _, ok, err := store.GetRank(ctx, "nowhere", entityA); err != nil || ok {
		t.Fatalf("rank on unknown course ok=%v err=%v", ok, err)
	}
	if got := mustEntries(t, store, "nowhere"); len(got) != 0 {
		t.Fatalf("entries on unknown course = %d, want 0", len(got))
	}
	if _, ok, err := store.GetArchive(ctx, "nowhere", entityA); err != nil || ok {
		t.Fatalf("archive on unknown course ok=%v err=%v", ok, err)
	}
	changed, err := store.ResetEntity(ctx, "nowhere", entityA)
	if err != nil || changed {
		t.Fatalf("reset unknown entity changed=%v err=%v", changed, err)
	}
}

func testResetCourse(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())
	ctx := context.Background()

	mustRecord(t, store, courseKey, entityA, "A", ms(1000))
	mustRecord(t, store, courseKey, entityB, "B", ms(2000))
	mustRecord(t, store, courseKey, entityC, "C", ms(3000))
	mustRecord(t, store, "ice-path", entityA, "A", ms(4000))

	changed, err := store.ResetCourse(ctx, "Lava Run")
	if err != nil || !changed {
		t.Fatalf("first reset changed=%v err=%v, want true", changed, err)
	}
	if got := len(mustEntries(t, store, courseKey)); got != 0 {
		t.Fatalf("entries after reset = %d, want 0", got)
	}
	changed, err = store.ResetCourse(ctx, courseKey)
	if err != nil || changed {
		t.Fatalf("second reset changed=%v err=%v, want false", changed, err)
	}
	if _, ok := mustBest(t, store, "ice-path", entityA); !ok {
		t.Fatal("reset leaked into another course")
	}
}

func testResetEntity(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())
	ctx := context.Background()

	mustRecord(t, store, courseKey, entityA, "A", ms(1000))
	mustRecord(t, store, courseKey, entityB, "B", ms(2000))

	changed, err := store.ResetEntity(ctx, courseKey, entityA)
	if err != nil || !changed {
		t.Fatalf("reset changed=%v err=%v, want true", changed, err)
	}
	if _, ok := mustBest(t, store, courseKey, entityA); ok {
		t.Fatal("best time survived reset")
	}
	if rank, ok, _ := store.GetRank(ctx, courseKey, entityB); !ok || rank != 1 {
		t.Fatalf("remaining entity rank = %d ok=%v, want 1", rank, ok)
	}
	changed, err = store.ResetEntity(ctx, courseKey, entityA)
	if err != nil || changed {
		t.Fatalf("second reset changed=%v err=%v, want false", changed, err)
	}

	if err := store.SaveOngoingRun(ctx, courseKey, entityC, "C", ms(400)); err != nil {
		t.Fatalf("save ongoing: %v", err)
	}
	changed, err = store.ResetEntity(ctx, courseKey, entityC)
	if err != nil || !changed {
		t.Fatalf("reset of ongoing-only entity changed=%v err=%v, want true", changed, err)
	}
	if got := mustOngoing(t, store); len(got) != 0 {
		t.Fatalf("ongoing after reset = %v, want none", got)
	}
}

func testResetArchivesValues(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())
	ctx := context.Background()

	mustRecord(t, store, courseKey, entityA, "A", ms(3000))
	if err := store.SaveOngoingRun(ctx, courseKey, entityA, "A", ms(700)); err != nil {
		t.Fatalf("save ongoing: %v", err)
	}
	if _, err := store.ResetEntity(ctx, courseKey, entityA); err != nil {
		t.Fatalf("reset: %v", err)
	}

	archive, ok, err := store.GetArchive(ctx, courseKey, entityA)
	if err != nil || !ok {
		t.Fatalf("archive ok=%v err=%v", ok, err)
	}
	if archive.Finished == nil || *archive.Finished != ms(3000) {
		t.Fatalf("archived finished = %v, want %v", archive.Finished, ms(3000))
	}
	if archive.Unfinished == nil || *archive.Unfinished != ms(700) {
		t.Fatalf("archived unfinished = %v, want %v", archive.Unfinished, ms(700))
	}

	mustRecord(t, store, courseKey, entityA, "A", ms(2000))
	if _, err := store.ResetCourse(ctx, courseKey); err != nil {
		t.Fatalf("reset course: %v", err)
	}
	archive, _, _ = store.GetArchive(ctx, courseKey, entityA)
	if archive.Finished == nil || *archive.Finished != ms(2000) {
		t.Fatalf("archived finished after second reset = %v, want %v", archive.Finished, ms(2000))
	}
	if archive.Unfinished == nil || *archive.Unfinished != ms(700) {
		t.Fatalf("archived unfinished was not kept: %v", archive.Unfinished)
	}
}

func testOngoingRunSurvivesRestart(t *testing.T, open Factory) {
	dir := t.TempDir()
	ctx := context.Background()

	first := open(t, dir)
	if err := first.SaveOngoingRun(ctx, courseKey, entityA, "A", ms(1500)); err != nil {
		t.Fatalf("save ongoing: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openStore(t, open, dir)
	runs := mustOngoing(t, second)
	if len(runs) != 1 {
		t.Fatalf("ongoing runs = %d, want 1", len(runs))
	}
	got := runs[0]
	if got.Course != courseKey || got.Entity != entityA || got.Elapsed != ms(1500) || got.Name != "A" {
		t.Fatalf("ongoing run = %+v, want %s/%s 1.5s", got, courseKey, entityA)
	}

	mustRecord(t, second, courseKey, entityA, "A", ms(1200))
	if runs := mustOngoing(t, second); len(runs) != 0 {
		t.Fatalf("ongoing after record = %v, want none", runs)
	}
}

func testOngoingRunIndependentOfBest(t *testing.T, open Factory) {
	store := openStore(t, open, t.TempDir())
	ctx := context.Background()

	if err := store.SaveOngoingRun(ctx, courseKey, entityA, "A", ms(800)); err != nil {
		t.Fatalf("save ongoing: %v", err)
	}
	if err := store.SaveOngoingRun(ctx, courseKey, entityA, "A", ms(900)); err != nil {
		t.Fatalf("save ongoing: %v", err)
	}
	if err := store.SaveOngoingRun(ctx, courseKey, entityB, "B", -ms(1)); err != nil {
		t.Fatalf("save negative ongoing: %v", err)
	}
	if _, ok := mustBest(t, store, courseKey, entityA); ok {
		t.Fatal("ongoing snapshot created a best time")
	}
	runs := mustOngoing(t, store)
	if len(runs) != 1 || runs[0].Elapsed != ms(900) {
		t.Fatalf("ongoing runs = %+v, want one at 900ms", runs)
	}

	if err := store.ClearOngoingRun(ctx, courseKey, entityA); err != nil {
		t.Fatalf("clear ongoing: %v", err)
	}
	if runs := mustOngoing(t, store); len(runs) != 0 {
		t.Fatalf("ongoing after clear = %v, want none", runs)
	}
	if _, ok, _ := store.GetArchive(ctx, courseKey, entityA); ok {
		t.Fatal("clearing a snapshot must not archive it")
	}
}

func testBestTimesSurviveRestart(t *testing.T, open Factory) {
	dir := t.TempDir()

	first := open(t, dir)
	mustRecord(t, first, courseKey, entityA, "A", ms(1000))
	mustRecord(t, first, courseKey, entityB, "B", ms(900))
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second := openStore(t, open, dir)
	entries := mustEntries(t, second, courseKey)
	if len(entries) != 2 || entries[0].Entity != entityB || entries[1].Name != "A" {
		t.Fatalf("entries after restart = %+v", entries)
	}
}
