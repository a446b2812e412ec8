package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zipsea-sync-api/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testCruise(externalID string, lineID int) *model.Cruise {
	price := 499.0
	return &model.Cruise{
		ExternalID:     externalID,
		CruiseID:       "c-" + externalID,
		LineID:         lineID,
		ShipID:         410,
		Name:           "Test Sailing",
		SailDate:       time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Nights:         7,
		Currency:       "USD",
		CheapestInside: &price,
		RawJSON:        []byte(`{"codetocruiseid":"` + externalID + `"}`),
	}
}

func TestCruiseUpsertCreateThenUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.Cruises.Upsert(ctx, testCruise("100", 22))
	require.NoError(t, err)
	assert.True(t, created)

	updated := testCruise("100", 22)
	newPrice := 459.0
	updated.CheapestInside = &newPrice
	created, err = store.Cruises.Upsert(ctx, updated)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.Cruises.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, got.CheapestInside)
	assert.Equal(t, 459.0, *got.CheapestInside)
	assert.True(t, got.IsActive)

	n, err := store.Cruises.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCruiseGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Cruises.GetByExternalID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFlagByLineScopesToLineAndActive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, lineID := range []int{22, 22, 7} {
		_, err := store.Cruises.Upsert(ctx, testCruise(fmt.Sprintf("%d", i), lineID))
		require.NoError(t, err)
	}
	require.NoError(t, store.Cruises.Deactivate(ctx, "1"))

	n, err := store.Cruises.FlagByLine(ctx, 22, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n) // row 1 is inactive, row 2 is line 7

	lines, err := store.Cruises.FlaggedLineIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{22}, lines)

	flagged, err := store.Cruises.SelectFlagged(ctx, 22, FlagCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "0", flagged[0].ExternalID)

	pending, err := store.Cruises.PendingByLine(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{22: 1}, pending)
}

func TestFlagByExternalIDsAndClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := store.Cruises.Upsert(ctx, testCruise(id, 22))
		require.NoError(t, err)
	}

	now := time.Now().UTC()
	n, err := store.Cruises.FlagByExternalIDs(ctx, []string{"a", "b", "ghost"}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, store.Cruises.ClearFlag(ctx, "a", now))

	flagged, err := store.Cruises.SelectFlagged(ctx, 22, FlagCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "b", flagged[0].ExternalID)
	require.NotNil(t, flagged[0].PriceUpdateRequestedAt)
}

func TestSelectFlaggedOrdersByOldestRequest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"x", "y"} {
		_, err := store.Cruises.Upsert(ctx, testCruise(id, 5))
		require.NoError(t, err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.Cruises.FlagByExternalIDs(ctx, []string{"y"}, base)
	require.NoError(t, err)
	_, err = store.Cruises.FlagByExternalIDs(ctx, []string{"x"}, base.Add(time.Hour))
	require.NoError(t, err)

	flagged, err := store.Cruises.SelectFlagged(ctx, 5, FlagCursor{}, 1)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "y", flagged[0].ExternalID)
}

func TestSelectFlaggedPagesPastCursor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"p", "q", "r"} {
		_, err := store.Cruises.Upsert(ctx, testCruise(id, 5))
		require.NoError(t, err)
	}

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.Cruises.FlagByExternalIDs(ctx, []string{"p", "q", "r"}, base)
	require.NoError(t, err)

	first, err := store.Cruises.SelectFlagged(ctx, 5, FlagCursor{}, 2)
	require.NoError(t, err)
	require.Len(t, first, 2)

	// The cursor skips the first page even though its rows stay flagged.
	last := first[len(first)-1]
	cursor := FlagCursor{RequestedAt: *last.PriceUpdateRequestedAt, ID: last.ID}
	second, err := store.Cruises.SelectFlagged(ctx, 5, cursor, 2)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "r", second[0].ExternalID)

	cursor = FlagCursor{RequestedAt: *second[0].PriceUpdateRequestedAt, ID: second[0].ID}
	third, err := store.Cruises.SelectFlagged(ctx, 5, cursor, 2)
	require.NoError(t, err)
	assert.Empty(t, third)
}

func TestClearFlagPreservesNewerRequest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Cruises.Upsert(ctx, testCruise("100", 22))
	require.NoError(t, err)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_, err = store.Cruises.FlagByExternalIDs(ctx, []string{"100"}, base)
	require.NoError(t, err)

	// A fresh notification lands before the clear with the old timestamp.
	_, err = store.Cruises.FlagByExternalIDs(ctx, []string{"100"}, base.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, store.Cruises.ClearFlag(ctx, "100", base))

	got, err := store.Cruises.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.True(t, got.NeedsPriceUpdate)

	require.NoError(t, store.Cruises.ClearFlag(ctx, "100", base.Add(time.Minute)))

	got, err = store.Cruises.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.False(t, got.NeedsPriceUpdate)
}

func TestDeactivateClearsFlag(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Cruises.Upsert(ctx, testCruise("gone", 22))
	require.NoError(t, err)
	_, err = store.Cruises.FlagByLine(ctx, 22, time.Now().UTC())
	require.NoError(t, err)

	require.NoError(t, store.Cruises.Deactivate(ctx, "gone"))

	got, err := store.Cruises.GetByExternalID(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.False(t, got.NeedsPriceUpdate)
}

func TestReplaceAllReloadsInChunks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Cruises.Upsert(ctx, testCruise("old", 1))
	require.NoError(t, err)

	rows := make([]model.Cruise, 5)
	for i := range rows {
		rows[i] = *testCruise(fmt.Sprintf("new-%d", i), 2)
	}
	require.NoError(t, store.Cruises.ReplaceAll(ctx, rows, 2))

	n, err := store.Cruises.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, err = store.Cruises.GetByExternalID(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	// Reloading the same rows again is idempotent.
	require.NoError(t, store.Cruises.ReplaceAll(ctx, rows, 2))

	n, err = store.Cruises.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	got, err := store.Cruises.GetByExternalID(ctx, "new-0")
	require.NoError(t, err)
	assert.Equal(t, 2, got.LineID)
	require.NotNil(t, got.CheapestInside)
	assert.Equal(t, 499.0, *got.CheapestInside)
}

func TestEventLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	lineID := 22
	event := &model.WebhookEvent{
		EventID:    "evt-1",
		EventType:  model.EventTypeLinePricingUpdated,
		LineID:     &lineID,
		Payload:    []byte(`{}`),
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Events.Create(ctx, event))
	assert.Equal(t, model.EventStatusReceived, event.Status)
	assert.NotZero(t, event.ID)

	// Unscoped events ride along with any line's claim.
	unscoped := &model.WebhookEvent{
		EventID:    "evt-2",
		EventType:  model.EventTypeCruisesPricingUpdated,
		Payload:    []byte(`{}`),
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Events.Create(ctx, unscoped))

	ids, err := store.Events.ClaimPending(ctx, 22)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	// A second claim finds nothing.
	ids2, err := store.Events.ClaimPending(ctx, 22)
	require.NoError(t, err)
	assert.Empty(t, ids2)

	summary := model.RunSummary{Processed: 3, Updated: 3, DurationMS: 120}
	require.NoError(t, store.Events.Finish(ctx, ids, model.EventStatusCompleted, summary))

	recent, err := store.Events.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	for _, e := range recent {
		assert.Equal(t, model.EventStatusCompleted, e.Status)
		assert.Equal(t, 3, e.Summary.Processed)
		require.NotNil(t, e.ProcessedAt)
	}
}

func TestEventClaimIgnoresOtherLines(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	other := 7
	event := &model.WebhookEvent{
		EventID:    "evt-other",
		EventType:  model.EventTypeLinePricingUpdated,
		LineID:     &other,
		Payload:    []byte(`{}`),
		ReceivedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Events.Create(ctx, event))

	ids, err := store.Events.ClaimPending(ctx, 22)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLockAcquireIsExclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Locks.Acquire(ctx, "line:22", "worker-a", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Locks.Acquire(ctx, "line:22", "worker-b", 30*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// A different scope is independent.
	ok, err = store.Locks.Acquire(ctx, "line:7", "worker-b", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Locks.Release(ctx, "line:22", "worker-a"))

	ok, err = store.Locks.Acquire(ctx, "line:22", "worker-b", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockConcurrentAcquireSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const workers = 10
	var wg sync.WaitGroup
	wins := make(chan string, workers)

	for i := 0; i < workers; i++ {
		holder := fmt.Sprintf("worker-%d", i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Locks.Acquire(ctx, "line:22", holder, 30*time.Minute)
			if err == nil && ok {
				wins <- holder
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1)

	active, err := store.Locks.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, winners[0], active[0].Holder)
}

func TestLockStaleTakeover(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Locks.Acquire(ctx, "line:22", "crashed", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// With a zero staleness threshold the existing hold counts as abandoned.
	ok, err = store.Locks.Acquire(ctx, "line:22", "successor", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := store.Locks.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "successor", active[0].Holder)
}

func TestLockReleaseWrongHolderIsNoOp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Locks.Acquire(ctx, "line:22", "owner", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Locks.Release(ctx, "line:22", "impostor"))

	active, err := store.Locks.Active(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestReclaimStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.Locks.Acquire(ctx, "line:22", "worker", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := store.Locks.ReclaimStale(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := store.Locks.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSnapshotAppend(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	price := 499.0
	snap := &model.PriceSnapshot{
		CruiseID:       1,
		ExternalID:     "100",
		CheapestInside: &price,
		Currency:       "USD",
		SnapshotAt:     time.Now().UTC(),
	}
	require.NoError(t, store.Snapshots.Append(ctx, snap))
	assert.NotZero(t, snap.ID)
}
