package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zipsea-sync-api/internal/model"
	"zipsea-sync-api/internal/repository"
	"zipsea-sync-api/internal/traveltek"
)

// fakeSource serves canned documents keyed by feed path. An optional
// onFetch hook runs after each fetch is recorded, outside the lock.
type fakeSource struct {
	mu      sync.Mutex
	docs    map[string][]byte
	errs    map[string]error
	fetches []string
	onFetch func(path string)
}

func newFakeSource() *fakeSource {
	return &fakeSource{docs: map[string][]byte{}, errs: map[string]error{}}
}

func (f *fakeSource) put(lineID, shipID int, externalID string, sailDate time.Time, doc []byte) {
	f.docs[traveltek.DocPath(lineID, shipID, externalID, sailDate)] = doc
}

func (f *fakeSource) List(ctx context.Context, path string) ([]traveltek.Entry, error) {
	return nil, nil
}

func (f *fakeSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	f.fetches = append(f.fetches, path)
	hook := f.onFetch
	err, failed := f.errs[path]
	doc, ok := f.docs[path]
	f.mu.Unlock()

	if hook != nil {
		hook(path)
	}
	if failed {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", traveltek.ErrNotFound, path)
	}
	return doc, nil
}

func (f *fakeSource) Close() error { return nil }

var _ traveltek.Source = (*fakeSource)(nil)

var testSailDate = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func feedDoc(externalID string, lineID int, price float64) []byte {
	return []byte(fmt.Sprintf(`{
		"codetocruiseid": "%s",
		"lineid": %d,
		"shipid": 410,
		"name": "Sailing %s",
		"saildate": "2026-03-14",
		"nights": 7,
		"currency": "USD",
		"cabins": {"IA": {"codtype": "inside"}},
		"prices": {"RATE": {"IA": {"101": {"price": %g}}}}
	}`, externalID, lineID, externalID, price))
}

func newTestScheduler(t *testing.T, store *repository.Store, source traveltek.Source, cfg SchedulerConfig) *Scheduler {
	t.Helper()

	locks := NewLockManager(store.Locks, 30*time.Minute)
	return NewScheduler(store.Cruises, store.Events, store.Snapshots, locks, source, nil, cfg)
}

func flagLine(t *testing.T, store *repository.Store, lineID int) {
	t.Helper()

	_, err := store.Cruises.FlagByLine(context.Background(), lineID, time.Now().UTC())
	require.NoError(t, err)
}

func TestRunLineSyncsFlaggedRows(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "100", 22)
	seedCruise(t, store, "101", 22)
	flagLine(t, store, 22)

	source.put(22, 410, "100", testSailDate, feedDoc("100", 22, 499))
	source.put(22, 410, "101", testSailDate, feedDoc("101", 22, 899))

	sched := newTestScheduler(t, store, source, SchedulerConfig{})
	summary, err := sched.RunLine(ctx, 22)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 0, summary.Failed)

	// Flags cleared, prices written.
	pending, err := store.Cruises.PendingByLine(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	got, err := store.Cruises.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, got.CheapestInside)
	assert.Equal(t, 499.0, *got.CheapestInside)

	// One prior-price snapshot per synced row.
	var snaps int
	require.NoError(t, store.DB().QueryRow(`SELECT COUNT(*) FROM price_snapshots`).Scan(&snaps))
	assert.Equal(t, 2, snaps)

	// The lock is released afterwards.
	active, err := store.Locks.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRunLineClosesClaimedEvents(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "100", 22)
	source.put(22, 410, "100", testSailDate, feedDoc("100", 22, 499))

	webhooks := NewWebhookService(store.Cruises, store.Events)
	_, err := webhooks.Receive(ctx, []byte(`{"event": "cruiseline_pricing_updated", "lineid": 22}`))
	require.NoError(t, err)

	sched := newTestScheduler(t, store, source, SchedulerConfig{})
	_, err = sched.RunLine(ctx, 22)
	require.NoError(t, err)

	recent, err := store.Events.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, model.EventStatusCompleted, recent[0].Status)
	assert.Equal(t, 1, recent[0].Summary.Processed)
	require.NotNil(t, recent[0].ProcessedAt)
}

func TestRunLineMissingDocumentDeactivates(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "gone", 22)
	flagLine(t, store, 22)

	sched := newTestScheduler(t, store, source, SchedulerConfig{})
	summary, err := sched.RunLine(ctx, 22)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Deactivated)
	assert.Equal(t, 0, summary.Failed)

	got, err := store.Cruises.GetByExternalID(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.False(t, got.NeedsPriceUpdate)
}

func TestRunLineTransientFailureKeepsFlag(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "ok", 22)
	seedCruise(t, store, "flaky", 22)
	flagLine(t, store, 22)

	source.put(22, 410, "ok", testSailDate, feedDoc("ok", 22, 499))
	flakyPath := traveltek.DocPath(22, 410, "flaky", testSailDate)
	source.errs[flakyPath] = &traveltek.TransientError{Attempts: 3, Err: fmt.Errorf("connection reset")}

	sched := newTestScheduler(t, store, source, SchedulerConfig{})
	summary, err := sched.RunLine(ctx, 22)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "flaky")

	// The failed row stays flagged for the next cycle.
	flagged, err := store.Cruises.SelectFlagged(ctx, 22, repository.FlagCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "flaky", flagged[0].ExternalID)
}

func TestRunLineParseFailureKeepsFlag(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "bad", 22)
	flagLine(t, store, 22)
	source.put(22, 410, "bad", testSailDate, []byte(`not json`))

	sched := newTestScheduler(t, store, source, SchedulerConfig{})
	summary, err := sched.RunLine(ctx, 22)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	flagged, err := store.Cruises.SelectFlagged(ctx, 22, repository.FlagCursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, flagged, 1)
}

func TestRunLineFailingPageDoesNotStarveBacklog(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	// Two persistently failing rows fill the first page; the healthy row
	// sorts behind them.
	seedCruise(t, store, "bad-1", 22)
	seedCruise(t, store, "bad-2", 22)
	seedCruise(t, store, "good", 22)
	flagLine(t, store, 22)

	source.put(22, 410, "bad-1", testSailDate, []byte(`not json`))
	source.put(22, 410, "bad-2", testSailDate, []byte(`not json`))
	source.put(22, 410, "good", testSailDate, feedDoc("good", 22, 499))

	sched := newTestScheduler(t, store, source, SchedulerConfig{BatchSize: 2, Workers: 1})
	summary, err := sched.RunLine(ctx, 22)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 2, summary.Failed)

	got, err := store.Cruises.GetByExternalID(ctx, "good")
	require.NoError(t, err)
	assert.False(t, got.NeedsPriceUpdate)

	// Only the failing rows keep their flag for the next cycle.
	flagged, err := store.Cruises.SelectFlagged(ctx, 22, repository.FlagCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 2)
	assert.Equal(t, "bad-1", flagged[0].ExternalID)
	assert.Equal(t, "bad-2", flagged[1].ExternalID)
}

func TestRunLineKeepsFlagWhenReflaggedMidSync(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "100", 22)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	_, err := store.Cruises.FlagByExternalIDs(ctx, []string{"100"}, base)
	require.NoError(t, err)

	source.put(22, 410, "100", testSailDate, feedDoc("100", 22, 499))

	// A fresh notification lands while the row's first fetch is in flight.
	var once sync.Once
	source.onFetch = func(string) {
		once.Do(func() {
			_, ferr := store.Cruises.FlagByExternalIDs(ctx, []string{"100"}, base.Add(time.Minute))
			assert.NoError(t, ferr)
		})
	}

	sched := newTestScheduler(t, store, source, SchedulerConfig{Workers: 1})
	summary, err := sched.RunLine(ctx, 22)
	require.NoError(t, err)

	// The mid-sync request survives the first clear and is served by the
	// same pass: the row is fetched twice, then unflagged.
	assert.Equal(t, 2, summary.Processed)

	got, err := store.Cruises.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.False(t, got.NeedsPriceUpdate)
}

func TestRunLineConnectivityAborts(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "100", 22)
	flagLine(t, store, 22)
	path := traveltek.DocPath(22, 410, "100", testSailDate)
	source.errs[path] = fmt.Errorf("%w: login refused", traveltek.ErrConnectivity)

	sched := newTestScheduler(t, store, source, SchedulerConfig{Workers: 1})
	_, err := sched.RunLine(ctx, 22)
	require.Error(t, err)
	assert.True(t, traveltek.IsConnectivity(err))

	// Flag intact; the next cycle retries once the feed is back.
	flagged, err := store.Cruises.SelectFlagged(ctx, 22, repository.FlagCursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, flagged, 1)

	// The lock was still released.
	active, err := store.Locks.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRunLineFailedEventAboveThreshold(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "bad", 22)

	webhooks := NewWebhookService(store.Cruises, store.Events)
	_, err := webhooks.Receive(ctx, []byte(`{"event": "cruiseline_pricing_updated", "lineid": 22}`))
	require.NoError(t, err)

	source.put(22, 410, "bad", testSailDate, []byte(`not json`))

	sched := newTestScheduler(t, store, source, SchedulerConfig{FailThreshold: 0.5})
	summary, err := sched.RunLine(ctx, 22)
	require.NoError(t, err)
	assert.Equal(t, 1.0, summary.FailureRate())

	recent, err := store.Events.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, model.EventStatusFailed, recent[0].Status)
}

func TestRunLineRespectsAnotherHolder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedCruise(t, store, "100", 22)
	flagLine(t, store, 22)

	ok, err := store.Locks.Acquire(ctx, ScopeKey(22), "other-worker", 30*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	sched := newTestScheduler(t, store, newFakeSource(), SchedulerConfig{})
	_, err = sched.RunLine(ctx, 22)
	assert.ErrorIs(t, err, ErrAlreadyLocked)

	// Nothing was touched.
	flagged, err := store.Cruises.SelectFlagged(ctx, 22, repository.FlagCursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, flagged, 1)
}

func TestRunLineCeilingLeavesRemainingFlags(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "100", 22)
	seedCruise(t, store, "101", 22)
	flagLine(t, store, 22)
	source.put(22, 410, "100", testSailDate, feedDoc("100", 22, 499))
	source.put(22, 410, "101", testSailDate, feedDoc("101", 22, 899))

	sched := newTestScheduler(t, store, source, SchedulerConfig{RunCeiling: time.Nanosecond})
	summary, err := sched.RunLine(ctx, 22)
	require.NoError(t, err)

	// The ceiling expired before any row was dispatched.
	assert.Equal(t, 0, summary.Processed)
	flagged, err := store.Cruises.SelectFlagged(ctx, 22, repository.FlagCursor{}, 10)
	require.NoError(t, err)
	assert.Len(t, flagged, 2)

	// A later pass with a normal ceiling drains the backlog.
	sched2 := newTestScheduler(t, store, source, SchedulerConfig{})
	summary, err = sched2.RunLine(ctx, 22)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
}

func TestReseedParsesAndReplaces(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedCruise(t, store, "stale", 99)

	docs := []json.RawMessage{
		feedDoc("100", 22, 499),
		feedDoc("101", 22, 899),
		json.RawMessage(`{"broken": true}`),
	}

	sched := newTestScheduler(t, store, newFakeSource(), SchedulerConfig{ReseedChunk: 1})
	loaded, skipped, err := sched.Reseed(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 1, skipped)

	n, err := store.Cruises.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.Cruises.GetByExternalID(ctx, "stale")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	got, err := store.Cruises.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	require.NotNil(t, got.CheapestInside)
	assert.Equal(t, 499.0, *got.CheapestInside)

	// Reseeding the same documents again yields the same table.
	loaded, skipped, err = sched.Reseed(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 1, skipped)

	n, err = store.Cruises.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err = store.Cruises.GetByExternalID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 22, got.LineID)
	require.NotNil(t, got.CheapestInside)
	assert.Equal(t, 499.0, *got.CheapestInside)
}

func TestRunAllSweepsEveryFlaggedLine(t *testing.T) {
	store := newTestStore(t)
	source := newFakeSource()
	ctx := context.Background()

	seedCruise(t, store, "100", 22)
	seedCruise(t, store, "200", 7)
	flagLine(t, store, 22)
	flagLine(t, store, 7)
	source.put(22, 410, "100", testSailDate, feedDoc("100", 22, 499))
	source.put(7, 410, "200", testSailDate, feedDoc("200", 7, 1299))

	sched := newTestScheduler(t, store, source, SchedulerConfig{})
	sched.RunAll(ctx)

	pending, err := store.Cruises.PendingByLine(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
