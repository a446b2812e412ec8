package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"zipsea-sync-api/internal/model"
	"zipsea-sync-api/internal/repository"
	"zipsea-sync-api/internal/traveltek"
)

// RunNotifier receives the summary of a finished sync pass. Delivery is
// best-effort: the pipeline never depends on it.
type RunNotifier interface {
	NotifyRunSummary(ctx context.Context, scopeKey string, summary model.RunSummary)
}

// SchedulerConfig holds the batch sync scheduler settings.
type SchedulerConfig struct {
	Interval      time.Duration
	BatchSize     int
	RunCeiling    time.Duration
	FailThreshold float64
	Workers       int // per-run fetch parallelism; bound to the FTP pool size
	ReseedChunk   int
}

// ScopeKey returns the lock scope for one cruise line.
func ScopeKey(lineID int) string {
	return fmt.Sprintf("line:%d", lineID)
}

// Scheduler drives the webhook-flagged batch sync pipeline. Every
// interval (or on manual trigger) it picks the lines with flagged
// cruises, takes the per-line lock, and re-fetches each flagged row from
// the feed. The flag itself is the checkpoint: a row keeps its flag until
// its new document is written, so interrupted runs resume naturally.
type Scheduler struct {
	cruises   repository.CruiseRepository
	events    repository.EventRepository
	snapshots repository.SnapshotRepository
	locks     *LockManager
	source    traveltek.Source
	notifier  RunNotifier
	cfg       SchedulerConfig

	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewScheduler creates a batch sync scheduler. notifier may be nil.
func NewScheduler(
	cruises repository.CruiseRepository,
	events repository.EventRepository,
	snapshots repository.SnapshotRepository,
	locks *LockManager,
	source traveltek.Source,
	notifier RunNotifier,
	cfg SchedulerConfig,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.RunCeiling <= 0 {
		cfg.RunCeiling = 10 * time.Minute
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 0.5
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.ReseedChunk <= 0 {
		cfg.ReseedChunk = 500
	}

	return &Scheduler{
		cruises:   cruises,
		events:    events,
		snapshots: snapshots,
		locks:     locks,
		source:    source,
		notifier:  notifier,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
	}
}

// Holder returns the lock holder identity this scheduler runs under.
func (s *Scheduler) Holder() string { return s.locks.Holder() }

// Start begins the periodic sync loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.cfg.Interval)
	s.mu.Unlock()

	log.Printf("[SyncScheduler] Started - interval: %v, batch: %d, ceiling: %v",
		s.cfg.Interval, s.cfg.BatchSize, s.cfg.RunCeiling)

	go s.run()
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.RunAll(context.Background())
		case <-s.stopCh:
			log.Printf("[SyncScheduler] Stopped")
			return
		}
	}
}

// Stop stops the periodic loop. A pass already in flight finishes on its
// own; its lock release and event updates are not cut short.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunAll sweeps every line that has flagged cruises. Lines locked by
// another worker are skipped; the next cycle retries them.
func (s *Scheduler) RunAll(ctx context.Context) {
	if _, err := s.locks.ReclaimStale(ctx); err != nil {
		log.Printf("[SyncScheduler] Stale lock sweep failed: %v", err)
	}

	lineIDs, err := s.cruises.FlaggedLineIDs(ctx)
	if err != nil {
		log.Printf("[SyncScheduler] Failed to list flagged lines: %v", err)
		return
	}
	if len(lineIDs) == 0 {
		return
	}

	log.Printf("[SyncScheduler] %d lines have flagged cruises", len(lineIDs))
	for _, lineID := range lineIDs {
		summary, err := s.RunLine(ctx, lineID)
		switch {
		case errors.Is(err, ErrAlreadyLocked):
			log.Printf("[SyncScheduler] Line %d locked elsewhere, skipping this cycle", lineID)
		case err != nil:
			log.Printf("[SyncScheduler] Line %d aborted: %v", lineID, err)
		default:
			log.Printf("[SyncScheduler] Line %d: processed=%d created=%d updated=%d deactivated=%d failed=%d in %dms",
				lineID, summary.Processed, summary.Created, summary.Updated,
				summary.Deactivated, summary.Failed, summary.DurationMS)
		}
	}
}

// RunLine executes one locked sync pass for a line. Returns
// ErrAlreadyLocked when another worker holds the scope. Per-row failures
// are isolated: they are counted, the row keeps its flag, and the pass
// continues. Only a connectivity failure aborts the pass.
func (s *Scheduler) RunLine(ctx context.Context, lineID int) (model.RunSummary, error) {
	var summary model.RunSummary

	handle, err := s.locks.Acquire(ctx, ScopeKey(lineID))
	if err != nil {
		return summary, err
	}
	defer handle.Release(ctx)

	eventIDs, err := s.events.ClaimPending(ctx, lineID)
	if err != nil {
		log.Printf("[SyncScheduler] Failed to claim events for line %d: %v", lineID, err)
	}

	start := time.Now()
	deadline := start.Add(s.cfg.RunCeiling)
	abortErr := s.processFlagged(ctx, lineID, deadline, &summary)
	summary.DurationMS = time.Since(start).Milliseconds()

	status := model.EventStatusCompleted
	if abortErr != nil {
		summary.Errors = append(summary.Errors, abortErr.Error())
		status = model.EventStatusFailed
	} else if summary.Failed > 0 && summary.FailureRate() > s.cfg.FailThreshold {
		status = model.EventStatusFailed
	}
	if err := s.events.Finish(ctx, eventIDs, status, summary); err != nil {
		log.Printf("[SyncScheduler] Failed to finish events for line %d: %v", lineID, err)
	}

	if s.notifier != nil {
		s.notifier.NotifyRunSummary(ctx, ScopeKey(lineID), summary)
	}

	return summary, abortErr
}

// processFlagged pages through the line's flagged cruises until none are
// left, the wall-clock ceiling passes, or the feed is unreachable. Paging
// is keyset on (price_update_requested_at, id): rows that failed this run
// keep their flag but fall behind the cursor, so the rows sorted after
// them still get their turn and the pass terminates. The next cycle
// retries the failures from the start.
func (s *Scheduler) processFlagged(ctx context.Context, lineID int, deadline time.Time, summary *model.RunSummary) error {
	var cursor repository.FlagCursor
	var mu sync.Mutex
	var abortErr error

	for {
		rows, err := s.cruises.SelectFlagged(ctx, lineID, cursor, s.cfg.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to select flagged cruises: %w", err)
		}
		if len(rows) == 0 {
			return abortErr
		}

		sem := make(chan struct{}, s.cfg.Workers)
		var wg sync.WaitGroup
		for _, row := range rows {
			// The ceiling is honored between rows only; a row in flight
			// always runs to completion.
			if time.Now().After(deadline) {
				log.Printf("[SyncScheduler] Run ceiling reached for line %d, leaving remaining flags for next cycle", lineID)
				wg.Wait()
				return abortErr
			}
			mu.Lock()
			aborted := abortErr != nil
			mu.Unlock()
			if aborted {
				break
			}

			sr := &syncedRow{Cruise: row}
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()

				err := s.syncRow(ctx, sr)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
				case traveltek.IsConnectivity(err):
					if abortErr == nil {
						abortErr = err
					}
				default:
					summary.Failed++
					summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", sr.ExternalID, err))
				}
				recordOutcome(summary, sr, err)
			}()
		}
		wg.Wait()

		if abortErr != nil {
			return abortErr
		}

		// Advance past this page. A row re-flagged with a newer request
		// while it was in flight sorts after the cursor and is picked up
		// again before the pass ends.
		last := rows[len(rows)-1]
		cursor = repository.FlagCursor{ID: last.ID}
		if last.PriceUpdateRequestedAt != nil {
			cursor.RequestedAt = *last.PriceUpdateRequestedAt
		}
	}
}

// recordOutcome tallies a finished row into the summary. Called with the
// summary mutex held.
func recordOutcome(summary *model.RunSummary, row *syncedRow, err error) {
	if err != nil {
		return
	}
	summary.Processed++
	switch {
	case row.deactivated:
		summary.Deactivated++
	case row.created:
		summary.Created++
	default:
		summary.Updated++
	}
}

// syncedRow carries a cruise through one sync attempt with its outcome.
type syncedRow struct {
	model.Cruise
	created     bool
	deactivated bool
}

// syncRow re-fetches one cruise and writes it back: snapshot the prior
// prices, upsert the new document, then clear the flag. The flag is
// cleared only after a successful write so a crash in between leaves the
// row flagged and it is retried next cycle.
func (s *Scheduler) syncRow(ctx context.Context, row *syncedRow) error {
	path := traveltek.DocPath(row.LineID, row.ShipID, row.ExternalID, row.SailDate)

	data, err := s.source.Fetch(ctx, path)
	if traveltek.IsNotFound(err) {
		// Gone from the feed: deactivate rather than fail the batch.
		if derr := s.cruises.Deactivate(ctx, row.ExternalID); derr != nil {
			return derr
		}
		row.deactivated = true
		return nil
	}
	if err != nil {
		return err
	}

	doc, err := traveltek.Parse(data)
	if err != nil {
		return err
	}

	snapshot := &model.PriceSnapshot{
		CruiseID:        row.ID,
		ExternalID:      row.ExternalID,
		CheapestInside:  row.CheapestInside,
		CheapestOutside: row.CheapestOutside,
		CheapestBalcony: row.CheapestBalcony,
		CheapestSuite:   row.CheapestSuite,
		Currency:        row.Currency,
		SnapshotAt:      time.Now().UTC(),
	}
	if err := s.snapshots.Append(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to snapshot prior prices: %w", err)
	}

	created, err := s.cruises.Upsert(ctx, cruiseFromDocument(doc))
	if err != nil {
		return err
	}
	row.created = created

	// Clear conditionally on the request timestamp the row was selected
	// with. A notification landing mid-sync refreshes the timestamp, so
	// its flag survives this clear and the row is fetched again.
	var claimedAt time.Time
	if row.PriceUpdateRequestedAt != nil {
		claimedAt = *row.PriceUpdateRequestedAt
	}
	if err := s.cruises.ClearFlag(ctx, row.ExternalID, claimedAt); err != nil {
		return err
	}
	return nil
}

// cruiseFromDocument maps a parsed feed document onto the stored row.
func cruiseFromDocument(doc *traveltek.Document) *model.Cruise {
	return &model.Cruise{
		ExternalID:      doc.ExternalID,
		CruiseID:        doc.CruiseID,
		LineID:          doc.LineID,
		ShipID:          doc.ShipID,
		Name:            doc.Name,
		SailDate:        doc.SailDate,
		Nights:          doc.Nights,
		Currency:        doc.Currency,
		CheapestInside:  doc.Cheapest.Inside,
		CheapestOutside: doc.Cheapest.Outside,
		CheapestBalcony: doc.Cheapest.Balcony,
		CheapestSuite:   doc.Cheapest.Suite,
		RawJSON:         doc.Raw,
	}
}

// Reseed is the administrative truncate-and-reload path: it parses the
// supplied raw documents and replaces the whole cruise table in chunks.
// Unparseable documents are skipped and reported, not fatal.
func (s *Scheduler) Reseed(ctx context.Context, rawDocs []json.RawMessage) (loaded, skipped int, err error) {
	rows := make([]model.Cruise, 0, len(rawDocs))
	for i, raw := range rawDocs {
		doc, perr := traveltek.Parse(raw)
		if perr != nil {
			log.Printf("[SyncScheduler] Reseed: skipping document %d: %v", i, perr)
			skipped++
			continue
		}
		rows = append(rows, *cruiseFromDocument(doc))
	}

	if err := s.cruises.ReplaceAll(ctx, rows, s.cfg.ReseedChunk); err != nil {
		return 0, skipped, err
	}
	log.Printf("[SyncScheduler] Reseed: loaded %d cruises, skipped %d", len(rows), skipped)
	return len(rows), skipped, nil
}
