package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"zipsea-sync-api/internal/repository"
	"zipsea-sync-api/pkg/uid"
)

// ErrAlreadyLocked signals that another holder owns the scope. It is a
// normal skip signal for the scheduler, not a failure.
var ErrAlreadyLocked = errors.New("sync: scope already locked")

// LockManager coordinates persisted, cross-process mutual exclusion per
// sync scope. Granularity is deliberately coarse: one lock guards a full
// sync pass for a scope, never an individual row.
type LockManager struct {
	repo       repository.LockRepository
	holder     string
	staleAfter time.Duration
}

// NewLockManager creates a lock manager with a process-unique holder
// identity, so a crashed worker's locks are distinguishable from ours.
func NewLockManager(repo repository.LockRepository, staleAfter time.Duration) *LockManager {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}
	return &LockManager{
		repo:       repo,
		holder:     fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uid.New()[:8]),
		staleAfter: staleAfter,
	}
}

// Holder returns this process's lock holder identity.
func (m *LockManager) Holder() string { return m.holder }

// Acquire takes the lock for a scope or fails with ErrAlreadyLocked. An
// active lock past the staleness threshold is presumed abandoned and is
// taken over.
func (m *LockManager) Acquire(ctx context.Context, scopeKey string) (*LockHandle, error) {
	acquired, err := m.repo.Acquire(ctx, scopeKey, m.holder, m.staleAfter)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLocked, scopeKey)
	}

	log.Printf("[LockManager] Acquired %s as %s", scopeKey, m.holder)
	return &LockHandle{mgr: m, scopeKey: scopeKey}, nil
}

// ReclaimStale deactivates abandoned locks so crashed holders do not
// block their scopes forever.
func (m *LockManager) ReclaimStale(ctx context.Context) (int64, error) {
	n, err := m.repo.ReclaimStale(ctx, m.staleAfter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Printf("[LockManager] Reclaimed %d stale locks", n)
	}
	return n, nil
}

// LockHandle represents one held lock. Release is idempotent.
type LockHandle struct {
	mgr      *LockManager
	scopeKey string
	once     sync.Once
}

// ScopeKey returns the scope this handle guards.
func (h *LockHandle) ScopeKey() string { return h.scopeKey }

// Release marks the lock inactive. Releasing twice is a no-op.
func (h *LockHandle) Release(ctx context.Context) error {
	var err error
	h.once.Do(func() {
		err = h.mgr.repo.Release(ctx, h.scopeKey, h.mgr.holder)
		if err == nil {
			log.Printf("[LockManager] Released %s", h.scopeKey)
		}
	})
	return err
}
