package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/risk-governor/internal/repository"
	"github.com/risk-governor/internal/risk"
)

// LedgerStore persists account ledgers
type LedgerStore interface {
	LoadLedger(ctx context.Context, accountID uint) (risk.Ledger, error)
	CommitLedger(ctx context.Context, c repository.LedgerCommit) error
}

// maxConflictReloads bounds how often a commit is retried after another
// process changed the account row underneath this one.
const maxConflictReloads = 3

// errCommitUnknown means a commit failed and its retry found the row already
// moved, so the first attempt may have been applied.
var errCommitUnknown = errors.New("commit outcome unknown")

type ledgerSlot struct {
	mu     sync.RWMutex
	ledger *risk.Ledger
}

// LedgerBook is the single writer of account ledgers in this process. Each
// account has its own lock, so work on different accounts never contends.
type LedgerBook struct {
	store LedgerStore
	retry RetryPolicy

	mu    sync.Mutex
	slots map[uint]*ledgerSlot
}

// NewLedgerBook creates a LedgerBook backed by store. Failed loads and
// commits are retried according to retry.
func NewLedgerBook(store LedgerStore, retry RetryPolicy) *LedgerBook {
	return &LedgerBook{
		store: store,
		retry: retry,
		slots: make(map[uint]*ledgerSlot),
	}
}

func (b *LedgerBook) slot(accountID uint) *ledgerSlot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[accountID]
	if !ok {
		s = &ledgerSlot{}
		b.slots[accountID] = s
	}
	return s
}

// loadLocked fills the slot from the store. Caller holds s.mu exclusively.
func (b *LedgerBook) loadLocked(ctx context.Context, accountID uint, s *ledgerSlot) error {
	var l risk.Ledger
	err := b.retry.do(ctx, func(ctx context.Context) error {
		var err error
		l, err = b.store.LoadLedger(ctx, accountID)
		if errors.Is(err, repository.ErrAccountNotFound) {
			return permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return err
		}
		return fmt.Errorf("%w: load ledger: %v", risk.ErrSystemUnavailable, err)
	}
	s.ledger = &l
	return nil
}

// commit persists c, retrying transient failures. A version conflict is
// returned as is for the caller to reload.
func (b *LedgerBook) commit(ctx context.Context, c repository.LedgerCommit) error {
	failed := false
	return b.retry.do(ctx, func(ctx context.Context) error {
		err := b.store.CommitLedger(ctx, c)
		if errors.Is(err, repository.ErrVersionConflict) {
			if failed {
				return permanent(errCommitUnknown)
			}
			return permanent(err)
		}
		failed = err != nil
		return err
	})
}

// Read returns the current ledger of an account under a shared lock
func (b *LedgerBook) Read(ctx context.Context, accountID uint) (risk.Ledger, error) {
	s := b.slot(accountID)

	s.mu.RLock()
	if s.ledger != nil {
		l := *s.ledger
		s.mu.RUnlock()
		return l, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledger == nil {
		if err := b.loadLocked(ctx, accountID, s); err != nil {
			return risk.Ledger{}, err
		}
	}
	return *s.ledger, nil
}

// UpdateFunc derives a commit from the current ledger. It may return a
// non-empty commit together with an error; the commit is still persisted.
type UpdateFunc func(ctx context.Context, cur risk.Ledger) (repository.LedgerCommit, error)

// Update runs fn under the account's exclusive lock and persists the commit
// it returns as one transaction. The in-memory ledger is replaced only after
// the transaction succeeds. Once the lock is held the work is detached from
// ctx cancellation so a commit is never abandoned half way.
func (b *LedgerBook) Update(ctx context.Context, accountID uint, fn UpdateFunc) (risk.Ledger, error) {
	s := b.slot(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for reloads := 0; ; reloads++ {
		if s.ledger == nil {
			if err := b.loadLocked(ctx, accountID, s); err != nil {
				return risk.Ledger{}, err
			}
		}
		cur := *s.ledger

		commit, fnErr := fn(ctx, cur)
		if commit.Empty() {
			return cur, fnErr
		}
		if commit.Ledger != nil {
			commit.PrevVersion = cur.Version
		}

		err := b.commit(ctx, commit)
		if errors.Is(err, repository.ErrVersionConflict) && reloads < maxConflictReloads {
			s.ledger = nil
			continue
		}
		if err != nil {
			// the stored row may or may not have moved
			s.ledger = nil
			return cur, fmt.Errorf("%w: commit ledger: %v", risk.ErrSystemUnavailable, err)
		}

		if commit.Ledger != nil {
			next := *commit.Ledger
			s.ledger = &next
		}
		return *s.ledger, fnErr
	}
}
