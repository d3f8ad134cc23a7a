package ledger

import (
	"context"
	"sort"
	"sync"
	"time"
)

type inMemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]Entry
	claims  map[string]string
	now     func() time.Time
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		entries: make(map[string]Entry),
		claims:  make(map[string]string),
		now:     time.Now,
	}
}

func (l *inMemoryLedger) Record(_ context.Context, entry Entry) (Outcome, error) {
	if err := entry.Validate(); err != nil {
		return 0, err
	}
	if entry.SettledAt.IsZero() {
		entry.SettledAt = l.now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[entry.TxHash]; exists {
		return Duplicate, nil
	}
	l.entries[entry.TxHash] = entry
	return Inserted, nil
}

func (l *inMemoryLedger) Get(_ context.Context, txHash string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.entries[txHash]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (l *inMemoryLedger) HasPurpose(_ context.Context, identityID string, purpose Purpose) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		if e.IdentityID == identityID && e.Purpose == purpose {
			return true, nil
		}
	}
	return false, nil
}

func (l *inMemoryLedger) Totals(_ context.Context) (Totals, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var t Totals
	for _, e := range l.entries {
		if e.Amount > 0 {
			t.ToPublic += e.Amount
		} else {
			t.FromPublic -= e.Amount
		}
	}
	return t, nil
}

func (l *inMemoryLedger) ListForIdentity(_ context.Context, identityID string, limit int) ([]Entry, error) {
	return l.filter(normalizeLimit(limit), func(e Entry) bool {
		return e.IdentityID == identityID
	}), nil
}

func (l *inMemoryLedger) ListIncomingForAddress(_ context.Context, counterparty, excludeIdentityID string, purpose Purpose, limit int) ([]Entry, error) {
	return l.filter(normalizeLimit(limit), func(e Entry) bool {
		return e.Counterparty == counterparty && e.IdentityID != excludeIdentityID && e.Purpose == purpose
	}), nil
}

func (l *inMemoryLedger) ClaimReward(_ context.Context, claimKey, identityID string) (Claim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if holder, exists := l.claims[claimKey]; exists {
		return Claim{Outcome: Duplicate, HolderID: holder}, nil
	}
	l.claims[claimKey] = identityID
	return Claim{Outcome: Inserted, HolderID: identityID}, nil
}

func (l *inMemoryLedger) ReleaseClaim(_ context.Context, claimKey, identityID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.claims[claimKey] == identityID {
		delete(l.claims, claimKey)
	}
	return nil
}

func (l *inMemoryLedger) filter(limit int, keep func(Entry) bool) []Entry {
	l.mu.RLock()
	out := make([]Entry, 0)
	for _, e := range l.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SettledAt.After(out[j].SettledAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
