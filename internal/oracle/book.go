package oracle

import (
	"sync"

	"github.com/google/uuid"
)

// ApplyResult describes what Book.Apply did with an update.
type ApplyResult int

const (
	Applied ApplyResult = iota
	AppliedAfterGap
	IgnoredStale
)

func (r ApplyResult) String() string {
	switch r {
	case Applied:
		return "applied"
	case AppliedAfterGap:
		return "applied_after_gap"
	case IgnoredStale:
		return "ignored_stale"
	default:
		return "unknown"
	}
}

// Book holds the latest reading per oracle key.
// Price sequences are monotonic per oracle: stale or duplicate updates are
// ignored, gaps are tolerated and counted.
type Book struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]Account
	gaps     map[uuid.UUID]int64
	// highest slot seen in any applied update
	latestSlot uint64
}

func NewBook() *Book {
	return &Book{
		accounts: make(map[uuid.UUID]Account),
		gaps:     make(map[uuid.UUID]int64),
	}
}

// Apply stores update if its sequence is newer than the stored one.
func (b *Book) Apply(update Account) ApplyResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, ok := b.accounts[update.Key]
	if ok && update.Sequence <= current.Sequence {
		return IgnoredStale
	}

	b.accounts[update.Key] = update
	if update.LastUpdateSlot > b.latestSlot {
		b.latestSlot = update.LastUpdateSlot
	}
	if ok && update.Sequence > current.Sequence+1 {
		b.gaps[update.Key]++
		return AppliedAfterGap
	}
	return Applied
}

func (b *Book) Get(key uuid.UUID) (Account, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	a, ok := b.accounts[key]
	return a, ok
}

// Overlay returns base with every reading replaced by the book's newer one.
func (b *Book) Overlay(base []Account) []Account {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Account, len(base))
	for i, a := range base {
		if live, ok := b.accounts[a.Key]; ok && live.Sequence >= a.Sequence {
			out[i] = live
			continue
		}
		out[i] = a
	}
	return out
}

func (b *Book) Snapshot() map[uuid.UUID]Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[uuid.UUID]Account, len(b.accounts))
	for k, v := range b.accounts {
		out[k] = v
	}
	return out
}

func (b *Book) Gaps(key uuid.UUID) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gaps[key]
}

func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.accounts)
}

// LatestSlot is the newest slot any applied reading was taken at. The
// service uses it as the current slot for staleness checks.
func (b *Book) LatestSlot() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latestSlot
}
