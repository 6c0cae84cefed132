package source

import "sync"

type ledgerEntry struct {
	id      int64
	offsets []int64
}

// pendingLedger holds progress snapshots awaiting a completion notification,
// in checkpoint-id order. At most one entry exists per id. Resolving an id
// also discards every older entry: once a newer checkpoint is confirmed,
// earlier pending ones are moot and their offsets are never committed.
type pendingLedger struct {
	mu      sync.Mutex
	entries []ledgerEntry
}

func (l *pendingLedger) Put(id int64, offsets []int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].id == id {
			l.entries[i].offsets = offsets
			return
		}
	}
	l.entries = append(l.entries, ledgerEntry{id: id, offsets: offsets})
}

// Resolve removes and returns the snapshot for id, pruning every entry with
// an id at or below it. The second return is false when id is not pending.
func (l *pendingLedger) Resolve(id int64) ([]int64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i := range l.entries {
		if l.entries[i].id == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, false
	}

	offsets := l.entries[idx].offsets
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.id <= id {
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return offsets, true
}

func (l *pendingLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}
