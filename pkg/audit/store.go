package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store provides read access to recorded entries
type Store interface {
	// Query returns entries matching every provided filter, newest first
	Query(ctx context.Context, filter Filter) ([]*Entry, error)
}

// Export queries the store and serializes the result
func Export(ctx context.Context, store Store, filter Filter, format ExportFormat) ([]byte, error) {
	entries, err := store.Query(ctx, filter)
	if err != nil {
		return nil, err
	}

	switch format {
	case ExportFormatCSV:
		return ExportCSV(entries), nil
	case ExportFormatJSON, "":
		return exportJSON(entries)
	case ExportFormatNDJSON:
		return exportNDJSON(entries)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// MemoryLog is an append-only in-memory audit log. It is both a Logger and a
// Store.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryLog creates an empty log, optionally seeded with replayed entries
func NewMemoryLog(seed ...*Entry) *MemoryLog {
	l := &MemoryLog{}
	for _, e := range seed {
		cp := *e
		l.entries = append(l.entries, &cp)
	}
	return l
}

// Append records a copy of the entry
func (l *MemoryLog) Append(ctx context.Context, entry *Entry) error {
	cp := *entry
	l.mu.Lock()
	l.entries = append(l.entries, &cp)
	l.mu.Unlock()
	return nil
}

// Query returns copies of the matching entries sorted by timestamp descending
func (l *MemoryLog) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	l.mu.RLock()
	out := make([]*Entry, 0)
	// newest insertion first so equal timestamps keep append order reversed
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if filter.Matches(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Len returns the number of recorded entries
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close is a no-op
func (l *MemoryLog) Close() error {
	return nil
}
