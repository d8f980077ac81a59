package history

import (
	"context"
	"sync"
)

// NopArchiver discards everything. It stands in when no archive is
// configured so callers never branch on a nil archiver.
type NopArchiver struct{}

// Record discards the entries.
func (NopArchiver) Record(context.Context, []Entry) error { return nil }

// Close is a no-op.
func (NopArchiver) Close() {}

// MemoryArchiver collects entries in memory for tests.
type MemoryArchiver struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryArchiver returns an empty in-memory archive.
func NewMemoryArchiver() *MemoryArchiver { return &MemoryArchiver{} }

// Record appends the entries.
func (a *MemoryArchiver) Record(_ context.Context, entries []Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entries...)
	return nil
}

// Entries returns a copy of everything recorded so far.
func (a *MemoryArchiver) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Close is a no-op.
func (a *MemoryArchiver) Close() {}
