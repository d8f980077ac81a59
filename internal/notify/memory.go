package notify

import (
	"context"
	"sync"
)

// MemoryNotifier records notifications for tests.
type MemoryNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

// NewMemoryNotifier returns an empty recorder.
func NewMemoryNotifier() *MemoryNotifier { return &MemoryNotifier{} }

// Notify appends the notification.
func (m *MemoryNotifier) Notify(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, n)
	return nil
}

// Notifications returns a copy of everything delivered so far.
func (m *MemoryNotifier) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, len(m.notes))
	copy(out, m.notes)
	return out
}

// Close is a no-op.
func (m *MemoryNotifier) Close() error { return nil }
