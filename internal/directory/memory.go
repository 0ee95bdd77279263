package directory

import (
	"context"
	"sync"
	"time"

	"github.com/mossy-p/livecast/internal/models"
)

// Memory is an in-process Directory for single-process runs and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]models.DirectoryEntry
	limit   int

	// err, when set, fails every call
	err error
}

func NewMemory(limit int) *Memory {
	return &Memory{entries: make(map[string]models.DirectoryEntry), limit: limit}
}

// Fail makes every call return err until called again with nil.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) ListLive(ctx context.Context, excluding string) ([]models.DirectoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	out := make([]models.DirectoryEntry, 0, len(m.entries))
	for id, e := range m.entries {
		if id != excluding {
			out = append(out, e)
		}
	}
	return sortNewestFirst(out, m.limit), nil
}

func (m *Memory) SetLive(ctx context.Context, id string, live bool, startedAt time.Time) error {
	return m.SetLiveNamed(ctx, id, "", live, startedAt)
}

func (m *Memory) SetLiveNamed(ctx context.Context, id, displayName string, live bool, startedAt time.Time) error {
	if id == "" {
		return ErrNoIdentity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	if !live {
		delete(m.entries, id)
		return nil
	}
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	m.entries[id] = models.DirectoryEntry{ID: id, DisplayName: displayName, LiveSince: startedAt}
	return nil
}

// IsLive reports whether id is currently flagged live
func (m *Memory) IsLive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[id]
	return ok
}
