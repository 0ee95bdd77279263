// Package directory records which streamers are live.
package directory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mossy-p/livecast/internal/models"
)

// ErrNoIdentity is returned when setting the live flag without an identity.
var ErrNoIdentity = errors.New("directory: empty identity")

// Lister is the read side, used by discovery.
type Lister interface {
	ListLive(ctx context.Context, excluding string) ([]models.DirectoryEntry, error)
}

// Writer is the write side, used by a streamer session.
type Writer interface {
	SetLive(ctx context.Context, id string, live bool, startedAt time.Time) error
}

// NamedWriter also stores a display name with the entry.
type NamedWriter interface {
	SetLiveNamed(ctx context.Context, id, displayName string, live bool, startedAt time.Time) error
}

// Directory is both sides.
type Directory interface {
	Lister
	Writer
}

// sortNewestFirst orders entries by LiveSince descending, then id, and
// truncates to limit when limit > 0.
func sortNewestFirst(entries []models.DirectoryEntry, limit int) []models.DirectoryEntry {
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].LiveSince.Equal(entries[j].LiveSince) {
			return entries[i].LiveSince.After(entries[j].LiveSince)
		}
		return entries[i].ID < entries[j].ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
