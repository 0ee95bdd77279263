// Package discovery keeps the viewer's list of live streamers and decides
// which one to show.
package discovery

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mossy-p/livecast/internal/directory"
	"github.com/mossy-p/livecast/internal/models"
	"github.com/pion/logging"

	livelog "github.com/mossy-p/livecast/internal/logging"
)

const (
	defaultInterval     = 60 * time.Second
	defaultSoloInterval = 15 * time.Second
)

// Policy decides what a periodic tick does after refreshing.
type Policy int

const (
	// PolicySticky keeps the current streamer while it stays live.
	PolicySticky Policy = iota
	// PolicyRotate picks a random streamer on every tick.
	PolicyRotate
)

// Config configures a Pool.
type Config struct {
	Directory directory.Lister

	// Self is excluded from the pool.
	Self string

	Interval time.Duration
	// SoloInterval replaces Interval while the pool has at most one entry,
	// so a lone streamer's departure is noticed sooner.
	SoloInterval time.Duration

	Policy Policy

	// Rand drives selection; nil uses the global source.
	Rand *rand.Rand

	// OnChange is called when the selected streamer changes, with nil when
	// the pool empties.
	OnChange func(current *models.DirectoryEntry)

	LoggerFactory logging.LoggerFactory
}

// Pool is the viewer-side cache of live streamers.
type Pool struct {
	cfg Config
	log logging.LeveledLogger

	mu      sync.Mutex
	entries []models.DirectoryEntry
	current *models.DirectoryEntry

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config) *Pool {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.SoloInterval <= 0 {
		cfg.SoloInterval = defaultSoloInterval
	}
	return &Pool{
		cfg: cfg,
		log: livelog.OrDefault(cfg.LoggerFactory).NewLogger("discovery"),
	}
}

// Refresh replaces the pool with the directory's live entries. If the
// current selection is gone a new one is made before returning. On error
// the previous pool and selection are kept.
func (p *Pool) Refresh(ctx context.Context) error {
	listed, err := p.cfg.Directory.ListLive(ctx, p.cfg.Self)
	if err != nil {
		p.log.Warnf("refresh failed, keeping %d entries: %v", p.Len(), err)
		return err
	}

	seen := make(map[string]bool, len(listed))
	entries := make([]models.DirectoryEntry, 0, len(listed))
	for _, e := range listed {
		if e.ID == "" || e.ID == p.cfg.Self || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		entries = append(entries, e)
	}

	p.mu.Lock()
	before := currentID(p.current)
	p.entries = entries
	if idx := indexOf(entries, before); idx >= 0 {
		e := entries[idx]
		p.current = &e
	} else {
		p.selectLocked()
	}
	after := p.current
	p.mu.Unlock()

	p.log.Debugf("pool refreshed: %d live", len(entries))
	p.notify(before, after)
	return nil
}

// PickRandom selects uniformly from the pool and returns the selection,
// or clears it when the pool is empty.
func (p *Pool) PickRandom() *models.DirectoryEntry {
	p.mu.Lock()
	before := currentID(p.current)
	p.selectLocked()
	after := p.current
	p.mu.Unlock()

	p.notify(before, after)
	return copyEntry(after)
}

// Current returns the selected streamer, or nil
func (p *Pool) Current() *models.DirectoryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyEntry(p.current)
}

// Entries returns the pool, newest first
func (p *Pool) Entries() []models.DirectoryEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.DirectoryEntry(nil), p.entries...)
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Start refreshes now and then on every tick until Stop or ctx ends.
// Calling Start on a running pool does nothing.
func (p *Pool) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
}

// Stop ends the rotation loop and waits for it. Safe to call repeatedly.
func (p *Pool) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (p *Pool) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.Refresh(ctx)
	timer := time.NewTimer(p.nextInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := p.Refresh(ctx); err == nil && p.cfg.Policy == PolicyRotate {
			p.PickRandom()
		}
		timer.Reset(p.nextInterval())
	}
}

func (p *Pool) nextInterval() time.Duration {
	if p.Len() <= 1 {
		return p.cfg.SoloInterval
	}
	return p.cfg.Interval
}

func (p *Pool) selectLocked() {
	if len(p.entries) == 0 {
		p.current = nil
		return
	}
	var i int
	if p.cfg.Rand != nil {
		i = p.cfg.Rand.IntN(len(p.entries))
	} else {
		i = rand.IntN(len(p.entries))
	}
	e := p.entries[i]
	p.current = &e
}

func (p *Pool) notify(before string, after *models.DirectoryEntry) {
	if currentID(after) == before {
		return
	}
	if after == nil {
		p.log.Infof("no streamer live")
	} else {
		p.log.Infof("now showing %s", after.ID)
	}
	if p.cfg.OnChange != nil {
		p.cfg.OnChange(copyEntry(after))
	}
}

func currentID(e *models.DirectoryEntry) string {
	if e == nil {
		return ""
	}
	return e.ID
}

func indexOf(entries []models.DirectoryEntry, id string) int {
	if id == "" {
		return -1
	}
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func copyEntry(e *models.DirectoryEntry) *models.DirectoryEntry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
