package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// CandidateBuffer holds remote ICE candidates that arrive before the
// remote description. It is drained exactly once per negotiation round.
type CandidateBuffer struct {
	mu      sync.Mutex
	items   []webrtc.ICECandidateInit
	drained bool
}

// Push queues c. It returns false once the buffer has been drained for
// this round, in which case the caller applies c directly.
func (b *CandidateBuffer) Push(c webrtc.ICECandidateInit) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return false
	}
	b.items = append(b.items, c)
	return true
}

// Drain returns the queued candidates in arrival order and clears the
// buffer. Subsequent calls in the same round return nil.
func (b *CandidateBuffer) Drain() []webrtc.ICECandidateInit {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drained {
		return nil
	}
	b.drained = true
	items := b.items
	b.items = nil
	return items
}

func (b *CandidateBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Reset discards queued candidates and starts a new round.
func (b *CandidateBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = nil
	b.drained = false
}
