package signal

import (
	"context"
	"sync"
)

// MemoryHub is an in-process Transport. Every subscriber of a topic,
// including the publisher, receives each published frame in publish order.
type MemoryHub struct {
	mu      sync.Mutex
	topics  map[string]map[*memoryConn]struct{}
	joinErr error
}

// NewMemoryHub returns an empty hub
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{topics: make(map[string]map[*memoryConn]struct{})}
}

// FailJoins makes every subsequent Join return err. A nil err restores normal joins.
func (h *MemoryHub) FailJoins(err error) {
	h.mu.Lock()
	h.joinErr = err
	h.mu.Unlock()
}

// Subscribers returns the number of open subscriptions on topic
func (h *MemoryHub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Inject delivers a raw frame to every subscriber of topic.
func (h *MemoryHub) Inject(topic string, data []byte) {
	h.mu.Lock()
	conns := make([]*memoryConn, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.deliver(data)
	}
}

// Drop cuts every subscription on topic as a failed network would.
func (h *MemoryHub) Drop(topic string) {
	h.mu.Lock()
	conns := make([]*memoryConn, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *MemoryHub) Join(ctx context.Context, topic string) (Conn, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.joinErr != nil {
		return nil, h.joinErr
	}

	c := &memoryConn{
		hub:   h,
		topic: topic,
		msgs:  make(chan []byte),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*memoryConn]struct{})
	}
	h.topics[topic][c] = struct{}{}
	go c.pump()
	return c, nil
}

func (h *MemoryHub) leave(c *memoryConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics[c.topic], c)
	if len(h.topics[c.topic]) == 0 {
		delete(h.topics, c.topic)
	}
}

// memoryConn queues without bound so a publisher never blocks on a slow reader.
type memoryConn struct {
	hub   *MemoryHub
	topic string
	msgs  chan []byte
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once

	mu    sync.Mutex
	queue [][]byte
}

func (c *memoryConn) deliver(data []byte) {
	c.mu.Lock()
	c.queue = append(c.queue, data)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *memoryConn) pump() {
	defer close(c.msgs)
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			select {
			case <-c.wake:
				continue
			case <-c.done:
				return
			}
		}
		next := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		select {
		case c.msgs <- next:
		case <-c.done:
			return
		}
	}
}

func (c *memoryConn) Messages() <-chan []byte {
	return c.msgs
}

func (c *memoryConn) Publish(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.hub.Inject(c.topic, data)
	return nil
}

func (c *memoryConn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.hub.leave(c)
	})
	return nil
}
