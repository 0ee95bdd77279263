package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/livecast/internal/models"
	"github.com/pion/logging"

	livelog "github.com/mossy-p/livecast/internal/logging"
)

const defaultHandshakeTimeout = 10 * time.Second

// Handler receives one decoded message. Handlers of a channel are invoked
// one at a time, in delivery order.
type Handler func(msg models.SignalMessage)

// Options configures a Channel.
type Options struct {
	// HandshakeTimeout bounds the subscribe handshake. Defaults to 10s.
	HandshakeTimeout time.Duration

	// OnReady is called once the subscription is confirmed and queued
	// messages have been flushed.
	OnReady func()

	// OnError is called at most once: if the handshake fails or stalls, or
	// if the transport is lost after the subscription was confirmed. The
	// channel does not retry.
	OnError func(error)

	LoggerFactory logging.LoggerFactory
}

type channelState int

const (
	stateJoining channelState = iota
	stateReady
	stateFailed
	stateClosed
)

// Channel is a bidirectional broadcast topic scoped to one streamer.
type Channel struct {
	transport  Transport
	streamerID string
	topic      string
	id         string
	opts       Options
	log        logging.LeveledLogger

	// sendMu keeps publishes in Send call order, across the flush of
	// messages queued during the handshake.
	sendMu sync.Mutex

	mu       sync.Mutex
	started  bool
	state    channelState
	err      error
	conn     Conn
	pending  [][]byte
	handlers map[models.SignalType]Handler

	ready  chan struct{}
	cancel context.CancelFunc
}

// New returns an unsubscribed channel for streamerID's topic. Register
// handlers with On, then call Subscribe.
func New(t Transport, streamerID string, opts Options) *Channel {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}

	return &Channel{
		transport:  t,
		streamerID: streamerID,
		topic:      models.Topic(streamerID),
		id:         uuid.NewString(),
		opts:       opts,
		log:        livelog.OrDefault(opts.LoggerFactory).NewLogger("signal"),
		handlers:   make(map[models.SignalType]Handler),
		ready:      make(chan struct{}),
		cancel:     func() {},
	}
}

// Open is New followed by Subscribe.
func Open(t Transport, streamerID string, opts Options) *Channel {
	c := New(t, streamerID, opts)
	c.Subscribe()
	return c
}

// Subscribe starts the asynchronous handshake. Messages sent before it
// completes are queued. Only the first call has any effect.
func (c *Channel) Subscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.state == stateClosed {
		return
	}
	c.started = true

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
	c.cancel = cancel
	go c.join(ctx, cancel)
}

// Topic returns the topic name, live-<streamerId>
func (c *Channel) Topic() string {
	return c.topic
}

// On registers the handler for one message type, replacing any previous one.
func (c *Channel) On(t models.SignalType, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed {
		return
	}
	c.handlers[t] = h
}

// Send broadcasts msg to every other subscriber of the topic.
func (c *Channel) Send(msg models.SignalMessage) error {
	data, err := models.Encode(msg, c.id)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	switch c.state {
	case stateJoining:
		c.pending = append(c.pending, data)
		c.mu.Unlock()
		c.log.Debugf("queued %s on %s until subscribed", msg.Type(), c.topic)
		return nil
	case stateFailed:
		err := c.err
		c.mu.Unlock()
		return err
	case stateClosed:
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	c.mu.Unlock()

	return c.publish(conn, data)
}

func (c *Channel) publish(conn Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
	defer cancel()
	if err := conn.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish on %s: %w", c.topic, err)
	}
	return nil
}

// Ready blocks until the handshake settles. It returns nil once the
// channel is subscribed, or the error that failed it.
func (c *Channel) Ready(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed && c.err == nil {
		return ErrClosed
	}
	return c.err
}

// Close unsubscribes and releases the topic. Safe to call repeatedly.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	wasJoining := c.state == stateJoining
	c.state = stateClosed
	conn := c.conn
	cancel := c.cancel
	c.conn = nil
	c.pending = nil
	c.handlers = nil
	c.mu.Unlock()

	cancel()
	if wasJoining {
		close(c.ready)
	}
	if conn != nil {
		c.log.Debugf("closing %s", c.topic)
		return conn.Close()
	}
	return nil
}

func (c *Channel) join(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()

	if c.streamerID == "" {
		c.fail(ErrNoTopic)
		return
	}

	conn, err := c.transport.Join(ctx, c.topic)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: %s timed out after %s", ErrHandshake, c.topic, c.opts.HandshakeTimeout)
		} else {
			err = fmt.Errorf("%w: %s: %v", ErrHandshake, c.topic, err)
		}
		c.fail(err)
		return
	}

	c.sendMu.Lock()
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		c.sendMu.Unlock()
		conn.Close()
		return
	}
	c.state = stateReady
	c.conn = conn
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, data := range pending {
		if err := c.publish(conn, data); err != nil {
			c.log.Warnf("flush queued message: %v", err)
		}
	}
	c.sendMu.Unlock()

	c.log.Debugf("subscribed to %s (%d queued)", c.topic, len(pending))
	close(c.ready)
	if c.opts.OnReady != nil {
		c.opts.OnReady()
	}

	// Handlers and a loss report only ever follow OnReady.
	go c.dispatch(conn)
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateFailed
	c.err = err
	dropped := len(c.pending)
	c.pending = nil
	c.mu.Unlock()

	c.log.Warnf("%v (%d queued messages discarded)", err, dropped)
	close(c.ready)
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// lose fails a subscribed channel whose transport stopped delivering.
func (c *Channel) lose(conn Conn) {
	c.mu.Lock()
	if c.state != stateReady || c.conn != conn {
		c.mu.Unlock()
		return
	}
	err := fmt.Errorf("%w: %s", ErrTransportLost, c.topic)
	c.state = stateFailed
	c.err = err
	c.conn = nil
	c.mu.Unlock()

	c.log.Warnf("%v", err)
	conn.Close()
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

func (c *Channel) dispatch(conn Conn) {
	defer c.lose(conn)

	for data := range conn.Messages() {
		env, msg, err := models.Decode(data)
		if err != nil {
			c.log.Debugf("dropping frame on %s: %v", c.topic, err)
			continue
		}
		if env.From == c.id {
			continue
		}

		c.mu.Lock()
		if c.state == stateClosed {
			c.mu.Unlock()
			return
		}
		h := c.handlers[msg.Type()]
		c.mu.Unlock()

		if h == nil {
			c.log.Debugf("no handler for %s on %s", msg.Type(), c.topic)
			continue
		}
		h(msg)
	}
}
