package signal

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisTransport maps topics onto Redis pub/sub channels.
type RedisTransport struct {
	Client *redis.Client
}

// NewRedisTransport returns a transport publishing through client
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{Client: client}
}

// Join subscribes and waits for Redis to confirm the subscription.
func (t *RedisTransport) Join(ctx context.Context, topic string) (Conn, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}

	sub := t.Client.Subscribe(ctx, topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	c := &redisConn{
		client: t.Client,
		topic:  topic,
		sub:    sub,
		msgs:   make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go c.pump(sub.Channel())
	return c, nil
}

type redisConn struct {
	client *redis.Client
	topic  string
	sub    *redis.PubSub
	msgs   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (c *redisConn) pump(in <-chan *redis.Message) {
	defer close(c.msgs)
	for {
		select {
		case m, ok := <-in:
			if !ok {
				return
			}
			select {
			case c.msgs <- []byte(m.Payload):
			case <-c.done:
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *redisConn) Messages() <-chan []byte {
	return c.msgs
}

func (c *redisConn) Publish(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	return c.client.Publish(ctx, c.topic, data).Err()
}

func (c *redisConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.sub.Close()
	})
	return err
}
