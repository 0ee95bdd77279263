package signal

import "context"

// Transport joins broadcast topics.
type Transport interface {
	// Join subscribes to topic and returns once the subscription is confirmed.
	Join(ctx context.Context, topic string) (Conn, error)
}

// Conn is one subscription to a topic.
// Messages is closed when the subscription ends.
type Conn interface {
	Messages() <-chan []byte
	Publish(ctx context.Context, data []byte) error
	Close() error
}
