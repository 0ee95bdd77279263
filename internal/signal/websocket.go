package signal

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/livecast/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WebSocketTransport joins topics through the signaling server's
// /ws/signal/:topic bridge.
type WebSocketTransport struct {
	// URL is the server base, e.g. ws://localhost:8080
	URL    string
	Header http.Header
	Dialer *websocket.Dialer
}

// NewWebSocketTransport returns a transport dialing baseURL
func NewWebSocketTransport(baseURL string, header http.Header) *WebSocketTransport {
	return &WebSocketTransport{URL: baseURL, Header: header, Dialer: websocket.DefaultDialer}
}

// Join dials the bridge and waits for its subscribed frame.
func (t *WebSocketTransport) Join(ctx context.Context, topic string) (Conn, error) {
	if topic == "" {
		return nil, ErrNoTopic
	}

	endpoint := strings.TrimRight(t.URL, "/") + "/ws/signal/" + url.PathEscape(topic)
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	ws, _, err := dialer.DialContext(ctx, endpoint, t.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	if err := awaitSubscribed(ctx, ws); err != nil {
		ws.Close()
		return nil, err
	}

	c := &wsConn{
		ws:   ws,
		send: make(chan []byte, 256),
		msgs: make(chan []byte, 64),
		done: make(chan struct{}),
		lost: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writePump()
	go c.readPump()
	return c, nil
}

func awaitSubscribed(ctx context.Context, ws *websocket.Conn) error {
	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	defer ws.SetReadDeadline(time.Time{})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await subscription: %w", err)
		}
		frame, ok := models.DecodeSystem(data)
		if !ok {
			continue
		}
		if frame.Event == models.SystemEventSubscribed {
			return nil
		}
		if frame.Error != "" {
			return fmt.Errorf("bridge: %s", frame.Error)
		}
	}
}

type wsConn struct {
	ws   *websocket.Conn
	send chan []byte
	msgs chan []byte
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// lost is closed once either pump has given up on the socket.
	lost     chan struct{}
	lostOnce sync.Once
}

func (c *wsConn) markLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

func (c *wsConn) readPump() {
	defer func() {
		c.markLost()
		close(c.msgs)
	}()

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if _, ok := models.DecodeSystem(data); ok {
			continue
		}
		select {
		case c.msgs <- data:
		case <-c.done:
			return
		}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.wg.Done()
	}()

	// A failed write closes the socket so readPump stops too.
	broken := func() {
		c.markLost()
		c.ws.Close()
	}

	for {
		select {
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				broken()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				broken()
				return
			}
		case <-c.lost:
			return
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(time.Second))
			// Publishes accepted before Close still go out.
			for {
				select {
				case data := <-c.send:
					if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
					continue
				default:
				}
				break
			}
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *wsConn) Messages() <-chan []byte {
	return c.msgs
}

func (c *wsConn) Publish(ctx context.Context, data []byte) error {
	select {
	case <-c.lost:
		return ErrTransportLost
	default:
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	case <-c.lost:
		return ErrTransportLost
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.wg.Wait()
		err = c.ws.Close()
	})
	return err
}
