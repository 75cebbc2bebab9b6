package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
)

const sendBufferSize = 16

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (that *client) close() {
	that.once.Do(func() {
		close(that.done)
	})
}

// Hub - tracks the live connections of this process by endpoint id.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub - creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
	}
}

// Send - queues payload for endpointID. It fails with apperror.ErrTransportUnavailable
// when the endpoint is not connected here or is closing.
func (that *Hub) Send(ctx context.Context, endpointID string, payload []byte) error {
	that.mu.RLock()
	c, ok := that.clients[endpointID]
	that.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", apperror.ErrTransportUnavailable, endpointID)
	}

	// a ready buffer must not win against a close that already happened
	select {
	case <-c.done:
		return fmt.Errorf("%w: %s is closing", apperror.ErrTransportUnavailable, endpointID)
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return fmt.Errorf("%w: %s is closing", apperror.ErrTransportUnavailable, endpointID)
	case <-ctx.Done():
		return fmt.Errorf("failed to queue message: %w", ctx.Err())
	}
}

// Endpoints - returns the ids of all connections registered right now.
func (that *Hub) Endpoints() []string {
	that.mu.RLock()
	defer that.mu.RUnlock()

	ids := make([]string, 0, len(that.clients))
	for id := range that.clients {
		ids = append(ids, id)
	}

	return ids
}

// CloseAll - closes every registered connection.
func (that *Hub) CloseAll() {
	that.mu.Lock()
	defer that.mu.Unlock()

	for id, c := range that.clients {
		c.close()
		_ = c.conn.Close()
		delete(that.clients, id)
	}
}

func (that *Hub) register(endpointID string, conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	that.mu.Lock()
	that.clients[endpointID] = c
	that.mu.Unlock()

	return c
}

func (that *Hub) unregister(endpointID string) {
	that.mu.Lock()
	c, ok := that.clients[endpointID]
	delete(that.clients, endpointID)
	that.mu.Unlock()

	if ok {
		c.close()
	}
}
