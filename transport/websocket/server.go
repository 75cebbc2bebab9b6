package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/pkg"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096

	shutdownTimeout   = 5 * time.Second
	disconnectTimeout = 5 * time.Second
)

type messageHandler interface {
	Connect(ctx context.Context, endpointID string) error
	Disconnect(ctx context.Context, endpointID string) error
	HandleMessage(ctx context.Context, endpointID string, raw []byte) error
}

// Server - serves WebSocket connections and feeds their messages to the handler.
type Server struct {
	logger   *slog.Logger
	handler  messageHandler
	hub      *Hub
	upgrader websocket.Upgrader
}

// New - creates a WebSocket server.
func New(logger *slog.Logger, handler messageHandler, hub *Hub) *Server {
	return &Server{
		logger:  logger.With("component", "websocket"),
		handler: handler,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler - returns the HTTP handler serving the /ws endpoint.
func (that *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", that.serveWS)

	return mux
}

// Start - starts WebSocket server and blocks until ctx is done.
func (that *Server) Start(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           that.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			that.logger.Error("failed to shutdown server", "error", err)
		}

		// hijacked connections are not closed by Shutdown
		that.hub.CloseAll()
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

func (that *Server) serveWS(writer http.ResponseWriter, req *http.Request) {
	log := that.logger.With("method", "serveWS")

	conn, err := that.upgrader.Upgrade(writer, req, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		log.Info("failed to upgrade connection", "error", err)
		return
	}

	ctx := req.Context()
	endpointID := pkg.GenerateEndpointID()
	log = log.With("endpointID", endpointID)

	c := that.hub.register(endpointID, conn)

	if err = that.handler.Connect(ctx, endpointID); err != nil {
		log.Error("failed to register connection", "error", err)
		that.hub.unregister(endpointID)
		_ = conn.Close()

		return
	}

	log.Info("WebSocket connection established")

	go that.writePump(c)

	that.readPump(ctx, endpointID, c)

	that.hub.unregister(endpointID)

	disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()

	if err = that.handler.Disconnect(disconnectCtx, endpointID); err != nil {
		log.Error("failed to deregister connection", "error", err)
	}

	log.Info("WebSocket connection closed")
}

func (that *Server) readPump(ctx context.Context, endpointID string, c *client) {
	log := that.logger.With("method", "readPump", "endpointID", endpointID)

	defer func() {
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("unexpected close", "error", err)
			}

			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if err = that.handler.HandleMessage(ctx, endpointID, data); err != nil {
			if errors.Is(err, apperror.ErrTransportUnavailable) {
				log.Debug("endpoint went away while handling message", "error", err)
				return
			}

			log.Error("error processing message", "error", err)
		}
	}
}

func (that *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}
