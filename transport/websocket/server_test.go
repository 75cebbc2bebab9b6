package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rocketscienceinc/tictactoe-live/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-live/internal/entity"
	"github.com/rocketscienceinc/tictactoe-live/internal/gateway"
	"github.com/rocketscienceinc/tictactoe-live/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echoHandler struct {
	hub          *Hub
	connected    chan string
	disconnected chan string
}

func newEchoHandler(hub *Hub) *echoHandler {
	return &echoHandler{
		hub:          hub,
		connected:    make(chan string, 1),
		disconnected: make(chan string, 1),
	}
}

func (that *echoHandler) Connect(_ context.Context, endpointID string) error {
	that.connected <- endpointID
	return nil
}

func (that *echoHandler) Disconnect(_ context.Context, endpointID string) error {
	that.disconnected <- endpointID
	return nil
}

func (that *echoHandler) HandleMessage(ctx context.Context, endpointID string, raw []byte) error {
	return that.hub.Send(ctx, endpointID, append([]byte("echo:"), raw...))
}

func dial(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(serverURL, "http")+"/ws", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()

	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn
}

func readText(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))

	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, messageType)

	return data
}

func TestServer_ConnectionLifecycle(t *testing.T) {
	// Given: a server with an echoing handler
	hub := NewHub()
	handler := newEchoHandler(hub)
	srv := httptest.NewServer(New(discardLogger(), handler, hub).Handler())
	defer srv.Close()

	// When: a client connects
	conn := dial(t, srv.URL)

	var endpointID string
	select {
	case endpointID = <-handler.connected:
	case <-time.After(waitFor):
		t.Fatal("connect was not reported")
	}

	// Then: the endpoint is registered and messages round-trip through the hub
	assert.Equal(t, []string{endpointID}, hub.Endpoints())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hi")))
	assert.Equal(t, "echo:hi", string(readText(t, conn)))

	// When: the client leaves
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	// Then: the endpoint is deregistered and unreachable
	select {
	case gone := <-handler.disconnected:
		assert.Equal(t, endpointID, gone)
	case <-time.After(waitFor):
		t.Fatal("disconnect was not reported")
	}

	assert.Empty(t, hub.Endpoints())
	assert.ErrorIs(t, hub.Send(context.Background(), endpointID, []byte("late")), apperror.ErrTransportUnavailable)
}

func TestServer_RejectsPlainHTTP(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(New(discardLogger(), newEchoHandler(hub), hub).Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 400, resp.StatusCode)
	assert.Empty(t, hub.Endpoints())
}

func TestHub_Send(t *testing.T) {
	t.Run("Unknown endpoint", func(t *testing.T) {
		err := NewHub().Send(context.Background(), "nobody", []byte("x"))

		assert.ErrorIs(t, err, apperror.ErrTransportUnavailable)
	})

	t.Run("Closing endpoint is unavailable even with buffer room", func(t *testing.T) {
		// Given: a client fetched by a sender and closed before the payload is queued
		hub := NewHub()
		c := hub.register("closing", nil)
		c.close()

		// When: the sender keeps trying while the buffer still has room
		for range 100 {
			err := hub.Send(context.Background(), "closing", []byte("x"))

			// Then: every attempt fails and nothing is queued
			require.ErrorIs(t, err, apperror.ErrTransportUnavailable)
		}

		assert.Empty(t, c.send)
	})

	t.Run("Full buffer honours the context", func(t *testing.T) {
		hub := NewHub()
		c := hub.register("slow", nil)

		for range sendBufferSize {
			require.NoError(t, hub.Send(context.Background(), "slow", []byte("x")))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		require.ErrorIs(t, hub.Send(ctx, "slow", []byte("x")), context.DeadlineExceeded)
		assert.Len(t, c.send, sendBufferSize)
	})
}

// memoryMatches is a versioned in-process match store.
type memoryMatches struct {
	mu      sync.Mutex
	matches map[string]entity.Match
}

func (that *memoryMatches) Create(_ context.Context, match *entity.Match) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.matches[match.ID]; ok {
		return apperror.ErrStoreConflict
	}

	match.Version = 1
	that.matches[match.ID] = *match.Clone()

	return nil
}

func (that *memoryMatches) GetByID(_ context.Context, id string) (*entity.Match, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	match, ok := that.matches[id]
	if !ok {
		return nil, apperror.ErrMatchNotFound
	}

	return match.Clone(), nil
}

func (that *memoryMatches) Update(_ context.Context, match *entity.Match) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	stored, ok := that.matches[match.ID]
	if !ok {
		return apperror.ErrMatchNotFound
	}

	if stored.Version != match.Version {
		return apperror.ErrStoreConflict
	}

	match.Version++
	that.matches[match.ID] = *match.Clone()

	return nil
}

type memoryConnections struct {
	mu    sync.Mutex
	saved map[string]bool
}

func (that *memoryConnections) Save(_ context.Context, conn *entity.Connection) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.saved[conn.EndpointID] = true

	return nil
}

func (that *memoryConnections) Delete(_ context.Context, endpointID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.saved, endpointID)

	return nil
}

func sendAction(t *testing.T, conn *websocket.Conn, fields map[string]any) {
	t.Helper()

	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func readUpdate(t *testing.T, conn *websocket.Conn) gateway.Update {
	t.Helper()

	var update gateway.Update
	require.NoError(t, json.Unmarshal(readText(t, conn), &update))
	require.Equal(t, gateway.ActionUpdate, update.Action)

	return update
}

func newMatchServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := discardLogger()
	hub := NewHub()
	matches := usecase.NewMatchUseCase(logger, &memoryMatches{matches: make(map[string]entity.Match)}, usecase.RetryPolicy{
		MaxRetries: 3,
		Interval:   time.Millisecond,
	})
	gw := gateway.New(logger, matches, &memoryConnections{saved: make(map[string]bool)}, hub, gateway.Options{
		ActionTimeout: waitFor,
		SendTimeout:   waitFor,
	})

	srv := httptest.NewServer(New(logger, gw, hub).Handler())
	t.Cleanup(srv.Close)

	return srv
}

func TestServer_PlaysAWholeMatch(t *testing.T) {
	// Given: the full stack behind a live socket server
	srv := newMatchServer(t)

	alice, bob := dial(t, srv.URL), dial(t, srv.URL)

	// When: alice starts a match
	sendAction(t, alice, map[string]any{"action": "start", "playerId": "alice"})
	started := readUpdate(t, alice)

	// Then: alice is X on an empty board
	require.NotEmpty(t, started.MatchID)
	assert.Equal(t, entity.MarkX, started.Role)
	assert.Empty(t, started.ParticipantOEndpointRef)

	// When: bob joins
	sendAction(t, bob, map[string]any{"action": "join", "playerId": "bob", "matchId": started.MatchID})

	// Then: each side learns its own role
	assert.Equal(t, entity.MarkX, readUpdate(t, alice).Role)
	assert.Equal(t, entity.MarkO, readUpdate(t, bob).Role)

	// When: bob tries to move out of turn
	sendAction(t, bob, map[string]any{"action": "move", "playerId": "bob", "matchId": started.MatchID, "position": 4, "mark": "O"})

	// Then: only bob is told off
	var reply gateway.ErrorReply
	require.NoError(t, json.Unmarshal(readText(t, bob), &reply))
	assert.Equal(t, "it's not your turn", reply.Error)

	// When: X plays the top row while O answers in the middle row
	moves := []struct {
		conn     *websocket.Conn
		player   string
		mark     string
		position int
	}{
		{alice, "alice", "X", 0},
		{bob, "bob", "O", 3},
		{alice, "alice", "X", 1},
		{bob, "bob", "O", 4},
		{alice, "alice", "X", 2},
	}

	var last gateway.Update
	for _, move := range moves {
		sendAction(t, move.conn, map[string]any{
			"action": "move", "playerId": move.player, "matchId": started.MatchID, "position": move.position, "mark": move.mark,
		})

		toX, toO := readUpdate(t, alice), readUpdate(t, bob)
		require.Equal(t, toX, toO, fmt.Sprintf("move %d", move.position))
		last = toX
	}

	// Then: X wins and the score is counted once
	assert.Equal(t, entity.MarkX, last.Winner)
	assert.Equal(t, 1, last.ScoreX)
	assert.Equal(t, 0, last.ScoreO)

	// When: bob asks for a rematch
	sendAction(t, bob, map[string]any{"action": "reset", "playerId": "bob", "matchId": started.MatchID})

	// Then: both see a fresh board with the score kept
	for _, conn := range []*websocket.Conn{alice, bob} {
		update := readUpdate(t, conn)
		assert.Equal(t, [9]string{}, update.Board)
		assert.Equal(t, entity.MarkX, update.Turn)
		assert.Empty(t, update.Winner)
		assert.Equal(t, 1, update.ScoreX)
	}
}

func TestServer_KeepsIdentitiesPrivate(t *testing.T) {
	// Given: alice and bob in a match
	srv := newMatchServer(t)
	alice, bob := dial(t, srv.URL), dial(t, srv.URL)

	sendAction(t, alice, map[string]any{"action": "start", "playerId": "alice-secret"})
	started := readUpdate(t, alice)

	sendAction(t, bob, map[string]any{"action": "join", "playerId": "bob-secret", "matchId": started.MatchID})
	joined, _ := readUpdate(t, alice), readUpdate(t, bob)

	// When: alice moves and O is next
	sendAction(t, alice, map[string]any{"action": "move", "playerId": "alice-secret", "matchId": started.MatchID, "position": 0, "mark": "X"})

	toX, toO := readText(t, alice), readText(t, bob)

	// Then: each copy only carries its recipient's own identity
	assert.NotContains(t, string(toX), "bob-secret")
	assert.NotContains(t, string(toO), "alice-secret")

	var update gateway.Update
	require.NoError(t, json.Unmarshal(toX, &update))
	assert.Equal(t, "alice-secret", update.PlayerID)
	assert.Equal(t, entity.MarkO, update.Role)

	// When: alice tries to play O's mark with her own identity
	sendAction(t, alice, map[string]any{"action": "move", "playerId": "alice-secret", "matchId": started.MatchID, "position": 3, "mark": "O"})

	// Then: she is refused and bob stays bound to his own endpoint
	var reply gateway.ErrorReply
	require.NoError(t, json.Unmarshal(readText(t, alice), &reply))
	assert.Equal(t, "it's not your turn", reply.Error)

	sendAction(t, bob, map[string]any{"action": "move", "playerId": "bob-secret", "matchId": started.MatchID, "position": 3, "mark": "O"})

	afterX, afterO := readUpdate(t, alice), readUpdate(t, bob)
	assert.Equal(t, joined.ParticipantOEndpointRef, afterO.ParticipantOEndpointRef)
	assert.Equal(t, entity.MarkO, afterX.Board[3])
	assert.Equal(t, "bob-secret", afterO.PlayerID)
}
