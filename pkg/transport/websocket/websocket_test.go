package websocket

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/agentws/internal/eventbus"
	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler sends every inbound frame back to its peer
type echoHandler struct {
	mu         sync.Mutex
	peers      map[string]domain.Conn
	users      []string
	registered chan string
	gone       chan string
}

func newEchoHandler() *echoHandler {
	return &echoHandler{
		peers:      make(map[string]domain.Conn),
		registered: make(chan string, 10),
		gone:       make(chan string, 10),
	}
}

func (h *echoHandler) Register(peer domain.Conn, userID string) error {
	h.mu.Lock()
	h.peers[peer.ID()] = peer
	h.users = append(h.users, userID)
	h.mu.Unlock()
	h.registered <- peer.ID()
	return nil
}

func (h *echoHandler) Unregister(peerID string) error {
	h.mu.Lock()
	delete(h.peers, peerID)
	h.mu.Unlock()
	h.gone <- peerID
	return nil
}

func (h *echoHandler) Handle(peerID string, message []byte) error {
	h.mu.Lock()
	peer := h.peers[peerID]
	h.mu.Unlock()
	return peer.Send(context.Background(), message)
}

func (h *echoHandler) peer(id string) domain.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[id]
}

func newTestServer(t *testing.T, handler PeerHandler, opts ...ServerOption) (*httptest.Server, string) {
	t.Helper()
	opts = append([]ServerOption{WithHandler(handler), WithLogger(logging.Discard())}, opts...)
	srv := httptest.NewServer(NewServer(opts...))
	t.Cleanup(srv.Close)

	endpoint, err := Endpoint(srv.URL, "/ws/agent")
	require.NoError(t, err)
	return srv, endpoint
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		path    string
		want    string
		wantErr bool
	}{
		{name: "http", origin: "http://localhost:8080", path: "/ws/agent", want: "ws://localhost:8080/ws/agent"},
		{name: "https", origin: "https://app.example.com", path: "/ws/agent", want: "wss://app.example.com/ws/agent"},
		{name: "drops query", origin: "https://app.example.com/deals?tab=1#top", path: "/ws/agent", want: "wss://app.example.com/ws/agent"},
		{name: "drops credentials", origin: "https://user:pw@app.example.com", path: "ws/agent", want: "wss://app.example.com/ws/agent"},
		{name: "already ws", origin: "ws://localhost:9000", path: "/ws/agent", want: "ws://localhost:9000/ws/agent"},
		{name: "bad scheme", origin: "ftp://localhost", path: "/ws/agent", wantErr: true},
		{name: "no host", origin: "https://", path: "/ws/agent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Endpoint(tt.origin, tt.path)
			if tt.wantErr {
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialer_TokenAsSubprotocol(t *testing.T) {
	handler := newEchoHandler()
	_, endpoint := newTestServer(t, handler)

	conn, err := NewDialer(logging.Discard(), DefaultClientOptions()).Dial(context.Background(), endpoint, "tok-123")
	require.NoError(t, err)
	defer conn.Close()

	client := conn.(*Client)
	assert.Equal(t, "tok-123", client.Subprotocol())
	assert.NotContains(t, endpoint, "tok-123")

	select {
	case <-handler.registered:
	case <-time.After(time.Second):
		t.Fatal("peer was not registered")
	}
	handler.mu.Lock()
	assert.Equal(t, []string{"tok-123"}, handler.users)
	handler.mu.Unlock()
}

func TestDialer_RejectsMissingToken(t *testing.T) {
	_, endpoint := newTestServer(t, newEchoHandler())

	_, err := NewDialer(logging.Discard(), DefaultClientOptions()).Dial(context.Background(), endpoint, "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))

	var e *errors.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "handshake status 401", e.Details)
}

func TestDialer_RejectedByAuthenticator(t *testing.T) {
	_, endpoint := newTestServer(t, newEchoHandler(), WithAuthenticator(func(token string) (string, bool) {
		return "", token == "valid"
	}))

	_, err := NewDialer(logging.Discard(), DefaultClientOptions()).Dial(context.Background(), endpoint, "invalid")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestClient_SendReceive(t *testing.T) {
	handler := newEchoHandler()
	_, endpoint := newTestServer(t, handler)

	conn, err := NewDialer(logging.Discard(), DefaultClientOptions()).Dial(context.Background(), endpoint, "tok")
	require.NoError(t, err)
	defer conn.Close()

	received := make(chan string, 1)
	conn.Receive(func(message []byte) error {
		received <- string(message)
		return nil
	})
	conn.Start()

	require.NoError(t, conn.Send(context.Background(), []byte(`{"type":"typing","data":{"room_id":"r"}}`)))

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"typing","data":{"room_id":"r"}}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}
}

func TestClient_CloseIsLocal(t *testing.T) {
	handler := newEchoHandler()
	_, endpoint := newTestServer(t, handler)

	conn, err := NewDialer(logging.Discard(), DefaultClientOptions()).Dial(context.Background(), endpoint, "tok")
	require.NoError(t, err)
	conn.Start()

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())
	conn.(*Client).Wait()

	assert.NoError(t, conn.Err())
	assert.ErrorIs(t, conn.Send(context.Background(), []byte(`{}`)), ErrConnectionClosed)

	select {
	case <-handler.gone:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe the close")
	}
}

func TestClient_ServerDropSetsErr(t *testing.T) {
	handler := newEchoHandler()
	_, endpoint := newTestServer(t, handler)

	conn, err := NewDialer(logging.Discard(), DefaultClientOptions()).Dial(context.Background(), endpoint, "tok")
	require.NoError(t, err)
	conn.Start()

	var peerID string
	select {
	case peerID = <-handler.registered:
	case <-time.After(time.Second):
		t.Fatal("peer was not registered")
	}

	require.NoError(t, handler.peer(peerID).Close())

	select {
	case <-conn.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe the drop")
	}
	assert.Error(t, conn.Err())
}

func TestServer_PublishesPeerEvents(t *testing.T) {
	bus := eventbus.NewInMemoryBus()
	events := make(chan eventbus.EventType, 4)
	bus.SubscribeAll(func(e *eventbus.Event) {
		events <- e.Type
	})

	_, endpoint := newTestServer(t, newEchoHandler(), WithEventBus(bus))

	conn, err := NewDialer(logging.Discard(), DefaultClientOptions()).Dial(context.Background(), endpoint, "tok")
	require.NoError(t, err)
	conn.Start()
	conn.Close()

	for _, want := range []eventbus.EventType{eventbus.EventPeerConnected, eventbus.EventPeerDisconnected} {
		select {
		case got := <-events:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing %s", want)
		}
	}
}
