package websocket

import (
	"net/http"

	"github.com/HMasataka/agentws/internal/eventbus"
	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"
)

const serverSource = "websocket-server"

// PeerHandler receives the lifecycle and traffic of server-side connections
type PeerHandler interface {
	Register(peer domain.Conn, userID string) error
	Unregister(peerID string) error
	Handle(peerID string, message []byte) error
}

// Authenticator maps the sub-protocol token of a handshake to a user id
type Authenticator func(token string) (userID string, ok bool)

// ServerOptions represents websocket server options
type ServerOptions struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
	Handler         PeerHandler
	Authenticate    Authenticator
	Logger          *logging.Logger
	EventBus        eventbus.Bus
	Client          ClientOptions
}

// ServerOption is a function that configures ServerOptions
type ServerOption func(*ServerOptions)

// WithHandler sets the peer handler for the server
func WithHandler(handler PeerHandler) ServerOption {
	return func(o *ServerOptions) {
		o.Handler = handler
	}
}

// WithAuthenticator sets the token check run before the upgrade
func WithAuthenticator(authenticate Authenticator) ServerOption {
	return func(o *ServerOptions) {
		o.Authenticate = authenticate
	}
}

// WithLogger sets the logger for the server
func WithLogger(logger *logging.Logger) ServerOption {
	return func(o *ServerOptions) {
		o.Logger = logger
	}
}

// WithEventBus sets the event bus for the server
func WithEventBus(eventBus eventbus.Bus) ServerOption {
	return func(o *ServerOptions) {
		o.EventBus = eventBus
	}
}

// WithCheckOrigin sets the check origin function
func WithCheckOrigin(checkOrigin func(r *http.Request) bool) ServerOption {
	return func(o *ServerOptions) {
		o.CheckOrigin = checkOrigin
	}
}

// WithClientOptions sets the options of accepted connections
func WithClientOptions(client ClientOptions) ServerOption {
	return func(o *ServerOptions) {
		o.Client = client
	}
}

// Server accepts event stream connections. A handshake must offer exactly
// the token as its sub-protocol; the server echoes it back on success.
type Server struct {
	upgrader websocket.Upgrader
	handler  PeerHandler
	logger   *logging.Logger
	eventBus eventbus.Bus
	options  ServerOptions
}

// NewServer creates a new WebSocket server
func NewServer(opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		Authenticate: func(token string) (string, bool) {
			return token, token != ""
		},
		Client: DefaultClientOptions(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = logging.Discard()
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		handler:  options.Handler,
		logger:   options.Logger.Component(serverSource),
		eventBus: options.EventBus,
		options:  options,
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	protocols := websocket.Subprotocols(r)
	if len(protocols) != 1 {
		s.logger.Warn("handshake without token", "remote_addr", r.RemoteAddr)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	token := protocols[0]
	userID, ok := s.options.Authenticate(token)
	if !ok {
		s.logger.Warn("handshake with rejected token", "remote_addr", r.RemoteAddr)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, http.Header{"Sec-WebSocket-Protocol": []string{token}})
	if err != nil {
		s.logger.Error("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	peerID := xid.New().String()
	client := NewClient(peerID, conn, s.logger, s.options.Client)

	if s.handler != nil {
		client.Receive(func(message []byte) error {
			return s.handler.Handle(peerID, message)
		})

		if err := s.handler.Register(client, userID); err != nil {
			s.logger.Error("failed to register peer",
				"error", err,
				"peer_id", peerID,
			)
			client.Close()
			return
		}
	}

	s.publish(eventbus.EventPeerConnected, peerID, userID)

	client.Start()

	s.logger.Info("peer connected",
		"peer_id", peerID,
		"user_id", userID,
		"remote_addr", r.RemoteAddr,
	)

	<-client.Context().Done()
	client.Wait()

	if s.handler != nil {
		if err := s.handler.Unregister(peerID); err != nil {
			s.logger.Error("failed to unregister peer",
				"error", err,
				"peer_id", peerID,
			)
		}
	}

	s.publish(eventbus.EventPeerDisconnected, peerID, userID)

	s.logger.Info("peer disconnected", "peer_id", peerID)
}

func (s *Server) publish(eventType eventbus.EventType, peerID, userID string) {
	if s.eventBus == nil {
		return
	}
	s.eventBus.Publish(eventbus.NewEvent(eventType, serverSource, map[string]string{
		"peer_id": peerID,
		"user_id": userID,
	}))
}
