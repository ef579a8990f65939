// Package realtime is the entry point of the real-time update client: one
// Service owns one connection and the router, room and feed state layered on it.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/agentws/internal/eventbus"
	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/internal/telemetry"
	"github.com/HMasataka/agentws/pkg/connection"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/feed"
	"github.com/HMasataka/agentws/pkg/reconnect"
	"github.com/HMasataka/agentws/pkg/rooms"
	"github.com/HMasataka/agentws/pkg/router"
)

// TokenProvider supplies the bearer token and reports when it changes
type TokenProvider interface {
	Token() string
	OnChange(fn func(token string)) domain.Disposer
}

// StaticToken is a TokenProvider that never changes
type StaticToken string

// Token implements TokenProvider
func (t StaticToken) Token() string { return string(t) }

// OnChange implements TokenProvider
func (StaticToken) OnChange(func(string)) domain.Disposer { return func() {} }

// Options configures a Service
type Options struct {
	Endpoint string
	Dialer   domain.Dialer
	Tokens   TokenProvider
	Policy   reconnect.Policy

	// Scheduler defaults to the system clock.
	Scheduler   connection.Scheduler
	DialTimeout time.Duration

	// NotificationCapacity defaults to feed.DefaultCapacity.
	NotificationCapacity int

	Logger  *logging.Logger
	Metrics *telemetry.Metrics
}

// Service is the facade over the connection, router, rooms and feeds
type Service struct {
	conn          *connection.Manager
	router        *router.Router
	rooms         *rooms.Coordinator
	notifications *feed.NotificationBuffer
	metrics       *feed.MetricsCache
	tokens        TokenProvider
	logger        *logging.Logger

	mu    sync.Mutex
	token string

	disposers []domain.Disposer
	closeOnce sync.Once
}

// New wires a Service. Nothing is dialed until Connect.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Tokens == nil {
		opts.Tokens = StaticToken("")
	}
	if opts.Policy == (reconnect.Policy{}) {
		opts.Policy = reconnect.Default()
	}

	conn := connection.NewManager(connection.Options{
		Endpoint:    opts.Endpoint,
		Dialer:      opts.Dialer,
		Token:       opts.Tokens.Token,
		Policy:      opts.Policy,
		Scheduler:   opts.Scheduler,
		DialTimeout: opts.DialTimeout,
		Logger:      opts.Logger,
		Metrics:     opts.Metrics,
		Bus:         eventbus.NewInMemoryBus(),
	})

	r := router.NewRouter(conn, opts.Logger, opts.Metrics)
	conn.SetFrameHandler(r.Receive)

	s := &Service{
		conn:          conn,
		router:        r,
		rooms:         rooms.NewCoordinator(r, conn, opts.Logger),
		notifications: feed.NewNotificationBuffer(opts.NotificationCapacity),
		metrics:       feed.NewMetricsCache(),
		tokens:        opts.Tokens,
		logger:        opts.Logger.Component("realtime"),
		token:         opts.Tokens.Token(),
	}

	s.disposers = append(s.disposers,
		s.notifications.Attach(r),
		s.metrics.Attach(r),
		opts.Tokens.OnChange(s.tokenChanged),
	)

	return s
}

// Close disconnects and removes every internal subscription
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		for _, dispose := range s.disposers {
			dispose()
		}
		s.rooms.Close()
		s.conn.Disconnect()
	})
}

// Connect opens the event stream
func (s *Service) Connect(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

// Disconnect closes the event stream without reconnecting
func (s *Service) Disconnect() {
	s.conn.Disconnect()
}

// State returns the connection state
func (s *Service) State() domain.ConnectionState {
	return s.conn.State()
}

// Subscribe registers handler for inbound frames of messageType
func (s *Service) Subscribe(messageType domain.MessageType, handler router.HandlerFunc) domain.Disposer {
	return s.router.Subscribe(messageType, handler)
}

// Send writes a {type, data} frame
func (s *Service) Send(ctx context.Context, messageType domain.MessageType, data any) error {
	return s.router.Send(ctx, messageType, data)
}

// JoinRoom joins a room
func (s *Service) JoinRoom(ctx context.Context, roomID string) error {
	return s.rooms.JoinRoom(ctx, roomID)
}

// LeaveRoom leaves a room
func (s *Service) LeaveRoom(ctx context.Context, roomID string) error {
	return s.rooms.LeaveRoom(ctx, roomID)
}

// SendTyping sends the typing state for a room
func (s *Service) SendTyping(ctx context.Context, roomID string, isTyping bool) error {
	return s.rooms.SendTyping(ctx, roomID, isTyping)
}

// OnConnect registers fn for every successful open
func (s *Service) OnConnect(fn func()) domain.Disposer {
	return s.conn.OnConnect(fn)
}

// OnDisconnect registers fn for every close of an open stream
func (s *Service) OnDisconnect(fn func(cause error)) domain.Disposer {
	return s.conn.OnDisconnect(fn)
}

// OnError registers fn for connection errors
func (s *Service) OnError(fn func(err error)) domain.Disposer {
	return s.conn.OnError(fn)
}

// OnStateChange registers fn for every state transition
func (s *Service) OnStateChange(fn func(change domain.StateChange)) domain.Disposer {
	return s.conn.OnStateChange(fn)
}

// Notifications returns the notification buffer
func (s *Service) Notifications() *feed.NotificationBuffer {
	return s.notifications
}

// Metrics returns the metrics cache
func (s *Service) Metrics() *feed.MetricsCache {
	return s.metrics
}

// Rooms returns the room coordinator
func (s *Service) Rooms() *rooms.Coordinator {
	return s.rooms
}

// tokenChanged disconnects on sign-out and reconnects an open stream when
// the token is replaced
func (s *Service) tokenChanged(token string) {
	s.mu.Lock()
	previous := s.token
	s.token = token
	s.mu.Unlock()

	if token == previous {
		return
	}

	if token == "" {
		s.logger.Info("token cleared, disconnecting")
		s.conn.Disconnect()
		return
	}

	switch s.conn.State() {
	case domain.StateConnected, domain.StateConnecting:
		s.logger.Info("token changed, reconnecting")
		s.conn.Disconnect()
		if err := s.conn.Connect(context.Background()); err != nil {
			s.logger.Warn("reconnect with new token failed", "error", err)
		}
	}
}
