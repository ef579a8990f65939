package connection

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/HMasataka/agentws/internal/eventbus"
	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/internal/telemetry"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
	"github.com/HMasataka/agentws/pkg/reconnect"
)

const eventSource = "connection"

// TokenSource returns the current bearer token
type TokenSource func() string

// Options configures a Manager
type Options struct {
	// Endpoint is the ws:// or wss:// URL of the event stream.
	Endpoint string

	Dialer domain.Dialer
	Token  TokenSource
	Policy reconnect.Policy

	// Scheduler defaults to SystemScheduler.
	Scheduler Scheduler

	// DialTimeout bounds each open attempt. Zero means no extra bound.
	DialTimeout time.Duration

	Logger  *logging.Logger
	Metrics *telemetry.Metrics
	Bus     eventbus.Bus
}

// Manager owns the single transport of a service instance
type Manager struct {
	endpoint    string
	dialer      domain.Dialer
	token       TokenSource
	policy      reconnect.Policy
	scheduler   Scheduler
	dialTimeout time.Duration
	logger      *logging.Logger
	metrics     *telemetry.Metrics
	bus         eventbus.Bus
	errors      errors.Handler

	mu       sync.Mutex
	state    domain.ConnectionState
	attempts int
	conn     domain.Conn
	pending  *attempt
	timer    Timer
	onFrame  domain.MessageHandler

	// gen changes on every Disconnect; timers and dials from an older
	// generation do nothing when they complete.
	gen uint64
}

// attempt is one open in flight, shared by every Connect caller that waits on it
type attempt struct {
	done   chan struct{}
	once   sync.Once
	err    error
	ctx    context.Context
	cancel context.CancelFunc
}

func (a *attempt) finish(err error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *attempt) wait(ctx context.Context) error {
	select {
	case <-a.done:
		return a.err
	default:
	}

	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewManager creates a new Manager in the Idle state
func NewManager(opts Options) *Manager {
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler()
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(logging.Config{Level: "info", Format: "text"})
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.NewInMemoryBus()
	}
	if opts.Token == nil {
		opts.Token = func() string { return "" }
	}

	logger := opts.Logger.Component(eventSource)

	return &Manager{
		endpoint:    opts.Endpoint,
		dialer:      opts.Dialer,
		token:       opts.Token,
		policy:      opts.Policy,
		scheduler:   opts.Scheduler,
		dialTimeout: opts.DialTimeout,
		logger:      logger,
		metrics:     opts.Metrics,
		bus:         opts.Bus,
		errors:      errors.NewDefaultHandler(logger.Logger),
		state:       domain.StateIdle,
	}
}

// SetFrameHandler sets the receiver of inbound frames of the current transport
func (m *Manager) SetFrameHandler(handler domain.MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFrame = handler
}

// State returns the current connection state
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the number of reconnects scheduled since the last open
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Endpoint returns the event stream URL
func (m *Manager) Endpoint() string {
	return m.endpoint
}

// Connect opens the transport. It returns nil when already connected and
// joins the attempt in flight when connecting. A failed open is returned as
// a connection error and also enters the reconnect cycle.
func (m *Manager) Connect(ctx context.Context) error {
	var events []*eventbus.Event

	m.mu.Lock()
	switch m.state {
	case domain.StateConnected:
		m.mu.Unlock()
		return nil
	case domain.StateConnecting:
		p := m.pending
		m.mu.Unlock()
		return p.wait(ctx)
	case domain.StateIdle, domain.StateFailed:
		m.attempts = 0
	case domain.StateDisconnected, domain.StateReconnecting:
		m.stopTimerLocked()
	}

	p := m.beginLocked(ctx, &events)
	gen := m.gen
	m.mu.Unlock()

	m.publish(events)
	m.dial(p, gen)

	return p.wait(ctx)
}

// Disconnect closes the transport, cancels any pending reconnect and moves
// to Idle. It never leads to a reconnect.
func (m *Manager) Disconnect() {
	var events []*eventbus.Event

	m.mu.Lock()
	m.gen++
	m.stopTimerLocked()

	conn := m.conn
	m.conn = nil
	wasConnected := m.state == domain.StateConnected

	p := m.pending
	m.pending = nil

	m.attempts = 0
	m.setStateLocked(domain.StateIdle, &events)
	if wasConnected {
		events = append(events, eventbus.NewEvent(eventbus.EventDisconnected, eventSource, nil))
	}
	m.mu.Unlock()

	if p != nil {
		p.cancel()
		p.finish(errors.New(errors.ErrorTypeConnection, "DISCONNECTED", "connection closed by disconnect"))
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			m.logger.Debug("error closing transport", "error", err)
		}
	}

	m.publish(events)
}

// Send writes a serialized frame. It fails with a send error unless Connected.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.Lock()
	if m.state != domain.StateConnected || m.conn == nil {
		state := m.state
		m.mu.Unlock()
		return errors.New(errors.ErrorTypeSend, "NOT_CONNECTED", "not connected").WithDetails(state.String())
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.Send(ctx, data); err != nil {
		if errors.IsType(err, errors.ErrorTypeSend) {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeSend, "WRITE_FAILED", "failed to write frame")
	}

	return nil
}

// OnConnect registers fn to run every time the transport opens
func (m *Manager) OnConnect(fn func()) domain.Disposer {
	return m.listen(eventbus.EventConnected, func(*eventbus.Event) { fn() })
}

// OnDisconnect registers fn to run when an open transport goes away.
// cause is nil for an explicit Disconnect.
func (m *Manager) OnDisconnect(fn func(cause error)) domain.Disposer {
	return m.listen(eventbus.EventDisconnected, func(e *eventbus.Event) {
		cause, _ := e.Data.(error)
		fn(cause)
	})
}

// OnError registers fn for connection errors and reconnect exhaustion
func (m *Manager) OnError(fn func(err error)) domain.Disposer {
	return m.listen(eventbus.EventError, func(e *eventbus.Event) {
		if err, ok := e.Data.(error); ok {
			fn(err)
		}
	})
}

// OnStateChange registers fn for every state transition
func (m *Manager) OnStateChange(fn func(change domain.StateChange)) domain.Disposer {
	return m.listen(eventbus.EventStateChanged, func(e *eventbus.Event) {
		if change, ok := e.Data.(domain.StateChange); ok {
			fn(change)
		}
	})
}

func (m *Manager) listen(eventType eventbus.EventType, handler eventbus.Handler) domain.Disposer {
	id := m.bus.Subscribe(eventType, handler)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.bus.Unsubscribe(id)
		})
	}
}

func (m *Manager) publish(events []*eventbus.Event) {
	for _, e := range events {
		m.bus.Publish(e)
	}
}

// beginLocked moves to Connecting and registers a new pending attempt
func (m *Manager) beginLocked(parent context.Context, events *[]*eventbus.Event) *attempt {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if m.dialTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, m.dialTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	p := &attempt{
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	m.pending = p
	m.setStateLocked(domain.StateConnecting, events)

	return p
}

// dial performs the open for p and settles the state machine
func (m *Manager) dial(p *attempt, gen uint64) {
	defer p.cancel()

	m.logger.Info("connecting", "endpoint", m.endpoint, "attempt", m.Attempts())

	conn, err := m.dialer.Dial(p.ctx, m.endpoint, m.token())

	var events []*eventbus.Event

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		p.finish(errors.New(errors.ErrorTypeConnection, "DISCONNECTED", "connection closed by disconnect"))
		return
	}
	m.pending = nil

	if err != nil {
		cerr := err
		switch {
		case stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(p.ctx.Err(), context.DeadlineExceeded):
			cerr = errors.Wrap(err, errors.ErrorTypeTimeout, "DIAL_TIMEOUT", "timed out opening connection")
		case !errors.IsType(err, errors.ErrorTypeConnection):
			cerr = errors.Wrap(err, errors.ErrorTypeConnection, "DIAL_FAILED", "failed to open connection")
		}
		events = append(events, eventbus.NewEvent(eventbus.EventError, eventSource, cerr))
		m.failLocked(cerr, &events)
		m.mu.Unlock()

		m.errors.Handle(p.ctx, cerr)
		p.finish(cerr)
		m.publish(events)
		return
	}

	m.conn = conn
	m.attempts = 0
	m.setStateLocked(domain.StateConnected, &events)
	events = append(events, eventbus.NewEvent(eventbus.EventConnected, eventSource, nil).WithMetadata("conn_id", conn.ID()))
	m.mu.Unlock()

	m.logger.Info("connected", "endpoint", m.endpoint, "conn_id", conn.ID())

	conn.Receive(m.receiver(conn))
	p.finish(nil)
	m.publish(events)
	conn.Start()

	go m.watch(conn)
}

// watch waits for conn to close and starts the reconnect cycle unless the
// close came from Disconnect
func (m *Manager) watch(conn domain.Conn) {
	<-conn.Context().Done()

	var events []*eventbus.Event

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil

	cause := errors.Wrap(conn.Err(), errors.ErrorTypeConnection, "CONNECTION_LOST", "connection lost")
	events = append(events, eventbus.NewEvent(eventbus.EventDisconnected, eventSource, error(cause)))
	m.failLocked(cause, &events)
	m.mu.Unlock()

	m.errors.Handle(context.Background(), cause)
	m.publish(events)
}

// failLocked moves to Disconnected and then either schedules a retry or gives up
func (m *Manager) failLocked(cause error, events *[]*eventbus.Event) {
	m.setStateLocked(domain.StateDisconnected, events)

	if m.policy.Exhausted(m.attempts) {
		m.setStateLocked(domain.StateFailed, events)
		m.metrics.ReconnectExhausted()

		exhausted := errors.Wrap(cause, errors.ErrorTypeReconnectExhausted, "RECONNECT_EXHAUSTED", "reconnect attempts exhausted").
			WithDetails(fmt.Sprintf("%d attempts", m.attempts))
		*events = append(*events, eventbus.NewEvent(eventbus.EventError, eventSource, error(exhausted)))

		m.errors.Handle(context.Background(), exhausted)
		return
	}

	delay := m.policy.Delay(m.attempts)
	m.attempts++
	gen := m.gen

	m.timer = m.scheduler.AfterFunc(delay, func() {
		m.retry(gen)
	})
	m.metrics.ReconnectScheduled()
	m.setStateLocked(domain.StateReconnecting, events)

	m.logger.Info("reconnect scheduled", "attempt", m.attempts, "delay", delay)
}

func (m *Manager) retry(gen uint64) {
	var events []*eventbus.Event

	m.mu.Lock()
	if gen != m.gen || m.state != domain.StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	p := m.beginLocked(context.Background(), &events)
	m.mu.Unlock()

	m.publish(events)
	m.dial(p, gen)
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) setStateLocked(to domain.ConnectionState, events *[]*eventbus.Event) {
	from := m.state
	if from == to {
		return
	}

	m.state = to
	m.metrics.SetState(to)
	*events = append(*events, eventbus.NewEvent(eventbus.EventStateChanged, eventSource, domain.StateChange{From: from, To: to}))

	m.logger.Debug("state changed", "from", from.String(), "to", to.String())
}

// receiver delivers frames of conn while it is the current transport
func (m *Manager) receiver(conn domain.Conn) domain.MessageHandler {
	return func(message []byte) error {
		m.mu.Lock()
		current := m.conn == conn
		handler := m.onFrame
		m.mu.Unlock()

		if !current {
			m.metrics.FrameDropped(telemetry.ReasonStale)
			return nil
		}
		if handler == nil {
			return nil
		}
		return handler(message)
	}
}
