package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/internal/telemetry"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
	"github.com/rs/xid"
)

// HandlerFunc handles one decoded inbound message
type HandlerFunc func(ctx context.Context, msg *domain.Message) error

// Sender writes serialized frames to the connection
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

// subscription is one registration in the registry
type subscription struct {
	id          string
	messageType domain.MessageType
	handler     HandlerFunc
}

// Router decodes inbound frames and dispatches them to subscribers by type
type Router struct {
	sender  Sender
	logger  *logging.Logger
	metrics *telemetry.Metrics
	errors  errors.Handler
	now     func() time.Time

	mu            sync.RWMutex
	subscriptions map[domain.MessageType][]*subscription
}

// NewRouter creates a new router writing through sender
func NewRouter(sender Sender, logger *logging.Logger, metrics *telemetry.Metrics) *Router {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.Component("router")

	return &Router{
		sender:        sender,
		logger:        logger,
		metrics:       metrics,
		errors:        errors.NewDefaultHandler(logger.Logger),
		now:           time.Now,
		subscriptions: make(map[domain.MessageType][]*subscription),
	}
}

// Subscribe registers handler for messageType. Handlers of one type run in
// registration order. The returned disposer removes only this registration.
func (r *Router) Subscribe(messageType domain.MessageType, handler HandlerFunc) domain.Disposer {
	sub := &subscription{
		id:          xid.New().String(),
		messageType: messageType,
		handler:     handler,
	}

	r.mu.Lock()
	r.subscriptions[messageType] = append(r.subscriptions[messageType], sub)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.unsubscribe(messageType, sub.id)
		})
	}
}

func (r *Router) unsubscribe(messageType domain.MessageType, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subscriptions[messageType]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}

		if len(subs) == 1 {
			delete(r.subscriptions, messageType)
			return
		}

		// copy so that a dispatch iterating the old slice is unaffected
		next := make([]*subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		r.subscriptions[messageType] = append(next, subs[i+1:]...)
		return
	}
}

// Handlers returns the number of handlers registered for messageType
func (r *Router) Handlers(messageType domain.MessageType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscriptions[messageType])
}

// Dispatch decodes raw and invokes the handlers registered for its type.
// Malformed frames and frames nobody subscribed to are logged and dropped.
// Handler failures are logged and never reach the caller.
func (r *Router) Dispatch(ctx context.Context, raw []byte) {
	msg, err := domain.DecodeMessage(raw, r.now())
	if err != nil {
		r.metrics.FrameDropped(telemetry.ReasonMalformed)
		r.errors.Handle(ctx, errors.Wrap(err, errors.ErrorTypeProtocol, "MALFORMED_FRAME", "malformed frame").
			WithDetails(truncate(raw, 256)))
		return
	}

	r.mu.RLock()
	subs := r.subscriptions[msg.Type]
	r.mu.RUnlock()

	if len(subs) == 0 {
		r.metrics.FrameDropped(telemetry.ReasonUnhandled)
		r.logger.Debug("no subscriber for message type", "message_type", msg.Type)
		return
	}

	if _, ok := msg.Payload.(domain.Unknown); ok {
		r.logger.Debug("dispatching unmodelled message type", "message_type", msg.Type)
	}

	r.metrics.FrameReceived(msg.Type)

	for _, sub := range subs {
		r.invoke(ctx, sub, msg)
	}
}

// Receive adapts Dispatch to domain.MessageHandler
func (r *Router) Receive(message []byte) error {
	r.Dispatch(context.Background(), message)
	return nil
}

func (r *Router) invoke(ctx context.Context, sub *subscription, msg *domain.Message) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.HandlerError(msg.Type)
			r.errors.Handle(ctx, errors.New(errors.ErrorTypeHandler, "HANDLER_PANIC", "subscriber panicked").
				WithDetails(fmt.Sprintf("type=%s handler=%s panic=%v\n%s", msg.Type, sub.id, p, debug.Stack())))
		}
	}()

	if err := sub.handler(ctx, msg); err != nil {
		r.metrics.HandlerError(msg.Type)
		r.errors.Handle(ctx, errors.Wrap(err, errors.ErrorTypeHandler, "HANDLER_FAILED", "subscriber failed").
			WithDetails(fmt.Sprintf("type=%s handler=%s", msg.Type, sub.id)))
	}
}

// Send serializes {type, data} and writes it. It fails with a send error
// when the connection is not open; nothing is queued.
func (r *Router) Send(ctx context.Context, messageType domain.MessageType, data any) error {
	frame, err := domain.NewFrame(messageType, data)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "INVALID_FRAME", "failed to build frame")
	}

	payload, err := frame.Marshal()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal frame")
	}

	if err := r.sender.Send(ctx, payload); err != nil {
		return err
	}

	r.metrics.FrameSent(messageType)
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
