// Package rooms tracks per-room participant and typing state on top of the
// message router.
package rooms

import (
	"context"
	"slices"
	"sync"

	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
	"github.com/HMasataka/agentws/pkg/router"
)

// Messenger sends frames and registers inbound handlers
type Messenger interface {
	Send(ctx context.Context, messageType domain.MessageType, data any) error
	Subscribe(messageType domain.MessageType, handler router.HandlerFunc) domain.Disposer
}

// Lifecycle reports transport connects and drops
type Lifecycle interface {
	OnConnect(fn func()) domain.Disposer
	OnDisconnect(fn func(cause error)) domain.Disposer
}

// Room is a snapshot of one joined room
type Room struct {
	ID           string
	Participants []string
	Typing       []string
}

type roomState struct {
	participants map[string]struct{}
	typing       map[string]struct{}
}

func newRoomState() *roomState {
	return &roomState{
		participants: make(map[string]struct{}),
		typing:       make(map[string]struct{}),
	}
}

func (r *roomState) reset() {
	clear(r.participants)
	clear(r.typing)
}

// Coordinator joins and leaves rooms and keeps their local state
type Coordinator struct {
	messenger Messenger
	logger    *logging.Logger

	mu    sync.RWMutex
	rooms map[string]*roomState

	disposers []domain.Disposer
}

// NewCoordinator creates a coordinator subscribed to room traffic. When
// lifecycle is non-nil, room state is cleared on every drop and joined rooms
// are re-joined on every connect.
func NewCoordinator(messenger Messenger, lifecycle Lifecycle, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}

	c := &Coordinator{
		messenger: messenger,
		logger:    logger.Component("rooms"),
		rooms:     make(map[string]*roomState),
	}

	c.disposers = append(c.disposers,
		messenger.Subscribe(domain.MessageTypeRoomParticipants, c.handleParticipants),
		messenger.Subscribe(domain.MessageTypeUserTyping, c.handleTyping),
	)

	if lifecycle != nil {
		c.disposers = append(c.disposers,
			lifecycle.OnDisconnect(func(error) { c.resetAll() }),
			lifecycle.OnConnect(c.rejoin),
		)
	}

	return c
}

// Close removes the coordinator's subscriptions
func (c *Coordinator) Close() {
	for _, dispose := range c.disposers {
		dispose()
	}
}

// JoinRoom sends a join frame and starts tracking the room. Joining a room
// that is already tracked re-sends the frame and keeps the existing state.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return errors.New(errors.ErrorTypeValidation, "EMPTY_ROOM_ID", "room id is required")
	}

	if err := c.messenger.Send(ctx, domain.MessageTypeJoinRoom, domain.JoinRoomRequest{RoomID: roomID}); err != nil {
		return err
	}

	c.mu.Lock()
	if _, ok := c.rooms[roomID]; !ok {
		c.rooms[roomID] = newRoomState()
	}
	c.mu.Unlock()

	c.logger.Info("joined room", "room_id", roomID)
	return nil
}

// LeaveRoom sends a leave frame and discards the room's local state
func (c *Coordinator) LeaveRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return errors.New(errors.ErrorTypeValidation, "EMPTY_ROOM_ID", "room id is required")
	}

	if err := c.messenger.Send(ctx, domain.MessageTypeLeaveRoom, domain.LeaveRoomRequest{RoomID: roomID}); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()

	c.logger.Info("left room", "room_id", roomID)
	return nil
}

// SendTyping sends the caller's typing state for a room
func (c *Coordinator) SendTyping(ctx context.Context, roomID string, isTyping bool) error {
	if roomID == "" {
		return errors.New(errors.ErrorTypeValidation, "EMPTY_ROOM_ID", "room id is required")
	}
	return c.messenger.Send(ctx, domain.MessageTypeTyping, domain.TypingRequest{RoomID: roomID, IsTyping: isTyping})
}

// Room returns a snapshot of a joined room
func (c *Coordinator) Room(roomID string) (Room, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, ok := c.rooms[roomID]
	if !ok {
		return Room{}, false
	}

	return Room{
		ID:           roomID,
		Participants: sortedKeys(state.participants),
		Typing:       sortedKeys(state.typing),
	}, true
}

// Rooms returns the ids of all joined rooms in order
func (c *Coordinator) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Participants returns the participant set of a joined room
func (c *Coordinator) Participants(roomID string) []string {
	room, _ := c.Room(roomID)
	return room.Participants
}

// Typing returns the users currently typing in a joined room
func (c *Coordinator) Typing(roomID string) []string {
	room, _ := c.Room(roomID)
	return room.Typing
}

func (c *Coordinator) handleParticipants(_ context.Context, msg *domain.Message) error {
	payload, ok := msg.Payload.(domain.RoomParticipants)
	if !ok {
		return errors.New(errors.ErrorTypeProtocol, "UNEXPECTED_PAYLOAD", "unexpected room_participants payload")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, state := range c.targets(payload.RoomID) {
		clear(state.participants)
		for _, userID := range payload.Participants {
			state.participants[userID] = struct{}{}
		}
	}
	return nil
}

func (c *Coordinator) handleTyping(_ context.Context, msg *domain.Message) error {
	payload, ok := msg.Payload.(domain.UserTyping)
	if !ok {
		return errors.New(errors.ErrorTypeProtocol, "UNEXPECTED_PAYLOAD", "unexpected user_typing payload")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, state := range c.targets(payload.RoomID) {
		if payload.IsTyping {
			state.typing[payload.UserID] = struct{}{}
		} else {
			delete(state.typing, payload.UserID)
		}
	}
	return nil
}

// targets returns the rooms an inbound event applies to. Events without a
// room id apply to every joined room. Must be called with mu held.
func (c *Coordinator) targets(roomID string) []*roomState {
	if roomID != "" {
		if state, ok := c.rooms[roomID]; ok {
			return []*roomState{state}
		}
		c.logger.Debug("event for room not joined", "room_id", roomID)
		return nil
	}

	states := make([]*roomState, 0, len(c.rooms))
	for _, state := range c.rooms {
		states = append(states, state)
	}
	return states
}

func (c *Coordinator) resetAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, state := range c.rooms {
		state.reset()
	}
}

func (c *Coordinator) rejoin() {
	for _, roomID := range c.Rooms() {
		err := c.messenger.Send(context.Background(), domain.MessageTypeJoinRoom, domain.JoinRoomRequest{RoomID: roomID})
		if err != nil {
			c.logger.Warn("failed to rejoin room", "room_id", roomID, "error", err)
			continue
		}
		c.logger.Debug("rejoined room", "room_id", roomID)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
