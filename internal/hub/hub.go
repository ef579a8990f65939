// Package hub is the room hub behind the development event stream server.
package hub

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/agentws/internal/logging"
	"github.com/HMasataka/agentws/pkg/domain"
	"github.com/HMasataka/agentws/pkg/errors"
)

var ErrHubStopped = errors.New(errors.ErrorTypeInternal, "HUB_STOPPED", "hub is stopped")

const sendTimeout = 5 * time.Second

// Peer is a server-side connection
type Peer interface {
	ID() string
	Send(ctx context.Context, message []byte) error
	Close() error
}

// Stats represents hub statistics
type Stats struct {
	ConnectedPeers   int64   `json:"connected_peers"`
	MessagesSent     int64   `json:"messages_sent"`
	MessagesReceived int64   `json:"messages_received"`
	Uptime           float64 `json:"uptime"`
}

type peer struct {
	conn   Peer
	userID string
	rooms  map[string]struct{}
}

type inboundMessage struct {
	peerID  string
	message []byte
}

// Hub tracks peers and room membership. All state is owned by the run loop.
type Hub struct {
	peers map[string]*peer
	rooms map[string]map[string]struct{}

	register   chan *peer
	unregister chan string
	inbound    chan inboundMessage
	broadcast  chan []byte

	logger *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connectedPeers   int64
	messagesSent     int64
	messagesReceived int64
	startTime        time.Time
}

// New creates a new hub
func New(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		peers:      make(map[string]*peer),
		rooms:      make(map[string]map[string]struct{}),
		register:   make(chan *peer, 100),
		unregister: make(chan string, 100),
		inbound:    make(chan inboundMessage, 1000),
		broadcast:  make(chan []byte, 100),
		logger:     logger.Component("hub"),
		ctx:        ctx,
		cancel:     cancel,
		startTime:  time.Now(),
	}
}

// Start runs the hub loop until ctx is done or Stop is called
func (h *Hub) Start(ctx context.Context) error {
	h.wg.Add(1)
	go h.run(ctx)
	h.logger.Info("hub started")
	return nil
}

// Stop stops the loop and closes every peer
func (h *Hub) Stop() error {
	h.logger.Info("stopping hub")
	h.cancel()
	h.wg.Wait()

	for id, p := range h.peers {
		p.conn.Close()
		delete(h.peers, id)
	}

	h.logger.Info("hub stopped")
	return nil
}

// Register adds a peer for userID
func (h *Hub) Register(conn domain.Conn, userID string) error {
	return h.RegisterPeer(conn, userID)
}

// RegisterPeer adds any Peer for userID
func (h *Hub) RegisterPeer(conn Peer, userID string) error {
	if h.stopped() {
		return ErrHubStopped
	}

	p := &peer{conn: conn, userID: userID, rooms: make(map[string]struct{})}

	select {
	case h.register <- p:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	default:
		return errors.New(errors.ErrorTypeInternal, "REGISTER_QUEUE_FULL", "register queue is full")
	}
}

// Unregister removes a peer and its room memberships
func (h *Hub) Unregister(peerID string) error {
	if h.stopped() {
		return ErrHubStopped
	}

	select {
	case h.unregister <- peerID:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	default:
		return errors.New(errors.ErrorTypeInternal, "UNREGISTER_QUEUE_FULL", "unregister queue is full")
	}
}

// Handle queues an inbound frame from a peer
func (h *Hub) Handle(peerID string, message []byte) error {
	if h.stopped() {
		return ErrHubStopped
	}

	select {
	case h.inbound <- inboundMessage{peerID: peerID, message: message}:
		atomic.AddInt64(&h.messagesReceived, 1)
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	default:
		return errors.New(errors.ErrorTypeInternal, "INBOUND_QUEUE_FULL", "inbound queue is full")
	}
}

// Broadcast sends a frame to every peer
func (h *Hub) Broadcast(messageType domain.MessageType, data any) error {
	if h.stopped() {
		return ErrHubStopped
	}

	frame, err := encode(messageType, data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- frame:
		return nil
	case <-h.ctx.Done():
		return ErrHubStopped
	default:
		return errors.New(errors.ErrorTypeInternal, "BROADCAST_QUEUE_FULL", "broadcast queue is full")
	}
}

// Stats returns hub statistics
func (h *Hub) Stats() Stats {
	return Stats{
		ConnectedPeers:   atomic.LoadInt64(&h.connectedPeers),
		MessagesSent:     atomic.LoadInt64(&h.messagesSent),
		MessagesReceived: atomic.LoadInt64(&h.messagesReceived),
		Uptime:           time.Since(h.startTime).Seconds(),
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.ctx.Done():
		return true
	default:
		return false
	}
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()

	for {
		select {
		case <-ctx.Done():
			h.cancel()
			return

		case <-h.ctx.Done():
			return

		case p := <-h.register:
			h.handleRegister(p)

		case peerID := <-h.unregister:
			h.drainRegister()
			h.drainInbound()
			h.handleUnregister(peerID)

		case msg := <-h.inbound:
			h.drainRegister()
			h.handleInbound(msg)

		case frame := <-h.broadcast:
			h.drainRegister()
			for _, p := range h.peers {
				h.send(p, frame)
			}
		}
	}
}

// drainRegister applies queued registrations so that a peer's frames are
// never seen before the peer itself
func (h *Hub) drainRegister() {
	for {
		select {
		case p := <-h.register:
			h.handleRegister(p)
		default:
			return
		}
	}
}

// drainInbound applies the frames queued before an unregister so that a
// leaving peer's last frames are not dropped as coming from an unknown peer
func (h *Hub) drainInbound() {
	for n := len(h.inbound); n > 0; n-- {
		h.handleInbound(<-h.inbound)
	}
}

func (h *Hub) handleRegister(p *peer) {
	id := p.conn.ID()
	if _, exists := h.peers[id]; exists {
		h.logger.Warn("peer already registered", "peer_id", id)
		return
	}

	h.peers[id] = p
	atomic.AddInt64(&h.connectedPeers, 1)

	h.logger.Info("peer registered",
		"peer_id", id,
		"user_id", p.userID,
		"total_peers", len(h.peers),
	)
}

func (h *Hub) handleUnregister(peerID string) {
	p, ok := h.peers[peerID]
	if !ok {
		return
	}

	delete(h.peers, peerID)
	atomic.AddInt64(&h.connectedPeers, -1)
	p.conn.Close()

	for roomID := range p.rooms {
		h.leave(p, roomID)
	}

	h.logger.Info("peer unregistered",
		"peer_id", peerID,
		"total_peers", len(h.peers),
	)
}

func (h *Hub) handleInbound(msg inboundMessage) {
	p, ok := h.peers[msg.peerID]
	if !ok {
		h.logger.Warn("frame from unknown peer", "peer_id", msg.peerID)
		return
	}

	frame, err := domain.ParseFrame(msg.message)
	if err != nil {
		h.logger.Warn("malformed frame", "peer_id", msg.peerID, "error", err)
		return
	}

	switch frame.Type {
	case domain.MessageTypeJoinRoom:
		var req domain.JoinRoomRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
			h.logger.Warn("invalid join_room", "peer_id", msg.peerID)
			return
		}
		h.join(p, req.RoomID)

	case domain.MessageTypeLeaveRoom:
		var req domain.LeaveRoomRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
			h.logger.Warn("invalid leave_room", "peer_id", msg.peerID)
			return
		}
		if _, joined := p.rooms[req.RoomID]; joined {
			h.leave(p, req.RoomID)
		}

	case domain.MessageTypeTyping:
		var req domain.TypingRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.RoomID == "" {
			h.logger.Warn("invalid typing", "peer_id", msg.peerID)
			return
		}
		h.typing(p, req)

	default:
		h.logger.Debug("ignoring frame", "peer_id", msg.peerID, "message_type", frame.Type)
	}
}

func (h *Hub) join(p *peer, roomID string) {
	members, ok := h.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		h.rooms[roomID] = members
	}

	members[p.conn.ID()] = struct{}{}
	p.rooms[roomID] = struct{}{}

	h.logger.Debug("peer joined room", "peer_id", p.conn.ID(), "room_id", roomID)
	h.snapshot(roomID)
}

func (h *Hub) leave(p *peer, roomID string) {
	delete(p.rooms, roomID)

	members := h.rooms[roomID]
	delete(members, p.conn.ID())

	h.logger.Debug("peer left room", "peer_id", p.conn.ID(), "room_id", roomID)

	if len(members) == 0 {
		delete(h.rooms, roomID)
		return
	}
	h.snapshot(roomID)
}

func (h *Hub) typing(p *peer, req domain.TypingRequest) {
	if _, joined := p.rooms[req.RoomID]; !joined {
		return
	}

	frame, err := encode(domain.MessageTypeUserTyping, domain.UserTyping{
		RoomID:   req.RoomID,
		UserID:   p.userID,
		IsTyping: req.IsTyping,
	})
	if err != nil {
		h.logger.Error("failed to encode user_typing", "error", err)
		return
	}

	for id := range h.rooms[req.RoomID] {
		if id == p.conn.ID() {
			continue
		}
		h.send(h.peers[id], frame)
	}
}

// snapshot sends the participant list of roomID to every member
func (h *Hub) snapshot(roomID string) {
	members := h.rooms[roomID]

	users := make([]string, 0, len(members))
	for id := range members {
		if m, ok := h.peers[id]; ok && !slices.Contains(users, m.userID) {
			users = append(users, m.userID)
		}
	}
	slices.Sort(users)

	frame, err := encode(domain.MessageTypeRoomParticipants, domain.RoomParticipants{
		RoomID:       roomID,
		Participants: users,
	})
	if err != nil {
		h.logger.Error("failed to encode room_participants", "error", err)
		return
	}

	for id := range members {
		if m, ok := h.peers[id]; ok {
			h.send(m, frame)
		}
	}
}

func (h *Hub) send(p *peer, frame []byte) {
	if p == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	err := p.conn.Send(ctx, frame)
	cancel()

	if err != nil {
		h.logger.Error("failed to send to peer",
			"peer_id", p.conn.ID(),
			"error", err,
		)
		return
	}
	atomic.AddInt64(&h.messagesSent, 1)
}

func encode(messageType domain.MessageType, data any) ([]byte, error) {
	frame, err := domain.NewFrame(messageType, data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to build frame")
	}
	b, err := frame.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal frame")
	}
	return b, nil
}
