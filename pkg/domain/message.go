package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType represents the type of a frame on the event stream
type MessageType string

// Inbound message types
const (
	MessageTypeRoomParticipants MessageType = "room_participants"
	MessageTypeUserTyping       MessageType = "user_typing"
	MessageTypeNotification     MessageType = "notification"
	MessageTypeMetricsUpdate    MessageType = "metrics_update"
	MessageTypeAgentStatus      MessageType = "agent_status"
	MessageTypeContractStatus   MessageType = "contract_status"
	MessageTypeDocumentStatus   MessageType = "document_status"
	MessageTypeSystemStatus     MessageType = "system_status"
)

// Outbound control message types
const (
	MessageTypeJoinRoom  MessageType = "join_room"
	MessageTypeLeaveRoom MessageType = "leave_room"
	MessageTypeTyping    MessageType = "typing"
)

var (
	errMissingType   = errors.New("frame has no type")
	errMissingUserID = errors.New("user_typing without user_id")
	errMissingID     = errors.New("notification without id")
)

// Frame is one {type, data} unit of traffic in either direction
type Frame struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame creates a frame, marshaling data as its payload
func NewFrame(messageType MessageType, data any) (*Frame, error) {
	if messageType == "" {
		return nil, errMissingType
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", messageType, err)
	}

	return &Frame{Type: messageType, Data: raw}, nil
}

// Marshal marshals the frame to bytes
func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// ParseFrame unmarshals the envelope of an inbound frame
func ParseFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Type == "" {
		return nil, errMissingType
	}
	return &f, nil
}

// Payload is the decoded body of a frame. The concrete type is one of
// RoomParticipants, UserTyping, Notification, MetricsUpdate, StatusUpdate or Unknown.
type Payload interface {
	MessageType() MessageType
}

// RoomParticipants is the authoritative participant snapshot of a room.
// An empty RoomID applies to every joined room.
type RoomParticipants struct {
	RoomID       string   `json:"room_id,omitempty"`
	Participants []string `json:"participants"`
}

func (RoomParticipants) MessageType() MessageType { return MessageTypeRoomParticipants }

// UserTyping is an incremental typing-state change
type UserTyping struct {
	RoomID   string `json:"room_id,omitempty"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

func (UserTyping) MessageType() MessageType { return MessageTypeUserTyping }

// Notification is a user-facing notification record
type Notification struct {
	ID     string
	Fields map[string]any
}

func (Notification) MessageType() MessageType { return MessageTypeNotification }

// UnmarshalJSON keeps every field of the record and lifts out its id
func (n *Notification) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	id, _ := fields["id"].(string)
	if id == "" {
		return errMissingID
	}

	n.ID = id
	n.Fields = fields
	return nil
}

// MarshalJSON writes the record back as a flat object
func (n Notification) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Fields)+1)
	for k, v := range n.Fields {
		out[k] = v
	}
	out["id"] = n.ID
	return json.Marshal(out)
}

// MetricsUpdate replaces the whole metrics mapping
type MetricsUpdate struct {
	Metrics map[string]float64 `json:"metrics"`
}

func (MetricsUpdate) MessageType() MessageType { return MessageTypeMetricsUpdate }

// StatusUpdate carries an agent, contract, document or system status change.
// Its shape belongs to the subscriber, so the data stays raw.
type StatusUpdate struct {
	Kind MessageType
	Data json.RawMessage
}

func (s StatusUpdate) MessageType() MessageType { return s.Kind }

// Unknown is any type this client does not model
type Unknown struct {
	Type MessageType
	Data json.RawMessage
}

func (u Unknown) MessageType() MessageType { return u.Type }

// Decode decodes the frame data into its typed payload
func (f *Frame) Decode() (Payload, error) {
	switch f.Type {
	case MessageTypeRoomParticipants:
		var p RoomParticipants
		if err := unmarshalData(f.Data, &p); err != nil {
			return nil, err
		}
		if p.Participants == nil {
			p.Participants = []string{}
		}
		return p, nil
	case MessageTypeUserTyping:
		var p UserTyping
		if err := unmarshalData(f.Data, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, errMissingUserID
		}
		return p, nil
	case MessageTypeNotification:
		var p Notification
		if err := unmarshalData(f.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case MessageTypeMetricsUpdate:
		var p MetricsUpdate
		if err := unmarshalData(f.Data, &p); err != nil {
			return nil, err
		}
		if p.Metrics == nil {
			p.Metrics = map[string]float64{}
		}
		return p, nil
	case MessageTypeAgentStatus, MessageTypeContractStatus, MessageTypeDocumentStatus, MessageTypeSystemStatus:
		return StatusUpdate{Kind: f.Type, Data: f.Data}, nil
	default:
		return Unknown{Type: f.Type, Data: f.Data}, nil
	}
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		data = []byte("{}")
	}
	return json.Unmarshal(data, v)
}

// Message is a decoded inbound frame handed to subscribers
type Message struct {
	Type       MessageType
	Data       json.RawMessage
	Payload    Payload
	ReceivedAt time.Time
}

// DecodeMessage parses and decodes a raw inbound frame
func DecodeMessage(raw []byte, receivedAt time.Time) (*Message, error) {
	f, err := ParseFrame(raw)
	if err != nil {
		return nil, err
	}

	payload, err := f.Decode()
	if err != nil {
		return &Message{Type: f.Type, Data: f.Data, ReceivedAt: receivedAt}, fmt.Errorf("decode %s: %w", f.Type, err)
	}

	return &Message{
		Type:       f.Type,
		Data:       f.Data,
		Payload:    payload,
		ReceivedAt: receivedAt,
	}, nil
}

// JoinRoomRequest is the data of a join_room frame
type JoinRoomRequest struct {
	RoomID string `json:"room_id"`
}

// LeaveRoomRequest is the data of a leave_room frame
type LeaveRoomRequest struct {
	RoomID string `json:"room_id"`
}

// TypingRequest is the data of a typing frame
type TypingRequest struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}
