package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/manpreetbhatti/easel/internal/stroke"
)

// Names the event carried by an envelope
type MessageType string

const (
	// Client to server
	TypeJoinRoom   MessageType = "join-room"
	TypeDraw       MessageType = "draw"
	TypeCursorMove MessageType = "cursor-move"
	TypeUndo       MessageType = "undo"
	TypeRedo       MessageType = "redo"
	TypeClear      MessageType = "clear"

	// Server to client
	TypeWelcome      MessageType = "welcome"
	TypeSyncHistory  MessageType = "sync-history"
	TypeUserJoined   MessageType = "user-joined"
	TypeUserLeft     MessageType = "user-left"
	TypeCursorUpdate MessageType = "cursor-update"
)

// Lifecycle stage of a stroke carried by a draw message
type OpType string

const (
	DrawStart OpType = "draw-start"
	DrawPoint OpType = "draw-point"
	DrawEnd   OpType = "draw-end"
	DrawFull  OpType = "draw-full"
)

// Reports whether operations of this type are kept in the room log
func (t OpType) Durable() bool {
	return t == DrawEnd || t == DrawFull
}

// Every frame on the socket is one envelope
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Wraps a payload into an encoded envelope
func Encode(t MessageType, payload interface{}) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Like Encode, for payloads that are known to marshal
func MustEncode(t MessageType, payload interface{}) []byte {
	data, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return data
}

func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope has no type")
	}
	return &env, nil
}

// Unmarshals the envelope payload into v
func (e *Envelope) Payload(v interface{}) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Sent by a client to enter a room
type JoinRoom struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
	Color    string `json:"color"`
}

// A drawing operation. Clients send Type plus Stroke or StrokeID/Point;
// the relay stamps UserID and ID. Undone is owned by the room log.
type DrawOp struct {
	Type     OpType         `json:"type"`
	Stroke   *stroke.Stroke `json:"stroke,omitempty"`
	StrokeID string         `json:"strokeId,omitempty"`
	Point    *stroke.Point  `json:"point,omitempty"`
	UserID   string         `json:"userId,omitempty"`
	ID       string         `json:"id,omitempty"`
	Undone   bool           `json:"undone,omitempty"`
}

// Checks that the operation carries what its type needs
func (op *DrawOp) Validate() error {
	switch op.Type {
	case DrawStart, DrawEnd, DrawFull:
		if op.Stroke == nil {
			return fmt.Errorf("%s requires a stroke", op.Type)
		}
		return op.Stroke.Validate()
	case DrawPoint:
		if op.StrokeID == "" || op.Point == nil {
			return fmt.Errorf("draw-point requires strokeId and point")
		}
		return nil
	default:
		return fmt.Errorf("unknown draw type: %q", op.Type)
	}
}

// Copy of the operation that shares nothing mutable with op
func (op *DrawOp) Clone() *DrawOp {
	c := *op
	c.Stroke = op.Stroke.Clone()
	if op.Point != nil {
		p := *op.Point
		c.Point = &p
	}
	return &c
}

type CursorMove struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// A room member as announced to clients
type Participant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Color    string `json:"color"`
}

// First message after a successful join
type Welcome struct {
	UserID       string        `json:"userId"`
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type CursorUpdate struct {
	UserID   string  `json:"userId"`
	UserName string  `json:"userName"`
	Color    string  `json:"color"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type Clear struct {
	UserID string `json:"userId"`
}

// Broadcast when an entry of the room log is marked undone
type Undo struct {
	OpID     string `json:"opId"`
	UserID   string `json:"userId"`
	StrokeID string `json:"strokeId,omitempty"`
}

// Broadcast when an undone entry is restored
type Redo struct {
	OpID   string         `json:"opId"`
	UserID string         `json:"userId"`
	Stroke *stroke.Stroke `json:"stroke,omitempty"`
}
