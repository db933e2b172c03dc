// Package protocol defines the relay wire format: one JSON document per
// websocket text frame, discriminated by its "type" field.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// MessageType is the value of the "type" discriminator.
type MessageType string

const (
	MessageTypeStatus MessageType = "status"
	MessageTypePlayer MessageType = "player"
	MessageTypeChat   MessageType = "chat"
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	return string(mt)
}

var (
	// ErrMalformed is returned for frames that are not a JSON object with a
	// string "type", or whose known type lacks required fields.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownType is returned by DecodeOutbound for types it does not know.
	ErrUnknownType = errors.New("unknown message type")
)

// Outbound is a message sent by the relay to the peer.
type Outbound interface {
	Type() MessageType
	outbound()
}

// StatusUpdate reports whether the server is online and how many players it has.
// With NoPlayerCount set the count is left out of the frame and the peer keeps
// the count it already has.
type StatusUpdate struct {
	Online        bool
	PlayerCount   int
	NoPlayerCount bool
}

// PlayerUpdate reports a change in the online player count.
type PlayerUpdate struct {
	Count int
}

// ChatMessage is a chat line written by a player on the server.
type ChatMessage struct {
	Player  string
	Message string
}

func (StatusUpdate) Type() MessageType { return MessageTypeStatus }
func (PlayerUpdate) Type() MessageType { return MessageTypePlayer }
func (ChatMessage) Type() MessageType  { return MessageTypeChat }

func (StatusUpdate) outbound() {}
func (PlayerUpdate) outbound() {}
func (ChatMessage) outbound()  {}

// Inbound is a message received by the relay from the peer.
type Inbound interface {
	inbound()
}

// ChatReceived is a chat line coming from the peer side.
type ChatReceived struct {
	Sender  string
	Message string
}

// Ignored stands for a well-formed frame whose type the relay does not handle.
// Peers may add message kinds without breaking older relays.
type Ignored struct {
	Type string
}

func (ChatReceived) inbound() {}
func (Ignored) inbound()      {}

type statusWire struct {
	Type        MessageType `json:"type"`
	Online      bool        `json:"online"`
	PlayerCount *int        `json:"playerCount,omitempty"`
}

type playerWire struct {
	Type  MessageType `json:"type"`
	Count int         `json:"count"`
}

type chatOutWire struct {
	Type    MessageType `json:"type"`
	Player  string      `json:"player"`
	Message string      `json:"message"`
}

type chatInWire struct {
	Type    MessageType `json:"type"`
	Sender  string      `json:"sender"`
	Message string      `json:"message"`
}

// MaxCount is the largest player count that survives the wire. Counts are
// JSON numbers, read back as float64.
const MaxCount = 1 << 53

// Encode encodes an outbound message into a JSON frame.
func Encode(msg Outbound) ([]byte, error) {
	var wire any
	switch m := msg.(type) {
	case StatusUpdate:
		w := statusWire{Type: MessageTypeStatus, Online: m.Online}
		if !m.NoPlayerCount {
			if err := checkCount(m.PlayerCount); err != nil {
				return nil, err
			}
			count := m.PlayerCount
			w.PlayerCount = &count
		}
		wire = w
	case PlayerUpdate:
		if err := checkCount(m.Count); err != nil {
			return nil, err
		}
		wire = playerWire{Type: MessageTypePlayer, Count: m.Count}
	case ChatMessage:
		wire = chatOutWire{Type: MessageTypeChat, Player: m.Player, Message: m.Message}
	default:
		return nil, fmt.Errorf("failed to encode message: %w: %T", ErrUnknownType, msg)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// EncodeInbound encodes a message in the peer-to-relay direction.
func EncodeInbound(msg ChatReceived) ([]byte, error) {
	data, err := json.Marshal(chatInWire{Type: MessageTypeChat, Sender: msg.Sender, Message: msg.Message})
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return data, nil
}

// Decode decodes a frame received by the relay.
// A frame with an unrecognised type yields Ignored and a nil error.
func Decode(data []byte) (Inbound, error) {
	doc, typ, err := parse(data)
	if err != nil {
		return nil, err
	}

	switch MessageType(typ) {
	case MessageTypeChat:
		sender, ok := stringField(doc, "sender")
		if !ok {
			return nil, fmt.Errorf("failed to decode message: %w: chat without sender", ErrMalformed)
		}
		message, ok := stringField(doc, "message")
		if !ok {
			return nil, fmt.Errorf("failed to decode message: %w: chat without message", ErrMalformed)
		}
		return ChatReceived{Sender: sender, Message: message}, nil
	default:
		return Ignored{Type: typ}, nil
	}
}

// DecodeOutbound decodes a frame written by a relay. It is used on the peer side.
func DecodeOutbound(data []byte) (Outbound, error) {
	doc, typ, err := parse(data)
	if err != nil {
		return nil, err
	}

	switch MessageType(typ) {
	case MessageTypeStatus:
		online, ok := boolField(doc, "online")
		if !ok {
			return nil, fmt.Errorf("failed to decode message: %w: status without online", ErrMalformed)
		}
		// A missing or null playerCount leaves the peer's count unchanged.
		if v := doc.GetFields()["playerCount"]; v == nil || isNull(v) {
			return StatusUpdate{Online: online, NoPlayerCount: true}, nil
		}
		count, ok := intField(doc, "playerCount")
		if !ok {
			return nil, fmt.Errorf("failed to decode message: %w: status with invalid playerCount", ErrMalformed)
		}
		return StatusUpdate{Online: online, PlayerCount: count}, nil
	case MessageTypePlayer:
		count, ok := intField(doc, "count")
		if !ok {
			return nil, fmt.Errorf("failed to decode message: %w: player without count", ErrMalformed)
		}
		return PlayerUpdate{Count: count}, nil
	case MessageTypeChat:
		player, ok := stringField(doc, "player")
		if !ok || player == "" {
			return nil, fmt.Errorf("failed to decode message: %w: chat without player", ErrMalformed)
		}
		message, ok := stringField(doc, "message")
		if !ok || message == "" {
			return nil, fmt.Errorf("failed to decode message: %w: chat without message", ErrMalformed)
		}
		return ChatMessage{Player: player, Message: message}, nil
	default:
		return nil, fmt.Errorf("failed to decode message: %w: %q", ErrUnknownType, typ)
	}
}

// parse reads a frame into a generic document and extracts its type.
func parse(data []byte) (*structpb.Struct, string, error) {
	doc := &structpb.Struct{}
	if err := protojson.Unmarshal(data, doc); err != nil {
		return nil, "", fmt.Errorf("failed to decode message: %w: %v", ErrMalformed, err)
	}
	typ, ok := stringField(doc, "type")
	if !ok {
		return nil, "", fmt.Errorf("failed to decode message: %w: missing type", ErrMalformed)
	}
	return doc, typ, nil
}

func stringField(doc *structpb.Struct, key string) (string, bool) {
	v, ok := doc.GetFields()[key].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", false
	}
	return v.StringValue, true
}

func boolField(doc *structpb.Struct, key string) (bool, bool) {
	v, ok := doc.GetFields()[key].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, false
	}
	return v.BoolValue, true
}

func intField(doc *structpb.Struct, key string) (int, bool) {
	v, ok := doc.GetFields()[key].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, false
	}
	n := v.NumberValue
	if n != math.Trunc(n) || math.Abs(n) > MaxCount || float64(int(n)) != n {
		return 0, false
	}
	return int(n), true
}

func isNull(v *structpb.Value) bool {
	_, ok := v.GetKind().(*structpb.Value_NullValue)
	return ok
}

func checkCount(n int) error {
	if int64(n) > MaxCount || int64(n) < -MaxCount {
		return fmt.Errorf("failed to encode message: count %d out of range", n)
	}
	return nil
}
