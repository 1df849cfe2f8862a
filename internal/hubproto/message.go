package hubproto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// RecordSeparator terminates every record on the wire.
const RecordSeparator byte = 0x1e

// ProtocolName and ProtocolVersion are sent in the handshake request.
const (
	ProtocolName    = "json"
	ProtocolVersion = 1
)

// MessageType identifies the kind of hub record.
type MessageType int

const (
	TypeInvocation       MessageType = 1
	TypeStreamItem       MessageType = 2
	TypeCompletion       MessageType = 3
	TypeStreamInvocation MessageType = 4
	TypeCancelInvocation MessageType = 5
	TypePing             MessageType = 6
	TypeClose            MessageType = 7
)

func (t MessageType) String() string {
	switch t {
	case TypeInvocation:
		return "invocation"
	case TypeStreamItem:
		return "stream_item"
	case TypeCompletion:
		return "completion"
	case TypeStreamInvocation:
		return "stream_invocation"
	case TypeCancelInvocation:
		return "cancel_invocation"
	case TypePing:
		return "ping"
	case TypeClose:
		return "close"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Errors
var (
	ErrEmptyRecord     = errors.New("empty hub record")
	ErrMissingType     = errors.New("hub record has no type")
	ErrNoHandshakeSeen = errors.New("handshake response not terminated")
)

// HandshakeError is returned when the server rejects the handshake.
type HandshakeError struct {
	Message string
}

func (e *HandshakeError) Error() string {
	return "hub handshake rejected: " + e.Message
}

// HandshakeRequest is the first record a client sends.
type HandshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

// HandshakeResponse is the first record a server sends. An empty object
// means the handshake was accepted.
type HandshakeResponse struct {
	Error string `json:"error,omitempty"`
}

// Message is the envelope shared by all hub record types. Fields that do not
// apply to a given type are left empty.
type Message struct {
	Type           MessageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

// MarshalJSON always emits an arguments array for invocations, even when
// there are no arguments.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire Message
	out := struct {
		wire
		Arguments *[]json.RawMessage `json:"arguments,omitempty"`
	}{wire: wire(m)}

	if m.Type == TypeInvocation || m.Type == TypeStreamInvocation {
		args := m.Arguments
		if args == nil {
			args = []json.RawMessage{}
		}
		out.Arguments = &args
	}
	return json.Marshal(out)
}

// NewInvocation builds an invocation record. An empty id makes it a
// non-blocking invocation that the server will not answer.
func NewInvocation(id, target string, args ...any) (Message, error) {
	raw := make([]json.RawMessage, 0, len(args))
	for i, arg := range args {
		data, err := json.Marshal(arg)
		if err != nil {
			return Message{}, fmt.Errorf("marshal argument %d of %s: %w", i, target, err)
		}
		raw = append(raw, data)
	}
	return Message{
		Type:         TypeInvocation,
		InvocationID: id,
		Target:       target,
		Arguments:    raw,
	}, nil
}

// NewCompletion builds a completion record answering invocation id. A
// non-empty errMsg reports failure; otherwise result (may be nil) is sent.
func NewCompletion(id string, result any, errMsg string) (Message, error) {
	msg := Message{Type: TypeCompletion, InvocationID: id, Error: errMsg}
	if errMsg == "" && result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return Message{}, fmt.Errorf("marshal completion result: %w", err)
		}
		msg.Result = data
	}
	return msg, nil
}

// Ping returns a keepalive record.
func Ping() Message {
	return Message{Type: TypePing}
}

// Encode serializes a message and appends the record separator.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return append(data, RecordSeparator), nil
}

// EncodeHandshake returns the client handshake record.
func EncodeHandshake() []byte {
	data, _ := json.Marshal(HandshakeRequest{Protocol: ProtocolName, Version: ProtocolVersion})
	return append(data, RecordSeparator)
}

// EncodeHandshakeResponse returns the server handshake record. An empty
// errMsg accepts the handshake.
func EncodeHandshakeResponse(errMsg string) []byte {
	data, _ := json.Marshal(HandshakeResponse{Error: errMsg})
	return append(data, RecordSeparator)
}

// Split breaks a frame into its records, dropping separators and empty
// records.
func Split(frame []byte) [][]byte {
	parts := bytes.Split(frame, []byte{RecordSeparator})
	records := make([][]byte, 0, len(parts))
	for _, p := range parts {
		if len(bytes.TrimSpace(p)) == 0 {
			continue
		}
		records = append(records, p)
	}
	return records
}

// Decode parses one record.
func Decode(record []byte) (Message, error) {
	if len(bytes.TrimSpace(record)) == 0 {
		return Message{}, ErrEmptyRecord
	}
	var msg Message
	if err := json.Unmarshal(record, &msg); err != nil {
		return Message{}, fmt.Errorf("decode hub record: %w", err)
	}
	if msg.Type == 0 {
		return Message{}, ErrMissingType
	}
	return msg, nil
}

// ParseHandshakeResponse splits the handshake reply off the front of the
// first frame. Any records following it are returned as rest.
func ParseHandshakeResponse(frame []byte) (rest []byte, err error) {
	idx := bytes.IndexByte(frame, RecordSeparator)
	if idx < 0 {
		return nil, ErrNoHandshakeSeen
	}

	var resp HandshakeResponse
	if err := json.Unmarshal(frame[:idx], &resp); err != nil {
		return nil, fmt.Errorf("decode handshake response: %w", err)
	}
	if resp.Error != "" {
		return nil, &HandshakeError{Message: resp.Error}
	}
	return frame[idx+1:], nil
}

// ParseHandshakeRequest validates a client handshake on the server side.
func ParseHandshakeRequest(frame []byte) (HandshakeRequest, []byte, error) {
	idx := bytes.IndexByte(frame, RecordSeparator)
	if idx < 0 {
		return HandshakeRequest{}, nil, ErrNoHandshakeSeen
	}
	var req HandshakeRequest
	if err := json.Unmarshal(frame[:idx], &req); err != nil {
		return HandshakeRequest{}, nil, fmt.Errorf("decode handshake request: %w", err)
	}
	if req.Protocol != ProtocolName {
		return req, nil, fmt.Errorf("unsupported protocol %q", req.Protocol)
	}
	return req, frame[idx+1:], nil
}
