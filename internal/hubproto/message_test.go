package hubproto

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestEncode_InvocationAlwaysHasArguments(t *testing.T) {
	msg := Message{Type: TypeInvocation, Target: "Noop"}

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if data[len(data)-1] != RecordSeparator {
		t.Fatalf("record not terminated: %q", data)
	}
	if !strings.Contains(string(data), `"arguments":[]`) {
		t.Errorf("encoded invocation = %s, want empty arguments array", data)
	}
}

func TestEncode_PingOmitsArguments(t *testing.T) {
	data, err := Encode(Ping())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if got := string(data[:len(data)-1]); got != `{"type":6}` {
		t.Errorf("ping = %s, want {\"type\":6}", got)
	}
}

func TestNewInvocation(t *testing.T) {
	pos := struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}{120, 45}

	msg, err := NewInvocation("7", "SendCursorPosition", "design-review", pos)
	if err != nil {
		t.Fatalf("NewInvocation failed: %v", err)
	}

	data, err := Encode(msg)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	records := Split(data)
	if len(records) != 1 {
		t.Fatalf("Split returned %d records, want 1", len(records))
	}

	decoded, err := Decode(records[0])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Target != "SendCursorPosition" || decoded.InvocationID != "7" {
		t.Errorf("decoded = %+v", decoded)
	}
	if len(decoded.Arguments) != 2 {
		t.Fatalf("len(Arguments) = %d, want 2", len(decoded.Arguments))
	}
	if string(decoded.Arguments[1]) != `{"x":120,"y":45}` {
		t.Errorf("Arguments[1] = %s", decoded.Arguments[1])
	}
}

func TestSplit_MultipleRecords(t *testing.T) {
	frame := []byte("{\"type\":6}\x1e{\"type\":1,\"target\":\"RoomCreated\",\"arguments\":[\"r\"]}\x1e\x1e")

	records := Split(frame)
	if len(records) != 2 {
		t.Fatalf("Split returned %d records, want 2", len(records))
	}

	msg, err := Decode(records[1])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Type != TypeInvocation || msg.Target != "RoomCreated" {
		t.Errorf("decoded = %+v", msg)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		record  string
		wantErr error
	}{
		{name: "empty", record: "  ", wantErr: ErrEmptyRecord},
		{name: "no type", record: `{"target":"x"}`, wantErr: ErrMissingType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.record))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := Decode([]byte("{not json")); err == nil {
		t.Error("expected error for malformed record")
	}
}

func TestCompletion_Error(t *testing.T) {
	msg, err := NewCompletion("3", nil, "room not found")
	if err != nil {
		t.Fatalf("NewCompletion failed: %v", err)
	}
	data, _ := json.Marshal(msg)
	if string(data) != `{"type":3,"invocationId":"3","error":"room not found"}` {
		t.Errorf("completion = %s", data)
	}
}

func TestHandshake(t *testing.T) {
	req, rest, err := ParseHandshakeRequest(EncodeHandshake())
	if err != nil {
		t.Fatalf("ParseHandshakeRequest failed: %v", err)
	}
	if req.Protocol != "json" || req.Version != 1 {
		t.Errorf("request = %+v", req)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %q, want empty", rest)
	}

	frame := append(EncodeHandshakeResponse(""), []byte("{\"type\":6}\x1e")...)
	rest, err = ParseHandshakeResponse(frame)
	if err != nil {
		t.Fatalf("ParseHandshakeResponse failed: %v", err)
	}
	if string(rest) != "{\"type\":6}\x1e" {
		t.Errorf("rest = %q", rest)
	}

	_, err = ParseHandshakeResponse(EncodeHandshakeResponse("protocol not supported"))
	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("expected HandshakeError, got %v", err)
	}
	if hsErr.Message != "protocol not supported" {
		t.Errorf("Message = %q", hsErr.Message)
	}

	if _, err := ParseHandshakeResponse([]byte("{}")); !errors.Is(err, ErrNoHandshakeSeen) {
		t.Errorf("unterminated handshake error = %v, want ErrNoHandshakeSeen", err)
	}
}

func TestNegotiateResponse(t *testing.T) {
	data := `{"connectionId":"abc","connectionToken":"tok","negotiateVersion":1,"availableTransports":[{"transport":"LongPolling","transferFormats":["Text"]},{"transport":"WebSockets","transferFormats":["Text","Binary"]}]}`

	var resp NegotiateResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if resp.Token() != "tok" {
		t.Errorf("Token() = %q, want tok", resp.Token())
	}
	if !resp.SupportsWebSockets() {
		t.Error("expected websockets support")
	}

	v0 := NegotiateResponse{ConnectionID: "abc", AvailableTransports: []AvailableTransport{{Transport: "LongPolling", TransferFormats: []string{"Text"}}}}
	if v0.Token() != "abc" {
		t.Errorf("Token() = %q, want abc", v0.Token())
	}
	if v0.SupportsWebSockets() {
		t.Error("expected no websockets support")
	}
}
