package control

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned for frames that are not a JSON object with a type.
var ErrMalformedEnvelope = errors.New("control: malformed envelope")

// Decode parses a text frame into an Envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}

// Encode renders an Envelope as a text frame.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// NewEnvelope builds an outbound envelope with data marshalled into the body.
func NewEnvelope(t string, reqID string, data any) (Envelope, error) {
	env := Envelope{Type: t, ReqID: reqID}
	if data == nil {
		return env, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s body: %w", t, err)
	}
	env.Data = b
	return env, nil
}

// Body returns the envelope body, preferring "data" over "payload".
func (e Envelope) Body() json.RawMessage {
	if len(e.Data) > 0 {
		return e.Data
	}
	return e.Payload
}

func isEmptyBody(b json.RawMessage) bool {
	t := bytes.TrimSpace(b)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || bytes.Equal(t, []byte("{}"))
}

// DecodeRequest extracts the RPC call carried by a "request" envelope.
func DecodeRequest(env Envelope) (Request, error) {
	var req Request
	body := env.Body()
	if isEmptyBody(body) {
		return req, errors.New("request has no body")
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if req.Type == "" {
		return req, errors.New("request has no type")
	}
	return req, nil
}

// DecodeAuthReply classifies the relay's auth message. The presence of the
// "error" or "success" key decides, whatever its value.
func DecodeAuthReply(env Envelope) (AuthReply, error) {
	body := env.Body()
	if isEmptyBody(body) {
		return AuthReply{Empty: true}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return AuthReply{}, fmt.Errorf("decode auth: %w", err)
	}
	var reply AuthReply
	if raw, ok := fields["message"]; ok {
		_ = json.Unmarshal(raw, &reply.Message)
	}
	if raw, ok := fields["error"]; ok {
		reply.Failed = true
		if reply.Message == "" {
			var s string
			if json.Unmarshal(raw, &s) == nil {
				reply.Message = s
			}
		}
		return reply, nil
	}
	if _, ok := fields["success"]; ok {
		reply.Success = true
		return reply, nil
	}
	return AuthReply{Empty: true}, nil
}

// DecodeSubscriberDelta reads an update_subscribers body: {"delta": n} or a bare n.
func DecodeSubscriberDelta(env Envelope) (int, error) {
	body := bytes.TrimSpace(env.Body())
	if len(body) == 0 {
		return 0, errors.New("update_subscribers has no body")
	}
	var n int
	if err := json.Unmarshal(body, &n); err == nil {
		return n, nil
	}
	var wrapped struct {
		Delta *int `json:"delta"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return 0, fmt.Errorf("decode update_subscribers: %w", err)
	}
	if wrapped.Delta == nil {
		return 0, errors.New("update_subscribers has no delta")
	}
	return *wrapped.Delta, nil
}

// DecodeSetTemp reads a set_temp body.
func DecodeSetTemp(env Envelope) (SetTemp, error) {
	var st SetTemp
	if err := json.Unmarshal(env.Body(), &st); err != nil {
		return st, fmt.Errorf("decode set_temp: %w", err)
	}
	if st.Heater == "" {
		return st, errors.New("set_temp has no heater")
	}
	return st, nil
}
