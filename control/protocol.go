package control

import "encoding/json"

// Message types
const (
	TypeAuth              = "auth"
	TypeSendEvent         = "send_event"
	TypeReqResponse       = "req_response"
	TypeSetTemp           = "set_temp"
	TypeUpdateSubscribers = "update_subscribers"
	TypeRequest           = "request"
)

// Envelope is the top-level wire message. Inbound bodies may arrive under
// either "data" or "payload"; outbound messages always use "data".
type Envelope struct {
	Type     string          `json:"type"`
	ReqID    string          `json:"reqId,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Request is the body of a "request" envelope.
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event is the body of a "send_event" envelope.
type Event struct {
	EventType string `json:"eventType"`
	EventData any    `json:"eventData"`
}

// AuthRequest is sent by the device once the relay opens the handshake.
type AuthRequest struct {
	BoxID      string `json:"boxId"`
	BoxName    string `json:"boxName"`
	SWVersion  string `json:"swVersion"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// AuthReply is the relay's half of the handshake. Empty asks the device to
// authenticate; Failed or Success settle the attempt.
type AuthReply struct {
	Empty   bool
	Failed  bool
	Success bool
	Message string
}

// SetTemp is the body of a "set_temp" envelope.
type SetTemp struct {
	Heater string  `json:"heater"`
	Target float64 `json:"target"`
}

// SuccessResult is the normalized result of a command that returned nothing.
type SuccessResult struct {
	Success bool `json:"success"`
}

// ErrorResult is the result of a failed or unknown command.
type ErrorResult struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

// PhotoResult carries a base64-encoded still image.
type PhotoResult struct {
	Success   bool   `json:"success"`
	ImageData string `json:"image_data"`
}
