// Package relaytest runs an in-process relay for exercising the gateway
// against a real websocket.
package relaytest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Mode decides how the relay answers a device.
type Mode int

const (
	// Accept authorizes every device.
	Accept Mode = iota
	// RejectAuth answers the auth request with an error.
	RejectAuth
	// RejectHTTP refuses the websocket upgrade with RejectStatus.
	RejectHTTP
)

// Frame is the relay's view of one wire message.
type Frame struct {
	Type     string          `json:"type"`
	ReqID    string          `json:"reqId,omitempty"`
	ClientID string          `json:"clientId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Event is one send_event the device emitted.
type Event struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData"`
}

// Auth is the identity a device presented.
type Auth struct {
	BoxID      string `json:"boxId"`
	BoxName    string `json:"boxName"`
	SWVersion  string `json:"swVersion"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Relay is a scripted relay server.
type Relay struct {
	srv  *httptest.Server
	hits atomic.Int64

	mu           sync.Mutex
	mode         Mode
	rejectStatus int
	rejectMsg    string
	conn         *websocket.Conn
	connects     int
	auths        []Auth
	events       []Event
	pending      map[string]chan json.RawMessage
	writeMu      sync.Mutex
	changed      chan struct{}
}

// New starts a relay in Accept mode.
func New() *Relay {
	r := &Relay{
		rejectStatus: http.StatusInternalServerError,
		rejectMsg:    "unknown device",
		pending:      make(map[string]chan json.RawMessage),
		changed:      make(chan struct{}),
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serveHTTP))
	return r
}

// Addr is the host:port devices dial.
func (r *Relay) Addr() string {
	return strings.TrimPrefix(r.srv.URL, "http://")
}

func (r *Relay) SetMode(m Mode) {
	r.mu.Lock()
	r.mode = m
	r.mu.Unlock()
}

// SetRejectStatus sets the HTTP status used in RejectHTTP mode.
func (r *Relay) SetRejectStatus(code int) {
	r.mu.Lock()
	r.rejectStatus = code
	r.mu.Unlock()
}

// Hits counts every HTTP request, upgraded or not.
func (r *Relay) Hits() int { return int(r.hits.Load()) }

// Connects counts accepted websocket upgrades.
func (r *Relay) Connects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

func (r *Relay) Auths() []Auth {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Auth(nil), r.auths...)
}

func (r *Relay) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// EventsNamed returns the recorded events of one type, oldest first.
func (r *Relay) EventsNamed(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.EventType == name {
			out = append(out, e)
		}
	}
	return out
}

// Close shuts the server and any open device link.
func (r *Relay) Close() {
	r.DropConnection()
	r.srv.Close()
}

// DropConnection closes the current device socket without a close frame.
func (r *Relay) DropConnection() {
	r.mu.Lock()
	ws := r.conn
	r.conn = nil
	r.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

// Wait blocks until cond holds or timeout elapses.
func (r *Relay) Wait(timeout time.Duration, cond func() bool) bool {
	deadline := time.After(timeout)
	for {
		r.mu.Lock()
		ch := r.changed
		r.mu.Unlock()
		if cond() {
			return true
		}
		select {
		case <-ch:
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			return cond()
		}
	}
}

// signal wakes waiters. r.mu must be held.
func (r *Relay) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Send writes a raw frame to the device.
func (r *Relay) Send(f Frame) error {
	r.mu.Lock()
	ws := r.conn
	r.mu.Unlock()
	if ws == nil {
		return errors.New("relaytest: no device connected")
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return ws.WriteJSON(f)
}

// SendData writes a frame of type t with data marshalled into the body.
func (r *Relay) SendData(t string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return r.Send(Frame{Type: t, Data: b})
}

// UpdateSubscribers sends an update_subscribers delta.
func (r *Relay) UpdateSubscribers(delta int) error {
	return r.SendData("update_subscribers", map[string]int{"delta": delta})
}

// Request performs one RPC against the device and returns the response body.
func (r *Relay) Request(ctx context.Context, name string, payload any) (json.RawMessage, error) {
	req := map[string]any{"type": name}
	if payload != nil {
		req["payload"] = payload
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	r.mu.Lock()
	r.pending[id] = ch
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
	}()

	if err := r.Send(Frame{Type: "request", ReqID: id, ClientID: "client-1", Data: body}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("request %s: %w", name, ctx.Err())
	case resp := <-ch:
		return resp, nil
	}
}

func (r *Relay) serveHTTP(w http.ResponseWriter, req *http.Request) {
	r.hits.Add(1)
	r.mu.Lock()
	mode, status := r.mode, r.rejectStatus
	r.signal()
	r.mu.Unlock()
	if mode == RejectHTTP {
		http.Error(w, http.StatusText(status), status)
		return
	}
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Debug("relaytest.upgrade.error", "err", err)
		return
	}
	r.mu.Lock()
	if prev := r.conn; prev != nil {
		_ = prev.Close()
	}
	r.conn = ws
	r.connects++
	r.signal()
	r.mu.Unlock()

	go r.serveConn(ws)
}

func (r *Relay) serveConn(ws *websocket.Conn) {
	defer ws.Close()
	if err := r.Send(Frame{Type: "auth"}); err != nil {
		return
	}
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		r.handle(f)
	}
}

func (r *Relay) handle(f Frame) {
	body := f.Data
	if len(body) == 0 {
		body = f.Payload
	}
	switch f.Type {
	case "auth":
		var a Auth
		_ = json.Unmarshal(body, &a)
		r.mu.Lock()
		r.auths = append(r.auths, a)
		mode, msg := r.mode, r.rejectMsg
		r.signal()
		r.mu.Unlock()
		if mode == RejectAuth {
			_ = r.SendData("auth", map[string]any{"error": true, "message": msg})
			return
		}
		_ = r.SendData("auth", map[string]any{"success": true})
	case "send_event":
		var e Event
		if err := json.Unmarshal(body, &e); err != nil {
			return
		}
		r.mu.Lock()
		r.events = append(r.events, e)
		r.signal()
		r.mu.Unlock()
	case "req_response":
		r.mu.Lock()
		ch, ok := r.pending[f.ReqID]
		r.mu.Unlock()
		if ok {
			ch <- body
		}
	}
}
