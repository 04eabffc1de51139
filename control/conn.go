package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned by Send while the relay link is not authenticated.
	ErrNotConnected = errors.New("control: not connected")
	// ErrNoCredentials is returned when connecting without a complete key pair.
	ErrNoCredentials = errors.New("control: no credentials")
)

const (
	DefaultPort       = 80
	DefaultMaxRetries = 5
	DefaultRetryDelay = 5 * time.Second

	defaultDialTimeout  = 10 * time.Second
	defaultPingInterval = 30 * time.Second
)

// Credentials is the device key pair presented to the relay.
type Credentials struct {
	PublicKey  string
	PrivateKey string
}

// Complete reports whether both halves of the key pair are present.
func (c Credentials) Complete() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

// Identity describes the device in the auth handshake.
type Identity struct {
	BoxID     string
	BoxName   string
	SWVersion string
}

// Policy tunes reconnection and keepalive. Zero fields take defaults;
// a negative MaxRetries disables retries.
type Policy struct {
	MaxRetries   int
	RetryDelay   time.Duration
	DialTimeout  time.Duration
	PingInterval time.Duration
	// IdleTimeout fails the read loop when nothing arrives for this long.
	// Zero leaves half-open detection to the transport.
	IdleTimeout time.Duration
}

func (p Policy) withDefaults() Policy {
	switch {
	case p.MaxRetries == 0:
		p.MaxRetries = DefaultMaxRetries
	case p.MaxRetries < 0:
		p.MaxRetries = 0
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	if p.DialTimeout <= 0 {
		p.DialTimeout = defaultDialTimeout
	}
	if p.PingInterval == 0 {
		p.PingInterval = defaultPingInterval
	}
	return p
}

// Sink receives status transitions and every envelope the connection does
// not consume itself. Callbacks run on the connection worker goroutine.
type Sink interface {
	HandleEnvelope(env Envelope)
	StatusChanged(status Status)
}

// Connection owns the relay socket, the credentials and the reconnection
// state machine. Each dial is tagged with a generation; callbacks from a
// socket whose generation is no longer current are ignored, so a closed or
// replaced socket can never drive the state machine.
type Connection struct {
	url      string
	identity Identity
	policy   Policy
	sink     Sink
	dialer   websocket.Dialer

	mu         sync.Mutex
	status     Status
	creds      Credentials
	retryCount int
	gen        uint64
	sock       *socket
	cancel     chan struct{}
}

// ParseAddress turns "host[:port]" into the relay websocket URL.
func ParseAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "ws://")
	address = strings.TrimSuffix(address, "/")
	if address == "" {
		return "", errors.New("empty relay address")
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		host, port = address, strconv.Itoa(DefaultPort)
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if host == "" {
		return "", fmt.Errorf("relay address %q has no host", address)
	}
	if _, err := strconv.ParseUint(port, 10, 16); err != nil {
		return "", fmt.Errorf("relay address %q has invalid port", address)
	}
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, port), Path: "/"}
	return u.String(), nil
}

func NewConnection(address string, identity Identity, policy Policy, sink Sink) (*Connection, error) {
	u, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	p := policy.withDefaults()
	return &Connection{
		url:      u,
		identity: identity,
		policy:   p,
		sink:     sink,
		dialer:   websocket.Dialer{HandshakeTimeout: p.DialTimeout},
	}, nil
}

// URL returns the websocket URL the connection dials.
func (c *Connection) URL() string { return c.url }

func (c *Connection) SetCredentials(creds Credentials) {
	c.mu.Lock()
	c.creds = creds
	c.mu.Unlock()
}

func (c *Connection) Credentials() Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Connection) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// Connect starts a connection worker unless one is already connecting or
// connected. An external Connect starts a fresh retry budget.
func (c *Connection) Connect() {
	c.mu.Lock()
	if c.status == StatusConnecting || c.status == StatusConnected {
		c.mu.Unlock()
		slog.Debug("control.conn.connect.skip", "status", c.status)
		return
	}
	if !c.creds.Complete() {
		c.mu.Unlock()
		slog.Warn("control.conn.connect.no_credentials", "url", c.url)
		return
	}
	c.retryCount = 0
	gen := c.startLocked()
	c.mu.Unlock()
	c.notify(StatusConnecting)
	go c.run(gen)
}

// startLocked moves to Connecting and returns the new generation. c.mu must be held.
func (c *Connection) startLocked() uint64 {
	c.gen++
	if c.cancel == nil {
		c.cancel = make(chan struct{})
	}
	c.status = StatusConnecting
	return c.gen
}

// Close is idempotent. It clears the credentials, closes the socket and
// cancels any pending retry. It never holds the lock while closing the
// socket, so it is safe from the connection worker itself.
func (c *Connection) Close() {
	c.mu.Lock()
	c.gen++
	c.creds = Credentials{}
	prev := c.status
	c.status = StatusDisconnected
	sock := c.sock
	c.sock = nil
	if c.cancel != nil {
		close(c.cancel)
		c.cancel = nil
	}
	c.mu.Unlock()

	if sock != nil {
		_ = sock.close()
	}
	if prev != StatusDisconnected {
		slog.Info("control.conn.close", "prev", prev)
		c.notify(StatusDisconnected)
	}
}

// Send writes an envelope on the authenticated link.
func (c *Connection) Send(env Envelope) error {
	c.mu.Lock()
	sock, status := c.sock, c.status
	c.mu.Unlock()
	if sock == nil || status != StatusConnected {
		return ErrNotConnected
	}
	return sock.writeJSON(env)
}

func (c *Connection) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Connection) notify(s Status) {
	if c.sink != nil {
		c.sink.StatusChanged(s)
	}
}

func (c *Connection) run(gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.policy.DialTimeout)
	slog.Debug("control.conn.dial", "url", c.url, "gen", gen)
	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	cancel()
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			slog.Error("control.conn.dial.rejected", "url", c.url, "status", resp.StatusCode)
			c.fail(gen)
			return
		}
		slog.Warn("control.conn.dial.error", "url", c.url, "err", err)
		c.retry(gen, err)
		return
	}

	sock := newSocket(ws)
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = sock.close()
		return
	}
	c.sock = sock
	c.mu.Unlock()

	sock.armIdleTimeout(c.policy.IdleTimeout)
	sock.startPingLoop(c.policy.PingInterval)
	err = c.readLoop(gen, sock)
	c.socketClosed(gen, sock, err)
}

func (c *Connection) readLoop(gen uint64, sock *socket) error {
	for {
		_, frame, err := sock.ws.ReadMessage()
		if err != nil {
			return err
		}
		sock.touch(c.policy.IdleTimeout)
		c.handleFrame(gen, sock, frame)
	}
}

func (c *Connection) handleFrame(gen uint64, sock *socket, frame []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("control.conn.frame.panic", "panic", r)
		}
	}()
	env, err := Decode(frame)
	if err != nil {
		slog.Warn("control.conn.frame.malformed", "err", err)
		return
	}
	if !c.current(gen) {
		return
	}
	if env.Type == TypeAuth {
		c.handleAuth(gen, sock, env)
		return
	}
	if c.sink != nil {
		c.sink.HandleEnvelope(env)
	}
}

func (c *Connection) handleAuth(gen uint64, sock *socket, env Envelope) {
	reply, err := DecodeAuthReply(env)
	if err != nil {
		slog.Warn("control.conn.auth.malformed", "err", err)
		return
	}
	switch {
	case reply.Failed:
		slog.Error("control.conn.auth.failed", "message", reply.Message)
		c.fail(gen)
	case reply.Success:
		c.mu.Lock()
		if gen != c.gen || c.status != StatusConnecting {
			c.mu.Unlock()
			return
		}
		c.status = StatusConnected
		c.retryCount = 0
		c.mu.Unlock()
		slog.Info("control.conn.connected", "url", c.url, "boxId", c.identity.BoxID)
		c.notify(StatusConnected)
	default:
		creds := c.Credentials()
		out, err := NewEnvelope(TypeAuth, "", AuthRequest{
			BoxID:      c.identity.BoxID,
			BoxName:    c.identity.BoxName,
			SWVersion:  c.identity.SWVersion,
			PublicKey:  creds.PublicKey,
			PrivateKey: creds.PrivateKey,
		})
		if err == nil {
			err = sock.writeJSON(out)
		}
		if err != nil {
			slog.Warn("control.conn.auth.send.error", "err", err)
			_ = sock.close()
			return
		}
		slog.Debug("control.conn.auth.sent", "boxId", c.identity.BoxID)
	}
}

// fail ends the current attempt without retrying: Error, then Close.
func (c *Connection) fail(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.status = StatusError
	c.mu.Unlock()
	c.notify(StatusError)
	c.Close()
}

func (c *Connection) socketClosed(gen uint64, sock *socket, err error) {
	_ = sock.close()
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.sock == sock {
		c.sock = nil
	}
	c.mu.Unlock()
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Warn("control.conn.read.error", "err", err)
	} else {
		slog.Info("control.conn.read.closed", "err", err)
	}
	c.retry(gen, err)
}

// retry waits RetryDelay on the worker goroutine and reconnects, or gives up
// once MaxRetries consecutive attempts have failed.
func (c *Connection) retry(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.retryCount >= c.policy.MaxRetries {
		c.status = StatusDisconnected
		retries := c.retryCount
		c.mu.Unlock()
		slog.Error("control.conn.retry.exhausted", "retries", retries, "err", cause)
		c.notify(StatusDisconnected)
		return
	}
	c.retryCount++
	attempt := c.retryCount
	c.status = StatusDisconnected
	cancel := c.cancel
	delay := c.policy.RetryDelay
	c.mu.Unlock()

	c.notify(StatusDisconnected)
	slog.Info("control.conn.retry", "attempt", attempt, "max", c.policy.MaxRetries, "delay", delay, "err", cause)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-cancel:
		slog.Debug("control.conn.retry.cancelled", "attempt", attempt)
		return
	case <-timer.C:
	}

	c.mu.Lock()
	if gen != c.gen || c.status != StatusDisconnected || !c.creds.Complete() {
		c.mu.Unlock()
		return
	}
	next := c.startLocked()
	c.mu.Unlock()
	c.notify(StatusConnecting)
	go c.run(next)
}
