package control

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 15 * time.Second

// socket wraps one dialled websocket. Writes are serialized so concurrent
// producers never interleave frames.
type socket struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	stop      chan struct{}
}

func newSocket(ws *websocket.Conn) *socket {
	return &socket{ws: ws, stop: make(chan struct{})}
}

// writeJSON serializes writes across goroutines and sets a write deadline.
func (s *socket) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.ws.WriteJSON(v)
}

func (s *socket) close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.ws.Close()
	})
	return err
}

// armIdleTimeout makes the read loop fail when nothing, not even a pong,
// arrives within idle.
func (s *socket) armIdleTimeout(idle time.Duration) {
	if idle <= 0 {
		return
	}
	s.ws.SetReadDeadline(time.Now().Add(idle))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(idle))
	})
}

func (s *socket) touch(idle time.Duration) {
	if idle > 0 {
		s.ws.SetReadDeadline(time.Now().Add(idle))
	}
}

// startPingLoop sends websocket ping control frames until the socket closes.
func (s *socket) startPingLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				slog.Debug("control.socket.ping.stop")
				return
			case <-ticker.C:
				s.writeMu.Lock()
				err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				s.writeMu.Unlock()
				if err != nil {
					slog.Warn("control.socket.ping.error", "err", err)
					_ = s.close()
					return
				}
			}
		}
	}()
}
