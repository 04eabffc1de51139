package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// CommandFunc handles one RPC command. Returning a nil result reports
// {success: true}; returning an error reports {error: true, message}.
type CommandFunc func(ctx context.Context, payload json.RawMessage, clientID string) (any, error)

// Dispatcher routes "request" envelopes to registered commands by name.
type Dispatcher struct {
	mu       sync.RWMutex
	commands map[string]CommandFunc
	metrics  *metrics
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{commands: make(map[string]CommandFunc)}
}

// Register binds name to fn, replacing any previous binding.
func (d *Dispatcher) Register(name string, fn CommandFunc) {
	d.mu.Lock()
	d.commands[name] = fn
	d.mu.Unlock()
}

// Commands lists the registered command names.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch runs the command named by env and always returns a req_response
// envelope echoing env.ReqID, whatever the command does.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) Envelope {
	start := time.Now()
	info := RequestInfo{ReqID: env.ReqID, ClientID: env.ClientID}
	ctx = WithRequest(ctx, info)

	name := ""
	result, err := func() (any, error) {
		req, err := DecodeRequest(env)
		if err != nil {
			return nil, fmt.Errorf("malformed request: %w", err)
		}
		name = req.Type
		d.mu.RLock()
		fn, ok := d.commands[req.Type]
		d.mu.RUnlock()
		if !ok {
			return nil, &UnsupportedError{Name: req.Type}
		}
		return invoke(ctx, req.Type, fn, req.Payload, env.ClientID)
	}()

	fields := []any{"reqId", env.ReqID, "clientId", env.ClientID, "command", name, "latencyMs", time.Since(start).Milliseconds()}
	if d.metrics != nil {
		d.metrics.requests.Add(1)
		if err != nil {
			d.metrics.requestErrors.Add(1)
		}
	}
	if err != nil {
		err = NewRequestError(info, name, err)
		fields = append(fields, "err", err)
		slog.Warn("control.dispatch.error", fields...)
		return response(env.ReqID, ErrorResult{Error: true, Message: err.Error()})
	}
	slog.Debug("control.dispatch", fields...)
	if result == nil {
		result = SuccessResult{Success: true}
	}
	return response(env.ReqID, result)
}

// invoke is the recovery boundary around a single command.
func invoke(ctx context.Context, name string, fn CommandFunc, payload json.RawMessage, clientID string) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("control.dispatch.panic", "command", name, "panic", r, "stack", string(debug.Stack()))
			result = nil
			err = fmt.Errorf("%s failed: %v", name, r)
		}
	}()
	return fn(ctx, payload, clientID)
}

func response(reqID string, result any) Envelope {
	env, err := NewEnvelope(TypeReqResponse, reqID, result)
	if err != nil {
		env, _ = NewEnvelope(TypeReqResponse, reqID, ErrorResult{Error: true, Message: err.Error()})
	}
	return env
}
