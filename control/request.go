package control

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPrinterNotOperational rejects motion and job commands while the printer is offline.
	ErrPrinterNotOperational = errors.New("printer is not operational")
	// ErrNoActiveDownload is returned by cancel_download when nothing is downloading.
	ErrNoActiveDownload = errors.New("no active download")
)

type requestKeyType struct{}

var requestKey requestKeyType

// RequestInfo identifies the relay request a command runs for.
type RequestInfo struct {
	ReqID    string
	ClientID string
}

// WithRequest returns a context derived from ctx carrying the request identity.
func WithRequest(ctx context.Context, info RequestInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestKey, info)
}

// RequestFromContext extracts the request identity from ctx if present.
func RequestFromContext(ctx context.Context) (RequestInfo, bool) {
	if ctx == nil {
		return RequestInfo{}, false
	}
	info, ok := ctx.Value(requestKey).(RequestInfo)
	return info, ok
}

// UnsupportedError names a command that has no handler.
type UnsupportedError struct {
	Name string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported", e.Name)
}

// RequestError wraps a command failure with the request that caused it.
type RequestError struct {
	Request RequestInfo
	Command string
	err     error
}

// NewRequestError wraps err for the given request, leaving nil untouched.
func NewRequestError(info RequestInfo, command string, err error) error {
	if err == nil {
		return nil
	}
	var existing *RequestError
	if errors.As(err, &existing) && existing.Request == info {
		return err
	}
	return &RequestError{Request: info, Command: command, err: err}
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	return e.err.Error()
}

func (e *RequestError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// String adds the request identity for logs; Error stays client-facing.
func (e *RequestError) String() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %v (reqId=%s clientId=%s)", e.Command, e.err, e.Request.ReqID, e.Request.ClientID)
}
