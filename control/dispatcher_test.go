package control

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func dispatchFrame(t *testing.T, d *Dispatcher, frame string) (Envelope, map[string]any) {
	t.Helper()
	env, err := Decode([]byte(frame))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	resp := d.Dispatch(context.Background(), env)
	if resp.Type != TypeReqResponse {
		t.Fatalf("response type = %q", resp.Type)
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		t.Fatalf("decode response body %s: %v", resp.Data, err)
	}
	return resp, body
}

func TestDispatchNormalizesResults(t *testing.T) {
	d := NewDispatcher()
	d.Register("noop", func(context.Context, json.RawMessage, string) (any, error) { return nil, nil })
	d.Register("value", func(context.Context, json.RawMessage, string) (any, error) {
		return map[string]int{"answer": 42}, nil
	})
	d.Register("fails", func(context.Context, json.RawMessage, string) (any, error) {
		return nil, errors.New("heater fault")
	})

	resp, body := dispatchFrame(t, d, `{"type":"request","reqId":"r1","data":{"type":"noop"}}`)
	if resp.ReqID != "r1" || body["success"] != true {
		t.Fatalf("noop response = %s %v", resp.ReqID, body)
	}
	_, body = dispatchFrame(t, d, `{"type":"request","reqId":"r2","data":{"type":"value"}}`)
	if body["answer"] != float64(42) {
		t.Fatalf("value response = %v", body)
	}
	_, body = dispatchFrame(t, d, `{"type":"request","reqId":"r3","data":{"type":"fails"}}`)
	if body["error"] != true || body["message"] != "heater fault" {
		t.Fatalf("error response = %v", body)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	resp, body := dispatchFrame(t, NewDispatcher(), `{"type":"request","reqId":"r9","data":{"type":"nope"}}`)
	if resp.ReqID != "r9" {
		t.Fatalf("reqId = %q, want r9", resp.ReqID)
	}
	if body["error"] != true || body["message"] != "nope is not supported" {
		t.Fatalf("unknown command response = %v", body)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	d := NewDispatcher()
	d.Register("boom", func(context.Context, json.RawMessage, string) (any, error) {
		panic("nozzle missing")
	})
	_, body := dispatchFrame(t, d, `{"type":"request","reqId":"r1","data":{"type":"boom"}}`)
	if body["error"] != true || body["message"] != "boom failed: nozzle missing" {
		t.Fatalf("panic response = %v", body)
	}
}

func TestDispatchMalformedRequestStillAnswers(t *testing.T) {
	resp, body := dispatchFrame(t, NewDispatcher(), `{"type":"request","reqId":"r5","data":{"payload":1}}`)
	if resp.ReqID != "r5" || body["error"] != true {
		t.Fatalf("malformed response = %s %v", resp.ReqID, body)
	}
}

func TestDispatchPassesRequestIdentity(t *testing.T) {
	d := NewDispatcher()
	var got RequestInfo
	var gotPayload string
	d.Register("who", func(ctx context.Context, payload json.RawMessage, clientID string) (any, error) {
		got, _ = RequestFromContext(ctx)
		gotPayload = string(payload)
		if clientID != got.ClientID {
			t.Errorf("clientID %q != context %q", clientID, got.ClientID)
		}
		return nil, nil
	})
	dispatchFrame(t, d, `{"type":"request","reqId":"r7","clientId":"c1","data":{"type":"who","payload":{"x":1}}}`)
	if got.ReqID != "r7" || got.ClientID != "c1" {
		t.Fatalf("request info = %+v", got)
	}
	if gotPayload != `{"x":1}` {
		t.Fatalf("payload = %s", gotPayload)
	}
}

func TestGroupRoutesNestedCommand(t *testing.T) {
	var ran string
	g := NewGroup(GroupPrinter).
		Handle(CmdPause, func(_ context.Context, opts json.RawMessage) (any, error) {
			ran = "pause:" + string(opts)
			return nil, nil
		})
	d := NewDispatcher()
	d.Register(g.Name(), g.Run)

	_, body := dispatchFrame(t, d, `{"type":"request","reqId":"a","data":{"type":"printerCommand","payload":{"command":"pause","options":{"n":1}}}}`)
	if body["success"] != true || ran != `pause:{"n":1}` {
		t.Fatalf("group dispatch = %v ran=%q", body, ran)
	}
	_, body = dispatchFrame(t, d, `{"type":"request","reqId":"b","data":{"type":"printerCommand","payload":{"command":"levitate"}}}`)
	if body["message"] != "levitate is not supported" {
		t.Fatalf("unknown group command = %v", body)
	}
	_, body = dispatchFrame(t, d, `{"type":"request","reqId":"c","data":{"type":"printerCommand"}}`)
	if body["error"] != true {
		t.Fatalf("missing command = %v", body)
	}
}
