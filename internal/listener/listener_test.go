package listener

import (
	"bytes"
	"context"
	"testing"
)

func TestValidateParamsFillsDefaultsAndEnforcesRequired(t *testing.T) {
	schema := []ParamSchema{
		{Name: "path", Type: "string", Required: true},
		{Name: "force", Type: "bool", Default: false},
	}
	if _, err := ValidateParams(schema, map[string]interface{}{}); err == nil {
		t.Fatalf("expected error for missing required param")
	}
	out, err := ValidateParams(schema, map[string]interface{}{"path": "svc1/app/web"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["force"] != false {
		t.Fatalf("expected default force=false, got %v", out["force"])
	}
}

func TestValidateParamsRejectsBadCandidate(t *testing.T) {
	schema := []ParamSchema{{Name: "state", Candidates: []string{"started", "stopped"}}}
	_, err := ValidateParams(schema, map[string]interface{}{"state": "bogus"})
	if err == nil {
		t.Fatalf("expected candidate validation error")
	}
}

func TestValidateParamsRequiresCrossParameter(t *testing.T) {
	schema := []ParamSchema{{Name: "rid", Requires: []string{"path"}}}
	_, err := ValidateParams(schema, map[string]interface{}{"rid": "ip#0"})
	if err == nil {
		t.Fatalf("expected cross-parameter requires error")
	}
}

type stubAuthorizer struct {
	allow bool
}

func (s stubAuthorizer) Authorize(id Identity, policy AccessPolicy) error {
	if s.allow {
		return nil
	}
	return &ForbiddenError{Identity: id, Policy: policy}
}

func TestDispatchUnknownActionReturnsError(t *testing.T) {
	s := &Server{Registry: NewRegistry(), Authorizer: stubAuthorizer{allow: true}}
	resp, _ := s.dispatch(context.Background(), Request{Action: "nope"}, &bytes.Buffer{}, "n1")
	if resp.Status == 0 {
		t.Fatalf("expected non-zero status for unknown action")
	}
}

func TestDispatchForbiddenDeniesCall(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Handler{
		Name:   "start",
		Policy: AccessPolicy{Role: "admin"},
		Fn: func(ctx context.Context, req Request, stream Streamer) (interface{}, error) {
			return "ok", nil
		},
	})
	s := &Server{Registry: reg, Authorizer: stubAuthorizer{allow: false}}
	resp, _ := s.dispatch(context.Background(), Request{Action: "start"}, &bytes.Buffer{}, "n2")
	if resp.Status == 0 {
		t.Fatalf("expected forbidden to produce non-zero status")
	}
}

func TestDispatchSuccessReturnsHandlerData(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Handler{
		Name:   "status",
		Policy: AccessPolicy{},
		Fn: func(ctx context.Context, req Request, stream Streamer) (interface{}, error) {
			stream.Send(map[string]string{"event": "tick"})
			return map[string]string{"state": "started"}, nil
		},
	})
	s := &Server{Registry: reg, Authorizer: stubAuthorizer{allow: true}}
	var buf bytes.Buffer
	resp, _ := s.dispatch(context.Background(), Request{Action: "status"}, &buf, "n1")
	if resp.Status != 0 {
		t.Fatalf("expected success, got status %d error %q", resp.Status, resp.Error)
	}
	if buf.Len() == 0 {
		t.Fatalf("expected a streamed frame to have been written")
	}
}
