// Package listener implements the envelope-based RPC surface (spec.md
// §4.8): peers and clients submit {action, options, node} requests over a
// length-prefixed TCP connection, resolved against a handler registry and
// answered with an envelope-wrapped JSON response, optionally followed by
// a streamed sequence of newline-terminated frames. (METHOD, action)
// routing mirrors an HTTP router's (METHOD, path) dispatch, with
// internal/middleware's permission-chain idiom carried over as the
// per-handler AccessPolicy check.
package listener

import (
	"context"
	"fmt"
	"sort"
)

// AccessPolicy names the role an action requires and, optionally, a
// namespace the caller's identity must match (empty means any namespace).
type AccessPolicy struct {
	Role      string
	Namespace string // "" = unconstrained
}

// ParamSchema describes one option accepted by a handler: its type,
// whether it's required, its allowed values (if any), its default, and
// any other option names it requires be present (spec.md §4.8's
// "cross-parameter requires").
type ParamSchema struct {
	Name       string
	Type       string // "string", "int", "bool", "list"
	Required   bool
	Candidates []string
	Default    interface{}
	Requires   []string
}

// Handler is one registered action: its route, access policy, parameter
// schema, and implementation. Fn may call Streamer.Send any number of
// times before returning to emit streamed frames after the initial
// response.
type Handler struct {
	Method string // e.g. "GET", "POST" — mirrors the object's verb, not transport method
	Name   string // action name
	Policy AccessPolicy
	Params []ParamSchema
	Fn     func(ctx context.Context, req Request, stream Streamer) (interface{}, error)
}

// Registry resolves action names to handlers, mirroring mux.Router's
// route table but keyed on the envelope's action name rather than an
// HTTP path. Handler.Method is carried as route metadata (surfaced to
// introspection and access-policy logging) — the wire request names only
// the action, not a verb.
type Registry struct {
	handlers map[string]*Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*Handler)}
}

// Register adds h, panicking on a duplicate action name — a programmer
// error caught at startup, same as mux's route registration.
func (r *Registry) Register(h *Handler) {
	if _, exists := r.handlers[h.Name]; exists {
		panic(fmt.Sprintf("listener: duplicate handler for action %q", h.Name))
	}
	r.handlers[h.Name] = h
}

// Resolve looks up the handler for an action name.
func (r *Registry) Resolve(name string) (*Handler, bool) {
	h, ok := r.handlers[name]
	return h, ok
}

// Actions lists every registered action name, sorted, for introspection
// endpoints.
func (r *Registry) Actions() []string {
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ValidateParams checks req's options against schema: required options
// present, candidate values honored, cross-parameter requires satisfied.
// Defaults are filled into a copy of options, which is returned.
func ValidateParams(schema []ParamSchema, options map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(options))
	for k, v := range options {
		out[k] = v
	}
	for _, p := range schema {
		v, present := out[p.Name]
		if !present {
			if p.Required {
				return nil, &ParamError{Name: p.Name, Detail: "required parameter missing"}
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		if len(p.Candidates) > 0 {
			if !candidateMatches(p.Candidates, v) {
				return nil, &ParamError{Name: p.Name, Detail: fmt.Sprintf("value %v not among %v", v, p.Candidates)}
			}
		}
		for _, req := range p.Requires {
			if _, ok := out[req]; !ok {
				return nil, &ParamError{Name: p.Name, Detail: fmt.Sprintf("requires parameter %q", req)}
			}
		}
	}
	return out, nil
}

func candidateMatches(candidates []string, v interface{}) bool {
	s := fmt.Sprintf("%v", v)
	for _, c := range candidates {
		if c == s {
			return true
		}
	}
	return false
}

// ParamError reports a parameter validation failure: a usage error
// surfaced directly to the caller, per spec.md §7's propagation policy.
type ParamError struct {
	Name   string
	Detail string
}

func (e *ParamError) Error() string {
	return "listener: parameter " + e.Name + ": " + e.Detail
}
