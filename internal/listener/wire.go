package listener

// Request is the decoded envelope payload every action call carries, per
// spec.md §4.8: `{ "action": str, "options": {...}, "node": optional }`.
type Request struct {
	Action  string                 `json:"action"`
	Options map[string]interface{} `json:"options"`
	Node    string                 `json:"node,omitempty"`
}

// Response is the initial frame returned for every request: Status 0 is
// success, non-zero is error. Error carries a short message, Traceback an
// optional debug trace, Info a list of non-fatal notices (e.g.
// OrchestrationAbort events), per spec.md §6's wire protocol section.
type Response struct {
	Status    int         `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Traceback string      `json:"traceback,omitempty"`
	Info      []string    `json:"info,omitempty"`
}

// Identity is the caller asserted for one connection: either a peer node
// (from the envelope's NodeName) or a client authenticated some other way
// upstream of the listener.
type Identity struct {
	Name      string
	Role      string
	Namespace string
}

// Authorizer checks one Identity against one AccessPolicy. Kept as an
// interface so the listener doesn't couple directly to the RBAC
// permission cache's storage.
type Authorizer interface {
	Authorize(id Identity, policy AccessPolicy) error
}

// ForbiddenError is surfaced directly to the caller, per spec.md §7's
// "Authentication and framing errors are recovered locally (drop);
// ... Config and usage errors are surfaced to the caller" — access
// control failures are a usage error from the caller's perspective.
type ForbiddenError struct {
	Identity Identity
	Policy   AccessPolicy
}

func (e *ForbiddenError) Error() string {
	return "listener: " + e.Identity.Name + " (role " + e.Identity.Role + ") lacks role " + e.Policy.Role + " for this action"
}
