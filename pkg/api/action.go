package api

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
)

// ActionHandler executes an action on behalf of the controller. The returned
// message is sent back in the action result.
type ActionHandler func(ctx context.Context, inv Invocation) (string, error)

// Action is a named, schema-described operation the application exposes to
// the controller. Names are case-sensitive and unique per connection.
type Action struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Schema      jsoniter.RawMessage `json:"schema,omitempty"` // JSON object, nil when the action takes no parameters
	// Disabled actions stay in the registry but are neither announced to the
	// controller nor dispatchable.
	Disabled bool `json:"-"`

	// Handler, when set, runs the action and completes the invocation
	// automatically. Actions without a handler are dispatched to the Listener.
	Handler ActionHandler `json:"-"`
	// ReportFailure controls what a failing Handler reports: the error as an
	// unsuccessful result when true, an empty successful result otherwise.
	ReportFailure bool `json:"-"`
}

// Enabled reports whether the action is visible to the controller.
func (a Action) Enabled() bool {
	return !a.Disabled
}

// InvocationState tracks an invocation from request to result.
type InvocationState int

const (
	InvocationPending InvocationState = iota
	InvocationValidating
	InvocationDispatched
	InvocationCompleted
	InvocationFailed
	InvocationTimedOut
	InvocationCancelled
)

func (s InvocationState) String() string {
	switch s {
	case InvocationPending:
		return "pending"
	case InvocationValidating:
		return "validating"
	case InvocationDispatched:
		return "dispatched"
	case InvocationCompleted:
		return "completed"
	case InvocationFailed:
		return "failed"
	case InvocationTimedOut:
		return "timed_out"
	case InvocationCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s InvocationState) Terminal() bool {
	return s >= InvocationCompleted
}

// FailureKind classifies why an invocation ended in InvocationFailed.
type FailureKind string

const (
	FailureNone            FailureKind = ""
	FailureActionNotFound  FailureKind = "action_not_found"
	FailureSchemaViolation FailureKind = "schema_violation"
	FailureHandler         FailureKind = "handler_failed"
)

// Invocation is one attempted execution of an action. Forced invocations are
// created by Force and carry the candidate names and a deadline; request
// invocations are created by an inbound action request and carry its id.
// A request that answers a pending force is linked to it through ForceID,
// and completing the request completes the force.
type Invocation struct {
	ID           string
	ConnectionID string
	ActionName   string
	Candidates   []string
	Params       any // decoded JSON object, nil when the controller sent none
	State        InvocationState
	Forced       bool
	RequestID    string // for forced invocations, the request that satisfied them
	ForceID      string // for requests, the forced invocation they answered
	Failure      FailureKind
	Message      string
	Reasons      []string
	CreatedAt    time.Time
	Deadline     time.Time // zero when the invocation is not time-bounded
}

// Bind decodes the invocation parameters into target, matching fields by
// their json tags.
func (inv Invocation) Bind(target any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           target,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return fmt.Errorf("bind %s: %w", inv.ActionName, err)
	}
	if err := decoder.Decode(inv.Params); err != nil {
		return fmt.Errorf("bind %s: %w", inv.ActionName, err)
	}
	return nil
}
