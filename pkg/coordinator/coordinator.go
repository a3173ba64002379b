// Package coordinator correlates action requests from the controller with
// the results the application produces.
//
// A Coordinator is not safe for concurrent use. It belongs to one connection
// and every method must be called from that connection's event loop; timers
// re-enter through the post function.
package coordinator

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"neurosdk/pkg/api"
	"neurosdk/pkg/protocol"
	"neurosdk/pkg/schema"

	"github.com/google/uuid"
)

// Sender queues a command for the controller.
type Sender func(cmd protocol.Command) error

// Resolver looks up the current definition of an action.
type Resolver interface {
	Resolve(name string) (api.Action, bool)
}

// Hooks report invocation progress to the owner. Both run on the event loop
// and must not block.
type Hooks struct {
	// Dispatched hands over a validated invocation and the action it resolved to.
	Dispatched func(inv api.Invocation, action api.Action)
	// Finished reports an invocation reaching a terminal state.
	Finished func(inv api.Invocation)
}

// ForceOptions tune an actions/force request.
type ForceOptions struct {
	State            string
	EphemeralContext bool
	// Timeout bounds how long the force may stay unanswered. Zero means no deadline.
	Timeout time.Duration
}

type record struct {
	api.Invocation
	timer *time.Timer
}

type Coordinator struct {
	connID    string
	send      Sender
	actions   Resolver
	validator schema.Validator
	hooks     Hooks
	post      func(func())
	logger    *slog.Logger
	now       func() time.Time

	requests map[string]*record // Request invocations by request id
	seen     map[string]struct{}
	forced   *record
}

type Option func(*Coordinator)

func WithValidator(v schema.Validator) Option {
	return func(c *Coordinator) {
		if v != nil {
			c.validator = v
		}
	}
}

func WithHooks(h Hooks) Option {
	return func(c *Coordinator) { c.hooks = h }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a coordinator for one connection. post must schedule fn on the
// same event loop that calls the coordinator's methods.
func New(connID string, send Sender, actions Resolver, post func(fn func()), opts ...Option) *Coordinator {
	c := &Coordinator{
		connID:    connID,
		send:      send,
		actions:   actions,
		validator: schema.Default,
		post:      post,
		logger:    slog.Default(),
		now:       time.Now,
		requests:  make(map[string]*record),
		seen:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("conn", connID)
	return c
}

// Force asks the controller to pick one of names. It returns the id of the
// forced invocation, which stays Pending until a request for one of the
// candidates validates, the deadline passes, or the connection closes.
func (c *Coordinator) Force(names []string, description string, opts ForceOptions) (string, error) {
	if len(names) == 0 {
		return "", api.ErrNoCandidates
	}
	if c.forced != nil {
		return "", fmt.Errorf("force: %w (%s)", api.ErrAlreadyPending, c.forced.ID)
	}

	candidates := make([]string, 0, len(names))
	for _, name := range names {
		if slices.Contains(candidates, name) {
			continue
		}
		if a, ok := c.actions.Resolve(name); !ok || !a.Enabled() {
			return "", fmt.Errorf("force %q: %w", name, api.ErrActionNotFound)
		}
		candidates = append(candidates, name)
	}

	err := c.send(protocol.ForceActions{
		State:            opts.State,
		Description:      description,
		EphemeralContext: opts.EphemeralContext,
		ActionNames:      candidates,
	})
	if err != nil {
		return "", fmt.Errorf("force: %w", err)
	}

	now := c.now()
	rec := &record{Invocation: api.Invocation{
		ID:           uuid.NewString(),
		ConnectionID: c.connID,
		Candidates:   candidates,
		State:        api.InvocationPending,
		Forced:       true,
		Message:      description,
		CreatedAt:    now,
	}}
	if opts.Timeout > 0 {
		rec.Deadline = now.Add(opts.Timeout)
		rec.timer = time.AfterFunc(opts.Timeout, func() {
			c.post(func() { c.expire(rec) })
		})
	}
	c.forced = rec

	c.logger.Debug("Force issued", "force", rec.ID, "actions", candidates, "timeout", opts.Timeout)
	return rec.ID, nil
}

// OnActionRequest handles an inbound action request.
func (c *Coordinator) OnActionRequest(id, name string, params any) {
	if _, dup := c.seen[id]; dup {
		c.logger.Warn("Duplicate action request", "id", id, "action", name)
		c.result(id, false, fmt.Sprintf("%s: %s", api.ErrDuplicateRequest, id))
		return
	}
	c.seen[id] = struct{}{}

	rec := &record{Invocation: api.Invocation{
		ID:           id,
		ConnectionID: c.connID,
		ActionName:   name,
		Params:       params,
		State:        api.InvocationValidating,
		CreatedAt:    c.now(),
	}}

	force := c.forced
	bound := force != nil && force.State == api.InvocationPending && slices.Contains(force.Candidates, name)
	if bound {
		force.State = api.InvocationValidating
		force.RequestID = id
		rec.Forced = true
		rec.ForceID = force.ID
		rec.Candidates = force.Candidates
		rec.Deadline = force.Deadline
	}

	action, ok := c.actions.Resolve(name)
	if !ok || !action.Enabled() {
		c.reject(rec, force, bound, api.FailureActionNotFound,
			fmt.Sprintf("%s: %q", api.ErrActionNotFound, name), nil)
		return
	}

	outcome := c.validator.Validate(action.Schema, params)
	if !outcome.Valid {
		msg := fmt.Sprintf("Invalid parameters for action %q: %s", name, strings.Join(outcome.Reasons, "; "))
		c.reject(rec, force, bound, api.FailureSchemaViolation, msg, outcome.Reasons)
		return
	}

	rec.State = api.InvocationDispatched
	c.requests[id] = rec
	if bound {
		force.State = api.InvocationDispatched
		force.ActionName = name
		force.Params = params
		if force.timer != nil {
			force.timer.Stop()
		}
	}

	c.logger.Debug("Action dispatched", "id", id, "action", name, "forced", bound)
	if c.hooks.Dispatched != nil {
		c.hooks.Dispatched(rec.Invocation, action)
	}
}

// reject fails a request before dispatch. A force it was bound to returns
// to Pending with its deadline intact, so the controller can retry.
func (c *Coordinator) reject(rec, force *record, bound bool, kind api.FailureKind, msg string, reasons []string) {
	rec.State = api.InvocationFailed
	rec.Failure = kind
	rec.Message = msg
	rec.Reasons = reasons
	if bound {
		force.State = api.InvocationPending
		force.RequestID = ""
	}

	c.logger.Info("Action request rejected", "id", rec.ID, "action", rec.ActionName, "failure", kind, "reasons", reasons)
	c.result(rec.ID, false, msg)
	c.finished(rec)
}

// RejectMalformed answers an action frame that could not be decoded but
// whose id was recovered.
func (c *Coordinator) RejectMalformed(id string, reason string) {
	if id == "" {
		return
	}
	if _, dup := c.seen[id]; dup {
		return
	}
	c.seen[id] = struct{}{}
	c.result(id, false, "Malformed action request: "+reason)
}

// Complete records the application's result for a dispatched invocation and
// sends it to the controller. id may be a request id or the id returned by
// Force. It reports whether anything changed; completing an invocation that
// is not Dispatched is a no-op.
func (c *Coordinator) Complete(id string, success bool, message string) bool {
	rec, ok := c.requests[id]
	if !ok && c.forced != nil && c.forced.ID == id && c.forced.State == api.InvocationDispatched {
		rec, ok = c.requests[c.forced.RequestID]
	}
	if !ok || rec.State != api.InvocationDispatched {
		return false
	}

	delete(c.requests, rec.ID)
	terminal := api.InvocationCompleted
	if !success {
		terminal = api.InvocationFailed
		rec.Failure = api.FailureHandler
	}
	rec.State = terminal
	rec.Message = message

	c.result(rec.ID, success, message)
	c.finished(rec)

	if f := c.forced; f != nil && rec.ForceID == f.ID {
		c.forced = nil
		f.State = terminal
		f.Failure = rec.Failure
		f.Message = message
		c.finished(f)
	}
	return true
}

func (c *Coordinator) expire(rec *record) {
	if c.forced != rec {
		return
	}
	if rec.State != api.InvocationPending && rec.State != api.InvocationValidating {
		return
	}
	c.forced = nil
	rec.State = api.InvocationTimedOut
	c.logger.Info("Forced action timed out", "force", rec.ID, "actions", rec.Candidates)
	c.finished(rec)
}

// CancelAll moves every live invocation to Cancelled without sending results.
func (c *Coordinator) CancelAll() {
	ids := make([]string, 0, len(c.requests))
	for id := range c.requests {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		rec := c.requests[id]
		rec.State = api.InvocationCancelled
		c.finished(rec)
	}
	c.requests = make(map[string]*record)

	if f := c.forced; f != nil {
		c.forced = nil
		if f.timer != nil {
			f.timer.Stop()
		}
		f.State = api.InvocationCancelled
		c.finished(f)
	}
}

// Lookup returns a live invocation by request id or force id.
func (c *Coordinator) Lookup(id string) (api.Invocation, bool) {
	if rec, ok := c.requests[id]; ok {
		return rec.Invocation, true
	}
	if c.forced != nil && c.forced.ID == id {
		return c.forced.Invocation, true
	}
	return api.Invocation{}, false
}

// Forced returns the invocation occupying the forced slot, if any.
func (c *Coordinator) Forced() (api.Invocation, bool) {
	if c.forced == nil {
		return api.Invocation{}, false
	}
	return c.forced.Invocation, true
}

// InFlight counts dispatched request invocations.
func (c *Coordinator) InFlight() int {
	return len(c.requests)
}

func (c *Coordinator) result(id string, success bool, message string) {
	if err := c.send(protocol.ActionResult{ID: id, Success: success, Message: message}); err != nil {
		c.logger.Warn("Failed to queue action result", "id", id, "error", err)
	}
}

func (c *Coordinator) finished(rec *record) {
	if c.hooks.Finished != nil {
		c.hooks.Finished(rec.Invocation)
	}
}
