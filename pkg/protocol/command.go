package protocol

import (
	jsoniter "github.com/json-iterator/go"
)

// Command names understood on the wire.
const (
	CmdStartup           = "startup"
	CmdContext           = "context"
	CmdRegisterActions   = "actions/register"
	CmdUnregisterActions = "actions/unregister"
	CmdForceActions      = "actions/force"
	CmdAction            = "action"
	CmdActionResult      = "action/result"
	CmdReregisterAll     = "actions/reregister_all"
	CmdShutdownGraceful  = "shutdown/graceful"
	CmdShutdownImmediate = "shutdown/immediate"
	CmdShutdownReady     = "shutdown/ready"
)

// Command is one decoded protocol message.
type Command interface {
	Name() string
}

// Startup announces the application. It clears any actions the controller
// remembers from a previous session.
type Startup struct{}

// Context is an informational message in either direction.
type Context struct {
	Message string `json:"message"`
	Silent  bool   `json:"silent"`
}

// ActionSpec is the wire form of an action definition.
type ActionSpec struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Schema      jsoniter.RawMessage `json:"schema,omitempty"`
}

type RegisterActions struct {
	Actions []ActionSpec `json:"actions"`
}

type UnregisterActions struct {
	ActionNames []string `json:"action_names"`
}

// ForceActions asks the controller to pick and execute one of ActionNames.
type ForceActions struct {
	State            string   `json:"state,omitempty"`
	Description      string   `json:"description"`
	EphemeralContext bool     `json:"ephemeral_context,omitempty"`
	ActionNames      []string `json:"action_names"`
}

// ActionRequest is the controller asking the application to run an action.
// Params holds the raw, not yet validated parameters.
type ActionRequest struct {
	ID     string
	Action string
	Params any
}

type ActionResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ReregisterAll struct{}

type ShutdownGraceful struct {
	WantsShutdown bool `json:"wants_shutdown"`
}

type ShutdownImmediate struct{}

type ShutdownReady struct{}

// Unknown preserves a command this package does not recognise.
type Unknown struct {
	Command string
	Data    jsoniter.RawMessage
}

func (Startup) Name() string           { return CmdStartup }
func (Context) Name() string           { return CmdContext }
func (RegisterActions) Name() string   { return CmdRegisterActions }
func (UnregisterActions) Name() string { return CmdUnregisterActions }
func (ForceActions) Name() string      { return CmdForceActions }
func (ActionRequest) Name() string     { return CmdAction }
func (ActionResult) Name() string      { return CmdActionResult }
func (ReregisterAll) Name() string     { return CmdReregisterAll }
func (ShutdownGraceful) Name() string  { return CmdShutdownGraceful }
func (ShutdownImmediate) Name() string { return CmdShutdownImmediate }
func (ShutdownReady) Name() string     { return CmdShutdownReady }
func (u Unknown) Name() string         { return u.Command }
