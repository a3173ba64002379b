package api

import "errors"

// Protocol error taxonomy. Callers match with errors.Is; concrete errors wrap these.
var (
	// ErrMalformed marks a frame that could not be decoded into a command.
	ErrMalformed = errors.New("malformed frame")
	// ErrSchema marks an action whose schema is not well-formed.
	ErrSchema = errors.New("invalid action schema")
	// ErrInvalidAction marks an action definition missing its identity.
	ErrInvalidAction = errors.New("invalid action")

	ErrActionNotFound   = errors.New("action not found")
	ErrSchemaViolation  = errors.New("parameters do not match action schema")
	ErrDuplicateRequest = errors.New("duplicate action request")
	ErrAlreadyPending   = errors.New("a forced action is already pending")
	ErrNoCandidates     = errors.New("force requires at least one action")

	ErrConnectionClosed  = errors.New("connection closed")
	ErrNotOpen           = errors.New("connection is not open")
	ErrSendBufferFull    = errors.New("send buffer full")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrFeatureDisabled   = errors.New("proposed feature not enabled")
)
