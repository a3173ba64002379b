package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"neurosdk/pkg/api"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// envelope is one frame on the wire.
type envelope struct {
	Command string              `json:"command"`
	Game    string              `json:"game,omitempty"`
	Data    jsoniter.RawMessage `json:"data,omitempty"`
}

// Frame is a decoded envelope.
type Frame struct {
	Game    string
	Command Command
}

// MalformedError reports a frame that could not be decoded. ID is set when
// the frame was an action request whose id could still be read, so the
// caller can answer it.
type MalformedError struct {
	Reason  string
	Command string
	ID      string
	Err     error
}

func (e *MalformedError) Error() string {
	var b strings.Builder
	b.WriteString("malformed frame")
	if e.Command != "" {
		b.WriteString(" (")
		b.WriteString(e.Command)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *MalformedError) Unwrap() []error {
	if e.Err == nil {
		return []error{api.ErrMalformed}
	}
	return []error{api.ErrMalformed, e.Err}
}

// Codec encodes commands for one application. Game is stamped on every
// outbound envelope when non-empty.
type Codec struct {
	Game string
	// StringData sends action request parameters as a string holding JSON,
	// the way some controllers do.
	StringData bool
}

// Encode projects cmd onto the wire.
func (c Codec) Encode(cmd Command) ([]byte, error) {
	if cmd == nil {
		return nil, errors.New("encode: nil command")
	}
	env := envelope{Command: cmd.Name(), Game: c.Game}

	var payload any
	switch v := cmd.(type) {
	case Startup, ReregisterAll, ShutdownImmediate, ShutdownReady:
	case *Startup, *ReregisterAll, *ShutdownImmediate, *ShutdownReady:
	case Unknown:
		env.Data = v.Data
	case *Unknown:
		env.Data = v.Data
	case ActionRequest:
		payload = c.actionWire(v)
	case *ActionRequest:
		payload = c.actionWire(*v)
	case RegisterActions:
		if v.Actions == nil {
			v.Actions = []ActionSpec{}
		}
		payload = v
	case UnregisterActions:
		if v.ActionNames == nil {
			v.ActionNames = []string{}
		}
		payload = v
	case ForceActions:
		if v.ActionNames == nil {
			v.ActionNames = []string{}
		}
		payload = v
	default:
		payload = cmd
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", env.Command, err)
		}
		env.Data = data
	}

	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Command, err)
	}
	return out, nil
}

type actionOut struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Data any    `json:"data,omitempty"`
}

func (c Codec) actionWire(r ActionRequest) actionOut {
	out := actionOut{ID: r.ID, Name: r.Action, Data: r.Params}
	if c.StringData && r.Params != nil {
		if raw, err := json.MarshalToString(r.Params); err == nil {
			out.Data = raw
		}
	}
	return out
}

// Encode encodes cmd without a game name.
func Encode(cmd Command) ([]byte, error) {
	return Codec{}.Encode(cmd)
}

// Decode parses one frame into a command. Unrecognised commands decode to
// Unknown; anything structurally wrong yields a *MalformedError.
func Decode(data []byte) (Command, error) {
	f, err := DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	return f.Command, nil
}

// DecodeFrame is Decode that also reports the game named by the envelope.
func DecodeFrame(data []byte) (Frame, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Frame{}, &MalformedError{Reason: "empty frame"}
	}
	if firstByte(data) != '{' {
		return Frame{}, &MalformedError{Reason: "envelope is not an object"}
	}

	var env struct {
		Command *string             `json:"command"`
		Game    string              `json:"game"`
		Data    jsoniter.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, &MalformedError{Reason: "invalid envelope", Err: err}
	}
	if env.Command == nil || *env.Command == "" {
		return Frame{}, &MalformedError{Reason: "missing command"}
	}

	cmd, err := decodeData(*env.Command, env.Data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Game: env.Game, Command: cmd}, nil
}

func decodeData(name string, raw jsoniter.RawMessage) (Command, error) {
	malformed := func(reason string, err error) error {
		return &MalformedError{Reason: reason, Command: name, Err: err}
	}
	present := len(raw) > 0 && !isNull(raw)

	switch name {
	case CmdStartup:
		return Startup{}, nil
	case CmdReregisterAll:
		return ReregisterAll{}, nil
	case CmdShutdownImmediate:
		return ShutdownImmediate{}, nil
	case CmdShutdownReady:
		return ShutdownReady{}, nil

	case CmdAction:
		return decodeAction(raw)
	}

	if !present {
		switch name {
		case CmdContext, CmdRegisterActions, CmdUnregisterActions, CmdForceActions, CmdActionResult:
			return nil, malformed("missing data", nil)
		case CmdShutdownGraceful:
			return ShutdownGraceful{}, nil
		default:
			return Unknown{Command: name}, nil
		}
	}
	if firstByte(raw) != '{' {
		switch name {
		case CmdContext, CmdRegisterActions, CmdUnregisterActions, CmdForceActions, CmdActionResult, CmdShutdownGraceful:
			return nil, malformed("data is not an object", nil)
		}
	}

	switch name {
	case CmdContext:
		var w struct {
			Message *string `json:"message"`
			Silent  bool    `json:"silent"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, malformed("invalid data", err)
		}
		if w.Message == nil {
			return nil, malformed("missing message", nil)
		}
		return Context{Message: *w.Message, Silent: w.Silent}, nil

	case CmdRegisterActions:
		var w struct {
			Actions *[]struct {
				Name        *string             `json:"name"`
				Description string              `json:"description"`
				Schema      jsoniter.RawMessage `json:"schema"`
			} `json:"actions"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, malformed("invalid data", err)
		}
		if w.Actions == nil {
			return nil, malformed("missing actions", nil)
		}
		out := RegisterActions{Actions: make([]ActionSpec, 0, len(*w.Actions))}
		for i, a := range *w.Actions {
			if a.Name == nil || *a.Name == "" {
				return nil, malformed(fmt.Sprintf("action %d has no name", i), nil)
			}
			spec := ActionSpec{Name: *a.Name, Description: a.Description}
			if len(a.Schema) > 0 && !isNull(a.Schema) {
				spec.Schema = a.Schema
			}
			out.Actions = append(out.Actions, spec)
		}
		return out, nil

	case CmdUnregisterActions:
		var w struct {
			ActionNames *[]string `json:"action_names"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, malformed("invalid data", err)
		}
		if w.ActionNames == nil {
			return nil, malformed("missing action_names", nil)
		}
		return UnregisterActions{ActionNames: *w.ActionNames}, nil

	case CmdForceActions:
		var w struct {
			State            string    `json:"state"`
			Description      string    `json:"description"`
			EphemeralContext bool      `json:"ephemeral_context"`
			ActionNames      *[]string `json:"action_names"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, malformed("invalid data", err)
		}
		if w.ActionNames == nil {
			return nil, malformed("missing action_names", nil)
		}
		return ForceActions{
			State:            w.State,
			Description:      w.Description,
			EphemeralContext: w.EphemeralContext,
			ActionNames:      *w.ActionNames,
		}, nil

	case CmdActionResult:
		var w struct {
			ID      *string `json:"id"`
			Success *bool   `json:"success"`
			Message string  `json:"message"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, malformed("invalid data", err)
		}
		if w.ID == nil || w.Success == nil {
			return nil, malformed("missing id or success", nil)
		}
		return ActionResult{ID: *w.ID, Success: *w.Success, Message: w.Message}, nil

	case CmdShutdownGraceful:
		var w struct {
			WantsShutdown bool `json:"wants_shutdown"`
		}
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, malformed("invalid data", err)
		}
		return ShutdownGraceful{WantsShutdown: w.WantsShutdown}, nil
	}

	return Unknown{Command: name, Data: append(jsoniter.RawMessage(nil), raw...)}, nil
}

// decodeAction reads an action request. Its parameters may arrive as an
// object or as a string that holds one.
func decodeAction(raw jsoniter.RawMessage) (Command, error) {
	if len(raw) == 0 || isNull(raw) {
		return nil, &MalformedError{Reason: "missing data", Command: CmdAction}
	}
	if firstByte(raw) != '{' {
		return nil, &MalformedError{Reason: "data is not an object", Command: CmdAction}
	}

	var w struct {
		ID   *string             `json:"id"`
		Name *string             `json:"name"`
		Data jsoniter.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		// Salvage the id so the request can still be answered.
		id := json.Get(raw, "id").ToString()
		return nil, &MalformedError{Reason: "invalid data", Command: CmdAction, ID: id, Err: err}
	}
	if w.ID == nil || *w.ID == "" {
		return nil, &MalformedError{Reason: "missing id", Command: CmdAction}
	}
	id := *w.ID
	if w.Name == nil || *w.Name == "" {
		return nil, &MalformedError{Reason: "missing name", Command: CmdAction, ID: id}
	}

	req := ActionRequest{ID: id, Action: *w.Name}
	params := w.Data
	if len(params) > 0 && firstByte(params) == '"' {
		var s string
		if err := json.Unmarshal(params, &s); err != nil {
			return nil, &MalformedError{Reason: "invalid action data", Command: CmdAction, ID: id, Err: err}
		}
		params = jsoniter.RawMessage(s)
	}
	if len(bytes.TrimSpace(params)) == 0 || isNull(params) {
		return req, nil
	}
	if firstByte(params) != '{' {
		return nil, &MalformedError{Reason: "action data is not an object", Command: CmdAction, ID: id}
	}

	var decoded map[string]any
	if err := json.Unmarshal(params, &decoded); err != nil {
		return nil, &MalformedError{Reason: "invalid action data", Command: CmdAction, ID: id, Err: err}
	}
	req.Params = decoded
	return req, nil
}

func firstByte(b []byte) byte {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return 0
	}
	return b[0]
}

func isNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
