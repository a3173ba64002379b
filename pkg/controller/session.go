package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"neurosdk/pkg/api"
	"neurosdk/pkg/monitor"
	"neurosdk/pkg/protocol"
	"neurosdk/pkg/transport"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// ErrSessionClosed is returned for operations on a disconnected game.
var ErrSessionClosed = errors.New("controller: session closed")

// RegisteredAction is an action announced by the game.
type RegisteredAction struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Schema      jsoniter.RawMessage `json:"schema,omitempty"`
}

// Session is one connected game as seen by the controller.
type Session struct {
	id        string
	transport api.Transport
	codec     protocol.Codec
	server    *Server
	logger    *slog.Logger

	mu       sync.Mutex
	game     string
	started  bool
	actions  map[string]RegisteredAction
	order    []string
	contexts []protocol.Context
	results  []protocol.ActionResult
	waiters  map[string]chan protocol.ActionResult
	ready    bool

	done chan struct{}
}

func newSession(s *Server, tr api.Transport) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		transport: tr,
		codec:     protocol.Codec{StringData: s.stringData},
		server:    s,
		logger:    s.logger.With("session", id),
		actions:   make(map[string]RegisteredAction),
		waiters:   make(map[string]chan protocol.ActionResult),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Game returns the game name announced by the last startup.
func (s *Session) Game() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game
}

// Started reports whether the game sent startup.
func (s *Session) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Actions returns the registered actions in registration order.
func (s *Session) Actions() []RegisteredAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RegisteredAction, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.actions[name])
	}
	return out
}

func (s *Session) Contexts() []protocol.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.contexts)
}

func (s *Session) Results() []protocol.ActionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.results)
}

// ShutdownReady reports whether the game sent shutdown/ready.
func (s *Session) ShutdownReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Session) Done() <-chan struct{} { return s.done }

// Send writes a command to the game.
func (s *Session) Send(cmd protocol.Command) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	data, err := s.codec.Encode(cmd)
	if err != nil {
		return err
	}
	if err := s.transport.WriteMessage(data); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Name(), err)
	}
	s.server.observe(monitor.Outbound, s.id, cmd.Name(), data)
	return nil
}

// Invoke sends an action request and waits for its result.
func (s *Session) Invoke(ctx context.Context, name string, params any) (protocol.ActionResult, error) {
	id := uuid.NewString()
	ch := make(chan protocol.ActionResult, 1)

	s.mu.Lock()
	s.waiters[id] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.waiters, id)
		s.mu.Unlock()
	}()

	if err := s.Send(protocol.ActionRequest{ID: id, Action: name, Params: params}); err != nil {
		return protocol.ActionResult{}, err
	}

	select {
	case res := <-ch:
		return res, nil
	case <-s.done:
		return protocol.ActionResult{}, ErrSessionClosed
	case <-ctx.Done():
		return protocol.ActionResult{}, ctx.Err()
	}
}

// Close disconnects the game.
func (s *Session) Close() error {
	return s.transport.Close()
}

// serve reads frames until the game disconnects.
func (s *Session) serve() {
	defer close(s.done)
	for {
		data, err := s.transport.ReadMessage()
		if err != nil {
			if !transport.IsNormalClose(err) {
				s.logger.Warn("Read failed", "error", err)
			}
			return
		}
		s.handle(data)
	}
}

func (s *Session) handle(data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		s.server.observe(monitor.Inbound, s.id, "?", data)
		s.logger.Warn("Dropped malformed frame", "error", err)
		return
	}
	s.server.observe(monitor.Inbound, s.id, frame.Command.Name(), data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if frame.Game != "" {
		s.game = frame.Game
	}

	switch v := frame.Command.(type) {
	case protocol.Startup:
		s.started = true
		s.actions = make(map[string]RegisteredAction)
		s.order = nil
		s.logger.Info("Game started", "game", s.game)
	case protocol.RegisterActions:
		for _, a := range v.Actions {
			if _, ok := s.actions[a.Name]; ok {
				s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == a.Name })
			}
			s.actions[a.Name] = RegisteredAction{Name: a.Name, Description: a.Description, Schema: a.Schema}
			s.order = append(s.order, a.Name)
		}
	case protocol.UnregisterActions:
		for _, name := range v.ActionNames {
			delete(s.actions, name)
			s.order = slices.DeleteFunc(s.order, func(n string) bool { return n == name })
		}
	case protocol.Context:
		s.contexts = append(s.contexts, v)
		s.logger.Info("Context", "silent", v.Silent, "message", v.Message)
	case protocol.ForceActions:
		if s.server.autoPlay {
			go s.answerForce(v)
		}
	case protocol.ActionResult:
		s.results = append(s.results, v)
		if ch, ok := s.waiters[v.ID]; ok {
			ch <- v
			delete(s.waiters, v.ID)
		}
	case protocol.ShutdownReady:
		s.ready = true
	default:
		s.logger.Debug("Ignoring command", "command", frame.Command.Name())
	}
}

// answerForce plays a random candidate with random parameters, retrying
// while the game rejects the attempt.
func (s *Session) answerForce(force protocol.ForceActions) {
	ctx, cancel := context.WithTimeout(context.Background(), s.server.answerTimeout)
	defer cancel()

	for attempt := 1; attempt <= s.server.retries; attempt++ {
		candidates := s.candidates(force.ActionNames)
		if len(candidates) == 0 {
			s.logger.Warn("Force has no registered candidates", "actions", force.ActionNames)
			return
		}
		action := candidates[s.server.intN(len(candidates))]
		params, err := Fill(action.Schema, s.server.intN)
		if err != nil {
			s.logger.Warn("Could not build parameters", "action", action.Name, "error", err)
			return
		}

		if s.server.delay > 0 {
			select {
			case <-time.After(s.server.delay):
			case <-ctx.Done():
				return
			}
		}

		res, err := s.Invoke(ctx, action.Name, params)
		if err != nil {
			s.logger.Debug("Force answer abandoned", "error", err)
			return
		}
		if res.Success {
			return
		}
		s.logger.Info("Action rejected, retrying", "action", action.Name, "attempt", attempt, "message", res.Message)
	}
}

func (s *Session) candidates(names []string) []RegisteredAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RegisteredAction, 0, len(names))
	for _, n := range names {
		if a, ok := s.actions[n]; ok {
			out = append(out, a)
		}
	}
	return out
}
