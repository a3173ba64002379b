package controller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"neurosdk/pkg/api"
	"neurosdk/pkg/monitor"
	"neurosdk/pkg/protocol"
	"neurosdk/pkg/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server is a mock controller. It accepts game connections, records what
// they announce and answers forced actions by picking a random candidate.
type Server struct {
	logger        *slog.Logger
	monitor       monitor.Monitor
	metrics       *monitor.Metrics
	stringData    bool
	autoPlay      bool
	retries       int
	delay         time.Duration
	answerTimeout time.Duration

	randMu sync.Mutex
	rand   *rand.Rand

	mu       sync.RWMutex
	sessions map[string]*Session
	accepted chan *Session
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMonitor receives every frame the controller sends or reads.
func WithMonitor(m monitor.Monitor) Option {
	return func(s *Server) { s.monitor = m }
}

// WithMetrics counts traffic and serves it on /metrics.
func WithMetrics(m *monitor.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSeed makes the random choices reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Server) { s.rand = rand.New(rand.NewPCG(seed, seed)) }
}

// WithStringData sends action parameters as a JSON string instead of an object.
func WithStringData(enabled bool) Option {
	return func(s *Server) { s.stringData = enabled }
}

// WithAutoPlay controls whether forces are answered automatically.
func WithAutoPlay(enabled bool) Option {
	return func(s *Server) { s.autoPlay = enabled }
}

// WithRetries sets how many attempts a force gets when the game rejects them.
func WithRetries(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.retries = n
		}
	}
}

// WithDelay waits before answering a force.
func WithDelay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		logger:        slog.Default(),
		stringData:    true,
		autoPlay:      true,
		retries:       3,
		answerTimeout: time.Minute,
		rand:          rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sessions:      make(map[string]*Session),
		accepted:      make(chan *Session, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) intN(n int) int {
	if n <= 0 {
		return 0
	}
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.IntN(n)
}

func (s *Server) observe(dir monitor.Direction, sessionID, command string, data []byte) {
	msg := monitor.MonitorMessage{
		Timestamp:    time.Now(),
		Direction:    dir,
		ConnectionID: sessionID,
		Command:      command,
		Content:      string(data),
	}
	if s.monitor != nil {
		s.monitor.OnMessage(msg)
	}
	if s.metrics != nil {
		s.metrics.OnMessage(msg)
	}
}

// Routes returns the controller's HTTP surface:
//
//	GET  /                                   websocket endpoint for games
//	GET  /sessions                           connected games and their actions
//	POST /sessions/{id}/actions/{name}       run an action; the body holds its parameters
//	POST /sessions/{id}/reregister           ask the game to re-register its actions
//	POST /sessions/{id}/shutdown             ask the game to shut down (?graceful=false for immediate)
//	GET  /metrics                            prometheus metrics, when enabled
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/", transport.Handler(func(t api.Transport, _ *http.Request) {
		s.Serve(t)
	}))
	r.Get("/sessions", s.listSessions)
	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Post("/actions/{name}", s.invokeAction)
		r.Post("/reregister", s.requestReregister)
		r.Post("/shutdown", s.requestShutdown)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Serve runs a session over an accepted transport until the game leaves.
func (s *Server) Serve(t api.Transport) {
	sess := newSession(s, t)

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.OnStateChanged(sess.id, api.StateOpen)
	}
	select {
	case s.accepted <- sess:
	default:
	}
	sess.logger.Info("Game connected")

	sess.serve()

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.OnStateChanged(sess.id, api.StateClosed)
	}
	_ = t.Close()
	sess.logger.Info("Game disconnected")
}

// Accepted yields sessions as games connect.
func (s *Server) Accepted() <-chan *Session { return s.accepted }

// NextSession waits for the next game to connect.
func (s *Server) NextSession(ctx context.Context) (*Session, error) {
	select {
	case sess := <-s.accepted:
		return sess, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns connected games ordered by id.
func (s *Server) Sessions() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int { return strings.Compare(a.id, b.id) })
	return out
}

// CloseAll disconnects every game.
func (s *Server) CloseAll() error {
	var errs []error
	for _, sess := range s.Sessions() {
		errs = append(errs, sess.Close())
	}
	return errors.Join(errs...)
}

type sessionView struct {
	ID       string             `json:"id"`
	Game     string             `json:"game"`
	Started  bool               `json:"started"`
	Actions  []RegisteredAction `json:"actions"`
	Contexts []protocol.Context `json:"contexts"`
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.Sessions()
	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionView{
			ID:       sess.ID(),
			Game:     sess.Game(),
			Started:  sess.Started(),
			Actions:  sess.Actions(),
			Contexts: sess.Contexts(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	sess, ok := s.Session(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
	}
	return sess, ok
}

func (s *Server) invokeAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var params any
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid parameters: "+err.Error())
			return
		}
	}

	res, err := sess.Invoke(r.Context(), chi.URLParam(r, "name"), params)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) requestReregister(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Send(protocol.ReregisterAll{}); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) requestShutdown(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var cmd protocol.Command = protocol.ShutdownGraceful{WantsShutdown: true}
	if r.URL.Query().Get("graceful") == "false" {
		cmd = protocol.ShutdownImmediate{}
	}
	if err := sess.Send(cmd); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
