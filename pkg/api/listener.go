package api

// Listener receives connection events on behalf of the embedding application.
// Callbacks for one connection are delivered in order from a single goroutine,
// so implementations must hand long work off instead of blocking.
type Listener interface {
	OnStateChanged(connID string, state ConnectionState)
	OnRegistryChanged(connID string, snapshot []Action)
	OnContext(connID string, text string, silent bool)
	// OnActionDispatched reports a validated invocation. When the action has
	// no Handler the application must eventually call Complete with inv.ID;
	// otherwise the handler completes it.
	OnActionDispatched(connID string, inv Invocation)
	// OnInvocationFinished reports every invocation reaching a terminal state,
	// including timeouts and cancellations that produce no result frame.
	OnInvocationFinished(connID string, inv Invocation)
	OnShutdownRequested(connID string, graceful bool, wantsShutdown bool)
}

// NopListener ignores every event. Embed it to implement only some callbacks.
type NopListener struct{}

func (NopListener) OnStateChanged(string, ConnectionState) {}
func (NopListener) OnRegistryChanged(string, []Action) {}
func (NopListener) OnContext(string, string, bool) {}
func (NopListener) OnActionDispatched(string, Invocation) {}
func (NopListener) OnInvocationFinished(string, Invocation) {}
func (NopListener) OnShutdownRequested(string, bool, bool) {}

// Listeners fans every event out to each listener in order.
type Listeners []Listener

func (ls Listeners) OnStateChanged(connID string, state ConnectionState) {
	for _, l := range ls {
		l.OnStateChanged(connID, state)
	}
}

func (ls Listeners) OnRegistryChanged(connID string, snapshot []Action) {
	for _, l := range ls {
		l.OnRegistryChanged(connID, snapshot)
	}
}

func (ls Listeners) OnContext(connID string, text string, silent bool) {
	for _, l := range ls {
		l.OnContext(connID, text, silent)
	}
}

func (ls Listeners) OnActionDispatched(connID string, inv Invocation) {
	for _, l := range ls {
		l.OnActionDispatched(connID, inv)
	}
}

func (ls Listeners) OnInvocationFinished(connID string, inv Invocation) {
	for _, l := range ls {
		l.OnInvocationFinished(connID, inv)
	}
}

func (ls Listeners) OnShutdownRequested(connID string, graceful bool, wantsShutdown bool) {
	for _, l := range ls {
		l.OnShutdownRequested(connID, graceful, wantsShutdown)
	}
}

var _ Listener = NopListener{}
var _ Listener = Listeners(nil)
