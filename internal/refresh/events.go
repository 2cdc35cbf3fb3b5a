package refresh

import (
	"sync"
	"time"
)

// State is a step of the refresh state machine
type State string

const (
	StateInit             State = "init"
	StateCookiesInjected  State = "cookies_injected"
	StateHomeLoaded       State = "home_loaded"
	StateHomeChecked      State = "home_checked"
	StateToolAcquired     State = "tool_acquired"
	StateToolChecked      State = "tool_checked"
	StateHomeReloaded     State = "home_reloaded"
	StateCookiesValidated State = "cookies_validated"
	StateDispatched       State = "dispatched"
)

// States lists the states in the order a successful run enters them
var States = []State{
	StateInit,
	StateCookiesInjected,
	StateHomeLoaded,
	StateHomeChecked,
	StateToolAcquired,
	StateToolChecked,
	StateHomeReloaded,
	StateCookiesValidated,
	StateDispatched,
}

// Event is emitted by the refresh core as a run progresses
type Event interface {
	event()
}

// StateEntered is emitted on every state transition
type StateEntered struct {
	State State
}

// CookiesInjected reports the input jar grouped by domain
type CookiesInjected struct {
	Count    int
	ByDomain map[string][]string
}

// BlockingObserved is emitted once per detected category
type BlockingObserved struct {
	Label    string
	Category string
}

// PageChecked is emitted after every detection call
type PageChecked struct {
	Label   string
	Blocked bool
	Err     error
}

// AcquisitionAttempted reports how the tool page was reached. Fallback
// holds the reason the interactive path was abandoned.
type AcquisitionAttempted struct {
	Kind     AcquisitionKind
	URL      string
	Fallback error
	Reason   string
}

// CookieMatched is emitted for each required cookie found in the jar
type CookieMatched struct {
	Name   string
	Domain string
}

// CookiesMissing is emitted when extraction is incomplete
type CookiesMissing struct {
	Names   []string
	JarSize int
}

// DiagnosticStored reports a diagnostic write. Err is set when it failed.
type DiagnosticStored struct {
	Key string
	Err error
}

// NotificationSent reports a webhook delivery attempt
type NotificationSent struct {
	Success bool
	Err     error
}

// RunFinished is the last event of every run
type RunFinished struct {
	Success  bool
	Cause    Cause
	Err      error
	Duration time.Duration
}

func (StateEntered) event()         {}
func (CookiesInjected) event()      {}
func (BlockingObserved) event()     {}
func (PageChecked) event()          {}
func (AcquisitionAttempted) event() {}
func (CookieMatched) event()        {}
func (CookiesMissing) event()       {}
func (DiagnosticStored) event()     {}
func (NotificationSent) event()     {}
func (RunFinished) event()          {}

// EventSink consumes events. Implementations must not block.
type EventSink interface {
	Emit(Event)
}

// SinkFunc adapts a function to EventSink
type SinkFunc func(Event)

// Emit calls f(e)
func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans events out to several sinks
type MultiSink []EventSink

// Emit forwards e to every sink
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Recorder keeps every event in memory
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// States returns the recorded state transitions in order
func (r *Recorder) States() []State {
	var states []State
	for _, e := range r.Events() {
		if s, ok := e.(StateEntered); ok {
			states = append(states, s.State)
		}
	}
	return states
}

type discard struct{}

func (discard) Emit(Event) {}
