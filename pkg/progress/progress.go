// Package progress reports checkpoints of long-running ingestion and
// reconstruction work to an observer chosen by the caller.
package progress

import (
	"fmt"
	"log"
	"sync"
	"time"
)

// Kind classifies an event.
type Kind int

const (
	StageStarted Kind = iota
	StageFinished
	FramesLoaded
	Warning
)

func (k Kind) String() string {
	switch k {
	case StageStarted:
		return "stage-started"
	case StageFinished:
		return "stage-finished"
	case FramesLoaded:
		return "frames-loaded"
	case Warning:
		return "warning"
	default:
		return "unknown"
	}
}

// Event is a single checkpoint.
type Event struct {
	Kind Kind

	// Stage is the pipeline stage or ingestion phase the event belongs to.
	Stage string

	// Done and Total count frames for FramesLoaded events.
	Done  int
	Total int

	// Elapsed is set on StageFinished.
	Elapsed time.Duration

	// Message is free text, used by Warning events.
	Message string
}

// Observer receives events. Implementations must be safe for concurrent
// use: frame loads may report from several goroutines.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Nop discards every event.
var Nop Observer = ObserverFunc(func(Event) {})

// Or returns o, or Nop when o is nil.
func Or(o Observer) Observer {
	if o == nil {
		return Nop
	}
	return o
}

// Quiet forwards only Warning events to o. Warnings are never dropped,
// whatever the verbosity.
func Quiet(o Observer) Observer {
	o = Or(o)
	return ObserverFunc(func(e Event) {
		if e.Kind == Warning {
			o.Observe(e)
		}
	})
}

// Warn emits a Warning event.
func Warn(o Observer, stage, format string, args ...any) {
	Or(o).Observe(Event{Kind: Warning, Stage: stage, Message: fmt.Sprintf(format, args...)})
}

// LogObserver writes events to a standard logger.
type LogObserver struct {
	logger *log.Logger

	// every limits FramesLoaded lines to one per this many frames.
	every int
}

// NewLogObserver returns an observer that logs to l, or to the standard
// logger when l is nil.
func NewLogObserver(l *log.Logger) *LogObserver {
	if l == nil {
		l = log.Default()
	}
	return &LogObserver{logger: l, every: 50}
}

func (o *LogObserver) Observe(e Event) {
	switch e.Kind {
	case StageStarted:
		o.logger.Printf("%s: started", e.Stage)
	case StageFinished:
		o.logger.Printf("%s: finished in %.2fs", e.Stage, e.Elapsed.Seconds())
	case FramesLoaded:
		if e.Done == e.Total || e.Done%o.every == 0 {
			o.logger.Printf("%s: %d/%d images", e.Stage, e.Done, e.Total)
		}
	case Warning:
		o.logger.Printf("Warning: %s: %s", e.Stage, e.Message)
	}
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Filter returns the recorded events of the given kind.
func (r *Recorder) Filter(k Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
