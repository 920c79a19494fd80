package run

import (
	"fmt"
	"sync"
	"time"

	"github.com/metalagman/bendover/internal/turn"
	"github.com/rs/zerolog/log"
)

// EventType names a progress notification.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventStepRejected EventType = "step_rejected"
	EventStepObserved EventType = "step_observed"
	EventStepFailed   EventType = "step_failed"
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
	EventPatchApplied EventType = "patch_applied"
)

const defaultNotifyQueue = 64

// Event is a progress notification delivered to observers.
type Event struct {
	Type       EventType
	RunID      string
	Step       int
	ActionKind turn.ActionKind
	Status     string
	Message    string
	Time       time.Time
	Duration   time.Duration
}

// Observer receives run events. Errors and panics are logged and otherwise ignored.
type Observer interface {
	Notify(ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event) error

func (f ObserverFunc) Notify(ev Event) error { return f(ev) }

// notifier fans events out to observers without blocking the caller.
// Each observer has its own queue so a slow one cannot reorder or stall the others.
type notifier struct {
	queues []chan Event
	wg     sync.WaitGroup
	once   sync.Once
}

func newNotifier(observers []Observer, queueSize int) *notifier {
	if queueSize <= 0 {
		queueSize = defaultNotifyQueue
	}
	n := &notifier{}
	for _, obs := range observers {
		if obs == nil {
			continue
		}
		q := make(chan Event, queueSize)
		n.queues = append(n.queues, q)
		n.wg.Add(1)
		go n.deliver(obs, q)
	}
	return n
}

func (n *notifier) deliver(obs Observer, q <-chan Event) {
	defer n.wg.Done()
	for ev := range q {
		if err := safeNotify(obs, ev); err != nil {
			log.Warn().Err(err).Str("event", string(ev.Type)).Msg("observer failed")
		}
	}
}

func safeNotify(obs Observer, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return obs.Notify(ev)
}

func (n *notifier) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	for _, q := range n.queues {
		select {
		case q <- ev:
		default:
			log.Warn().Str("event", string(ev.Type)).Int("step", ev.Step).Msg("observer queue full, dropping event")
		}
	}
}

// close stops accepting events and waits for queued ones to be delivered.
func (n *notifier) close() {
	n.once.Do(func() {
		for _, q := range n.queues {
			close(q)
		}
		n.wg.Wait()
	})
}

// LogObserver writes events to the global zerolog logger.
type LogObserver struct{}

func (LogObserver) Notify(ev Event) error {
	e := log.Info()
	if ev.Type == EventStepFailed || ev.Type == EventStepRejected || ev.Type == EventRunFailed {
		e = log.Warn()
	}
	e = e.Str("run_id", ev.RunID).Str("event", string(ev.Type))
	if ev.Step > 0 {
		e = e.Int("step", ev.Step)
	}
	if ev.ActionKind != "" {
		e = e.Str("action_kind", string(ev.ActionKind))
	}
	if ev.Status != "" {
		e = e.Str("status", ev.Status)
	}
	if ev.Duration > 0 {
		e = e.Dur("duration", ev.Duration)
	}
	e.Msg(ev.Message)
	return nil
}
