package run

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type collectingObserver struct {
	mu     sync.Mutex
	events []EventType
}

func (c *collectingObserver) Notify(ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev.Type)
	return nil
}

func (c *collectingObserver) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EventType(nil), c.events...)
}

func TestNotifier_FailingObserversDoNotAffectOthers(t *testing.T) {
	t.Parallel()

	good := &collectingObserver{}
	failing := ObserverFunc(func(Event) error { return errors.New("disk full") })
	panicking := ObserverFunc(func(Event) error { panic("boom") })

	n := newNotifier([]Observer{failing, panicking, nil, good}, 8)
	n.publish(Event{Type: EventRunStarted})
	n.publish(Event{Type: EventStepObserved, Step: 1})
	n.publish(Event{Type: EventRunCompleted})
	n.close()
	n.close()

	assert.Equal(t, []EventType{EventRunStarted, EventStepObserved, EventRunCompleted}, good.types())
}

func TestNotifier_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	blocked := ObserverFunc(func(Event) error {
		<-release
		return nil
	})
	n := newNotifier([]Observer{blocked}, 1)
	for i := 0; i < 10; i++ {
		n.publish(Event{Type: EventStepObserved, Step: i})
	}
	close(release)
	n.close()
}
