package runner

import (
	"sync"
	"time"

	"github.com/dyike/TradingAgentsGo/models"
)

// Broker is the append-only progress log of one run. Readers follow it
// with Since and block on the returned channel for the next event.
type Broker struct {
	mu     sync.Mutex
	events []models.ProgressEvent
	wake   chan struct{}
	closed bool
	now    func() time.Time
}

func NewBroker(now func() time.Time) *Broker {
	if now == nil {
		now = time.Now
	}
	return &Broker{wake: make(chan struct{}), now: now}
}

// Publish appends an event. Events after a terminal one are dropped.
func (b *Broker) Publish(ev models.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	ev.Seq = len(b.events) + 1
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	b.events = append(b.events, ev)
	if ev.Terminal() {
		b.closed = true
	}
	close(b.wake)
	b.wake = make(chan struct{})
}

// Since returns the events after the first n, a channel closed on the next
// publish and whether the log is complete.
func (b *Broker) Since(n int) ([]models.ProgressEvent, <-chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []models.ProgressEvent
	if n < len(b.events) {
		out = append(out, b.events[n:]...)
	}
	return out, b.wake, b.closed
}

// Messages renders the progress log for run views.
func (b *Broker) Messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.events))
	for _, ev := range b.events {
		if ev.Message == "" {
			out = append(out, ev.Type)
			continue
		}
		if ev.Node != "" {
			out = append(out, ev.Node+": "+ev.Message)
		} else {
			out = append(out, ev.Message)
		}
	}
	return out
}

func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
