package runner

import (
	"context"
	"time"

	"github.com/dyike/TradingAgentsGo/models"
)

// Subscribe streams a run's progress. The backlog is replayed first. The
// stream ends after the terminal event, after the stream lifetime cap (with
// a timeout event; the run keeps going) or when ctx ends.
func (m *Manager) Subscribe(ctx context.Context, runID string) (<-chan models.ProgressEvent, error) {
	r, err := m.lookup(runID)
	if err != nil {
		return nil, err
	}
	out := make(chan models.ProgressEvent, 16)
	go m.stream(ctx, r, out)
	return out, nil
}

func (m *Manager) stream(ctx context.Context, r *run, out chan<- models.ProgressEvent) {
	defer close(out)

	deadline := time.NewTimer(m.streamTimeout)
	defer deadline.Stop()
	heartbeat := time.NewTimer(m.heartbeat)
	defer heartbeat.Stop()

	send := func(ev models.ProgressEvent) bool {
		select {
		case out <- ev:
		case <-ctx.Done():
			return false
		}
		if !heartbeat.Stop() {
			select {
			case <-heartbeat.C:
			default:
			}
		}
		heartbeat.Reset(m.heartbeat)
		return true
	}

	next := 0
	for {
		events, wake, _ := r.broker.Since(next)
		for _, ev := range events {
			if !send(ev) {
				return
			}
			next = ev.Seq
			if ev.Terminal() {
				return
			}
		}

		select {
		case <-wake:
		case <-heartbeat.C:
			heartbeat.Reset(m.heartbeat)
			select {
			case out <- models.ProgressEvent{Type: models.EventHeartbeat, Seq: next, Time: m.now()}:
			case <-ctx.Done():
				return
			}
		case <-deadline.C:
			select {
			case out <- models.ProgressEvent{
				Type:    models.EventTimeout,
				Seq:     next,
				Message: "stream lifetime exceeded; fetch the run by id for its final status",
				Time:    m.now(),
			}:
			case <-ctx.Done():
			}
			return
		case <-ctx.Done():
			return
		}
	}
}
