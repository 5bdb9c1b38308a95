package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dyike/TradingAgentsGo/models"
)

func TestBrokerSequencesAndCloses(t *testing.T) {
	b := NewBroker(nil)
	b.Publish(models.ProgressEvent{Type: models.EventProgress, Node: "validate", Message: "started"})

	events, wake, closed := b.Since(0)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Seq)
	assert.False(t, closed)

	b.Publish(models.ProgressEvent{Type: models.EventCompleted})
	select {
	case <-wake:
	default:
		t.Fatal("publish did not wake readers")
	}

	b.Publish(models.ProgressEvent{Type: models.EventProgress, Message: "late"})
	events, _, closed = b.Since(1)
	assert.True(t, closed)
	assert.Len(t, events, 1)
	assert.Equal(t, 2, events[0].Seq)
	assert.Equal(t, []string{"validate: started", "completed"}, b.Messages())
}
