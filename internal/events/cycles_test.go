package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/vaultpilot/internal/domain"
)

func TestCycleBroadcaster_FanOut(t *testing.T) {
	b := NewCycleBroadcaster(1)
	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(domain.CycleResult{ID: "c1"})

	assert.Equal(t, "c1", (<-first).ID)
	assert.Equal(t, "c1", (<-second).ID)
}

func TestCycleBroadcaster_DropsSlowConsumer(t *testing.T) {
	b := NewCycleBroadcaster(1)
	ch := b.Subscribe()

	b.Publish(domain.CycleResult{ID: "c1"})
	b.Publish(domain.CycleResult{ID: "c2"})

	assert.Equal(t, "c1", (<-ch).ID)
	select {
	case r := <-ch:
		t.Fatalf("unexpected report %s", r.ID)
	default:
	}
}

func TestCycleBroadcaster_Unsubscribe(t *testing.T) {
	b := NewCycleBroadcaster(0)
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)

	_, open := <-ch
	require.False(t, open)
	assert.Zero(t, b.Subscribers())
	b.Publish(domain.CycleResult{ID: "ignored"})
}
