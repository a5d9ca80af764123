package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterFanOut(t *testing.T) {
	b := NewBroadcaster[int](2)
	id1, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()
	assert.Equal(t, 2, b.Len())

	assert.Equal(t, 2, b.Publish(1))
	assert.Equal(t, 1, <-ch1)
	assert.Equal(t, 1, <-ch2)

	b.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok, "unsubscribe closes the channel")
	assert.Equal(t, 1, b.Publish(2))
	assert.Equal(t, 2, <-ch2)

	// unknown ids are ignored
	b.Unsubscribe(id1)
	b.Unsubscribe(99)
}

func TestBroadcasterDropsForSlowSubscribers(t *testing.T) {
	b := NewBroadcaster[int](1)
	_, ch := b.Subscribe()

	assert.Equal(t, 1, b.Publish(1))
	assert.Equal(t, 0, b.Publish(2))
	assert.Equal(t, int64(1), b.Dropped())
	assert.Equal(t, 1, <-ch, "the oldest value is kept")
}

func TestBroadcasterClose(t *testing.T) {
	b := NewBroadcaster[string](0)
	_, ch := b.Subscribe()
	b.Close()
	b.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.Publish("late"))

	id, late := b.Subscribe()
	assert.Equal(t, -1, id)
	_, ok = <-late
	require.False(t, ok)
}
