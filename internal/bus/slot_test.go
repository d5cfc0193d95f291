package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid-scalper/internal/schema"
)

func intent(symbol, id string) schema.TradeIntent {
	return schema.TradeIntent{ID: id, Symbol: symbol, Direction: schema.DirectionLong}
}

func TestIntentSlotLatestWins(t *testing.T) {
	slot := NewIntentSlot()
	slot.Put(intent("BTCUSDT", "a"))
	slot.Put(intent("BTCUSDT", "b"))

	got, ok := slot.Next()
	require.True(t, ok)
	assert.Equal(t, "b", got.ID, "newer intent replaces the pending one")

	_, ok = slot.Next()
	assert.False(t, ok)
}

func TestIntentSlotCrossSymbolFIFO(t *testing.T) {
	slot := NewIntentSlot()
	slot.Put(intent("BTCUSDT", "a"))
	slot.Put(intent("ETHUSDT", "b"))
	slot.Put(intent("BTCUSDT", "c")) // replaces "a" but keeps queue position

	first, ok := slot.Next()
	require.True(t, ok)
	assert.Equal(t, "c", first.ID)

	second, ok := slot.Next()
	require.True(t, ok)
	assert.Equal(t, "b", second.ID)
	assert.Zero(t, slot.Len())
}

func TestIntentSlotNotify(t *testing.T) {
	slot := NewIntentSlot()
	slot.Put(intent("BTCUSDT", "a"))

	select {
	case <-slot.Wait():
	case <-time.After(time.Second):
		t.Fatal("expected notification after Put")
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue[int](1)
	require.NoError(t, q.TryPublish(1))
	assert.ErrorIs(t, q.TryPublish(2), ErrQueueFull)
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue[int](1)
	q.Close()
	assert.ErrorIs(t, q.TryPublish(1), ErrQueueClosed)
}

func TestQueuePublishDuringCloseNeverPanics(t *testing.T) {
	q := NewQueue[int](4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			if err := q.TryPublish(i); errors.Is(err, ErrQueueClosed) {
				return
			}
		}
	}()

	time.Sleep(time.Millisecond)
	q.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher did not observe the closed queue")
	}
	assert.ErrorIs(t, q.TryPublish(1), ErrQueueClosed)
}

func TestQueueRunDelivers(t *testing.T) {
	q := NewQueue[int](4)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.TryPublish(i))
	}
	q.Close()

	var got []int
	q.Run(context.Background(), func(v int) { got = append(got, v) })
	assert.Equal(t, []int{1, 2, 3}, got)
}
