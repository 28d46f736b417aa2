package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cafepos/internal/catalog"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	a, cancelA := hub.Subscribe(ctx)
	b, cancelB := hub.Subscribe(ctx)
	defer cancelB()
	assert.Equal(t, 2, hub.Subscribers())

	u := PriceUpdate{ItemID: "kopi-susu", Name: "Kopi Susu", Kind: catalog.PreparedBeverage, Action: ActionUpdated, At: time.Now()}
	require.NoError(t, hub.Publish(ctx, u))

	assert.Equal(t, u, <-a)
	assert.Equal(t, u, <-b)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, hub.Subscribers())
}

func TestHubContextEndsSubscription(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := hub.Subscribe(ctx)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed")
	}
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ch, cancel := hub.Subscribe(context.Background())
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		require.NoError(t, hub.Publish(context.Background(), PriceUpdate{ItemID: "x"}))
	}
	assert.Len(t, ch, subscriberBuffer)
}
