package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToTypedSubscriber(t *testing.T) {
	b := New()
	defer b.Close()

	ch, unsub := Subscribe[StateFileDetected](b, 1)
	defer unsub()

	evt := StateFileDetected{Path: "/saves/ironman.sav", ObservedAt: time.Now()}
	require.NoError(t, b.Publish(context.Background(), evt))

	select {
	case got := <-ch:
		assert.Equal(t, evt.Path, got.Path)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishSkipsOtherTypes(t *testing.T) {
	b := New()
	defer b.Close()

	ch, unsub := Subscribe[SnapshotReady](b, 1)
	defer unsub()

	require.NoError(t, b.Publish(context.Background(), StateFileDetected{Path: "x"}))
	select {
	case <-ch:
		t.Fatal("wrong event type delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseClosesSubscriptions(t *testing.T) {
	b := New()
	ch, _ := Subscribe[IngestFailed](b, 1)
	b.Close()

	_, open := <-ch
	assert.False(t, open)
	assert.ErrorIs(t, b.Publish(context.Background(), IngestFailed{}), ErrClosed)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	defer b.Close()

	ch, unsub := Subscribe[StateFileDetected](b, 1)
	unsub()
	_, open := <-ch
	assert.False(t, open)
}
