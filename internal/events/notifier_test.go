package events

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func note(batchID string, total int64) Notification {
	return Notification{
		SiteID:            "site-1",
		BatchID:           batchID,
		MeasurementCount:  2,
		TotalNewEmissions: decimal.NewFromInt(total),
		CommittedAt:       time.Now().UTC(),
	}
}

func TestNotifierDeliversToSubscriber(t *testing.T) {
	n := NewNotifier()
	sub, history, err := n.Subscribe()
	assert.NoError(t, err)
	assert.Empty(t, history)
	defer sub.Close()

	n.Publish(note("batch-1", 100))

	select {
	case got := <-sub.Events():
		assert.Equal(t, "batch-1", got.BatchID)
		assert.True(t, got.TotalNewEmissions.Equal(decimal.NewFromInt(100)))
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}
}

func TestNotifierReplaysHistoryToLateSubscriber(t *testing.T) {
	n := NewNotifier()
	n.Publish(note("batch-1", 10))
	n.Publish(note("batch-2", 20))

	sub, history, err := n.Subscribe()
	assert.NoError(t, err)
	defer sub.Close()

	assert.Len(t, history, 2)
	assert.Equal(t, "batch-1", history[0].BatchID)
	assert.Equal(t, "batch-2", history[1].BatchID)
}

func TestNotifierHistoryIsBounded(t *testing.T) {
	n := NewNotifier()
	for i := 0; i < DefaultBufferSize+10; i++ {
		n.Publish(note("batch", int64(i)))
	}

	sub, history, err := n.Subscribe()
	assert.NoError(t, err)
	defer sub.Close()

	assert.Len(t, history, DefaultBufferSize)
}

func TestNotifierPublishNeverBlocks(t *testing.T) {
	n := NewNotifier()
	sub, _, err := n.Subscribe()
	assert.NoError(t, err)
	defer sub.Close()

	// Nobody drains the subscription; overflow must be dropped, not stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < DefaultSubscriberBuffer*3; i++ {
			n.Publish(note("batch", int64(i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestNotifierCloseStopsDelivery(t *testing.T) {
	n := NewNotifier()
	sub, _, err := n.Subscribe()
	assert.NoError(t, err)
	sub.Close()
	sub.Close() // idempotent

	n.Publish(note("batch-1", 5))

	select {
	case <-sub.Events():
		t.Fatal("closed subscription still receiving")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	n.Publish(note("batch-1", 1))

	_, _, err := n.Subscribe()
	assert.Error(t, err)
}
