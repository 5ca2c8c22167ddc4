package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depictio/depictio/config"
	"github.com/depictio/depictio/models"
)

func newTestBus(buffer int) *Bus {
	return NewBus(config.EventBusConfig{SubscriberBuffer: buffer})
}

// receive pops one event or fails after a timeout.
func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

// TestBus_DashboardRouting tests that dashboard-scoped events reach only
// their dashboard
func TestBus_DashboardRouting(t *testing.T) {
	bus := newTestBus(8)

	chD, unsubD := bus.Subscribe(SubscriberKey{UserID: "u1", DashboardID: "dash-a"})
	defer unsubD()
	chOther, unsubOther := bus.Subscribe(SubscriberKey{UserID: "u2", DashboardID: "dash-b"})
	defer unsubOther()

	bus.Publish(Event{
		EventType:   EventDataCollectionUpdated,
		DashboardID: "dash-a",
		Payload:     map[string]interface{}{"operation": "updated"},
	})

	event := receive(t, chD)
	assert.Equal(t, EventDataCollectionUpdated, event.EventType)
	assert.Equal(t, "dash-a", event.DashboardID)

	select {
	case unexpected := <-chOther:
		t.Fatalf("dashboard dash-b received foreign event %+v", unexpected)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestBus_BroadcastWithoutDashboard tests global fan-out
func TestBus_BroadcastWithoutDashboard(t *testing.T) {
	bus := newTestBus(8)

	chA, unsubA := bus.Subscribe(SubscriberKey{UserID: "u1", DashboardID: "dash-a"})
	defer unsubA()
	chB, unsubB := bus.Subscribe(SubscriberKey{UserID: "u2", DashboardID: "dash-b"})
	defer unsubB()

	dcID := models.NewID()
	bus.PublishDataCollectionUpdated(dcID, "tables", "added")

	for _, ch := range []<-chan Event{chA, chB} {
		event := receive(t, ch)
		assert.Equal(t, EventDataCollectionUpdated, event.EventType)
		assert.Equal(t, dcID.String(), event.DataCollectionID)
		assert.Equal(t, "added", event.Payload["operation"])
		assert.Equal(t, "tables", event.Payload["data_collection_tag"])
		assert.NotEmpty(t, event.Timestamp)
	}
}

// TestBus_FIFOPerSubscriber tests per-subscriber ordering
func TestBus_FIFOPerSubscriber(t *testing.T) {
	bus := newTestBus(16)
	ch, unsub := bus.Subscribe(SubscriberKey{UserID: "u1", DashboardID: "d1"})
	defer unsub()

	for i := 0; i < 5; i++ {
		bus.Publish(Event{
			EventType: EventJoinCompleted,
			Payload:   map[string]interface{}{"seq": i},
		})
	}
	for i := 0; i < 5; i++ {
		event := receive(t, ch)
		assert.Equal(t, i, event.Payload["seq"])
	}
}

// TestBus_DropOnFullBuffer tests that slow subscribers lose messages but
// publishers never block
func TestBus_DropOnFullBuffer(t *testing.T) {
	bus := newTestBus(2)
	ch, unsub := bus.Subscribe(SubscriberKey{UserID: "u1", DashboardID: "d1"})
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(Event{EventType: EventJoinCompleted, Payload: map[string]interface{}{"seq": i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	// Only the buffered prefix is delivered.
	first := receive(t, ch)
	assert.Equal(t, 0, first.Payload["seq"])
	second := receive(t, ch)
	assert.Equal(t, 1, second.Payload["seq"])

	select {
	case extra := <-ch:
		t.Fatalf("expected drops beyond the buffer, got %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestBus_Unsubscribe tests channel closure and removal
func TestBus_Unsubscribe(t *testing.T) {
	bus := newTestBus(2)
	ch, unsub := bus.Subscribe(SubscriberKey{UserID: "u1", DashboardID: "d1"})

	unsub()
	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	bus.PublishJoinCompleted("j", models.NewID())

	// Unsubscribing twice is safe.
	unsub()
}

// TestEventEncode tests the wire envelope
func TestEventEncode(t *testing.T) {
	event := Event{
		EventType:        EventDataCollectionUpdated,
		Timestamp:        "2025-01-01T10:00:00Z",
		DashboardID:      "dash-a",
		DataCollectionID: "507f1f77bcf86cd799439011",
		Payload:          map[string]interface{}{"operation": "updated"},
	}

	encoded, err := event.Encode()
	require.NoError(t, err)

	payload := string(encoded)
	assert.Contains(t, payload, `"event_type":"data_collection_updated"`)
	assert.Contains(t, payload, `"dashboard_id":"dash-a"`)
	assert.Contains(t, payload, `"data_collection_id":"507f1f77bcf86cd799439011"`)
}
