// Package events implements the dashboard event bus and the Redis-backed
// lock manager. The bus pushes data-collection-change notifications to
// subscribed dashboards over WebSocket sessions; the lock manager provides
// best-effort named mutual exclusion so background work is not duplicated
// across process replicas.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/config"
	"github.com/depictio/depictio/models"
)

// Event types published on the bus.
const (
	EventDataCollectionUpdated = "data_collection_updated"
	EventDataCollectionCreated = "data_collection_created"
	EventJoinCompleted         = "join_completed"
)

// Event is the wire envelope pushed to subscribers.
type Event struct {
	EventType        string                 `json:"event_type"`
	Timestamp        string                 `json:"timestamp"`
	DashboardID      string                 `json:"dashboard_id,omitempty"`
	DataCollectionID string                 `json:"data_collection_id,omitempty"`
	Payload          map[string]interface{} `json:"payload"`
}

// SubscriberKey identifies one subscription.
type SubscriberKey struct {
	UserID      string
	DashboardID string
}

// subscriber owns a bounded FIFO queue. Publishing never blocks: when the
// queue is full the message is dropped and counted.
type subscriber struct {
	key     SubscriberKey
	queue   chan Event
	dropped atomic.Int64
}

// Bus multiplexes events to subscribers keyed by (user_id, dashboard_id).
// Ordering is FIFO per subscriber; no cross-subscriber ordering is
// guaranteed.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[SubscriberKey][]*subscriber
	bufferSize  int
	log         *common.ContextLogger
}

// NewBus builds an event bus with the configured per-subscriber queue depth.
func NewBus(cfg config.EventBusConfig) *Bus {
	size := cfg.SubscriberBuffer
	if size <= 0 {
		size = 64
	}
	return &Bus{
		subscribers: make(map[SubscriberKey][]*subscriber),
		bufferSize:  size,
		log:         common.NewContextLogger(nil, map[string]interface{}{"component": "event-bus"}),
	}
}

// Subscribe registers a subscriber and returns its receive channel plus an
// unsubscribe function. The channel is closed on unsubscribe.
func (b *Bus) Subscribe(key SubscriberKey) (<-chan Event, func()) {
	sub := &subscriber{key: key, queue: make(chan Event, b.bufferSize)}

	b.mu.Lock()
	b.subscribers[key] = append(b.subscribers[key], sub)
	b.mu.Unlock()

	b.log.WithFields(map[string]interface{}{
		"user_id":      key.UserID,
		"dashboard_id": key.DashboardID,
	}).Info("Subscriber connected")

	once := sync.Once{}
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			subs := b.subscribers[key]
			for i, s := range subs {
				if s == sub {
					b.subscribers[key] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subscribers[key]) == 0 {
				delete(b.subscribers, key)
			}
			b.mu.Unlock()
			close(sub.queue)
		})
	}
	return sub.queue, unsubscribe
}

// Publish delivers an event. Events carrying a dashboard id go only to that
// dashboard's subscribers; events without one fan out to everybody. Slow
// subscribers lose messages beyond their buffer; publishers never block.
func (b *Bus) Publish(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for key, subs := range b.subscribers {
		if event.DashboardID != "" && key.DashboardID != event.DashboardID {
			continue
		}
		for _, sub := range subs {
			select {
			case sub.queue <- event:
			default:
				sub.dropped.Add(1)
				b.log.Warnf("subscriber %s/%s is slow, dropping event %s",
					key.UserID, key.DashboardID, event.EventType)
			}
		}
	}
}

// PublishDataCollectionUpdated emits a change notification for a data
// collection. Satisfies the scan engine's publisher contract.
func (b *Bus) PublishDataCollectionUpdated(dcID models.ID, tag string, operation string) {
	b.Publish(Event{
		EventType:        EventDataCollectionUpdated,
		DataCollectionID: dcID.String(),
		Payload: map[string]interface{}{
			"dc_id":               dcID.String(),
			"data_collection_tag": tag,
			"operation":           operation,
		},
	})
}

// PublishDataCollectionCreated emits a creation notification.
func (b *Bus) PublishDataCollectionCreated(dcID models.ID, tag string) {
	b.Publish(Event{
		EventType:        EventDataCollectionCreated,
		DataCollectionID: dcID.String(),
		Payload: map[string]interface{}{
			"dc_id":               dcID.String(),
			"data_collection_tag": tag,
			"operation":           "added",
		},
	})
}

// PublishJoinCompleted emits a join-completion notification. Satisfies the
// join engine's publisher contract.
func (b *Bus) PublishJoinCompleted(joinName string, resultDCID models.ID) {
	b.Publish(Event{
		EventType:        EventJoinCompleted,
		DataCollectionID: resultDCID.String(),
		Payload: map[string]interface{}{
			"join_name":    joinName,
			"result_dc_id": resultDCID.String(),
		},
	})
}

// Encode renders the event's wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
