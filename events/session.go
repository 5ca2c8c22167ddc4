package events

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/depictio/depictio/common"
	"github.com/depictio/depictio/config"
)

// Session pumps bus events to one WebSocket connection. The write pump
// serializes all writes (gorilla connections allow one concurrent writer)
// and interleaves ping keepalives; the read pump discards client frames and
// surfaces disconnects.
type Session struct {
	conn        *websocket.Conn
	events      <-chan Event
	unsubscribe func()
	cfg         config.EventBusConfig
	log         *common.ContextLogger
	done        chan struct{}
}

// NewSession wires a subscription to a connection.
func NewSession(conn *websocket.Conn, bus *Bus, key SubscriberKey, cfg config.EventBusConfig) *Session {
	queue, unsubscribe := bus.Subscribe(key)
	return &Session{
		conn:        conn,
		events:      queue,
		unsubscribe: unsubscribe,
		cfg:         cfg,
		log: common.NewContextLogger(nil, map[string]interface{}{
			"component":    "event-session",
			"user_id":      key.UserID,
			"dashboard_id": key.DashboardID,
		}),
		done: make(chan struct{}),
	}
}

// Run blocks until the connection closes, pumping events and pings.
func (s *Session) Run() {
	defer s.Close()

	go s.readPump()

	pingInterval := s.cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeTimeout := s.cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-s.events:
			if !ok {
				return
			}
			payload, err := event.Encode()
			if err != nil {
				s.log.WithError(err).Error("Failed to encode event")
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.WithError(err).Warn("Write failed, closing session")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.log.WithError(err).Warn("Ping failed, closing session")
				return
			}
		case <-s.done:
			return
		}
	}
}

// readPump consumes (and discards) inbound frames so control messages are
// processed and disconnects are noticed promptly.
func (s *Session) readPump() {
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			select {
			case <-s.done:
			default:
				close(s.done)
			}
			return
		}
	}
}

// Close tears the session down and releases the subscription.
func (s *Session) Close() {
	s.unsubscribe()
	s.conn.Close()
}
