package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/automation"
	"outreach/models"
	"outreach/utils"
)

// Conn is the part of a websocket connection the hub writes to
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Message is the JSON frame pushed to websocket clients
type Message struct {
	Type       string          `json:"type"`
	SequenceID uint            `json:"sequence_id"`
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	Severity   models.Severity `json:"severity"`
	Time       time.Time       `json:"time"`
}

type subscriber struct {
	mu   sync.Mutex
	conn Conn
}

func (s *subscriber) write(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Hub fans notifications out to the live websocket connections of each user
type Hub struct {
	mu      sync.RWMutex
	clients map[uint]map[*subscriber]struct{}
	logger  *logrus.Entry
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[uint]map[*subscriber]struct{}),
		logger:  utils.Component("notification_hub"),
	}
}

// Register adds a connection for userID and returns its unregister func
func (h *Hub) Register(userID uint, conn Conn) func() {
	sub := &subscriber{conn: conn}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*subscriber]struct{})
	}
	h.clients[userID][sub] = struct{}{}
	h.mu.Unlock()

	return func() { h.remove(userID, sub) }
}

func (h *Hub) remove(userID uint, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.clients[userID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.clients, userID)
		}
	}
}

// Count returns the number of live connections of userID
func (h *Hub) Count(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Notify writes to every connection of the user; broken connections are dropped
func (h *Hub) Notify(_ context.Context, userID uint, note automation.Notification) error {
	h.mu.RLock()
	subs := make([]*subscriber, 0, len(h.clients[userID]))
	for sub := range h.clients[userID] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	msg := Message{
		Type:       "sequence_notification",
		SequenceID: note.SequenceID,
		Title:      note.Title,
		Message:    note.Message,
		Severity:   note.Severity,
		Time:       time.Now(),
	}
	for _, sub := range subs {
		if err := sub.write(msg); err != nil {
			h.logger.WithError(err).WithField("user_id", userID).Debug("Dropping websocket client")
			h.remove(userID, sub)
			_ = sub.conn.Close()
		}
	}
	return nil
}
