// Package events fans reservation changes out to per-apartment subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Type names a reservation event
type Type string

const (
	ReservationCreated   Type = "reservation.created"
	ReservationCancelled Type = "reservation.cancelled"
)

// Event describes a change to an apartment's calendar
type Event struct {
	Type          Type      `json:"type"`
	ApartmentID   int64     `json:"apartmentId"`
	ReservationID int64     `json:"reservationId"`
	StartDate     string    `json:"startDate"`
	EndDate       string    `json:"endDate"`
	At            time.Time `json:"at"`
}

// Hub delivers events to subscribers of an apartment. Slow subscribers lose
// events instead of blocking publishers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int64]map[chan Event]struct{}
	buffer int
	logger *slog.Logger
}

// NewHub creates a hub whose subscriber channels hold up to buffer events
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[int64]map[chan Event]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers interest in one apartment. The returned func must be
// called to release the subscription; it closes the channel.
func (h *Hub) Subscribe(apartmentID int64) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	if h.subs[apartmentID] == nil {
		h.subs[apartmentID] = make(map[chan Event]struct{})
	}
	h.subs[apartmentID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[apartmentID], ch)
			if len(h.subs[apartmentID]) == 0 {
				delete(h.subs, apartmentID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish sends e to every subscriber of e.ApartmentID
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[e.ApartmentID] {
		select {
		case ch <- e:
		default:
			h.logger.Warn("dropping event for slow subscriber",
				slog.String("type", string(e.Type)),
				slog.Int64("apartment_id", e.ApartmentID),
			)
		}
	}
}

// Subscribers returns the number of live subscriptions for an apartment
func (h *Hub) Subscribers(apartmentID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[apartmentID])
}
