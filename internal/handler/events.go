package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Staycoo10/mini-airbnb/internal/domain"
	"github.com/Staycoo10/mini-airbnb/internal/events"
)

const (
	pingInterval = 15 * time.Second
	writeWait    = 5 * time.Second
)

// EventSource hands out per-apartment event subscriptions
type EventSource interface {
	Subscribe(apartmentID int64) (<-chan events.Event, func())
}

// ApartmentLookup confirms an apartment exists before streaming its events
type ApartmentLookup interface {
	Get(ctx context.Context, id int64) (*domain.Apartment, error)
}

// EventsHandler streams reservation changes of one apartment over a websocket
type EventsHandler struct {
	source         EventSource
	apartments     ApartmentLookup
	logger         *slog.Logger
	allowedOrigins []string
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(source EventSource, apartments ApartmentLookup, logger *slog.Logger, allowedOrigins []string) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		source:         source,
		apartments:     apartments,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

func (h *EventsHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// non-browser clients
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if allowed == "*" || origin == allowed {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// AvailabilityEvent is what anonymous subscribers see of a reservation
// change: which dates were taken or freed, not whose booking it was
type AvailabilityEvent struct {
	Type        events.Type `json:"type"`
	ApartmentID int64       `json:"apartmentId"`
	StartDate   string      `json:"startDate"`
	EndDate     string      `json:"endDate"`
	At          time.Time   `json:"at"`
}

func availabilityOf(e events.Event) AvailabilityEvent {
	return AvailabilityEvent{
		Type:        e.Type,
		ApartmentID: e.ApartmentID,
		StartDate:   e.StartDate,
		EndDate:     e.EndDate,
		At:          e.At,
	}
}

// ServeHTTP handles GET /ws/apartments/{id}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "Apartment")
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	if _, err := h.apartments.Get(r.Context(), id); err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	upgrader := h.upgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	feed, unsubscribe := h.source.Subscribe(id)
	defer unsubscribe()

	h.logger.Debug("events stream opened", slog.Int64("apartment_id", id))
	if err := h.stream(ws, feed); err != nil {
		h.logger.Debug("events stream ended",
			slog.Int64("apartment_id", id),
			slog.String("reason", err.Error()),
		)
	}
}

// stream forwards events until the client goes away or the feed closes
func (h *EventsHandler) stream(ws *websocket.Conn, feed <-chan events.Event) error {
	// the read loop only notices close frames
	closed := make(chan error, 1)
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				closed <- err
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-feed:
			if !ok {
				return ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(availabilityOf(e)); err != nil {
				return err
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				return err
			}
		case err := <-closed:
			return err
		}
	}
}
