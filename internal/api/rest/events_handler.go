package rest

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caseproof/evidence-backend/internal/infrastructure/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is token-authenticated; browser origin checks do not apply.
	CheckOrigin: func(*http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// handleEventStream upgrades to a websocket and relays pipeline events for
// the caller's own evidence. Admins receive every event.
func (h *Handlers) handleEventStream(w http.ResponseWriter, r *http.Request) {
	principal := principalFrom(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	relay := make(chan events.Event, 64)
	cancel := h.bus.Subscribe(func(ev events.Event) {
		if !h.eventVisibleTo(r, principal.UserID, principal.IsAdmin, ev) {
			return
		}
		select {
		case relay <- ev:
		default:
			// Slow consumer; drop rather than stall the relay.
		}
	})
	defer cancel()

	// Reader goroutine: only there to observe the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev := <-relay:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// eventVisibleTo restricts the stream to events about the caller's own
// evidence.
func (h *Handlers) eventVisibleTo(r *http.Request, userID uuid.UUID, isAdmin bool, ev events.Event) bool {
	if isAdmin {
		return true
	}
	raw, ok := ev.Payload["evidence_id"].(string)
	if !ok {
		return false
	}
	evidenceID, err := uuid.Parse(raw)
	if err != nil {
		return false
	}
	stored, err := h.repos.Evidence.GetByID(r.Context(), evidenceID)
	if err != nil {
		return false
	}
	return stored.UserID == userID
}
