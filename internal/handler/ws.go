package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pavelanni/essayexam/internal/exam"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsInterval     = time.Second
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allow list permits all origins.
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// wsEvent is pushed to the student once per second, and once more when the
// session has been graded.
type wsEvent struct {
	Event            string     `json:"event"`
	State            exam.State `json:"state"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Countdown        string     `json:"countdown"`
	Urgent           bool       `json:"urgent"`
	Score            *float64   `json:"score,omitempty"`
}

const (
	eventTick   = "tick"
	eventGraded = "graded"
)

func eventFor(sess *exam.Session, name string) wsEvent {
	v := sess.View()
	return wsEvent{
		Event:            name,
		State:            v.State,
		RemainingSeconds: v.RemainingSeconds,
		Countdown:        v.Countdown,
		Urgent:           v.Urgent,
		Score:            v.Score,
	}
}

func writeEvent(conn *websocket.Conn, ev wsEvent) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(ev)
}

// handleExamWS streams the countdown of a session until it is graded or the
// client goes away.
func (h *Handler) handleExamWS(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessionFor(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	log := slog.With("session", sess.ID, "student", sess.Student.ID)
	log.Debug("countdown stream connected")

	// Reads only detect the client closing the connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn("unexpected close", "error", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsInterval)
	defer ticker.Stop()

	if err := writeEvent(conn, eventFor(sess, eventTick)); err != nil {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-sess.Done():
			if err := writeEvent(conn, eventFor(sess, eventGraded)); err != nil {
				return
			}
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteTimeout))
			return
		case <-ticker.C:
			if err := writeEvent(conn, eventFor(sess, eventTick)); err != nil {
				log.Debug("countdown stream write failed", "error", err)
				return
			}
		}
	}
}
