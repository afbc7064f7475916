package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/gophsync/internal/server/notify"
	"github.com/iudanet/gophsync/pkg/api"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// клиенты не браузерные, токен проверяется до апгрейда
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscriber источник уведомлений о новых версиях
type Subscriber interface {
	Subscribe(userID string) *notify.Subscription
	Unsubscribe(sub *notify.Subscription)
}

// EventsHandler отдаёт уведомления о новых версиях по WebSocket.
// Уведомления подсказывают клиенту сделать pull и не заменяют его.
type EventsHandler struct {
	logger *slog.Logger
	broker Subscriber
}

// NewEventsHandler создаёт handler уведомлений
func NewEventsHandler(logger *slog.Logger, broker Subscriber) *EventsHandler {
	return &EventsHandler{logger: logger, broker: broker}
}

// Events обрабатывает GET /api/v1/sync/events
func (h *EventsHandler) Events(w http.ResponseWriter, r *http.Request) {
	sc, ok := scopeFromRequest(w, r, h.logger)
	if !ok {
		return
	}

	// подписка до апгрейда: события после рукопожатия не теряются
	sub := h.broker.Subscribe(sc.UserID())
	defer h.broker.Unsubscribe(sub)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	logger := h.logger.With(slog.String("user_id", sc.UserID()), slog.String("device_id", sc.DeviceID()))
	logger.Debug("events stream opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		readPump(conn, logger)
	}()

	writePump(conn, sub, sc.DeviceID(), done, logger)
	_ = conn.Close()
	<-done
	logger.Debug("events stream closed")
}

// readPump читает управляющие кадры, пока соединение живо
func readPump(conn *websocket.Conn, logger *slog.Logger) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", slog.Any("error", err))
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, sub *notify.Subscription, deviceID string, done <-chan struct{}, logger *slog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// своё же изменение устройству не нужно
			if ev.DeviceID == deviceID {
				continue
			}
			if err := conn.WriteJSON(api.ChangeEvent{DeviceID: ev.DeviceID, Version: ev.Version}); err != nil {
				logger.Debug("websocket write failed", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
