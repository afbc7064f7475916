package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/gophsync/internal/scope"
	"github.com/iudanet/gophsync/internal/server/notify"
	"github.com/iudanet/gophsync/pkg/api"
)

func TestEventsHandler(t *testing.T) {
	env := newTestEnv(t)
	h := NewEventsHandler(env.logger, env.broker)
	sc := scopeFor(t, "user-1", "laptop-0001")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.Events(w, r.WithContext(scope.WithContext(r.Context(), sc)))
	}))
	defer srv.Close()

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return env.broker.Subscribers("user-1") == 1 },
		time.Second, 10*time.Millisecond)

	env.broker.Publish(notify.Event{UserID: "user-1", DeviceID: "laptop-0001", Version: 3})
	env.broker.Publish(notify.Event{UserID: "user-2", DeviceID: "phone-00002", Version: 9})
	env.broker.Publish(notify.Event{UserID: "user-1", DeviceID: "phone-00002", Version: 4})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev api.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	// своё событие и событие чужого пользователя не доставляются
	assert.Equal(t, api.ChangeEvent{DeviceID: "phone-00002", Version: 4}, ev)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return env.broker.Subscribers("user-1") == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestEventsHandler_RequiresScope(t *testing.T) {
	env := newTestEnv(t)
	h := NewEventsHandler(env.logger, env.broker)

	rec := httptest.NewRecorder()
	h.Events(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sync/events", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

var _ Subscriber = (*notify.Broker)(nil)
