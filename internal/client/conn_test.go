package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ihnore-Ihor/PI-CMS/internal/protocol"
)

func TestDialExhaustsAttemptsThenFails(t *testing.T) {
	start := time.Now()
	_, err := Dial(context.Background(), newTestStore(), Options{
		URL:         "ws://127.0.0.1:1/ws",
		MaxAttempts: 3,
		RetryDelay:  5 * time.Millisecond,
		Log:         zerolog.Nop(),
	})
	require.ErrorIs(t, err, ErrConnectFailed)
	assert.Contains(t, err.Error(), "3 attempts")
	// Two fixed delays between three attempts, no backoff growth.
	assert.Less(t, time.Since(start), time.Second)
}

func TestConnFeedsStoreAndReportsFailureState(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		// Expect the authenticate frame, then confirm the identity.
		_, raw, err := ws.ReadMessage()
		require.NoError(t, err)
		env, err := protocol.Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, protocol.EventAuthenticate, env.Event)

		frame, err := protocol.Encode(protocol.EventAuthenticated, protocol.Authenticated{
			UserID:  1,
			MysqlID: "100",
		})
		require.NoError(t, err)
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
	}))
	defer srv.Close()

	store := newTestStore()
	conn, err := Dial(context.Background(), store, Options{
		URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		Log: zerolog.Nop(),
	})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Authenticate("token", protocol.UserInfo{}))

	require.Eventually(t, func() bool {
		_, ok := store.Identity()
		return ok
	}, time.Second, 10*time.Millisecond)

	identity, _ := store.Identity()
	assert.Equal(t, "100", identity.MysqlID)

	// The server hangs up after replying; the transport surfaces Failed.
	require.Eventually(t, func() bool {
		state, _ := conn.State()
		return state == ConnFailed
	}, time.Second, 10*time.Millisecond)
}
