package gateway

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzleduel/internal/duel"
)

func TestGatewayBroadcastsNotifications(t *testing.T) {
	g := New(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Start(ctx)

	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// The connection registers asynchronously after the upgrade; give the
	// pumps a moment before broadcasting.
	require.Eventually(t, func() bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		return len(g.conns) == 1
	}, time.Second, 5*time.Millisecond)

	g.Notify(duel.Notification{Type: duel.NotifyPhase, Phase: duel.PhasePlaying})

	ws.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(raw, &ev))
	assert.Equal(t, duel.NotifyPhase, ev.Payload.Type)
	assert.Equal(t, duel.PhasePlaying, ev.Payload.Phase)
	assert.False(t, ev.Timestamp.IsZero())
}
