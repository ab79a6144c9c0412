package http

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"winequality/service"
)

func dialWS(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn *websocket.Conn, msg interface{}) ServerMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteJSON(msg))
	var reply ServerMessage
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestWebSocketRequests(t *testing.T) {
	srv, svc := newTestServer(t, true, nil)
	conn := dialWS(t, srv)

	pong := roundTrip(t, conn, map[string]string{"id": "1", "type": "ping"})
	assert.Equal(t, "1", pong.ID)
	assert.Equal(t, MessagePing, pong.Type)
	assert.Empty(t, pong.Error)

	projection := roundTrip(t, conn, map[string]string{"id": "2", "type": "correlation", "x": "alcohol", "y": "quality"})
	assert.Equal(t, "2", projection.ID)
	require.Empty(t, projection.Error)
	data := projection.Data.(map[string]interface{})
	assert.Len(t, data["points"], svc.Dataset().Len())

	unknown := roundTrip(t, conn, map[string]string{"id": "3", "type": "correlation", "x": "bogus_feature", "y": "quality"})
	assert.Contains(t, unknown.Error, "bogus_feature")

	predict := roundTrip(t, conn, map[string]interface{}{"id": "4", "type": "predict", "features": json.RawMessage(predictBody)})
	require.Empty(t, predict.Error)
	assert.Equal(t, "This wine is predicted to be good quality.", predict.Data.(map[string]interface{})["text"])

	invalid := roundTrip(t, conn, map[string]interface{}{"id": "5", "type": "predict", "features": map[string]float64{"alcohol": 10}})
	assert.NotEmpty(t, invalid.Error)

	bogus := roundTrip(t, conn, map[string]string{"id": "6", "type": "retrain"})
	assert.Equal(t, MessageError, bogus.Type)

	assert.Equal(t, service.Ready, svc.State())
}

func TestWebSocketUnavailable(t *testing.T) {
	srv, _ := newTestServer(t, false, nil)
	conn := dialWS(t, srv)

	reply := roundTrip(t, conn, map[string]interface{}{"id": "1", "type": "predict", "features": json.RawMessage(predictBody)})
	assert.Contains(t, reply.Error, service.ErrUnavailable.Error())
}

func TestWebSocketBroadcastReady(t *testing.T) {
	srv, _ := newTestServer(t, true, nil)
	conn := dialWS(t, srv)

	require.Eventually(t, func() bool { return srv.Hub().Connected() == 1 }, 2*time.Second, 10*time.Millisecond)
	srv.NotifyReady(service.Ready)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageStatus, msg.Type)
	assert.Equal(t, "ready", msg.Data.(map[string]interface{})["state"])
}
