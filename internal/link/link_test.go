package link

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genai-relay/internal/queue"
)

func newTestServer(t *testing.T, l *Link) (*httptest.Server, string) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/internal/agent", l.GinHandler())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/internal/agent"
	return srv, wsURL
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestLinkRoutesFramesToQueue(t *testing.T) {
	registry := queue.NewRegistry()
	l := New(5*time.Second, registry)
	_, wsURL := newTestServer(t, l)

	agentConn := dial(t, wsURL)

	require.Eventually(t, l.HasLiveConnection, time.Second, 10*time.Millisecond)

	q := l.OpenQueue("req-1")

	require.NoError(t, agentConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"request_id":"req-1","event_type":"response_headers","status":200,"headers":{"content-type":["application/json"]}}`)))

	frame, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, queue.KindResponseHeaders, frame.Kind)
	assert.Equal(t, 200, frame.Status)

	require.NoError(t, agentConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"request_id":"req-1","event_type":"chunk","data":"hello"}`)))
	frame, err = q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, queue.KindChunk, frame.Kind)
	assert.Equal(t, "hello", string(frame.Data))

	require.NoError(t, agentConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"request_id":"req-1","event_type":"stream_close"}`)))
	frame, err = q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, queue.KindStreamEnd, frame.Kind)
}

func TestLinkRoutesErrorFrameStatus(t *testing.T) {
	registry := queue.NewRegistry()
	l := New(5*time.Second, registry)
	_, wsURL := newTestServer(t, l)

	agentConn := dial(t, wsURL)
	require.Eventually(t, l.HasLiveConnection, time.Second, 10*time.Millisecond)

	q := l.OpenQueue("req-1")

	require.NoError(t, agentConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"request_id":"req-1","event_type":"error","status":429,"message":"rate limited upstream"}`)))

	frame, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, queue.KindError, frame.Kind)
	assert.Equal(t, 429, frame.Status)
	require.Error(t, frame.Err)
	assert.Equal(t, "rate limited upstream", frame.Err.Error())
}

func TestLinkUnknownRequestIDDropped(t *testing.T) {
	registry := queue.NewRegistry()
	l := New(5*time.Second, registry)
	_, wsURL := newTestServer(t, l)
	agentConn := dial(t, wsURL)
	require.Eventually(t, l.HasLiveConnection, time.Second, 10*time.Millisecond)

	// No panic, no registered queue: this should just be logged and dropped.
	require.NoError(t, agentConn.WriteMessage(websocket.TextMessage,
		[]byte(`{"request_id":"ghost","event_type":"chunk","data":"x"}`)))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, registry.Len())
}

func TestLinkGraceExpiryClosesQueues(t *testing.T) {
	registry := queue.NewRegistry()
	l := New(50*time.Millisecond, registry)
	_, wsURL := newTestServer(t, l)
	agentConn := dial(t, wsURL)
	require.Eventually(t, l.HasLiveConnection, time.Second, 10*time.Millisecond)

	q := l.OpenQueue("req-1")

	lost := make(chan struct{}, 1)
	l.OnConnectionLost(func() { lost <- struct{}{} })

	require.NoError(t, agentConn.Close())

	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("connection-lost listener never fired")
	}

	_, err := q.Dequeue(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrLinkLost)
}

func TestLinkReconnectWithinGraceKeepsQueues(t *testing.T) {
	registry := queue.NewRegistry()
	l := New(300*time.Millisecond, registry)
	_, wsURL := newTestServer(t, l)
	agentConn := dial(t, wsURL)
	require.Eventually(t, l.HasLiveConnection, time.Second, 10*time.Millisecond)

	q := l.OpenQueue("req-1")

	lost := make(chan struct{}, 1)
	l.OnConnectionLost(func() { lost <- struct{}{} })

	require.NoError(t, agentConn.Close())
	require.Eventually(t, func() bool { return !l.HasLiveConnection() }, time.Second, 5*time.Millisecond)

	// Reconnect well within the grace window.
	dial(t, wsURL)
	require.Eventually(t, l.HasLiveConnection, time.Second, 5*time.Millisecond)

	select {
	case <-lost:
		t.Fatal("connection-lost fired despite reconnect within grace")
	case <-time.After(400 * time.Millisecond):
	}

	assert.False(t, q.Closed())
}

func TestLinkSendFailsWithoutConnection(t *testing.T) {
	registry := queue.NewRegistry()
	l := New(time.Second, registry)
	err := l.Send(Descriptor{RequestID: "req-1"})
	assert.ErrorIs(t, err, ErrNoConnection)
}
