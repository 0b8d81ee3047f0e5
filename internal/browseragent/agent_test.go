package browseragent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genai-relay/internal/link"
	"genai-relay/internal/queue"
)

// gatewayHarness stands in for the gateway side of the control
// channel: a real link.Link behind a real websocket server, exactly
// as cmd/server would run it, so the Agent under test is driven the
// same way production traffic would drive it.
type gatewayHarness struct {
	link *link.Link
}

func newGatewayHarness(t *testing.T) (*gatewayHarness, string) {
	gin.SetMode(gin.TestMode)
	registry := queue.NewRegistry()
	l := link.New(5*time.Second, registry)
	r := gin.New()
	r.GET("/internal/agent", l.GinHandler())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/internal/agent"
	return &gatewayHarness{link: l}, wsURL
}

func dialAgent(t *testing.T, wsURL string, upstreamBase string) *Agent {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	a := New(conn, &http.Client{}, Config{UpstreamBase: upstreamBase, MaxAttempts: 3, DefaultResumeLimit: 3})
	go a.Run(context.Background())
	return a
}

func TestAgentBufferedRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}`))
	}))
	defer upstream.Close()

	gw, wsURL := newGatewayHarness(t)
	dialAgent(t, wsURL, upstream.URL)
	require.Eventually(t, gw.link.HasLiveConnection, time.Second, 10*time.Millisecond)

	q := gw.link.OpenQueue("req-1")
	require.NoError(t, gw.link.Send(link.Descriptor{
		RequestID:     "req-1",
		Path:          "/v1beta/models/gemini-pro:generateContent",
		Method:        http.MethodPost,
		Headers:       map[string]string{},
		QueryParams:   map[string]string{},
		Body:          []byte(`{}`),
		StreamingMode: "",
	}))

	headerFrame, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, queue.KindResponseHeaders, headerFrame.Kind)
	assert.Equal(t, 200, headerFrame.Status)

	chunkFrame, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, queue.KindChunk, chunkFrame.Kind)
	assert.Contains(t, string(chunkFrame.Data), `"text":"hi"`)

	endFrame, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, queue.KindStreamEnd, endFrame.Kind)
}

func TestAgentFakeModeRewritesPathAndDropsAltSSE(t *testing.T) {
	var gotPath, gotAlt string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAlt = r.URL.Query().Get("alt")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	gw, wsURL := newGatewayHarness(t)
	dialAgent(t, wsURL, upstream.URL)
	require.Eventually(t, gw.link.HasLiveConnection, time.Second, 10*time.Millisecond)

	q := gw.link.OpenQueue("req-1")
	require.NoError(t, gw.link.Send(link.Descriptor{
		RequestID:     "req-1",
		Path:          "/v1beta/models/gemini-pro:streamGenerateContent",
		Method:        http.MethodPost,
		QueryParams:   map[string]string{"alt": "sse"},
		Body:          []byte(`{}`),
		StreamingMode: "fake",
	}))

	_, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/gemini-pro:generateContent", gotPath)
	assert.Equal(t, "", gotAlt)
}

func TestAgentStripsDeniedHeadersBeforeForwarding(t *testing.T) {
	var gotUserAgent, gotOrigin, gotKept string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserAgent = r.Header.Get("User-Agent")
		gotOrigin = r.Header.Get("Origin")
		gotKept = r.Header.Get("X-Kept")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	gw, wsURL := newGatewayHarness(t)
	dialAgent(t, wsURL, upstream.URL)
	require.Eventually(t, gw.link.HasLiveConnection, time.Second, 10*time.Millisecond)

	q := gw.link.OpenQueue("req-1")
	require.NoError(t, gw.link.Send(link.Descriptor{
		RequestID: "req-1",
		Path:      "/v1beta/models/gemini-pro:generateContent",
		Method:    http.MethodPost,
		Headers: map[string]string{
			"Origin":     "https://example.com",
			"User-Agent": "some-browser",
			"X-Kept":     "yes",
		},
		Body:          []byte(`{}`),
		StreamingMode: "",
	}))

	_, err := q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	_, err = q.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)

	assert.NotContains(t, gotUserAgent, "some-browser")
	assert.Equal(t, "", gotOrigin)
	assert.Equal(t, "yes", gotKept)
}

func TestAgentCancelRequestAbortsFetch(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)
	t.Cleanup(func() { close(release) })

	gw, wsURL := newGatewayHarness(t)
	dialAgent(t, wsURL, upstream.URL)
	require.Eventually(t, gw.link.HasLiveConnection, time.Second, 10*time.Millisecond)

	q := gw.link.OpenQueue("req-1")
	require.NoError(t, gw.link.Send(link.Descriptor{
		RequestID:     "req-1",
		Path:          "/v1beta/models/gemini-pro:generateContent",
		Method:        http.MethodPost,
		Body:          []byte(`{}`),
		StreamingMode: "",
	}))

	gw.link.Cancel("req-1")

	frame, err := q.Dequeue(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, queue.KindError, frame.Kind)
	assert.Contains(t, frame.Err.Error(), "user aborted")
}

func TestAgentRealStreamAutoResumeOnProhibitedContent(t *testing.T) {
	attempt := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		if attempt == 1 {
			w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"AAA"}]}}]}` + "\n"))
			flusher.Flush()
			w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":""}]},"finishReason":"PROHIBITED_CONTENT"}]}` + "\n"))
			flusher.Flush()
			return
		}
		w.Write([]byte(`data: {"candidates":[{"content":{"parts":[{"text":"BBB"}]},"finishReason":"STOP"}]}` + "\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	gw, wsURL := newGatewayHarness(t)
	dialAgent(t, wsURL, upstream.URL)
	require.Eventually(t, gw.link.HasLiveConnection, time.Second, 10*time.Millisecond)

	q := gw.link.OpenQueue("req-1")
	require.NoError(t, gw.link.Send(link.Descriptor{
		RequestID:        "req-1",
		Path:             "/v1beta/models/gemini-pro:streamGenerateContent",
		Method:           http.MethodPost,
		Body:             []byte(`{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`),
		StreamingMode:    "real",
		ResumeOnProhibit: true,
		ResumeLimit:      2,
	}))

	_, err := q.Dequeue(context.Background(), time.Second) // response_headers
	require.NoError(t, err)

	var seenBBB, sawTruncationChunk bool
	for {
		frame, err := q.Dequeue(context.Background(), 2*time.Second)
		require.NoError(t, err)
		if frame.Kind == queue.KindStreamEnd {
			break
		}
		require.Equal(t, queue.KindChunk, frame.Kind)
		if strings.Contains(string(frame.Data), "PROHIBITED_CONTENT") {
			sawTruncationChunk = true
		}
		if strings.Contains(string(frame.Data), "BBB") {
			seenBBB = true
		}
	}

	assert.Equal(t, 2, attempt, "resume must re-dispatch exactly once")
	assert.True(t, seenBBB, "resumed attempt's chunk must reach the client")
	assert.False(t, sawTruncationChunk, "the truncating chunk itself must not be forwarded")
}
