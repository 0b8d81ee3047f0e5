package coordinator

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genai-relay/internal/config"
	"genai-relay/internal/link"
	"genai-relay/internal/queue"
	"genai-relay/internal/rotation"
)

// testHarness wires a Coordinator to a real Link over an actual
// websocket connection, the same way the browser agent would, so the
// HTTP handlers can be driven end to end without any fakes standing in
// for the link or queue layers.
type testHarness struct {
	srv   *httptest.Server
	agent *websocket.Conn
	link  *link.Link
	rot   *rotation.Controller
}

func newHarness(t *testing.T, cfg *config.Config) *testHarness {
	gin.SetMode(gin.TestMode)

	registry := queue.NewRegistry()
	l := link.New(time.Second, registry)
	rc := rotation.New([]int{0, 1}, 0, rotation.Config{}, alwaysRebinds())
	co := New(l, rc, cfg, nil)

	r := gin.New()
	r.GET("/internal/agent", l.GinHandler())
	r.POST("/v1/chat/completions", co.ServeOpenAIChat)
	r.GET("/v1/models", co.ServeOpenAIModelList)
	r.Any("/v1beta/*path", co.ServeGoogleNative)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/internal/agent"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, l.HasLiveConnection, time.Second, 10*time.Millisecond)

	return &testHarness{srv: srv, agent: conn, link: l, rot: rc}
}

type inboundDescriptor struct {
	RequestID   string            `json:"request_id"`
	Path        string            `json:"path"`
	QueryParams map[string]string `json:"query_params"`
}

func (h *testHarness) readDescriptor(t *testing.T) inboundDescriptor {
	_, data, err := h.agent.ReadMessage()
	require.NoError(t, err)
	var d inboundDescriptor
	require.NoError(t, json.Unmarshal(data, &d))
	return d
}

func (h *testHarness) writeFrame(t *testing.T, frame map[string]interface{}) {
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, h.agent.WriteMessage(websocket.TextMessage, data))
}

func (h *testHarness) sendHeaders(t *testing.T, requestID string, status int) {
	h.writeFrame(t, map[string]interface{}{
		"request_id": requestID,
		"event_type": "response_headers",
		"status":     status,
		"headers":    map[string][]string{"content-type": {"application/json"}},
	})
}

func (h *testHarness) sendChunk(t *testing.T, requestID, data string) {
	h.writeFrame(t, map[string]interface{}{
		"request_id": requestID,
		"event_type": "chunk",
		"data":       data,
	})
}

func (h *testHarness) sendStreamClose(t *testing.T, requestID string) {
	h.writeFrame(t, map[string]interface{}{
		"request_id": requestID,
		"event_type": "stream_close",
	})
}

func (h *testHarness) sendError(t *testing.T, requestID string, status int, message string) {
	h.writeFrame(t, map[string]interface{}{
		"request_id": requestID,
		"event_type": "error",
		"status":     status,
		"message":    message,
	})
}

func TestServeGoogleNativeBuffered(t *testing.T) {
	h := newHarness(t, &config.Config{})

	go func() {
		d := h.readDescriptor(t)
		h.sendHeaders(t, d.RequestID, 200)
		h.sendChunk(t, d.RequestID, `{"candidates":[{"content":{"parts":[{"text":"hi"}]},"finishReason":"STOP"}]}`)
		h.sendStreamClose(t, d.RequestID)
	}()

	resp, err := http.Post(h.srv.URL+"/v1beta/models/gemini-pro:generateContent", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"text":"hi"`)
}

func TestServeGoogleNativeStripsAuthKeyFromDescriptor(t *testing.T) {
	h := newHarness(t, &config.Config{})

	descCh := make(chan inboundDescriptor, 1)
	go func() {
		d := h.readDescriptor(t)
		descCh <- d
		h.sendHeaders(t, d.RequestID, 200)
		h.sendChunk(t, d.RequestID, `{"candidates":[]}`)
		h.sendStreamClose(t, d.RequestID)
	}()

	resp, err := http.Post(h.srv.URL+"/v1beta/models/gemini-pro:generateContent?key=super-secret", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	io.ReadAll(resp.Body)

	d := <-descCh
	_, hasKey := d.QueryParams["key"]
	assert.False(t, hasKey)
}

func TestServeOpenAIChatBufferedTranslatesResponse(t *testing.T) {
	h := newHarness(t, &config.Config{})

	go func() {
		d := h.readDescriptor(t)
		h.sendHeaders(t, d.RequestID, 200)
		h.sendChunk(t, d.RequestID, `{"candidates":[{"content":{"parts":[{"text":"hello"}]},"finishReason":"STOP"}]}`)
		h.sendStreamClose(t, d.RequestID)
	}()

	reqBody := `{"model":"gemini-pro","messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(h.srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"object":"chat.completion"`)
	assert.Contains(t, string(body), `"content":"hello"`)
	assert.Contains(t, string(body), `"finish_reason":"STOP"`)
}

func TestServeOpenAIChatRealStreamTranslatesChunks(t *testing.T) {
	h := newHarness(t, &config.Config{})

	go func() {
		d := h.readDescriptor(t)
		assert.Equal(t, "/v1beta/models/gemini-pro:streamGenerateContent", d.Path)
		h.sendHeaders(t, d.RequestID, 200)
		h.sendChunk(t, d.RequestID, `data: {"candidates":[{"content":{"parts":[{"text":"ab"}]}}]}`+"\n\n")
		h.sendChunk(t, d.RequestID, `data: {"candidates":[{"content":{"parts":[{"text":"cd"}]},"finishReason":"STOP"}]}`+"\n\n")
		h.sendStreamClose(t, d.RequestID)
	}()

	reqBody := `{"model":"gemini-pro","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(h.srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), `"object":"chat.completion.chunk"`)
	assert.Contains(t, string(body), `"role":"assistant"`)
	assert.Contains(t, string(body), "data: [DONE]")
}

func TestServeOpenAIModelListTranslatesListShape(t *testing.T) {
	h := newHarness(t, &config.Config{})

	go func() {
		d := h.readDescriptor(t)
		h.sendHeaders(t, d.RequestID, 200)
		h.sendChunk(t, d.RequestID, `{"models":[{"name":"models/gemini-1.5-pro-latest"}]}`)
		h.sendStreamClose(t, d.RequestID)
	}()

	resp, err := http.Get(h.srv.URL + "/v1/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"object":"list"`)
	assert.Contains(t, string(body), `"id":"gemini-1.5-pro-latest"`)
	assert.Contains(t, string(body), `"owned_by":"google"`)
}

func TestFakeStreamRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t, &config.Config{StreamingMode: "fake", MaxRetries: 2, RetryDelay: 10 * time.Millisecond})

	go func() {
		first := h.readDescriptor(t)
		h.sendError(t, first.RequestID, http.StatusBadGateway, "upstream reset")

		second := h.readDescriptor(t)
		h.sendHeaders(t, second.RequestID, 200)
		h.sendChunk(t, second.RequestID, `{"candidates":[{"content":{"parts":[{"text":"recovered"}]},"finishReason":"STOP"}]}`)
	}()

	reqBody := `{"model":"gemini-pro","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(h.srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	bodyStr := string(body)
	assert.Contains(t, bodyStr, "recovered")
	assert.Contains(t, bodyStr, "data: [DONE]")
	assert.Equal(t, 1, strings.Count(bodyStr, "recovered"), "no duplicated chunk across retries")
	assert.Equal(t, int32(0), h.rot.Snapshot().FailureCount, "a retried-then-succeeded request must not count as a failure")
}

func TestFakeStreamExhaustsRetriesAndReportsError(t *testing.T) {
	h := newHarness(t, &config.Config{StreamingMode: "fake", MaxRetries: 2, RetryDelay: 5 * time.Millisecond})

	go func() {
		first := h.readDescriptor(t)
		h.sendError(t, first.RequestID, http.StatusBadGateway, "upstream down")
		second := h.readDescriptor(t)
		h.sendError(t, second.RequestID, http.StatusBadGateway, "upstream down")
	}()

	reqBody := `{"model":"gemini-pro","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	resp, err := http.Post(h.srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode, "fake mode always opens the SSE response before the first attempt resolves")
	bodyStr := string(body)
	assert.Contains(t, bodyStr, `"error"`)
	assert.Contains(t, bodyStr, "data: [DONE]")
}

func TestServeGoogleNativeErrorFrameMirrorsStatus(t *testing.T) {
	h := newHarness(t, &config.Config{})

	go func() {
		d := h.readDescriptor(t)
		h.sendError(t, d.RequestID, http.StatusNotFound, "not found")
	}()

	resp, err := http.Post(h.srv.URL+"/v1beta/models/does-not-exist:generateContent", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "the real upstream status the agent observed must survive the queue, not a hardcoded 502")
}

func TestServeGoogleNativeErrorFrameDefaultsTo502WithoutStatus(t *testing.T) {
	h := newHarness(t, &config.Config{})

	go func() {
		d := h.readDescriptor(t)
		h.sendError(t, d.RequestID, 0, "connection dropped mid-request")
	}()

	resp, err := http.Post(h.srv.URL+"/v1beta/models/does-not-exist:generateContent", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode, "an agent error with no real upstream status falls back to 502")
}

func TestServeOpenAIChatPropagatesAdapterErrorOnMissingModel(t *testing.T) {
	h := newHarness(t, &config.Config{})

	resp, err := http.Post(h.srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(`{"messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "model")
}
