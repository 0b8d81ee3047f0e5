package coordinator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"genai-relay/internal/config"
	"genai-relay/internal/link"
	"genai-relay/internal/queue"
	"genai-relay/internal/rotation"
)

func newGinContext(method, target string, headers map[string]string) *gin.Context {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	c.Request = req
	return c
}

func alwaysRebinds() rotation.Rebinder {
	return rotation.RebinderFunc(func(ctx context.Context, index int) error { return nil })
}

func TestWantsStreamingAcceptHeader(t *testing.T) {
	c := newGinContext(http.MethodPost, "/v1/chat/completions", map[string]string{"Accept": "text/event-stream"})
	assert.True(t, wantsStreaming(c, "/v1/chat/completions", false))
}

func TestWantsStreamingNativeStreamPath(t *testing.T) {
	path := "/v1beta/models/gemini-pro:streamGenerateContent"
	c := newGinContext(http.MethodPost, path, nil)
	assert.True(t, wantsStreaming(c, path, false))
}

func TestWantsStreamingBodyFlag(t *testing.T) {
	c := newGinContext(http.MethodPost, "/v1/chat/completions", nil)
	assert.True(t, wantsStreaming(c, "/v1/chat/completions", true))
	assert.False(t, wantsStreaming(c, "/v1/chat/completions", false))
}

func TestResolveStreamingModeOperatorOverrideWins(t *testing.T) {
	co := &Coordinator{cfg: &config.Config{StreamingMode: "fake"}}
	assert.Equal(t, "fake", co.resolveStreamingMode(true))
}

func TestResolveStreamingModeDefaultsByPath(t *testing.T) {
	co := &Coordinator{cfg: &config.Config{}}
	assert.Equal(t, "real", co.resolveStreamingMode(true))
	assert.Equal(t, "fake", co.resolveStreamingMode(false))
}

// A mutation through the *config.Config pointer a caller (e.g. an
// operator endpoint) holds must be visible to the coordinator on the
// very next request: the coordinator must never hold its own copy.
func TestResolveStreamingModeSeesMutationThroughSharedConfigPointer(t *testing.T) {
	cfg := &config.Config{}
	co := &Coordinator{cfg: cfg}
	assert.Equal(t, "real", co.resolveStreamingMode(true))

	cfg.StreamingMode = "fake"
	assert.Equal(t, "fake", co.resolveStreamingMode(true))
}

func TestBuildDescriptorStripsAuthKey(t *testing.T) {
	query := map[string]string{"key": "super-secret", "alt": "sse"}
	desc := buildDescriptor("req-1", "/v1beta/models/gemini-pro:generateContent", http.MethodPost, nil, query, []byte(`{}`), "real", true, true, false, 0)

	_, hasKey := desc.QueryParams["key"]
	assert.False(t, hasKey, "auth key must never reach the agent")
	assert.Equal(t, "sse", desc.QueryParams["alt"])
}

func TestEnterGateRejectsWhilePendingSwitch(t *testing.T) {
	rc := rotation.New([]int{0, 1}, 0, rotation.Config{SwitchOnUses: 1}, alwaysRebinds())
	rc.EnterActive()
	rc.RecordUsage(true) // arms pendingSwitch via usage threshold
	rc.LeaveRequest()

	co := New(link.New(time.Second, queue.NewRegistry()), rc, &config.Config{}, nil)

	gate := co.enterGate(context.Background(), true)
	assert.False(t, gate.accepted)
	assert.Equal(t, http.StatusServiceUnavailable, gate.apiErr.HTTPStatus)
}

func TestEnterGateSilentRecoverySucceedsWithoutConnection(t *testing.T) {
	rebindCalls := 0
	rc := rotation.New([]int{0, 1}, 0, rotation.Config{}, rotation.RebinderFunc(func(ctx context.Context, index int) error {
		rebindCalls++
		return nil
	}))
	co := New(link.New(time.Second, queue.NewRegistry()), rc, &config.Config{}, nil)

	gate := co.enterGate(context.Background(), false)
	assert.True(t, gate.accepted)
	assert.Equal(t, 1, rebindCalls)
}

func TestEnterGateSilentRecoveryFailureRejects(t *testing.T) {
	rc := rotation.New([]int{0, 1}, 0, rotation.Config{}, rotation.RebinderFunc(func(ctx context.Context, index int) error {
		return errors.New("still dead")
	}))
	co := New(link.New(time.Second, queue.NewRegistry()), rc, &config.Config{}, nil)

	gate := co.enterGate(context.Background(), false)
	assert.False(t, gate.accepted)
	assert.Equal(t, http.StatusServiceUnavailable, gate.apiErr.HTTPStatus)
}

func TestEnterGateSystemBusyRejectsWithoutAttemptingRecovery(t *testing.T) {
	rebindCalls := 0
	rc := rotation.New([]int{0, 1}, 0, rotation.Config{}, rotation.RebinderFunc(func(ctx context.Context, index int) error {
		rebindCalls++
		return nil
	}))
	rc.SetSystemBusy(true)
	co := New(link.New(time.Second, queue.NewRegistry()), rc, &config.Config{}, nil)

	gate := co.enterGate(context.Background(), false)
	assert.False(t, gate.accepted)
	assert.Equal(t, 0, rebindCalls, "recovery must not be attempted while already marked busy")
}

func TestEnterGateLeavesNoActiveRequestOnRejection(t *testing.T) {
	rc := rotation.New([]int{0, 1}, 0, rotation.Config{}, rotation.RebinderFunc(func(ctx context.Context, index int) error {
		return errors.New("still dead")
	}))
	co := New(link.New(time.Second, queue.NewRegistry()), rc, &config.Config{}, nil)

	co.enterGate(context.Background(), false)
	assert.Equal(t, int32(0), rc.Snapshot().ActiveRequestCount)
}
