// Package coordinator implements RequestCoordinator: the HTTP entry
// point that gates, forwards, and drives the response state machine for
// every inbound request against the single browser-agent link and the
// shared rotation controller.
package coordinator

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"genai-relay/internal/config"
	"genai-relay/internal/constants"
	apperrors "genai-relay/internal/errors"
	"genai-relay/internal/httpformat"
	"genai-relay/internal/link"
	"genai-relay/internal/queue"
	"genai-relay/internal/rotation"
)

// Metrics is the subset of observability hooks the coordinator calls
// into. Implemented by internal/metrics; nil-safe via NopMetrics so
// tests can omit it.
type Metrics interface {
	ActiveRequestsInc()
	ActiveRequestsDec()
	RequestCompleted(mode string, status int)
	RotationSwitch(outcome string)
}

// NopMetrics discards everything; the default when no Metrics is wired.
type NopMetrics struct{}

func (NopMetrics) ActiveRequestsInc()                    {}
func (NopMetrics) ActiveRequestsDec()                    {}
func (NopMetrics) RequestCompleted(string, int)          {}
func (NopMetrics) RotationSwitch(string)                 {}

// Coordinator is the entry point from HTTP into the credential-rotated
// upstream. One Coordinator serves the whole gateway.
//
// cfg is the same *config.Config pointer the operator endpoints in
// internal/server mutate, not a private copy: a switch-mode/toggle-
// reasoning/set-resume-config call must take effect on the very next
// request, so the coordinator always reads the live value rather than
// a snapshot taken at construction time.
type Coordinator struct {
	link     *link.Link
	rotation *rotation.Controller
	cfg      *config.Config
	metrics  Metrics
}

// New constructs a Coordinator. metrics may be nil (NopMetrics is used).
// cfg must be the same instance the caller wires into any operator
// surface that mutates streaming/reasoning/resume settings at runtime.
func New(l *link.Link, r *rotation.Controller, cfg *config.Config, metrics Metrics) *Coordinator {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Coordinator{link: l, rotation: r, cfg: cfg, metrics: metrics}
}

// gateResult carries the outcome of the common entry gate.
type gateResult struct {
	accepted bool
	apiErr   *apperrors.APIError
}

// enterGate applies the common entry gate shared by Google-native
// passthrough and OpenAI chat completions: reject while a switch is
// pending or in flight, account for the request, attempt silent
// self-recovery if the link has no live connection, and arm a pending
// switch if the usage threshold is now met.
func (co *Coordinator) enterGate(ctx context.Context, isGenerative bool) gateResult {
	status := co.rotation.Status()
	if status.PendingSwitch || status.IsSwitching {
		return gateResult{apiErr: apperrors.Rotating()}
	}

	co.rotation.EnterActive()
	co.metrics.ActiveRequestsInc()

	if !co.link.HasLiveConnection() {
		if co.rotation.IsSystemBusy() {
			co.leaveGate(ctx)
			return gateResult{apiErr: apperrors.New(http.StatusServiceUnavailable, "system_busy", "server_error", "agent connection unavailable")}
		}
		if err := co.attemptSilentRecovery(ctx); err != nil {
			co.leaveGate(ctx)
			return gateResult{apiErr: apperrors.New(http.StatusServiceUnavailable, "link_unavailable", "server_error", "agent connection unavailable")}
		}
	}

	if co.rotation.IsSystemBusy() {
		co.leaveGate(ctx)
		return gateResult{apiErr: apperrors.New(http.StatusServiceUnavailable, "system_busy", "server_error", "system busy")}
	}

	// Only a request that has cleared every rejection path above is
	// actually about to be dispatched to the upstream; only now does it
	// count toward usageCount and a possible pending-switch arm.
	co.rotation.RecordUsage(isGenerative)

	return gateResult{accepted: true}
}

// attemptSilentRecovery re-binds the current credential once, without
// counting it as a rotation switch, when the link has dropped its
// connection but a new request has arrived to find it still missing.
func (co *Coordinator) attemptSilentRecovery(ctx context.Context) error {
	co.rotation.SetSystemBusy(true)
	defer co.rotation.SetSystemBusy(false)

	err := co.rotation.Switch(ctx, co.rotation.CurrentIndex())
	if err != nil {
		log.WithError(err).Warn("coordinator: silent recovery failed")
		return err
	}
	return nil
}

// leaveGate is the guaranteed-release counterpart to enterGate's
// EnterActive/ActiveRequestsInc, used on every gate-rejection path so
// activeRequestCount never leaks.
func (co *Coordinator) leaveGate(ctx context.Context) {
	co.rotation.LeaveRequest()
	co.metrics.ActiveRequestsDec()
	co.rotation.TryExecutePendingSwitch(ctx)
}

// finishRequest is the guaranteed-release scope run once per request
// regardless of outcome: close the queue, decrement activeRequestCount,
// and drive the rotation drain hook.
func (co *Coordinator) finishRequest(ctx context.Context, requestID string, cause error, mode string, status int) {
	co.link.CloseQueue(requestID, cause)
	co.rotation.LeaveRequest()
	co.metrics.ActiveRequestsDec()
	co.metrics.RequestCompleted(mode, status)
	co.rotation.TryExecutePendingSwitch(ctx)
}

// newRequestID generates a random UUID request id, used when the caller
// hasn't already attached one (e.g. via the request-id middleware).
func newRequestID() string {
	return uuid.NewString()
}

// requestIDFrom reuses the gin request-id middleware's value if present.
func requestIDFrom(c *gin.Context) string {
	if v, ok := c.Get("request_id"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return newRequestID()
}

// wantsStreaming implements the response-mode selection rule: Accept
// asks for text/event-stream, or the path ends with
// :streamGenerateContent, or (OpenAI path) the body set stream:true.
func wantsStreaming(c *gin.Context, path string, bodyWantsStream bool) bool {
	if strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		return true
	}
	if strings.HasSuffix(path, ":streamGenerateContent") {
		return true
	}
	return bodyWantsStream
}

// resolveStreamingMode decides real vs fake once streaming is wanted:
// an operator override in cfg.StreamingMode wins, otherwise "real" is
// assumed for a native streamGenerateContent call and "fake" otherwise
// (the upstream path the agent would hit is non-streaming).
func (co *Coordinator) resolveStreamingMode(pathIsNativeStream bool) string {
	if co.cfg.StreamingMode == "real" || co.cfg.StreamingMode == "fake" {
		return co.cfg.StreamingMode
	}
	if pathIsNativeStream {
		return "real"
	}
	return "fake"
}

// buildDescriptor assembles the gateway→agent frame, stripping the
// inbound auth key from the outbound query params before it ever
// leaves the gateway.
func buildDescriptor(requestID, path, method string, headers map[string]string, query map[string]string, body []byte, streamingMode string, isGenerative, clientWantsStream, resumeOnProhibit bool, resumeLimit int) link.Descriptor {
	strippedQuery := make(map[string]string, len(query))
	for k, v := range query {
		if k == "key" {
			continue
		}
		strippedQuery[k] = v
	}
	return link.Descriptor{
		RequestID:         requestID,
		Path:              path,
		Method:            method,
		Headers:           headers,
		QueryParams:       strippedQuery,
		Body:              body,
		StreamingMode:     streamingMode,
		IsGenerative:      isGenerative,
		ClientWantsStream: clientWantsStream,
		ResumeOnProhibit:  resumeOnProhibit,
		ResumeLimit:       resumeLimit,
	}
}

// firstFrame dequeues the header/error frame with the fixed first-frame
// timeout.
func firstFrame(ctx context.Context, q *queue.Queue) (queue.Frame, error) {
	return q.Dequeue(ctx, constants.FirstFrameTimeout)
}

// detectFormat is the small wrapper coordinator call sites use so error
// rendering matches the inbound surface (OpenAI vs Gemini shaped).
func detectFormat(c *gin.Context) apperrors.Format {
	return httpformat.DetectFromContext(c)
}
