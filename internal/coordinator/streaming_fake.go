package coordinator

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"genai-relay/internal/constants"
	apperrors "genai-relay/internal/errors"
	"genai-relay/internal/link"
	"genai-relay/internal/queue"
)

// runFakeStream is the pass-through retry wrapper: the upstream call
// itself is non-streaming, so the coordinator retries on failure and,
// on success, synthesizes a single SSE chunk followed by [DONE].
func (co *Coordinator) runFakeStream(c *gin.Context, requestID string, desc link.Descriptor, openaiShaped bool, model string) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	flusher, _ := c.Writer.(http.Flusher)

	keepAlive := time.NewTicker(constants.KeepAliveInterval)
	defer keepAlive.Stop()

	resultCh := make(chan fakeAttemptResult, 1)
	go co.attemptFakeStream(c.Request.Context(), requestID, desc, co.cfg.MaxRetries, resultCh)

	var result fakeAttemptResult
loop:
	for {
		select {
		case result = <-resultCh:
			break loop
		case <-keepAlive.C:
			c.Writer.Write([]byte(": keep-alive\n\n"))
			if flusher != nil {
				flusher.Flush()
			}
		case <-c.Request.Context().Done():
			co.link.Cancel(requestID)
			co.finishRequest(context.Background(), requestID, apperrors.UserAbort(), "fake", 0)
			return
		}
	}

	if result.err != nil {
		co.handleFailure(result.apiErr)
		writeSSEError(c.Writer, flusher, result.apiErr, openaiShaped)
		writeSSEDone(c.Writer, flusher)
		co.finishRequest(c.Request.Context(), requestID, result.err, "fake", result.apiErr.HTTPStatus)
		return
	}

	c.Writer.Write([]byte("data: "))
	c.Writer.Write(result.body)
	c.Writer.Write([]byte("\n\n"))
	writeSSEDone(c.Writer, flusher)
	if flusher != nil {
		flusher.Flush()
	}

	co.rotation.RecordSuccess()
	co.finishRequest(c.Request.Context(), requestID, nil, "fake", http.StatusOK)
}

type fakeAttemptResult struct {
	body   []byte
	status int
	apiErr *apperrors.APIError
	err    error
}

// attemptFakeStream runs the retry loop: up to maxRetries attempts,
// retryDelay apart, each awaiting the first frame with a 300s timeout.
// An Error frame is logged and retried; anything else breaks the loop.
func (co *Coordinator) attemptFakeStream(ctx context.Context, requestID string, desc link.Descriptor, maxRetries int, out chan<- fakeAttemptResult) {
	var lastErr error
	var lastAPIErr *apperrors.APIError

	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		q := co.link.OpenQueue(requestID)
		if err := co.link.Send(desc); err != nil {
			lastErr = err
			lastAPIErr = apperrors.New(http.StatusServiceUnavailable, "link_unavailable", "server_error", err.Error()).WithKind(apperrors.KindLinkLost)
			co.link.CloseQueue(requestID, err)
			if attempt < attempts-1 {
				time.Sleep(co.retryDelay())
			}
			continue
		}

		header, err := firstFrame(ctx, q)
		if err != nil {
			lastErr = err
			lastAPIErr = apperrors.Timeout("first frame")
			co.link.CloseQueue(requestID, err)
			if attempt < attempts-1 {
				time.Sleep(co.retryDelay())
			}
			continue
		}

		if header.Kind == queue.KindError {
			log.WithError(header.Err).Warn("coordinator: fake-stream attempt failed, retrying")
			lastErr = header.Err
			lastAPIErr = classifyAgentError(header.Status, header.Err)
			co.link.CloseQueue(requestID, header.Err)
			if isAbortSentinel(errString(header.Err)) {
				break
			}
			if attempt < attempts-1 {
				time.Sleep(co.retryDelay())
			}
			continue
		}

		status := header.Status

		chunk, err := q.Dequeue(ctx, constants.BodyAccumulationTimeout)
		co.link.CloseQueue(requestID, nil)
		if err != nil {
			lastErr = err
			lastAPIErr = apperrors.Timeout("response body")
			if attempt < attempts-1 {
				time.Sleep(co.retryDelay())
			}
			continue
		}
		if chunk.Kind == queue.KindError {
			lastErr = chunk.Err
			lastAPIErr = classifyAgentError(chunk.Status, chunk.Err)
			if attempt < attempts-1 {
				time.Sleep(co.retryDelay())
			}
			continue
		}

		out <- fakeAttemptResult{body: chunk.Data, status: status}
		return
	}

	out <- fakeAttemptResult{apiErr: lastAPIErr, err: lastErr}
}

func (co *Coordinator) retryDelay() time.Duration {
	if co.cfg.RetryDelay > 0 {
		return co.cfg.RetryDelay
	}
	return constants.DefaultRetryDelay
}

// classifyAgentError turns a KindError frame into an APIError, preferring
// the upstream status the agent actually observed (status) and falling
// back to 502 only when the agent never got a real response.
func classifyAgentError(status int, err error) *apperrors.APIError {
	if err == nil {
		return apperrors.New(http.StatusBadGateway, "upstream_error", "server_error", "unknown upstream error")
	}
	if isAbortSentinel(err.Error()) {
		return apperrors.UserAbort()
	}
	if status <= 0 {
		status = http.StatusBadGateway
	}
	return apperrors.MapUpstreamStatus(status, err.Error())
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func writeSSEError(w http.ResponseWriter, flusher http.Flusher, apiErr *apperrors.APIError, openaiShaped bool) {
	format := apperrors.FormatGemini
	if openaiShaped {
		format = apperrors.FormatOpenAI
	}
	payload, err := apiErr.ToJSON(format)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(payload)
	w.Write([]byte("\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}

func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	w.Write([]byte("data: [DONE]\n\n"))
	if flusher != nil {
		flusher.Flush()
	}
}
