package browseragent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"genai-relay/internal/constants"
	apperrors "genai-relay/internal/errors"
)

const readBufferSize = 8 * 1024

// errIdleTimeout is returned when no response arrives within
// constants.AgentFetchIdleTimeout of dispatch.
var errIdleTimeout = errors.New("idle timeout waiting for first byte")

// handleDescriptor runs the full attempt/resume loop for one request
// id and reports the outcome back over the control channel.
func (a *Agent) handleDescriptor(ctx context.Context, msg inboundMessage) {
	desc := msg.Descriptor
	path, query := desc.Path, desc.QueryParams
	if desc.StreamingMode == "fake" {
		path, query = rewriteForFakeMode(path, query)
	}
	body := filterBodyForImageModel(path, []byte(desc.Body))

	limit := desc.ResumeLimit
	if limit <= 0 {
		limit = a.cfg.DefaultResumeLimit
	}

	headersSent := false
	accumulated := ""
	resumesUsed := 0

	for {
		resp, cancelAttempt, err := a.attemptWithRetry(ctx, desc.Method, path, query, desc.Headers, body)
		if err != nil {
			status, message := classifyFetchError(ctx, err)
			if werr := a.writer.errorFrame(desc.RequestID, status, message); werr != nil {
				log.WithError(werr).Debug("browseragent: failed to deliver error frame")
			}
			return
		}

		if !headersSent {
			if werr := a.writer.responseHeaders(desc.RequestID, resp.StatusCode, resp.Header); werr != nil {
				log.WithError(werr).Debug("browseragent: failed to deliver response_headers frame")
				resp.Body.Close()
				cancelAttempt()
				return
			}
			headersSent = true
		}

		truncated, nextAccumulated := a.relayBody(ctx, desc.RequestID, desc.StreamingMode, resp.Body, accumulated)
		resp.Body.Close()
		cancelAttempt()
		accumulated = nextAccumulated

		canResume := truncated && desc.StreamingMode == "real" && desc.ResumeOnProhibit && resumesUsed < limit
		if !canResume {
			if werr := a.writer.streamClose(desc.RequestID); werr != nil {
				log.WithError(werr).Debug("browseragent: failed to deliver stream_close frame")
			}
			return
		}

		resumesUsed++
		body = appendResumeTurn([]byte(desc.Body), accumulated)
	}
}

// attemptWithRetry runs the inner network/5xx retry loop. A 4xx
// response is returned immediately without retrying. The returned
// cancel func must be called once the caller is done reading resp.Body.
func (a *Agent) attemptWithRetry(ctx context.Context, method, path string, query, headers map[string]string, body []byte) (*http.Response, context.CancelFunc, error) {
	var lastErr error
	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}

		resp, cancel, err := a.doAttempt(ctx, method, path, query, headers, body)
		if err == nil && resp.StatusCode < 500 {
			return resp, cancel, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("upstream status %d", resp.StatusCode)
			resp.Body.Close()
			cancel()
		} else {
			lastErr = err
		}

		if attempt == a.cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-time.After(constants.AgentRetryDelay):
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	return nil, nil, lastErr
}

// doAttempt issues one outbound HTTPS call. The idle timeout only
// bounds the wait for the first byte of the response: once Do returns
// successfully the caller owns the returned cancel func and decides
// when the attempt's context ends, so a slow-but-live stream is never
// cut short by this timer.
func (a *Agent) doAttempt(ctx context.Context, method, path string, query, headers map[string]string, body []byte) (*http.Response, context.CancelFunc, error) {
	req, err := http.NewRequest(method, a.cfg.UpstreamBase+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	if len(query) > 0 {
		q := url.Values{}
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	for k, v := range sanitizeHeaders(headers) {
		req.Header.Set(k, v)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	req = req.WithContext(attemptCtx)

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := a.client.Do(req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			cancel()
			return nil, nil, r.err
		}
		return r.resp, cancel, nil
	case <-time.After(constants.AgentFetchIdleTimeout):
		cancel()
		return nil, nil, errIdleTimeout
	case <-ctx.Done():
		cancel()
		return nil, nil, ctx.Err()
	}
}

// relayBody streams resp.Body to the gateway as Chunk frames. For
// real-streaming requests it also scans SSE data lines for the
// accumulated assistant text and a prohibited-content finish reason;
// the chunk carrying that finish reason is swallowed rather than
// forwarded, and truncated is reported so the caller can resume.
func (a *Agent) relayBody(ctx context.Context, requestID, streamingMode string, body io.Reader, accumulated string) (truncated bool, nextAccumulated string) {
	nextAccumulated = accumulated
	buf := make([]byte, readBufferSize)
	var pending bytes.Buffer

	for {
		if ctx.Err() != nil {
			return false, nextAccumulated
		}
		n, err := body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if streamingMode == "real" {
				pending.Write(chunk)
				for {
					line, rest, found := bytes.Cut(pending.Bytes(), []byte("\n"))
					if !found {
						break
					}
					remaining := append([]byte(nil), rest...)
					pending.Reset()
					pending.Write(remaining)

					text, finishReason, ok := extractSSEText(string(line))
					if ok {
						nextAccumulated += text
						if isProhibitedFinish(finishReason) {
							return true, nextAccumulated
						}
					}
				}
			}
			if werr := a.writer.chunk(requestID, string(chunk)); werr != nil {
				log.WithError(werr).Debug("browseragent: failed to deliver chunk frame")
				return false, nextAccumulated
			}
		}
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Debug("browseragent: upstream body read ended with error")
			}
			return false, nextAccumulated
		}
	}
}

// classifyFetchError maps a failed attempt to the (status, message)
// pair carried on the Error frame. A context cancellation caused by a
// client-side cancel_request is reported with the abort sentinel so
// the gateway never charges it to failureCount.
func classifyFetchError(ctx context.Context, err error) (int, string) {
	if ctx.Err() != nil {
		return 0, apperrors.UserAbortSentinel
	}
	if errors.Is(err, context.Canceled) {
		return 0, apperrors.UserAbortSentinel
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, errIdleTimeout) {
		return 504, "upstream request timed out"
	}
	return 0, err.Error()
}
