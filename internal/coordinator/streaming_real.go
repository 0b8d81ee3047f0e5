package coordinator

import (
	"bytes"
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"genai-relay/internal/constants"
	apperrors "genai-relay/internal/errors"
	"genai-relay/internal/link"
	"genai-relay/internal/queue"
	"genai-relay/internal/translator"
)

var finishReasonPattern = regexp.MustCompile(`"finishReason"\s*:\s*"([^"]+)"`)

// runRealStream forwards the descriptor and relays frames to the client
// as they arrive, setting SSE headers and discarding the upstream's own
// Content-Length/Content-Type. On the OpenAI surface, each complete SSE
// event is translated to a chat.completion.chunk before being written;
// on the native surface, bytes are relayed unchanged.
func (co *Coordinator) runRealStream(c *gin.Context, requestID string, desc link.Descriptor, openaiShaped bool, model string) {
	q := co.link.OpenQueue(requestID)
	if err := co.link.Send(desc); err != nil {
		apiErr := apperrors.New(http.StatusServiceUnavailable, "link_unavailable", "server_error", err.Error()).WithKind(apperrors.KindLinkLost)
		co.handleFailure(apiErr)
		writeJSONError(c, apiErr, openaiShaped)
		co.finishRequest(c.Request.Context(), requestID, err, "real", apiErr.HTTPStatus)
		return
	}

	header, err := firstFrame(c.Request.Context(), q)
	if err != nil {
		apiErr := apperrors.Timeout("first frame")
		co.handleFailure(apiErr)
		writeJSONError(c, apiErr, openaiShaped)
		co.finishRequest(c.Request.Context(), requestID, err, "real", apiErr.HTTPStatus)
		return
	}
	if header.Kind == queue.KindError {
		apiErr := classifyAgentError(header.Status, header.Err)
		co.handleFailure(apiErr)
		writeJSONError(c, apiErr, openaiShaped)
		co.finishRequest(c.Request.Context(), requestID, header.Err, "real", apiErr.HTTPStatus)
		return
	}

	c.Status(header.Status)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	flusher, _ := c.Writer.(http.Flusher)

	var lastFinishReason string
	var pending bytes.Buffer
	first := true

	emit := func(data []byte) {
		if !openaiShaped {
			c.Writer.Write(data)
			if flusher != nil {
				flusher.Flush()
			}
			return
		}

		pending.Write(data)
		for {
			event, rest, found := bytes.Cut(pending.Bytes(), []byte("\n\n"))
			if !found {
				break
			}
			remaining := append([]byte(nil), rest...)
			pending.Reset()
			pending.Write(remaining)

			chunk, err := translator.TranslateStreamLine(model, event, first)
			if err != nil {
				log.WithError(err).Warn("coordinator: failed to translate streaming chunk, dropping")
				continue
			}
			if !chunk.Emit {
				continue
			}
			first = false
			c.Writer.Write([]byte("data: "))
			c.Writer.Write(chunk.JSON)
			c.Writer.Write([]byte("\n\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}

	for {
		frame, err := q.Dequeue(c.Request.Context(), constants.StreamChunkTimeout)
		if err != nil {
			if c.Request.Context().Err() != nil {
				co.link.Cancel(requestID)
				co.finishRequest(context.Background(), requestID, apperrors.UserAbort(), "real", header.Status)
				return
			}
			log.WithField("last_finish_reason", lastFinishReason).Warn("coordinator: real-stream chunk wait timed out, treating as clean end")
			break
		}

		switch frame.Kind {
		case queue.KindChunk:
			if m := finishReasonPattern.FindSubmatch(frame.Data); m != nil {
				lastFinishReason = string(m[1])
			}
			emit(frame.Data)
		case queue.KindStreamEnd:
			if openaiShaped {
				c.Writer.Write([]byte("data: [DONE]\n\n"))
				if flusher != nil {
					flusher.Flush()
				}
			}
			co.rotation.RecordSuccess()
			co.finishRequest(c.Request.Context(), requestID, nil, "real", header.Status)
			return
		case queue.KindError:
			apiErr := classifyAgentError(frame.Status, frame.Err)
			co.handleFailure(apiErr)
			co.finishRequest(c.Request.Context(), requestID, frame.Err, "real", apiErr.HTTPStatus)
			return
		}
	}

	if openaiShaped {
		c.Writer.Write([]byte("data: [DONE]\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}
	co.rotation.RecordSuccess()
	co.finishRequest(c.Request.Context(), requestID, nil, "real", header.Status)
}

func writeJSONError(c *gin.Context, apiErr *apperrors.APIError, openaiShaped bool) {
	format := apperrors.FormatGemini
	if openaiShaped {
		format = apperrors.FormatOpenAI
	}
	payload, err := apiErr.ToJSON(format)
	if err != nil {
		c.AbortWithStatusJSON(apiErr.HTTPStatus, gin.H{"error": gin.H{"message": apiErr.Message}})
		return
	}
	c.Data(apiErr.HTTPStatus, "application/json", payload)
}
