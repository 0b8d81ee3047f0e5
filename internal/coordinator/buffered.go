package coordinator

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"

	"genai-relay/internal/constants"
	apperrors "genai-relay/internal/errors"
	"genai-relay/internal/link"
	"genai-relay/internal/queue"
	"genai-relay/internal/translator"
)

// runBuffered is the non-streaming mode: accumulate chunks until
// StreamEnd, apply image-inlining normalization to the assembled body,
// and write one JSON response at the upstream status.
func (co *Coordinator) runBuffered(c *gin.Context, requestID string, desc link.Descriptor, openaiShaped bool, model string) {
	q := co.link.OpenQueue(requestID)
	if err := co.link.Send(desc); err != nil {
		apiErr := apperrors.New(http.StatusServiceUnavailable, "link_unavailable", "server_error", err.Error()).WithKind(apperrors.KindLinkLost)
		co.handleFailure(apiErr)
		writeJSONError(c, apiErr, openaiShaped)
		co.finishRequest(c.Request.Context(), requestID, err, "buffered", apiErr.HTTPStatus)
		return
	}

	header, err := firstFrame(c.Request.Context(), q)
	if err != nil {
		apiErr := apperrors.Timeout("first frame")
		co.handleFailure(apiErr)
		writeJSONError(c, apiErr, openaiShaped)
		co.finishRequest(c.Request.Context(), requestID, err, "buffered", apiErr.HTTPStatus)
		return
	}
	if header.Kind == queue.KindError {
		apiErr := classifyAgentError(header.Status, header.Err)
		co.handleFailure(apiErr)
		writeJSONError(c, apiErr, openaiShaped)
		co.finishRequest(c.Request.Context(), requestID, header.Err, "buffered", apiErr.HTTPStatus)
		return
	}

	var body bytes.Buffer
	for {
		frame, err := q.Dequeue(c.Request.Context(), constants.BodyAccumulationTimeout)
		if err != nil {
			apiErr := apperrors.Timeout("response body")
			co.handleFailure(apiErr)
			writeJSONError(c, apiErr, openaiShaped)
			co.finishRequest(c.Request.Context(), requestID, err, "buffered", apiErr.HTTPStatus)
			return
		}
		switch frame.Kind {
		case queue.KindChunk:
			body.Write(frame.Data)
		case queue.KindStreamEnd:
			goto assembled
		case queue.KindError:
			apiErr := classifyAgentError(frame.Status, frame.Err)
			co.handleFailure(apiErr)
			writeJSONError(c, apiErr, openaiShaped)
			co.finishRequest(c.Request.Context(), requestID, frame.Err, "buffered", apiErr.HTTPStatus)
			return
		}
	}

assembled:
	normalized, err := translator.NormalizeImageInlining(body.Bytes())
	if err != nil {
		normalized = body.Bytes()
	}

	if openaiShaped {
		normalized, err = translator.TranslateNonStreamResponse(model, normalized)
		if err != nil {
			apiErr := apperrors.AdapterError("failed to translate upstream response")
			writeJSONError(c, apiErr, openaiShaped)
			co.finishRequest(c.Request.Context(), requestID, err, "buffered", apiErr.HTTPStatus)
			return
		}
	}

	c.Data(header.Status, "application/json", normalized)
	co.rotation.RecordSuccess()
	co.finishRequest(c.Request.Context(), requestID, nil, "buffered", header.Status)
}
