package coordinator

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"genai-relay/internal/constants"
	apperrors "genai-relay/internal/errors"
	"genai-relay/internal/queue"
	"genai-relay/internal/translator"
)

// ServeGoogleNative handles arbitrary Google-native passthrough paths:
// the body is forwarded unmodified (optional thought-config injection
// lives in the translator for the OpenAI surface only; the native
// surface is passed through as-is).
func (co *Coordinator) ServeGoogleNative(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeJSONError(c, apperrors.AdapterError("failed to read request body"), false)
		return
	}

	path := c.Request.URL.Path
	co.serve(c, path, body, false, isGenerativePath(path), nil)
}

// ServeOpenAIChat handles POST /v1/chat/completions: translate the
// request, rewrite the path to the Google generateContent/streamGenerateContent
// endpoint for the requested model, and drive the same response state
// machine, translating frames back on the way out.
func (co *Coordinator) ServeOpenAIChat(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeJSONError(c, apperrors.AdapterError("failed to read request body"), true)
		return
	}

	model := gjson.GetBytes(raw, "model").String()
	if model == "" {
		writeJSONError(c, apperrors.AdapterError("request body is missing \"model\""), true)
		return
	}
	bodyWantsStream := gjson.GetBytes(raw, "stream").Bool()

	translated, err := translator.TranslateRequest(raw, translator.RequestOptions{ReasoningEnabled: co.cfg.ReasoningEnabled})
	if err != nil {
		writeJSONError(c, apperrors.AdapterError("failed to translate request body: "+err.Error()), true)
		return
	}

	streaming := wantsStreaming(c, c.Request.URL.Path, bodyWantsStream)
	action := "generateContent"
	if streaming {
		action = "streamGenerateContent"
	}
	path := "/v1beta/models/" + model + ":" + action

	co.serve(c, path, translated, true, true, &model)
}

// ServeOpenAIModelList handles GET /v1/models: fetch the Google model
// list in buffered mode and translate it to the OpenAI list shape.
func (co *Coordinator) ServeOpenAIModelList(c *gin.Context) {
	requestID := requestIDFrom(c)

	gate := co.enterGate(c.Request.Context(), false)
	if !gate.accepted {
		writeJSONError(c, gate.apiErr, true)
		return
	}

	desc := buildDescriptor(requestID, "/v1beta/models", http.MethodGet, headerMap(c), queryMap(c), nil, "", false, false, false, 0)

	q := co.link.OpenQueue(requestID)
	if err := co.link.Send(desc); err != nil {
		apiErr := apperrors.New(http.StatusServiceUnavailable, "link_unavailable", "server_error", err.Error()).WithKind(apperrors.KindLinkLost)
		co.handleFailure(apiErr)
		writeJSONError(c, apiErr, true)
		co.finishRequest(c.Request.Context(), requestID, err, "model_list", apiErr.HTTPStatus)
		return
	}

	header, err := firstFrame(c.Request.Context(), q)
	if err != nil || header.Kind == queue.KindError {
		apiErr := apperrors.Timeout("model list")
		co.handleFailure(apiErr)
		writeJSONError(c, apiErr, true)
		co.finishRequest(c.Request.Context(), requestID, err, "model_list", apiErr.HTTPStatus)
		return
	}

	var body []byte
	for {
		frame, err := q.Dequeue(c.Request.Context(), constants.BodyAccumulationTimeout)
		if err != nil {
			apiErr := apperrors.Timeout("model list body")
			writeJSONError(c, apiErr, true)
			co.finishRequest(c.Request.Context(), requestID, err, "model_list", apiErr.HTTPStatus)
			return
		}
		if frame.Kind == queue.KindStreamEnd {
			break
		}
		if frame.Kind == queue.KindError {
			apiErr := classifyAgentError(frame.Status, frame.Err)
			writeJSONError(c, apiErr, true)
			co.finishRequest(c.Request.Context(), requestID, frame.Err, "model_list", apiErr.HTTPStatus)
			return
		}
		body = append(body, frame.Data...)
	}

	translated, err := translator.TranslateModelList(body)
	if err != nil {
		apiErr := apperrors.AdapterError("failed to translate model list")
		writeJSONError(c, apiErr, true)
		co.finishRequest(c.Request.Context(), requestID, err, "model_list", apiErr.HTTPStatus)
		return
	}

	c.Data(header.Status, "application/json", translated)
	co.rotation.RecordSuccess()
	co.finishRequest(c.Request.Context(), requestID, nil, "model_list", header.Status)
}

// serve runs the common entry gate, builds the descriptor, and hands
// off to the response-mode handler that wantsStreaming/resolveStreamingMode
// select. openaiModel is non-nil only for the OpenAI chat surface, where
// the model name is needed to shape the non-streaming response.
func (co *Coordinator) serve(c *gin.Context, path string, body []byte, openaiShaped, isGenerative bool, openaiModel *string) {
	requestID := requestIDFrom(c)

	gate := co.enterGate(c.Request.Context(), isGenerative)
	if !gate.accepted {
		writeJSONError(c, gate.apiErr, openaiShaped)
		return
	}

	bodyWantsStream := false
	if openaiShaped {
		bodyWantsStream = strings.HasSuffix(path, ":streamGenerateContent")
	}
	streaming := wantsStreaming(c, path, bodyWantsStream)
	mode := ""
	if streaming {
		mode = co.resolveStreamingMode(strings.HasSuffix(path, ":streamGenerateContent"))
	}

	desc := buildDescriptor(
		requestID, path, c.Request.Method,
		headerMap(c), queryMap(c), body,
		mode, isGenerative, streaming,
		co.cfg.ResumeOnProhibit, co.cfg.ResumeLimit,
	)

	model := path
	if openaiModel != nil {
		model = *openaiModel
	}

	switch {
	case streaming && mode == "real":
		co.runRealStream(c, requestID, desc, openaiShaped, model)
	case streaming:
		co.runFakeStream(c, requestID, desc, openaiShaped, model)
	default:
		co.runBuffered(c, requestID, desc, openaiShaped, model)
	}
}

func isGenerativePath(path string) bool {
	return strings.Contains(path, "generateContent")
}

func headerMap(c *gin.Context) map[string]string {
	out := make(map[string]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func queryMap(c *gin.Context) map[string]string {
	out := make(map[string]string, len(c.Request.URL.Query()))
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
