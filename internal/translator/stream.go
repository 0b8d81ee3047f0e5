package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// StreamChunk is one translated OpenAI SSE chunk, or the signal that no
// chunk should be emitted for this input line: emitted only if delta is
// non-empty or finishReason is present.
type StreamChunk struct {
	JSON    []byte
	Emit    bool
	Blocked bool // promptFeedback.blockReason fired; caller may want to stop the stream
}

// TranslateStreamLine converts one Gemini streaming SSE data line (a
// leading "data: " is stripped here if present) into an OpenAI
// chat.completion.chunk.
func TranslateStreamLine(model string, line []byte, first bool) (StreamChunk, error) {
	line = bytes.TrimPrefix(line, []byte("data: "))
	line = bytes.TrimSpace(line)
	if len(line) == 0 || bytes.Equal(line, []byte("[DONE]")) {
		return StreamChunk{}, nil
	}

	result := gjson.ParseBytes(line)

	if blockReason := result.Get("promptFeedback.blockReason"); blockReason.Exists() {
		chunk := buildChunk(model, map[string]interface{}{
			"content": fmt.Sprintf("[blocked: %s]", blockReason.String()),
		}, "stop", first)
		data, err := json.Marshal(chunk)
		return StreamChunk{JSON: data, Emit: true, Blocked: true}, err
	}

	candidate := result.Get("candidates.0")
	if !candidate.Exists() {
		return StreamChunk{}, nil
	}

	delta := map[string]interface{}{}
	for _, part := range candidate.Get("content.parts").Array() {
		if thought := part.Get("thought"); thought.Bool() {
			appendString(delta, "reasoning_content", part.Get("text").String())
			continue
		}
		if inline := part.Get("inlineData"); inline.Exists() {
			appendString(delta, "content", markdownImage(inline.Get("mimeType").String(), inline.Get("data").String()))
			continue
		}
		if text := part.Get("text"); text.Exists() {
			appendString(delta, "content", text.String())
		}
	}

	var finishReason interface{}
	if fr := candidate.Get("finishReason"); fr.Exists() {
		finishReason = fr.String()
	}

	if len(delta) == 0 && finishReason == nil {
		return StreamChunk{}, nil
	}

	chunk := buildChunkWithFinish(model, delta, finishReason, first)
	data, err := json.Marshal(chunk)
	return StreamChunk{JSON: data, Emit: true}, err
}

func appendString(delta map[string]interface{}, key, value string) {
	if existing, ok := delta[key].(string); ok {
		delta[key] = existing + value
		return
	}
	delta[key] = value
}

func buildChunk(model string, delta map[string]interface{}, finishReason interface{}, first bool) map[string]interface{} {
	return buildChunkWithFinish(model, withRole(delta, first), finishReason, first)
}

func buildChunkWithFinish(model string, delta map[string]interface{}, finishReason interface{}, first bool) map[string]interface{} {
	delta = withRole(delta, first)
	return map[string]interface{}{
		"id":      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"delta":         delta,
				"finish_reason": finishReason,
			},
		},
	}
}

func withRole(delta map[string]interface{}, first bool) map[string]interface{} {
	if first {
		delta["role"] = "assistant"
	}
	return delta
}
