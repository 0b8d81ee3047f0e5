package translator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// TranslateNonStreamResponse accumulates a buffered Google response into
// a single OpenAI chat.completion object.
func TranslateNonStreamResponse(model string, body []byte) ([]byte, error) {
	result := gjson.ParseBytes(body)

	var messageContent, reasoningContent string
	var hasReasoning bool
	var finishReasonValue interface{}

	if candidate := result.Get("candidates.0"); candidate.Exists() {
		for _, part := range candidate.Get("content.parts").Array() {
			if thought := part.Get("thought"); thought.Bool() {
				reasoningContent += part.Get("text").String()
				hasReasoning = true
				continue
			}
			if inline := part.Get("inlineData"); inline.Exists() {
				messageContent += markdownImage(inline.Get("mimeType").String(), inline.Get("data").String())
				continue
			}
			messageContent += part.Get("text").String()
		}
		if fr := candidate.Get("finishReason"); fr.Exists() {
			finishReasonValue = fr.String()
		}
	}

	message := map[string]interface{}{
		"role":    "assistant",
		"content": messageContent,
	}
	if hasReasoning {
		message["reasoning_content"] = reasoningContent
	} else {
		message["reasoning_content"] = nil
	}

	out := map[string]interface{}{
		"id":      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       message,
				"finish_reason": finishReasonValue,
			},
		},
	}
	return json.Marshal(out)
}

// markdownImage renders the image-inlining replacement text both the
// non-streaming normalizer and the OpenAI response translator use.
func markdownImage(mimeType, data string) string {
	return fmt.Sprintf("![Generated Image](data:%s;base64,%s)", mimeType, data)
}

// NormalizeImageInlining replaces any candidates[0].content.parts[i].inlineData
// in place with a Markdown image text part. Returns the original bytes
// unchanged if no inline image was found.
func NormalizeImageInlining(body []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return body, err
	}

	candidates, ok := doc["candidates"].([]interface{})
	if !ok || len(candidates) == 0 {
		return body, nil
	}
	candidate, ok := candidates[0].(map[string]interface{})
	if !ok {
		return body, nil
	}
	content, ok := candidate["content"].(map[string]interface{})
	if !ok {
		return body, nil
	}
	parts, ok := content["parts"].([]interface{})
	if !ok {
		return body, nil
	}

	replaced := false
	for i, p := range parts {
		part, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		inline, ok := part["inlineData"].(map[string]interface{})
		if !ok {
			continue
		}
		mimeType, _ := inline["mimeType"].(string)
		data, _ := inline["data"].(string)
		parts[i] = map[string]interface{}{"text": markdownImage(mimeType, data)}
		replaced = true
	}

	if !replaced {
		return body, nil
	}
	content["parts"] = parts
	return json.Marshal(doc)
}
