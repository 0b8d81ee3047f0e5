package translator

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// RequestOptions controls optional request-shaping left to operator
// configuration rather than the wire body.
type RequestOptions struct {
	ReasoningEnabled bool
}

// TranslateRequest converts an OpenAI chat-completions body into a
// Google generateContent body.
func TranslateRequest(body []byte, opts RequestOptions) ([]byte, error) {
	messages := gjson.GetBytes(body, "messages")

	var systemParts []interface{}
	var contents []map[string]interface{}
	var systemText strings.Builder

	for _, msg := range messages.Array() {
		role := msg.Get("role").String()
		content := msg.Get("content")

		switch role {
		case "system":
			if systemText.Len() > 0 {
				systemText.WriteString("\n")
			}
			systemText.WriteString(content.String())
		case "assistant", "user":
			geminiRole := "user"
			if role == "assistant" {
				geminiRole = "model"
			}
			contents = append(contents, map[string]interface{}{
				"role":  geminiRole,
				"parts": convertContent(content),
			})
		}
	}

	if systemText.Len() > 0 {
		systemParts = []interface{}{map[string]interface{}{"text": systemText.String()}}
	}

	out := map[string]interface{}{
		"contents": contents,
	}
	if systemParts != nil {
		out["systemInstruction"] = map[string]interface{}{"parts": systemParts}
	}

	generationConfig := map[string]interface{}{}
	if v := gjson.GetBytes(body, "temperature"); v.Exists() {
		generationConfig["temperature"] = v.Value()
	}
	if v := gjson.GetBytes(body, "top_p"); v.Exists() {
		generationConfig["topP"] = v.Value()
	}
	if v := gjson.GetBytes(body, "top_k"); v.Exists() {
		generationConfig["topK"] = v.Value()
	}
	if v := gjson.GetBytes(body, "max_tokens"); v.Exists() {
		generationConfig["maxOutputTokens"] = v.Value()
	}
	if v := gjson.GetBytes(body, "stop"); v.Exists() {
		generationConfig["stopSequences"] = v.Value()
	}
	if opts.ReasoningEnabled {
		generationConfig["thinkingConfig"] = map[string]interface{}{"includeThoughts": true}
	}
	if len(generationConfig) > 0 {
		out["generationConfig"] = generationConfig
	}

	var safetySettings []map[string]interface{}
	for _, category := range safetyCategories {
		safetySettings = append(safetySettings, map[string]interface{}{
			"category":  category,
			"threshold": "BLOCK_NONE",
		})
	}
	out["safetySettings"] = safetySettings

	return json.Marshal(out)
}

// convertContent converts an OpenAI message content field (string or
// array of typed parts) into a Gemini parts array.
func convertContent(content gjson.Result) []interface{} {
	if !content.IsArray() {
		return []interface{}{map[string]interface{}{"text": content.String()}}
	}

	var parts []interface{}
	for _, part := range content.Array() {
		parts = append(parts, convertContentPart(part))
	}
	return parts
}

func convertContentPart(part gjson.Result) interface{} {
	switch part.Get("type").String() {
	case "image_url":
		url := part.Get("image_url.url").String()
		if strings.HasPrefix(url, "data:") {
			if idx := strings.Index(url, ","); idx >= 0 {
				header := url[:idx]
				data := url[idx+1:]
				mimeType := "image/jpeg"
				if semiIdx := strings.Index(header, ";"); semiIdx > len("data:") {
					mimeType = header[len("data:"):semiIdx]
				}
				return map[string]interface{}{
					"inlineData": map[string]interface{}{
						"mimeType": mimeType,
						"data":     data,
					},
				}
			}
		}
		return map[string]interface{}{"text": url}
	default: // "text" and anything unrecognized
		return map[string]interface{}{"text": part.Get("text").String()}
	}
}
