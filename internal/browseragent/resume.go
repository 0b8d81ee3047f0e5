package browseragent

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// prohibitedFinishReasons are the finish reasons that trigger the
// context-concatenation auto-resume loop.
var prohibitedFinishReasons = map[string]bool{
	"PROHIBITED_CONTENT": true,
	"SAFETY":             true,
}

// extractSSEText pulls the text parts and finish reason, if any, out of
// one "data: {...}" line. ok is false for lines that are not a data
// line or do not parse as JSON (e.g. blank keep-alive lines).
func extractSSEText(line string) (text string, finishReason string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", "", false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "" || payload == "[DONE]" {
		return "", "", false
	}
	if !gjson.Valid(payload) {
		return "", "", false
	}
	parts := gjson.Get(payload, "candidates.0.content.parts")
	var b strings.Builder
	if parts.IsArray() {
		for _, p := range parts.Array() {
			if t := p.Get("text"); t.Exists() {
				b.WriteString(t.String())
			}
		}
	}
	finishReason = gjson.Get(payload, "candidates.0.finishReason").String()
	return b.String(), finishReason, true
}

// isProhibitedFinish reports whether finishReason should trigger resume.
func isProhibitedFinish(finishReason string) bool {
	return prohibitedFinishReasons[finishReason]
}

// appendResumeTurn appends accumulated assistant text as a new model
// turn onto the original request body's contents array, or concatenates
// it onto a trailing model turn if one is already last.
func appendResumeTurn(body []byte, accumulated string) []byte {
	if accumulated == "" {
		return body
	}
	contents := gjson.GetBytes(body, "contents")
	n := 0
	if contents.IsArray() {
		n = len(contents.Array())
	}
	if n > 0 {
		last := contents.Array()[n-1]
		if last.Get("role").String() == "model" {
			existing := ""
			if parts := last.Get("parts"); parts.IsArray() && len(parts.Array()) > 0 {
				existing = parts.Array()[0].Get("text").String()
			}
			merged := existing + accumulated
			path := "contents." + strconv.Itoa(n-1) + ".parts.0.text"
			if out, err := sjson.SetBytes(body, path, merged); err == nil {
				return out
			}
			return body
		}
	}
	turn := map[string]any{
		"role":  "model",
		"parts": []map[string]any{{"text": accumulated}},
	}
	if out, err := sjson.SetBytes(body, "contents.-1", turn); err == nil {
		return out
	}
	return body
}
