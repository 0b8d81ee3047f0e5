package browseragent

import (
	"strings"

	"github.com/tidwall/sjson"
)

// rewriteForFakeMode applies the fake-stream path/query rewrite: the
// coordinator asked for a synthesized stream, so the agent actually
// issues the non-streaming call and fabricates the SSE framing itself
// on the gateway side.
func rewriteForFakeMode(path string, query map[string]string) (string, map[string]string) {
	path = strings.Replace(path, ":streamGenerateContent", ":generateContent", 1)
	if query == nil {
		return path, query
	}
	out := make(map[string]string, len(query))
	for k, v := range query {
		if strings.EqualFold(k, "alt") && strings.EqualFold(v, "sse") {
			continue
		}
		out[k] = v
	}
	return path, out
}

// isImageGenerationPath reports whether path references an image-capable
// model, the one case where tool- and thinking-related fields must be
// stripped from the outbound body.
func isImageGenerationPath(path string) bool {
	lower := strings.ToLower(path)
	return strings.Contains(lower, "-image-") || strings.Contains(lower, "imagen")
}

var imageFieldsToStrip = []string{
	"tool_config",
	"toolChoice",
	"tools",
	"generationConfig.thinkingConfig",
}

// filterBodyForImageModel strips fields the image-generation family of
// models rejects. Fields absent from body are left untouched; sjson's
// Delete is a no-op when the path does not exist.
func filterBodyForImageModel(path string, body []byte) []byte {
	if !isImageGenerationPath(path) || len(body) == 0 {
		return body
	}
	out := body
	for _, field := range imageFieldsToStrip {
		if stripped, err := sjson.DeleteBytes(out, field); err == nil {
			out = stripped
		}
	}
	return out
}
