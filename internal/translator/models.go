package translator

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// TranslateModelList converts a Google ListModels response into the
// OpenAI /v1/models list shape.
func TranslateModelList(body []byte) ([]byte, error) {
	models := gjson.GetBytes(body, "models")

	var data []map[string]interface{}
	for _, m := range models.Array() {
		name := strings.TrimPrefix(m.Get("name").String(), "models/")
		data = append(data, map[string]interface{}{
			"id":       name,
			"object":   "model",
			"owned_by": "google",
		})
	}

	out := map[string]interface{}{
		"object": "list",
		"data":   data,
	}
	return json.Marshal(out)
}
