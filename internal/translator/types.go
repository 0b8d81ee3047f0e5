// Package translator implements the OpenAI Chat Completions <-> Google
// Generative Language request, response, streaming-chunk, and
// model-list translations. Bodies are read and rewritten with gjson
// rather than fully modeled request/response structs, since most of
// the shape is optional or provider-specific and a full struct model
// would fight the dynamic JSON on both sides.
package translator

// safetyCategories are the four categories always attached to a
// translated request, each set to threshold BLOCK_NONE.
var safetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}
