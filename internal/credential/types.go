// Package credential discovers and pre-validates credential blobs from
// either environment variables or the auth/ directory, exposing the
// ordered index list the rotation controller steps through.
package credential

import "encoding/json"

// Credential is one immutable credential descriptor. The Blob is opaque to
// the gateway core; only the browser agent (or, in this package, the
// optional accountName field) interprets it.
type Credential struct {
	Index       int
	Blob        json.RawMessage
	DisplayName string
	Source      string // "env:<N>" or the backing file path
}

// accountNameCarrier extracts the optional top-level accountName field,
// the one part of the credential blob the gateway core is allowed to read.
type accountNameCarrier struct {
	AccountName string `json:"accountName"`
}
