package browseragent

import "strings"

// deniedHeaders mirrors the fetch()-forbidden/connection-specific header
// set a real browser would refuse to let a page override; the agent
// strips the same set from the descriptor's captured headers before
// dialing the upstream so the outbound request looks like it left a
// normal browser tab rather than this proxy.
var deniedHeaders = map[string]bool{
	"host":           true,
	"connection":     true,
	"content-length": true,
	"origin":         true,
	"referer":        true,
	"user-agent":     true,
}

func isDeniedHeader(name string) bool {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if deniedHeaders[normalized] {
		return true
	}
	return strings.HasPrefix(normalized, "sec-fetch-")
}

// sanitizeHeaders returns a copy of headers with the denied set removed.
func sanitizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if isDeniedHeader(k) {
			continue
		}
		out[k] = v
	}
	return out
}
