package browseragent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
)

// sessionState is this package's interpretation of the opaque
// credential blob the gateway core never reads itself: a storage-state
// snapshot captured from a real logged-in browser tab, restricted to
// the cookies needed to reproduce that origin's authenticated fetch.
type sessionState struct {
	AccountName string       `json:"accountName"`
	Cookies     []cookieState `json:"cookies"`
}

type cookieState struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
}

// NewSessionJar parses a credential blob and returns a cookie jar
// seeded with its captured session, standing in for the browser's own
// cookie store for every outbound request this agent makes.
func NewSessionJar(blob json.RawMessage) (http.CookieJar, error) {
	var state sessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("browseragent: invalid credential blob: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	byOrigin := make(map[string][]*http.Cookie)
	for _, c := range state.Cookies {
		if c.Domain == "" || c.Name == "" {
			continue
		}
		origin := (&url.URL{Scheme: "https", Host: c.Domain, Path: "/"}).String()
		path := c.Path
		if path == "" {
			path = "/"
		}
		byOrigin[origin] = append(byOrigin[origin], &http.Cookie{Name: c.Name, Value: c.Value, Path: path})
	}

	for origin, cookies := range byOrigin {
		u, err := url.Parse(origin)
		if err != nil {
			continue
		}
		jar.SetCookies(u, cookies)
	}

	return jar, nil
}
