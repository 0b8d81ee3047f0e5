// Package browseragent implements the client side of the control
// channel: the process that stands in for the in-browser script,
// dialing the gateway's single control connection and executing the
// outbound HTTPS calls using a credential's stored session cookies.
//
// Driving an actual browser tab (launching the binary, navigating to
// the chat SPA, injecting this logic as a content script) is outside
// this package; Agent is the behavioral contract that code would
// satisfy, runnable standalone against the real upstream over
// net/http with a cookie jar standing in for the browser's storage
// state.
package browseragent

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Config holds the agent's tunables, mirroring the constants the
// gateway itself uses for the same protocol (see internal/constants).
type Config struct {
	UpstreamBase      string
	MaxAttempts       int
	DefaultResumeLimit int
}

// Agent owns one control-channel connection and dispatches concurrent
// goroutines, one per in-flight request id, each performing its own
// attempt/resume loop against the upstream.
type Agent struct {
	cfg    Config
	conn   *websocket.Conn
	writer *frameWriter
	client *http.Client

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an Agent bound to conn, issuing outbound requests through
// httpClient (expected to carry a cookie jar seeded from the bound
// credential's session state).
func New(conn *websocket.Conn, httpClient *http.Client, cfg Config) *Agent {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.DefaultResumeLimit <= 0 {
		cfg.DefaultResumeLimit = 3
	}
	return &Agent{
		cfg:     cfg,
		conn:    conn,
		writer:  newFrameWriter(conn),
		client:  httpClient,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run reads control-channel messages until the connection closes or
// ctx is cancelled, dispatching one goroutine per request descriptor.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := a.conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := parseInbound(data)
		if err != nil {
			log.WithError(err).Warn("browseragent: malformed control-channel message, dropping")
			continue
		}
		if msg.isCancel() {
			a.cancel(msg.RequestID)
			continue
		}
		reqCtx, cancel := context.WithCancel(ctx)
		a.registerCancel(msg.RequestID, cancel)
		go func() {
			defer a.clearCancel(msg.RequestID)
			defer cancel()
			a.handleDescriptor(reqCtx, msg)
		}()
	}
}

func (a *Agent) registerCancel(requestID string, cancel context.CancelFunc) {
	a.mu.Lock()
	a.cancels[requestID] = cancel
	a.mu.Unlock()
}

func (a *Agent) clearCancel(requestID string) {
	a.mu.Lock()
	delete(a.cancels, requestID)
	a.mu.Unlock()
}

func (a *Agent) cancel(requestID string) {
	a.mu.Lock()
	cancel, ok := a.cancels[requestID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
}
