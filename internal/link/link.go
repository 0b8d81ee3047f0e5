// Package link implements the bridge between the single in-browser
// agent's control-channel connection and the many in-flight request
// queues that are waiting on it.
package link

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"genai-relay/internal/queue"
)

// ErrNoConnection is returned by Send when no agent connection is live.
var ErrNoConnection = errors.New("no live agent connection")

// ErrLinkLost is the cause queues are closed with when the reconnect
// grace window expires.
var ErrLinkLost = errors.New("link lost")

// Descriptor is the gateway→agent request frame.
type Descriptor struct {
	RequestID        string              `json:"request_id"`
	Path             string              `json:"path"`
	Method           string              `json:"method"`
	Headers          map[string]string   `json:"headers"`
	QueryParams      map[string]string   `json:"query_params"`
	Body             json.RawMessage     `json:"body,omitempty"`
	StreamingMode    string              `json:"streaming_mode"`
	IsGenerative     bool                `json:"is_generative,omitempty"`
	ClientWantsStream bool               `json:"client_wants_stream,omitempty"`
	ResumeOnProhibit bool                `json:"resume_on_prohibit,omitempty"`
	ResumeLimit      int                 `json:"resume_limit,omitempty"`
}

// cancelFrame is the gateway→agent cancellation frame.
type cancelFrame struct {
	EventType string `json:"event_type"`
	RequestID string `json:"request_id"`
}

// inboundFrame is the agent→gateway frame shape; fields are union-typed
// per event_type the same way queue.Frame is.
type inboundFrame struct {
	RequestID string              `json:"request_id"`
	EventType string              `json:"event_type"`
	Status    int                 `json:"status"`
	Headers   map[string][]string `json:"headers"`
	Data      string              `json:"data"`
	Message   string              `json:"message"`
}

// ConnectionListener is notified of connect/lost transitions ("lost"
// fires once the reconnect grace expires). cmd/server registers
// listeners that publish an events topic and update the link-connected
// gauge.
type ConnectionListener func()

// Link owns the single live agent connection and the registry of
// per-request queues it routes frames into.
type Link struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	graceTimer *time.Timer
	grace    time.Duration

	queues *queue.Registry

	onLost []ConnectionListener
	onAdd  []ConnectionListener
}

// New creates a Link with the given reconnect grace window and an
// empty queue registry.
func New(grace time.Duration, queues *queue.Registry) *Link {
	return &Link{grace: grace, queues: queues}
}

// OnConnectionLost registers a listener invoked when the grace timer
// expires without a reconnect.
func (l *Link) OnConnectionLost(fn ConnectionListener) {
	l.mu.Lock()
	l.onLost = append(l.onLost, fn)
	l.mu.Unlock()
}

// OnConnectionAdded registers a listener invoked on every accept.
func (l *Link) OnConnectionAdded(fn ConnectionListener) {
	l.mu.Lock()
	l.onAdd = append(l.onAdd, fn)
	l.mu.Unlock()
}

// Accept registers a newly dialed-in agent connection, cancelling any
// pending reconnect-grace timer, and starts the read loop that routes
// inbound frames to their request queues.
func (l *Link) Accept(conn *websocket.Conn) {
	l.mu.Lock()
	if l.graceTimer != nil {
		l.graceTimer.Stop()
		l.graceTimer = nil
	}
	if l.conn != nil {
		_ = l.conn.Close()
	}
	l.conn = conn
	listeners := append([]ConnectionListener(nil), l.onAdd...)
	l.mu.Unlock()

	log.Info("link: agent connection accepted")
	for _, fn := range listeners {
		fn()
	}

	go l.readLoop(conn)
}

// HasLiveConnection reports whether an agent connection is currently
// attached (as opposed to in the reconnect grace window or fully lost).
func (l *Link) HasLiveConnection() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil
}

// Send serializes frame onto the live connection. Concurrent callers
// are serialized by mu so writes never interleave partial frames.
func (l *Link) Send(frame Descriptor) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return ErrNoConnection
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != conn {
		return ErrNoConnection
	}
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

// Cancel sends a cancel_request frame for requestID, ignored if no
// connection is live (cancellation is best-effort and idempotent).
func (l *Link) Cancel(requestID string) {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn == nil {
		return
	}
	data, err := json.Marshal(cancelFrame{EventType: "cancel_request", RequestID: requestID})
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != conn {
		return
	}
	_ = l.conn.WriteMessage(websocket.TextMessage, data)
}

// OpenQueue opens and registers a new per-request queue.
func (l *Link) OpenQueue(requestID string) *queue.Queue {
	return l.queues.Open(requestID, 4)
}

// CloseQueue closes and drops requestID's queue.
func (l *Link) CloseQueue(requestID string, cause error) {
	l.queues.CloseAndRemove(requestID, cause)
}

func (l *Link) readLoop(conn *websocket.Conn) {
	defer l.handleDisconnect(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.WithError(err).Debug("link: agent read loop ended")
			return
		}
		l.route(data)
	}
}

func (l *Link) route(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.WithError(err).Warn("link: malformed inbound frame, dropping")
		return
	}

	q, ok := l.queues.Get(frame.RequestID)
	if !ok {
		log.WithField("request_id", frame.RequestID).Warn("link: frame for unknown request id, dropping")
		return
	}

	switch frame.EventType {
	case "response_headers":
		l.deliver(q, queue.ResponseHeadersFrame(frame.Status, frame.Headers))
	case "chunk":
		l.deliver(q, queue.ChunkFrame([]byte(frame.Data)))
	case "stream_close":
		l.deliver(q, queue.StreamEndFrame())
	case "error":
		l.deliver(q, queue.ErrorFrame(frame.Status, errors.New(frame.Message)))
	default:
		log.WithField("event_type", frame.EventType).Warn("link: unknown event_type, dropping")
	}
}

// deliver enqueues with a short timeout; a full queue means the
// consumer vanished (e.g. request already failed), so dropping rather
// than blocking the shared read loop is correct here.
func (l *Link) deliver(q *queue.Queue, frame queue.Frame) {
	if err := q.Enqueue(context.Background(), frame, 2*time.Second); err != nil {
		log.WithError(err).Debug("link: dropped frame, consumer queue not accepting")
	}
}

func (l *Link) handleDisconnect(conn *websocket.Conn) {
	l.mu.Lock()
	if l.conn != conn {
		l.mu.Unlock()
		return
	}
	l.conn = nil
	timer := time.AfterFunc(l.grace, l.onGraceExpired)
	l.graceTimer = timer
	l.mu.Unlock()

	log.Warn("link: agent disconnected, reconnect grace timer armed")
}

func (l *Link) onGraceExpired() {
	l.mu.Lock()
	if l.conn != nil {
		l.mu.Unlock()
		return
	}
	l.graceTimer = nil
	listeners := append([]ConnectionListener(nil), l.onLost...)
	l.mu.Unlock()

	log.Warn("link: reconnect grace expired, closing all in-flight queues")
	l.queues.CloseAll(ErrLinkLost)
	for _, fn := range listeners {
		fn()
	}
}
