package browseragent

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// outboundFrame is the agent→gateway wire shape; it must stay in sync
// with the inbound frame link.Link.route parses on the gateway side.
type outboundFrame struct {
	RequestID string              `json:"request_id"`
	EventType string              `json:"event_type"`
	Status    int                 `json:"status,omitempty"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Data      string              `json:"data,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// frameWriter serializes writes onto the single control connection so
// concurrently handled requests never interleave partial frames.
type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newFrameWriter(conn *websocket.Conn) *frameWriter {
	return &frameWriter{conn: conn}
}

func (w *frameWriter) write(frame outboundFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *frameWriter) responseHeaders(requestID string, status int, headers map[string][]string) error {
	return w.write(outboundFrame{RequestID: requestID, EventType: "response_headers", Status: status, Headers: headers})
}

func (w *frameWriter) chunk(requestID string, data string) error {
	return w.write(outboundFrame{RequestID: requestID, EventType: "chunk", Data: data})
}

func (w *frameWriter) streamClose(requestID string) error {
	return w.write(outboundFrame{RequestID: requestID, EventType: "stream_close"})
}

func (w *frameWriter) errorFrame(requestID string, status int, message string) error {
	return w.write(outboundFrame{RequestID: requestID, EventType: "error", Status: status, Message: message})
}
