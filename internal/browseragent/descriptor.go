package browseragent

import (
	"encoding/json"

	"genai-relay/internal/link"
)

// inboundMessage is either a request descriptor or a cancellation; the
// two share one JSON envelope on the wire, distinguished by the
// presence of event_type. It embeds link.Descriptor directly so the
// field set can never drift from what the gateway actually sends.
type inboundMessage struct {
	link.Descriptor
	EventType string `json:"event_type"`
}

func parseInbound(data []byte) (inboundMessage, error) {
	var msg inboundMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}

func (m inboundMessage) isCancel() bool {
	return m.EventType == "cancel_request"
}
