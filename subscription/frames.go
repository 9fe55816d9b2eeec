package subscription

import "encoding/json"

// Frame types of the websocket sub-protocol. Client to server:
// connection_init, start, stop. Server to client: data (type may be absent),
// ka (keepalive, dropped silently), error and complete (both terminal).
const (
	msgConnectionInit = "connection_init"
	msgConnectionAck  = "connection_ack"
	msgStart          = "start"
	msgStop           = "stop"
	msgKeepAlive      = "ka"
	msgData           = "data"
	msgError          = "error"
	msgComplete       = "complete"
)

// subProtocol is the WebSocket sub-protocol negotiated on the handshake.
const subProtocol = "graphql-ws"

// frame is one JSON message on the wire, in either direction.
type frame struct {
	Type    string          `json:"type,omitempty"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// isData reports whether a server frame carries a data payload for a
// session. Data frames arrive with type "data" or with no type at all.
func (f frame) isData() bool {
	return f.Type == "" || f.Type == msgData
}

// startPayload is the payload of a session-start frame. It is retained
// verbatim on the session so a reconnect can resubmit it unchanged.
type startPayload struct {
	Headers   map[string]string `json:"headers,omitempty"`
	Query     string            `json:"query"`
	Variables map[string]any    `json:"variables,omitempty"`
}

// newStartFrame builds a start frame for a session id.
func newStartFrame(id string, payload startPayload) (frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return frame{}, err
	}
	return frame{Type: msgStart, ID: id, Payload: raw}, nil
}

// newConnectionInitFrame builds the connection-level handshake frame. The
// authorization value travels inside the payload rather than as an HTTP
// header.
func newConnectionInitFrame(authorization string, headers map[string]string) (frame, error) {
	payload := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		payload[k] = v
	}
	payload["Authorization"] = authorization

	raw, err := json.Marshal(payload)
	if err != nil {
		return frame{}, err
	}
	return frame{Type: msgConnectionInit, Payload: raw}, nil
}
