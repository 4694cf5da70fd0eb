// File: internal/cdp/frame.go
package cdp

import (
	jsoniter "github.com/json-iterator/go"
)

// json is the codec used for all wire framing.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// frame is one JSON-RPC 2.0 message on the DevTools socket. Outbound
// frames populate ID/Method/Params/SessionID; inbound frames are a
// response iff ID > 0, otherwise a notification.
type frame struct {
	ID        int64               `json:"id,omitempty"`
	Method    string              `json:"method,omitempty"`
	Params    jsoniter.RawMessage `json:"params,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	Result    jsoniter.RawMessage `json:"result,omitempty"`
	Error     *wireError          `json:"error,omitempty"`
}

// wireError is the protocol-level error object inside a response.
type wireError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Notification is a CDP event as it arrived on the wire. SessionID is
// empty for browser-wide events.
type Notification struct {
	Method    string
	Params    jsoniter.RawMessage
	SessionID string
}

// decodeFrame parses a single WebSocket text frame. A frame that is not
// valid JSON is rejected; a frame that decodes but is neither a response
// nor a notification is returned as is, and the read loop drops it.
func decodeFrame(data []byte) (*frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
