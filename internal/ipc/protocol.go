// Package ipc provides the control channel between the autokeyd daemon and
// client tools such as autokeyctl.
//
// Messages are a fixed 16-byte binary header followed by a JSON payload.
// Requests carry an ID the response echoes, so one connection can have
// several requests in flight and still receive streamed events.
package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Protocol version for compatibility checking
const (
	ProtocolVersion = 1
	ProtocolMagic   = 0x414B4559 // "AKEY"
)

// MaxPayload bounds a single message body.
const MaxPayload = 4 * 1024 * 1024

// MessageType identifies the type of IPC message
type MessageType uint16

const (
	// Control messages (0x00xx)
	MsgPing         MessageType = 0x0001
	MsgPong         MessageType = 0x0002
	MsgHandshake    MessageType = 0x0003
	MsgHandshakeAck MessageType = 0x0004
	MsgError        MessageType = 0x0005
	MsgOK           MessageType = 0x0006

	// Service state (0x01xx)
	MsgStatusRequest  MessageType = 0x0100
	MsgStatusResponse MessageType = 0x0101
	MsgPause          MessageType = 0x0102
	MsgUnpause        MessageType = 0x0103
	MsgToggle         MessageType = 0x0104
	MsgServiceState   MessageType = 0x0105

	// Running items (0x02xx)
	MsgRunPhrase MessageType = 0x0200
	MsgRunScript MessageType = 0x0201
	MsgRunFolder MessageType = 0x0202
	MsgRunResult MessageType = 0x0203

	// Script errors (0x03xx)
	MsgErrorsRequest  MessageType = 0x0300
	MsgErrorsResponse MessageType = 0x0301

	// Configuration (0x04xx)
	MsgReload     MessageType = 0x0400
	MsgReloadResp MessageType = 0x0401

	// Event streaming (0x05xx)
	MsgSubscribe     MessageType = 0x0500
	MsgSubscribeResp MessageType = 0x0501
	MsgUnsubscribe   MessageType = 0x0502
	MsgEvent         MessageType = 0x0504
)

// EventType identifies the type of streamed event
type EventType uint16

const (
	EventServiceState  EventType = 0x0001
	EventScriptError   EventType = 0x0002
	EventConfigChanged EventType = 0x0003
	EventTreeReloaded  EventType = 0x0004
	EventShutdown      EventType = 0x0005
)

// AllEvents lists every event type, the default subscription.
var AllEvents = []EventType{EventServiceState, EventScriptError, EventConfigChanged, EventTreeReloaded, EventShutdown}

// Header is the fixed-size message header (16 bytes)
type Header struct {
	Magic     uint32      // Protocol magic number
	Version   uint8       // Protocol version
	Flags     uint8       // Message flags
	Type      MessageType // Message type
	RequestID uint32      // Request ID for correlation
	Length    uint32      // Payload length (not including header)
}

// HeaderSize is the size of the header in bytes
const HeaderSize = 16

// Header flags
const (
	FlagJSON uint8 = 0x04
)

// Message wraps a header and payload
type Message struct {
	Header  Header
	Payload []byte
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType MessageType, requestID uint32, payload []byte) *Message {
	return &Message{
		Header: Header{
			Magic:     ProtocolMagic,
			Version:   ProtocolVersion,
			Flags:     FlagJSON,
			Type:      msgType,
			RequestID: requestID,
			Length:    uint32(len(payload)),
		},
		Payload: payload,
	}
}

// ReadHeader reads a header from a reader
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}

	h := &Header{
		Magic:     binary.BigEndian.Uint32(buf[0:4]),
		Version:   buf[4],
		Flags:     buf[5],
		Type:      MessageType(binary.BigEndian.Uint16(buf[6:8])),
		RequestID: binary.BigEndian.Uint32(buf[8:12]),
		Length:    binary.BigEndian.Uint32(buf[12:16]),
	}

	if h.Magic != ProtocolMagic {
		return nil, fmt.Errorf("invalid magic number: %x", h.Magic)
	}
	if h.Version > ProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", h.Version)
	}

	return h, nil
}

// Write writes the message to a writer in one call so concurrent writers
// holding the connection lock never interleave.
func (m *Message) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize, HeaderSize+len(m.Payload))
	binary.BigEndian.PutUint32(buf[0:4], m.Header.Magic)
	buf[4] = m.Header.Version
	buf[5] = m.Header.Flags
	binary.BigEndian.PutUint16(buf[6:8], uint16(m.Header.Type))
	binary.BigEndian.PutUint32(buf[8:12], m.Header.RequestID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(m.Payload)))
	buf = append(buf, m.Payload...)
	_, err := w.Write(buf)
	return err
}

// ReadMessage reads a complete message from a reader
func ReadMessage(r io.Reader) (*Message, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	m := &Message{Header: *h}
	if h.Length > 0 {
		if h.Length > MaxPayload {
			return nil, fmt.Errorf("payload too large: %d bytes", h.Length)
		}
		m.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Request/Response payloads

// HandshakeRequest is sent by the client to initiate connection
type HandshakeRequest struct {
	ClientVersion   string `json:"client_version"`
	ClientName      string `json:"client_name"`
	ProtocolVersion uint8  `json:"protocol_version"`
}

// HandshakeResponse is sent by the server to acknowledge connection
type HandshakeResponse struct {
	ServerVersion   string `json:"server_version"`
	ProtocolVersion uint8  `json:"protocol_version"`
	ClientID        string `json:"client_id"`
}

// ErrorResponse is sent when an operation fails
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrUnknown          = 1
	ErrInvalidRequest   = 2
	ErrNotFound         = 3
	ErrPermissionDenied = 4
	ErrInternalError    = 5
	ErrNotRunning       = 6
	ErrScriptFailed     = 7
)

// RemoteError is an ErrorResponse surfaced to client code.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// StatusResponse contains daemon status
type StatusResponse struct {
	Version       string        `json:"version"`
	PID           int           `json:"pid"`
	StartedAt     time.Time     `json:"started_at"`
	Uptime        time.Duration `json:"uptime"`
	Running       bool          `json:"running"`
	Monitoring    bool          `json:"monitoring"`
	MonitorError  string        `json:"monitor_error,omitempty"`
	Interface     string        `json:"interface"`
	ItemsDir      string        `json:"items_dir"`
	Folders       int           `json:"folders"`
	Items         int           `json:"items"`
	Abbreviations int           `json:"abbreviations"`
	Hotkeys       int           `json:"hotkeys"`
	ScriptErrors  int           `json:"script_errors"`
	CharsSaved    int64         `json:"chars_saved"`
	Clients       int           `json:"clients"`
}

// ServiceStateResponse reports whether monitoring is on after a state change.
type ServiceStateResponse struct {
	Running bool `json:"running"`
}

// RunRequest names an item to run. Args apply to scripts only.
type RunRequest struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// RunResponse is the outcome of a run request.
type RunResponse struct {
	Result string `json:"result,omitempty"`
}

// ErrorsRequest lists, and optionally clears, remembered script errors.
type ErrorsRequest struct {
	Clear bool `json:"clear,omitempty"`
}

// ScriptErrorInfo is one remembered script failure.
type ScriptErrorInfo struct {
	Script    string    `json:"script"`
	Message   string    `json:"message"`
	Traceback string    `json:"traceback,omitempty"`
	StartedAt time.Time `json:"started_at"`
	FailedAt  time.Time `json:"failed_at"`
}

// ErrorsResponse lists script errors, oldest first.
type ErrorsResponse struct {
	Errors []ScriptErrorInfo `json:"errors"`
}

// ReloadResponse reports the outcome of re-reading configuration and items.
type ReloadResponse struct {
	ConfigDiff string   `json:"config_diff,omitempty"`
	Folders    int      `json:"folders"`
	Items      int      `json:"items"`
	Warnings   []string `json:"warnings,omitempty"`
}

// SubscribeRequest requests event subscription
type SubscribeRequest struct {
	Events []EventType `json:"events"` // Empty means all events
}

// SubscribeResponse acknowledges subscription
type SubscribeResponse struct {
	SubscriptionID string `json:"subscription_id"`
}

// Event is a streamed event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Encode encodes a payload to JSON bytes
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// Decode decodes JSON bytes to a payload. An empty payload leaves v alone.
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(requestID uint32, code int, message string) *Message {
	payload, _ := Encode(&ErrorResponse{
		Code:    code,
		Message: message,
	})
	return NewMessage(MsgError, requestID, payload)
}

// NewResponse creates a response message
func NewResponse(msgType MessageType, requestID uint32, v any) (*Message, error) {
	payload, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return NewMessage(msgType, requestID, payload), nil
}
