package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"chatwire/internal/types"
)

// Client to server events.
const (
	EventClientMessage    = "client_message"
	EventStop             = "stop"
	EventClearSession     = "clear_session"
	EventFileUpload       = "file_upload"
	EventCallAction       = "call_action"
	EventOpenSharedThread = "open_shared_thread"
	EventAudioChunk       = "audio_chunk"
	EventWindowMessage    = "window_message"
)

// Server to client events.
const (
	EventNewMessage       = "new_message"
	EventUpdateMessage    = "update_message"
	EventStreamStart      = "stream_start"
	EventStreamToken      = "stream_token"
	EventElement          = "element"
	EventRemoveElement    = "remove_element"
	EventTaskStart        = "task_start"
	EventTaskEnd          = "task_end"
	EventTokenUsage       = "token_usage"
	EventFirstInteraction = "first_interaction"
	EventResumeThread     = "resume_thread"
	EventSessionError     = "session_error"
	EventActionResponse   = "action_response"
	EventClearAsk         = "clear_ask"
	EventMessageID        = "message_id"
)

// Pseudo events raised by the client transport itself.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Query parameters carried on the websocket handshake.
const (
	QuerySessionID  = "sessionId"
	QueryThreadID   = "threadId"
	QueryClientType = "clientType"
)

// Envelope is one websocket frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes payload into an envelope. A nil payload leaves Data empty.
func NewEnvelope(event string, payload any) (Envelope, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return Envelope{}, fmt.Errorf("event is required")
	}
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		env.Data = raw
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// Decode unmarshals the envelope data into out.
func (e Envelope) Decode(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Event, err)
	}
	return nil
}

// ClientMessage carries a user turn.
type ClientMessage struct {
	Message  types.Step `json:"message"`
	FileRefs []FileRef  `json:"fileReferences,omitempty"`
}

// FileRef points at a file previously sent with file_upload.
type FileRef struct {
	ID string `json:"id"`
}

// StreamStart opens a streaming step.
type StreamStart = types.Step

// StreamToken appends (or, when IsSequence is set, replaces) step output.
type StreamToken struct {
	ID         string `json:"id"`
	Token      string `json:"token"`
	IsSequence bool   `json:"isSequence,omitempty"`
	IsInput    bool   `json:"isInput,omitempty"`
}

// RemoveElement deletes an element.
type RemoveElement struct {
	ID string `json:"id"`
}

// TokenUsage reports the running token count for the session.
type TokenUsage struct {
	Count int `json:"count"`
}

// FirstInteraction marks the first user turn of a thread.
type FirstInteraction struct {
	Interaction string `json:"interaction"`
	ThreadID    string `json:"thread_id"`
}

// SessionError is raised when the server rejects the session or a resume.
type SessionError struct {
	Message string `json:"message"`
}

// FileUpload is the socket payload of one uploaded file.
type FileUpload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// CallAction asks the server to run an action callback.
type CallAction struct {
	Action types.Action `json:"action"`
}

// ActionResponse answers call_action.
type ActionResponse struct {
	ID       string `json:"id"`
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
}

// OpenSharedThread asks the server to replay a shared thread.
type OpenSharedThread struct {
	ThreadID string `json:"threadId"`
}

// MessageID reassigns the id of an optimistically created step once the
// server has persisted it.
type MessageID struct {
	OldID string `json:"oldId"`
	NewID string `json:"newId"`
}
