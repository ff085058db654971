// internal/models/event.go
package models

import "encoding/json"

// Inbound push event names pushed by the notification service.
const (
	EventNewApplication     = "newApplication"
	EventApplicationUpdated = "applicationUpdated"
	EventNewMessage         = "newMessage"
	EventUserTyping         = "userTyping"
	EventUserStoppedTyping  = "userStoppedTyping"
)

// Outbound emission names.
const (
	EmitJoin        = "join"
	EmitSendMessage = "sendMessage"
)

// Envelope is the wire shape of every channel message, both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinPayload associates the connection with a user's event stream.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// ApplicationEvent wraps application entities carried by newApplication
// and applicationUpdated events.
type ApplicationEvent struct {
	Application *Application `json:"application"`
}

// ChatMessage is the payload of a sendMessage emission.
type ChatMessage struct {
	SenderID       string   `json:"senderId"`
	ReceiverID     string   `json:"receiverId"`
	Message        string   `json:"message"`
	ConversationID string   `json:"conversationId"`
	MessageType    string   `json:"messageType,omitempty"`
	VoiceData      string   `json:"voiceData,omitempty"`
	VoiceDuration  int      `json:"voiceDuration,omitempty"`
	Files          []string `json:"files,omitempty"`
}
