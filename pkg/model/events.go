package model

// FrameType tags websocket frames exchanged with the gateway and the payloads
// carried on the message topic.
type FrameType string

const (
	// FrameSubscribed is the gateway's acknowledgement that the client is
	// registered on a conversation. It is always the first frame sent.
	FrameSubscribed FrameType = "subscribed"
	FrameMessage    FrameType = "message"
	FramePresence   FrameType = "presence"
)

type Frame struct {
	Type           FrameType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Message        *Message  `json:"message,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	Content        string    `json:"content,omitempty"`
}

// EventKind distinguishes change-feed notifications.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
)

// ChangeEvent is the envelope published on a user's change-feed channel for
// every message addressed to that user.
type ChangeEvent struct {
	Kind    EventKind `json:"kind"`
	Message Message   `json:"message"`
}

// UserEventChannel names the redis pub/sub channel carrying a user's
// change-feed events.
func UserEventChannel(userID string) string {
	return "user:" + userID + ":events"
}
