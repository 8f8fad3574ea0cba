package model

import (
	"fmt"
	"strings"
	"time"
)

// ProvisionalPrefix marks client-assigned temporary message ids. A message
// carrying such an id has not been durably written yet.
const ProvisionalPrefix = "tmp-"

type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	Content        string          `json:"content"`
	CreatedAt      time.Time       `json:"created_at"`
	Read           bool            `json:"read"`
	Provisional    bool            `json:"provisional,omitempty"`
	Listing        *ListingSummary `json:"listing,omitempty"`
}

// ListingSummary is the optional listing reference attached to a message.
type ListingSummary struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"price_cents"`
	ImageURL   string `json:"image_url,omitempty"`
}

type ParticipantSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type Conversation struct {
	ID             string             `json:"id"`
	ParticipantA   string             `json:"participant_a"`
	ParticipantB   string             `json:"participant_b"`
	LastMessage    *Message           `json:"last_message,omitempty"`
	UnreadCount    int                `json:"unread_count"`
	LastActivityAt time.Time          `json:"last_activity_at"`
	Counterpart    ParticipantSummary `json:"counterpart"`
}

// IsProvisionalID reports whether id is a client-assigned temporary id.
func IsProvisionalID(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// DirectConversationID builds the canonical id for a 1:1 conversation.
// Participant ids are sorted so both sides derive the same id.
func DirectConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%s:%s", a, b)
}

// Participants parses a direct conversation id back into its two user ids.
func Participants(conversationID string) (string, string, bool) {
	parts := strings.Split(conversationID, ":")
	if len(parts) != 3 || parts[0] != "dm" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// CounterpartID returns the other participant of a direct conversation, or ""
// if selfID is not a participant.
func CounterpartID(conversationID, selfID string) string {
	a, b, ok := Participants(conversationID)
	if !ok {
		return ""
	}
	switch selfID {
	case a:
		return b
	case b:
		return a
	}
	return ""
}
