package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chat-sync/pkg/auth"
	"github.com/mahaj/chat-sync/pkg/db"
	"github.com/mahaj/chat-sync/pkg/model"
	"github.com/mahaj/chat-sync/pkg/snowflake"
)

// MessagesHandler serves POST /messages (durable write) and GET /messages
// (full ordered history for one conversation).
type MessagesHandler struct {
	db       *db.Session
	producer *kafka.Writer
	ids      *snowflake.Node
}

func NewMessagesHandler(session *db.Session, producer *kafka.Writer, ids *snowflake.Node) *MessagesHandler {
	return &MessagesHandler{db: session, producer: producer, ids: ids}
}

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.history(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type CreateMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

func (h *MessagesHandler) create(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}

	a, b, okConv := model.Participants(req.ConversationID)
	if !okConv {
		http.Error(w, "Invalid conversation id", http.StatusBadRequest)
		return
	}
	if a != claims.UserID && b != claims.UserID {
		http.Error(w, "Not a participant of this conversation", http.StatusForbidden)
		return
	}
	recipient := model.CounterpartID(req.ConversationID, claims.UserID)

	id := h.ids.Generate()
	msg := model.Message{
		ID:             strconv.FormatInt(id, 10),
		ConversationID: req.ConversationID,
		SenderID:       claims.UserID,
		Content:        req.Content,
		CreatedAt:      time.Now().UTC(),
	}

	// Reverse lookup for the batched mark-read endpoint, written eagerly so
	// an acknowledgement arriving ahead of the consumer can still resolve
	// the id. A miss here is retried by the ack path.
	if err := h.db.Query(
		`INSERT INTO message_index (id, conversation_id, sender_id, recipient_id) VALUES (?, ?, ?, ?)`,
		id, msg.ConversationID, msg.SenderID, recipient,
	).Exec(); err != nil {
		log.Printf("Failed to index message %d: %v", id, err)
	}

	// The acknowledged publish is the durable write: the messaging service
	// persists the row and maintains counters and the change feed, the
	// gateway fans it out to open sockets. A failed publish fails the
	// request so the sender can roll back.
	frame, err := json.Marshal(model.Frame{
		Type:           model.FrameMessage,
		ConversationID: msg.ConversationID,
		Message:        &msg,
	})
	if err == nil {
		err = h.producer.WriteMessages(context.Background(), kafka.Message{
			Value: frame,
			Time:  time.Now(),
		})
	}
	if err != nil {
		log.Printf("Failed to publish message %d: %v", id, err)
		http.Error(w, "Failed to save message", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

func (h *MessagesHandler) history(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	a, b, okConv := model.Participants(conversationID)
	if !okConv {
		http.Error(w, "Invalid conversation id", http.StatusBadRequest)
		return
	}
	if a != claims.UserID && b != claims.UserID {
		http.Error(w, "Not a participant of this conversation", http.StatusForbidden)
		return
	}

	messages := []model.Message{}
	iter := h.db.Query(
		`SELECT conversation_id, id, sender_id, content, created_at, read FROM messages WHERE conversation_id = ? ORDER BY id ASC`,
		conversationID,
	).Iter()

	var id int64
	var convID, senderID, content string
	var createdAt time.Time
	var read bool

	for iter.Scan(&convID, &id, &senderID, &content, &createdAt, &read) {
		messages = append(messages, model.Message{
			ID:             strconv.FormatInt(id, 10),
			ConversationID: convID,
			SenderID:       senderID,
			Content:        content,
			CreatedAt:      createdAt,
			Read:           read,
		})
	}

	if err := iter.Close(); err != nil {
		log.Printf("Failed to iterate messages: %v", err)
		http.Error(w, "Failed to retrieve history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}
