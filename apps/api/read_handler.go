package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/chat-sync/pkg/auth"
	"github.com/mahaj/chat-sync/pkg/db"
	"github.com/mahaj/chat-sync/pkg/model"
)

type ReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// ReadHandler marks a batch of messages read. The operation is idempotent:
// re-marking a read message is harmless, so clients retry freely. Each
// successfully marked message is echoed on the reader's change feed as an
// update event.
func ReadHandler(session *db.Session, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req ReadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if len(req.MessageIDs) == 0 {
			w.WriteHeader(http.StatusOK)
			return
		}

		for _, rawID := range req.MessageIDs {
			id, err := strconv.ParseInt(rawID, 10, 64)
			if err != nil {
				http.Error(w, "Invalid message id: "+rawID, http.StatusBadRequest)
				return
			}

			var conversationID, senderID, recipientID string
			if err := session.Query(
				`SELECT conversation_id, sender_id, recipient_id FROM message_index WHERE id = ?`,
				id,
			).Scan(&conversationID, &senderID, &recipientID); err != nil {
				// The index row is written by the ingest path; a miss here is
				// a not-yet-indexed message and the client's retry covers it.
				log.Printf("mark read: message %d not indexed yet: %v", id, err)
				http.Error(w, "Message not found", http.StatusNotFound)
				return
			}
			if recipientID != claims.UserID {
				http.Error(w, "Not the recipient of message "+rawID, http.StatusForbidden)
				return
			}

			var content string
			var createdAt time.Time
			var wasRead bool
			if err := session.Query(
				`SELECT content, created_at, read FROM messages WHERE conversation_id = ? AND id = ?`,
				conversationID, id,
			).Scan(&content, &createdAt, &wasRead); err != nil {
				log.Printf("mark read: load message %d: %v", id, err)
				http.Error(w, "Message not found", http.StatusNotFound)
				return
			}

			if err := session.Query(
				`UPDATE messages SET read = true WHERE conversation_id = ? AND id = ?`,
				conversationID, id,
			).Exec(); err != nil {
				http.Error(w, "Failed to mark message read", http.StatusInternalServerError)
				return
			}

			// Counter settles only on the first transition to read;
			// re-delivered acknowledgements must not double-decrement.
			if !wasRead {
				if err := session.Query(
					`UPDATE conversation_counters SET unread_count = unread_count - 1 WHERE user_id = ? AND conversation_id = ?`,
					claims.UserID, conversationID,
				).Exec(); err != nil {
					log.Printf("mark read: decrement counter for %s/%s: %v", claims.UserID, conversationID, err)
				}
			}

			publishUpdate(rdb, recipientID, model.Message{
				ID:             rawID,
				ConversationID: conversationID,
				SenderID:       senderID,
				Content:        content,
				CreatedAt:      createdAt,
				Read:           true,
			})
		}

		w.WriteHeader(http.StatusOK)
	}
}

func publishUpdate(rdb *redis.Client, userID string, msg model.Message) {
	payload, err := json.Marshal(model.ChangeEvent{Kind: model.EventUpdate, Message: msg})
	if err != nil {
		return
	}
	if err := rdb.Publish(context.Background(), model.UserEventChannel(userID), payload).Err(); err != nil {
		log.Printf("publish update event for %s: %v", userID, err)
	}
}
