package main

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/mahaj/chat-sync/pkg/auth"
	"github.com/mahaj/chat-sync/pkg/db"
	"github.com/mahaj/chat-sync/pkg/model"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type ConversationsResponse struct {
	Items []model.Conversation `json:"items"`
	Tally int                  `json:"tally"`
}

func ConversationsHandler(session *db.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		if offset < 0 {
			offset = 0
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = defaultPageSize
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}

		type row struct {
			conversationID string
			otherUserID    string
			lastUpdated    time.Time
		}

		query := `SELECT conversation_id, other_user_id, last_updated FROM user_conversations WHERE user_id = ?`
		iter := session.Query(query, claims.UserID).Iter()

		var rows []row
		var cur row
		for iter.Scan(&cur.conversationID, &cur.otherUserID, &cur.lastUpdated) {
			rows = append(rows, cur)
		}
		if err := iter.Close(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		// The partition is clustered by conversation id; recency ordering and
		// the offset window are applied here.
		sort.Slice(rows, func(i, j int) bool {
			if !rows[i].lastUpdated.Equal(rows[j].lastUpdated) {
				return rows[i].lastUpdated.After(rows[j].lastUpdated)
			}
			return rows[i].conversationID < rows[j].conversationID
		})

		tally := len(rows)
		if offset > len(rows) {
			offset = len(rows)
		}
		end := offset + limit
		if end > len(rows) {
			end = len(rows)
		}

		items := []model.Conversation{}
		for _, rw := range rows[offset:end] {
			a, b, _ := model.Participants(rw.conversationID)
			c := model.Conversation{
				ID:             rw.conversationID,
				ParticipantA:   a,
				ParticipantB:   b,
				LastActivityAt: rw.lastUpdated,
				Counterpart:    model.ParticipantSummary{ID: rw.otherUserID, Name: rw.otherUserID},
			}

			var count int64
			if err := session.Query(
				`SELECT unread_count FROM conversation_counters WHERE user_id = ? AND conversation_id = ?`,
				claims.UserID, rw.conversationID,
			).Scan(&count); err == nil {
				if count < 0 {
					count = 0
				}
				c.UnreadCount = int(count)
			}

			var id int64
			var senderID, content string
			var createdAt time.Time
			var read bool
			if err := session.Query(
				`SELECT id, sender_id, content, created_at, read FROM messages WHERE conversation_id = ? LIMIT 1`,
				rw.conversationID,
			).Scan(&id, &senderID, &content, &createdAt, &read); err == nil {
				c.LastMessage = &model.Message{
					ID:             strconv.FormatInt(id, 10),
					ConversationID: rw.conversationID,
					SenderID:       senderID,
					Content:        content,
					CreatedAt:      createdAt,
					Read:           read,
				}
			}

			items = append(items, c)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ConversationsResponse{Items: items, Tally: tally})
	}
}
