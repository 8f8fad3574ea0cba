package main

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chat-sync/pkg/db"
	"github.com/mahaj/chat-sync/pkg/model"
)

type Consumer struct {
	reader *kafka.Reader
	db     *db.Session
	redis  *redis.Client
}

func NewConsumer(brokers []string, topic string, groupID string, session *db.Session, rdb *redis.Client) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: r, db: session, redis: rdb}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			log.Printf("Error reading message: %v. Retrying in 1s...", err)
			time.Sleep(1 * time.Second)
			continue
		}

		var f model.Frame
		if err := json.Unmarshal(m.Value, &f); err != nil {
			log.Printf("Failed to unmarshal frame: %v", err)
			continue
		}

		// Presence frames and provisional previews are ephemeral.
		if f.Type != model.FrameMessage || f.Message == nil {
			continue
		}
		msg := *f.Message
		if msg.Provisional || model.IsProvisionalID(msg.ID) {
			continue
		}

		c.persist(msg)
	}
}

func (c *Consumer) persist(msg model.Message) {
	id, err := strconv.ParseInt(msg.ID, 10, 64)
	if err != nil {
		log.Printf("Skipping message with non-canonical id %q: %v", msg.ID, err)
		return
	}

	a, b, ok := model.Participants(msg.ConversationID)
	if !ok {
		log.Printf("Skipping message %d with malformed conversation id %q", id, msg.ConversationID)
		return
	}
	recipient := model.CounterpartID(msg.ConversationID, msg.SenderID)
	if recipient == "" {
		log.Printf("Skipping message %d: sender %s not in %s", id, msg.SenderID, msg.ConversationID)
		return
	}

	// First delivery wins. The conditional insert keeps a read flag that the
	// mark-read path may already have set, and gates the counter and
	// change-feed writes below against topic re-delivery.
	applied, err := c.db.Query(
		`INSERT INTO messages (conversation_id, id, sender_id, content, created_at, read) VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		msg.ConversationID, id, msg.SenderID, msg.Content, msg.CreatedAt, false,
	).MapScanCAS(map[string]interface{}{})
	if err != nil {
		log.Printf("Failed to save message %d: %v", id, err)
		return
	}
	if !applied {
		log.Printf("Skipping re-delivered message %d", id)
		return
	}

	if err := c.db.Query(
		`INSERT INTO message_index (id, conversation_id, sender_id, recipient_id) VALUES (?, ?, ?, ?)`,
		id, msg.ConversationID, msg.SenderID, recipient,
	).Exec(); err != nil {
		log.Printf("Failed to index message %d: %v", id, err)
	}

	// Keep both participants' conversation rows fresh.
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		if err := c.db.Query(
			`INSERT INTO user_conversations (user_id, conversation_id, other_user_id, last_updated) VALUES (?, ?, ?, ?)`,
			pair[0], msg.ConversationID, pair[1], msg.CreatedAt,
		).Exec(); err != nil {
			log.Printf("Failed to update conversation for %s: %v", pair[0], err)
		}
	}

	if err := c.db.Query(
		`UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE user_id = ? AND conversation_id = ?`,
		recipient, msg.ConversationID,
	).Exec(); err != nil {
		log.Printf("Failed to increment unread count for %s: %v", recipient, err)
	}

	// Change feed: the recipient's session learns about the message even
	// when the conversation is not open. Self-authored messages are excluded
	// by construction, only the recipient's channel is written.
	payload, err := json.Marshal(model.ChangeEvent{Kind: model.EventInsert, Message: msg})
	if err != nil {
		return
	}
	if err := c.redis.Publish(context.Background(), model.UserEventChannel(recipient), payload).Err(); err != nil {
		log.Printf("Failed to publish change event for %s: %v", recipient, err)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
