package main

import (
	"context"
	"fmt"
	"log"

	"github.com/mahaj/chat-sync/pkg/apiclient"
	"github.com/mahaj/chat-sync/pkg/model"
)

func main() {
	ctx := context.Background()
	api := apiclient.New("http://localhost:8081")

	// 1. Login
	if err := api.Login(ctx, "userA"); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Token: %s...\n", api.Token()[:10])

	// 2. Durable write
	convID := model.DirectConversationID("userA", "userB")
	msg, err := api.CreateMessage(ctx, convID, "hello from verify_api")
	if err != nil {
		log.Fatal("Create message failed:", err)
	}
	log.Printf("Created message %s at %s", msg.ID, msg.CreatedAt)

	// 3. History
	history, err := api.Messages(ctx, convID)
	if err != nil {
		log.Fatal("History request failed:", err)
	}
	log.Printf("History: %d messages", len(history))
	for _, m := range history {
		log.Printf("  %s %s: %s (read=%v)", m.ID, m.SenderID, m.Content, m.Read)
	}

	// 4. Conversation list
	items, tally, err := api.Conversations(ctx, 0, 20)
	if err != nil {
		log.Fatal("Conversations request failed:", err)
	}
	log.Printf("Conversations: %d of %d", len(items), tally)
	for _, c := range items {
		log.Printf("  %s unread=%d", c.ID, c.UnreadCount)
	}
}
