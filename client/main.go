package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/mahaj/chat-sync/pkg/apiclient"
	"github.com/mahaj/chat-sync/pkg/engine"
	"github.com/mahaj/chat-sync/pkg/model"
	"github.com/mahaj/chat-sync/pkg/realtime"
)

func main() {
	gatewayAddr := flag.String("gateway", "ws://localhost:8080", "gateway websocket address")
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	redisAddr := flag.String("redis", "localhost:6379", "redis address for the change feed")
	userID := flag.String("user", "user1", "user id")
	flag.Parse()

	ctx := context.Background()

	// 1. Login to get token
	log.Printf("Logging in as %s...", *userID)
	api := apiclient.New(*apiAddr)
	if err := api.Login(ctx, *userID); err != nil {
		log.Fatal("Login failed:", err)
	}

	// 2. Wire the sync engine to its collaborators
	feed := realtime.NewFeed(*redisAddr)
	defer feed.Close()

	eng, err := engine.New(engine.Config{
		UserID: *userID,
		API:    api,
		Dialer: &realtime.Dialer{GatewayURL: *gatewayAddr, Token: api.Token()},
		Feed:   feed,
		OnUnreadTotal: func(total int) {
			fmt.Printf("\r[%d unread]\n> ", total)
		},
		OnInbound: func(msg model.Message) {
			fmt.Printf("\r%s: %s\n> ", msg.SenderID, msg.Content)
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := eng.Start(ctx); err != nil {
		log.Fatal("Engine start failed:", err)
	}
	defer eng.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	done := make(chan struct{})

	fmt.Println("Commands: /list, /open <user>, /more, /quit. Anything else sends.")

	// 3. Read from stdin and drive the engine
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":

			case line == "/quit":
				return

			case line == "/list":
				printConversations(eng)

			case line == "/more":
				if _, err := eng.LoadMoreConversations(ctx); err != nil {
					fmt.Println("load more failed:", err)
				}
				printConversations(eng)

			case strings.HasPrefix(line, "/open "):
				other := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
				convID := model.DirectConversationID(*userID, other)
				if err := eng.SelectConversation(ctx, convID); err != nil {
					fmt.Println("open failed:", err)
					break
				}
				for _, m := range eng.ActiveTimeline() {
					fmt.Printf("%s: %s\n", m.SenderID, m.Content)
				}

			default:
				if err := eng.Send(ctx, line); err != nil {
					switch {
					case errors.Is(err, engine.ErrNoConversation):
						fmt.Println("open a conversation first (/open <user>)")
					case errors.Is(err, engine.ErrChannelNotReady):
						fmt.Println("channel not ready, reselect the conversation")
					default:
						fmt.Println("send failed:", err)
					}
				}
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
	}
}

func printConversations(eng *engine.Engine) {
	convs := eng.OrderedConversations()
	if len(convs) == 0 {
		fmt.Println("no conversations")
		return
	}
	for _, c := range convs {
		badge := ""
		if c.UnreadCount > 0 {
			badge = fmt.Sprintf(" [%d]", c.UnreadCount)
		}
		preview := ""
		if c.LastMessage != nil {
			preview = c.LastMessage.Content
		}
		fmt.Printf("%s%s  %s\n", c.Counterpart.ID, badge, preview)
	}
	if eng.HasMoreConversations() {
		fmt.Println("(/more for older conversations)")
	}
}
