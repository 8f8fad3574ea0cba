package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/chat-sync/pkg/model"
)

// Feed is the session-scoped global change feed, delivered over a per-user
// redis pub/sub channel. It catches inserts and read-flag updates for every
// message addressed to the user, independent of which conversation is open.
type Feed struct {
	rdb *redis.Client
}

func NewFeed(addr string) *Feed {
	return &Feed{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

// Subscribe opens the user's event channel. The subscription is confirmed
// before returning; the handle's Close tears it down on logout.
func (f *Feed) Subscribe(ctx context.Context, userID string, onInsert, onUpdate func(model.Message)) (io.Closer, error) {
	sub := f.rdb.Subscribe(ctx, model.UserEventChannel(userID))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe change feed: %w", err)
	}

	go func() {
		for m := range sub.Channel() {
			var ev model.ChangeEvent
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				log.Printf("change feed: bad payload: %v", err)
				continue
			}
			// Self-authored messages are filtered at the publisher; the
			// engine guards again regardless.
			switch ev.Kind {
			case model.EventInsert:
				onInsert(ev.Message)
			case model.EventUpdate:
				onUpdate(ev.Message)
			default:
				log.Printf("change feed: unknown event kind %q", ev.Kind)
			}
		}
	}()
	return sub, nil
}

// Close releases the underlying redis client.
func (f *Feed) Close() error {
	return f.rdb.Close()
}
