package realtime

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/chat-sync/pkg/engine"
	"github.com/mahaj/chat-sync/pkg/model"
)

const (
	// Time allowed to write a message to the gateway.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the gateway.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the gateway's subscribe acknowledgement.
	ackWait = 10 * time.Second
)

// Dialer establishes per-conversation broadcast channels against the
// gateway. Subscribe blocks until the gateway's acknowledgement frame
// arrives, so a returned channel is live.
type Dialer struct {
	// GatewayURL is the websocket base, e.g. ws://localhost:8080.
	GatewayURL string
	Token      string
}

func (d *Dialer) Subscribe(ctx context.Context, conversationID string, onEvent func(model.Message)) (engine.BroadcastChannel, error) {
	u, err := url.Parse(d.GatewayURL)
	if err != nil {
		return nil, fmt.Errorf("gateway url: %w", err)
	}
	u.Path = "/ws"
	q := u.Query()
	q.Set("conversation", conversationID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.Token)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}

	// The first frame must be the subscribe acknowledgement; the channel is
	// not ready before it.
	conn.SetReadDeadline(time.Now().Add(ackWait))
	var ack model.Frame
	if err := conn.ReadJSON(&ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe ack: %w", err)
	}
	if ack.Type != model.FrameSubscribed || ack.ConversationID != conversationID {
		conn.Close()
		return nil, fmt.Errorf("unexpected frame %q before subscribe ack", ack.Type)
	}

	ch := &Channel{
		conn:           conn,
		conversationID: conversationID,
		done:           make(chan struct{}),
	}
	go ch.readPump(onEvent)
	go ch.pingLoop()
	return ch, nil
}

// Channel is one live per-conversation broadcast subscription.
type Channel struct {
	conn           *websocket.Conn
	conversationID string

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

// Publish offers a message on the channel. Best-effort: an error means the
// counterpart's open UI misses the low-latency copy, nothing more.
func (c *Channel) Publish(msg model.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(model.Frame{
		Type:           model.FrameMessage,
		ConversationID: c.conversationID,
		Message:        &msg,
	})
}

func (c *Channel) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.conn.Close()
	})
	return nil
}

func (c *Channel) readPump(onEvent func(model.Message)) {
	defer c.Close()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		var f model.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("broadcast read on %s: %v", c.conversationID, err)
				}
			}
			return
		}
		if f.Type == model.FrameMessage && f.Message != nil {
			onEvent(*f.Message)
		}
	}
}

func (c *Channel) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
