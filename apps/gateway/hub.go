package main

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chat-sync/pkg/model"
)

type Hub struct {
	clients    map[string]map[*Client]bool // conversation_id -> clients
	relay      chan *model.Frame
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	producer   *kafka.Writer
	redis      *redis.Client
}

func NewHub(kafkaBrokers []string, topic string, redisAddr string) *Hub {
	producer := &kafka.Writer{
		Addr:     kafka.TCP(kafkaBrokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Consumer for fanout
	consumer := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     kafkaBrokers,
		Topic:       topic,
		GroupID:     "gateway-group-" + time.Now().String(), // Unique group for fanout (broadcast to all gateways)
		StartOffset: kafka.LastOffset,
		MinBytes:    10e3,
		MaxBytes:    10e6,
	})

	h := &Hub{
		relay:      make(chan *model.Frame),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string]map[*Client]bool),
		producer:   producer,
		redis:      rdb,
	}

	// Fan frames from the topic out to the conversation's open sockets. Both
	// provisional previews relayed by clients and canonical messages
	// published by the API arrive here.
	go func() {
		defer consumer.Close()
		for {
			m, err := consumer.ReadMessage(context.Background())
			if err != nil {
				// Transient broker errors must not kill the fanout; sockets
				// would stay open but go silent.
				log.Printf("Gateway consumer error: %v. Retrying in 1s...", err)
				time.Sleep(1 * time.Second)
				continue
			}

			var f model.Frame
			if err := json.Unmarshal(m.Value, &f); err != nil {
				log.Printf("Failed to unmarshal frame from Kafka: %v", err)
				continue
			}
			if f.ConversationID == "" {
				continue
			}

			h.mu.RLock()
			if clients, ok := h.clients[f.ConversationID]; ok {
				for client := range clients {
					select {
					case client.send <- m.Value:
					default:
						close(client.send)
						delete(clients, client)
					}
				}
			}
			h.mu.RUnlock()
		}
	}()

	return h
}

func (h *Hub) Run() {
	defer h.producer.Close()
	defer h.redis.Close()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.ConversationID] == nil {
				h.clients[client.ConversationID] = make(map[*Client]bool)
			}
			h.clients[client.ConversationID][client] = true

			// The subscribe acknowledgement must be the first frame the
			// client sees; queued under the lock so no fanout can precede it.
			ack, err := json.Marshal(model.Frame{
				Type:           model.FrameSubscribed,
				ConversationID: client.ConversationID,
			})
			if err == nil {
				client.send <- ack
			}
			h.mu.Unlock()

			// Set presence in Redis Set
			if err := h.redis.SAdd(context.Background(), "conversation:"+client.ConversationID+":users", client.UserID).Err(); err != nil {
				log.Printf("Failed to set presence for %s: %v", client.UserID, err)
			}
			log.Printf("Client registered: %s on conversation %s", client.UserID, client.ConversationID)

			go h.publish(&model.Frame{
				Type:           model.FramePresence,
				ConversationID: client.ConversationID,
				UserID:         client.UserID,
				Content:        "joined",
			})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.ConversationID]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.ConversationID)
					}

					if err := h.redis.SRem(context.Background(), "conversation:"+client.ConversationID+":users", client.UserID).Err(); err != nil {
						log.Printf("Failed to delete presence for %s: %v", client.UserID, err)
					}
					log.Printf("Client unregistered: %s from conversation %s", client.UserID, client.ConversationID)

					go h.publish(&model.Frame{
						Type:           model.FramePresence,
						ConversationID: client.ConversationID,
						UserID:         client.UserID,
						Content:        "left",
					})
				}
			}
			h.mu.Unlock()

		case f := <-h.relay:
			h.publish(f)
		}
	}
}

// publish puts a frame on the topic; the consumer side fans it out to every
// gateway's local subscribers.
func (h *Hub) publish(f *model.Frame) {
	jsonFrame, err := json.Marshal(f)
	if err != nil {
		log.Printf("Failed to marshal frame: %v", err)
		return
	}

	err = h.producer.WriteMessages(context.Background(),
		kafka.Message{
			Value: jsonFrame,
			Time:  time.Now(),
		},
	)
	if err != nil {
		log.Printf("Failed to write frame to Kafka: %v", err)
	}
}
