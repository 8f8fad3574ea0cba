package main

import (
	"log"

	"github.com/mahaj/chat-sync/pkg/db"
)

func main() {
	scyllaHosts := []string{"localhost:9042"}

	session, err := db.NewSession(scyllaHosts, db.DefaultKeyspace)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	for _, table := range []string{"messages", "message_index", "user_conversations", "conversation_counters"} {
		log.Printf("Dropping table %s...", table)
		if err := session.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
			log.Fatalf("Failed to drop table %s: %v", table, err)
		}
	}
	log.Println("Tables dropped successfully.")
}
