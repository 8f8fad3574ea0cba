package main

import (
	"log"

	"github.com/mahaj/chat-sync/pkg/db"
)

func main() {
	scyllaHosts := []string{"localhost:9042"}

	session, err := db.Bootstrap(scyllaHosts, db.DefaultKeyspace)
	if err != nil {
		log.Fatal(err)
	}
	defer session.Close()

	log.Println("Schema created successfully")
}
