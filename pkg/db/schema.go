package db

import "fmt"

// EnsureKeyspace creates the chat keyspace if it does not exist. It opens a
// short-lived session against the system keyspace.
func EnsureKeyspace(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return fmt.Errorf("connect system keyspace: %w", err)
	}
	defer sys.Close()

	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	if err := sys.Query(q).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_id text,
		id bigint,
		sender_id text,
		content text,
		created_at timestamp,
		read boolean,
		listing_id text,
		listing_title text,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,

	// Reverse lookup for the batched mark-read endpoint, which receives bare
	// message ids.
	`CREATE TABLE IF NOT EXISTS message_index (
		id bigint,
		conversation_id text,
		sender_id text,
		recipient_id text,
		PRIMARY KEY (id)
	)`,

	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		conversation_id text,
		other_user_id text,
		last_updated timestamp,
		PRIMARY KEY (user_id, conversation_id)
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id text,
		conversation_id text,
		unread_count counter,
		PRIMARY KEY (user_id, conversation_id)
	)`,
}

// EnsureSchema creates the tables this system needs if they do not exist.
func (s *Session) EnsureSchema() error {
	for _, stmt := range schema {
		if err := s.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
