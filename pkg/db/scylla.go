package db

import (
	"log"
	"time"

	"github.com/gocql/gocql"
)

// DefaultKeyspace holds the chat schema.
const DefaultKeyspace = "chat"

// Session wraps a gocql session bound to the chat keyspace.
type Session struct {
	*gocql.Session
}

// NewSession connects to an existing keyspace.
func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, err
	}

	log.Printf("Connected to ScyllaDB keyspace %s", keyspace)
	return &Session{Session: session}, nil
}

// Bootstrap creates the keyspace and the chat tables if missing, then returns
// a session bound to the keyspace. Services that own schema creation connect
// through this.
func Bootstrap(hosts []string, keyspace string) (*Session, error) {
	if err := EnsureKeyspace(hosts, keyspace); err != nil {
		return nil, err
	}
	s, err := NewSession(hosts, keyspace)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureSchema(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
