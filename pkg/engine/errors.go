package engine

import "errors"

// Sentinel errors for the engine. ErrEmptyMessage is a validation failure and
// never reaches the network; the rest wrap transient network failures.
var (
	ErrEmptyMessage    = errors.New("message body is empty")
	ErrNoConversation  = errors.New("no conversation selected")
	ErrChannelNotReady = errors.New("broadcast channel not ready")
	ErrSendFailed      = errors.New("message send failed")
	ErrSubscribeFailed = errors.New("conversation subscribe failed")
)
