package domain

import (
	"errors"
)

// Common domain errors
var (
	// ErrConnectionClosed is returned when pushing to a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrHubNotStarted is returned when trying to use a hub that hasn't been started
	ErrHubNotStarted = errors.New("hub not started")

	// ErrHubStopped is returned when trying to use a hub that has been stopped
	ErrHubStopped = errors.New("hub stopped")

	// ErrSessionClosed is returned for events arriving after disconnect
	ErrSessionClosed = errors.New("session closed")
)

// Codes reported to clients in error events.
const (
	CodeInvalidUserID     = "INVALID_USER_ID"
	CodeNotIdentified     = "NOT_IDENTIFIED"
	CodeEmptyContent      = "EMPTY_CONTENT"
	CodeInvalidMessage    = "INVALID_MESSAGE"
	CodeInvalidReceiver   = "INVALID_RECEIVER"
	CodeUnknownEvent      = "UNKNOWN_EVENT"
	CodeSenderSuspended   = "SENDER_SUSPENDED"
	CodeSenderBlocked     = "SENDER_BLOCKED_FROM_GROUP"
	CodeSenderNotFound    = "SENDER_NOT_FOUND"
	CodePersistenceFailed = "PERSISTENCE_FAILED"
	CodeSendBufferFull    = "SEND_BUFFER_FULL"
	CodeSessionClosed     = "SESSION_CLOSED"
	CodeInternal          = "INTERNAL"
)
