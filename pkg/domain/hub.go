package domain

import (
	"context"
)

// Hub tracks every open transport connection, identified or not.
type Hub interface {
	// Start starts the hub
	Start(ctx context.Context) error

	// Stop closes every connection and stops the hub
	Stop() error

	// Register adds a connection
	Register(conn Conn) error

	// Unregister removes and closes a connection
	Unregister(connID string) error

	// Broadcast pushes an event to every connection
	Broadcast(event Outbound) error

	// GetConn retrieves a connection by ID
	GetConn(connID string) (Conn, bool)

	// Stats returns hub statistics
	Stats() HubStats
}

// HubStats provides statistics about the hub
type HubStats struct {
	ConnectedClients int     `json:"connected_clients"`
	EventsSent       int64   `json:"events_sent"`
	EventsFailed     int64   `json:"events_failed"`
	Broadcasts       int64   `json:"broadcasts"`
	Uptime           float64 `json:"uptime_seconds"`
}
