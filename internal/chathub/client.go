package chathub

import "anonchat/backend/internal/models"

// Client is the interface for any type of realtime connection. It
// abstracts the underlying transport so the hub can manage different
// client types uniformly.
type Client interface {
	// GetUserID returns the authenticated identity behind the connection.
	GetUserID() string

	// GetSendChannel returns the channel to which the hub sends frames
	// intended for this client.
	GetSendChannel() chan<- models.ServerFrame

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the connection down. The hub calls it exactly once, after
	// it has stopped sending to the client.
	Close()
}
