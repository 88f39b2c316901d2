package chathub_test

import (
	"anonchat/backend/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockClient is a test double for the chathub.Client interface.
type MockClient struct {
	mock.Mock
	userID string
	send   chan models.ServerFrame
	closed chan struct{}
	once   sync.Once
}

func newMockClient(userID string) *MockClient {
	c := &MockClient{
		userID: userID,
		send:   make(chan models.ServerFrame, 64), // Buffered to prevent blocking in tests
		closed: make(chan struct{}),
	}
	c.On("Close").Return()
	return c
}

func (c *MockClient) GetUserID() string {
	return c.userID
}

func (c *MockClient) GetSendChannel() chan<- models.ServerFrame {
	return c.send
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.Called()
	c.once.Do(func() { close(c.closed) })
}

// waitFrame returns the next frame of the given type, skipping others.
func (c *MockClient) waitFrame(t *testing.T, frameType string) models.ServerFrame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame := <-c.send:
			if frame.Type == frameType {
				return frame
			}
		case <-timeout:
			t.Fatalf("%s: no %q frame received", c.userID, frameType)
			return models.ServerFrame{}
		}
	}
}

func (c *MockClient) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-c.closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: client was not closed", c.userID)
	}
}
