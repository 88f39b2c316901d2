// Package chathub tracks connected realtime clients and runs one session
// per client: its open room subscriptions, its chat-list stream and its
// presence heartbeat.
package chathub

import (
	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/models"
	"context"

	"github.com/rs/zerolog/log"
)

// ManagerService is the hub. Its maps are owned by the Run goroutine.
type ManagerService struct {
	Clients map[string]Client

	// Channels
	IncomingCh   chan models.ClientFrame
	RegisterCh   chan Client
	UnregisterCh chan Client

	Chat *chat.Service

	sessions map[Client]*session
	done     chan struct{}
}

func NewManagerService(svc *chat.Service) *ManagerService {
	return &ManagerService{
		Clients:      make(map[string]Client),
		IncomingCh:   make(chan models.ClientFrame),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		Chat:         svc,
		sessions:     make(map[Client]*session),
		done:         make(chan struct{}),
	}
}

// Run processes registrations and client frames until ctx is cancelled,
// then shuts every session down.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			for client := range m.sessions {
				m.drop(client)
			}
			log.Info().Msg("chat hub stopped")
			return

		case client := <-m.RegisterCh:
			id := client.GetUserID()
			if previous, ok := m.Clients[id]; ok && previous != client {
				log.Info().Str("user_id", id).Msg("replacing existing connection")
				m.drop(previous)
			}
			m.Clients[id] = client
			s := newSession(ctx, m.Chat, client)
			m.sessions[client] = s
			s.start()
			log.Info().Str("user_id", id).Int("clients", len(m.Clients)).Msg("client registered")

		case client := <-m.UnregisterCh:
			if _, ok := m.sessions[client]; ok {
				m.drop(client)
				log.Info().Str("user_id", client.GetUserID()).Msg("client unregistered")
			}

		case frame := <-m.IncomingCh:
			client, ok := m.Clients[frame.SenderID]
			if !ok {
				log.Warn().Str("user_id", frame.SenderID).Msg("frame from unknown client dropped")
				continue
			}
			m.sessions[client].enqueue(frame)
		}
	}
}

// drop forgets the client and closes it once its session has stopped.
func (m *ManagerService) drop(client Client) {
	s := m.sessions[client]
	delete(m.sessions, client)
	if m.Clients[client.GetUserID()] == client {
		delete(m.Clients, client.GetUserID())
	}
	go func() {
		if s != nil {
			s.stop()
		}
		client.Close()
	}()
}

// Dispatch hands a frame to the hub. It returns false once the hub has stopped.
func (m *ManagerService) Dispatch(frame models.ClientFrame) bool {
	select {
	case m.IncomingCh <- frame:
		return true
	case <-m.done:
		return false
	}
}

// Unregister removes the client from the hub, if it is still running.
func (m *ManagerService) Unregister(client Client) {
	select {
	case m.UnregisterCh <- client:
	case <-m.done:
	}
}

// Register adds the client to the hub. It returns false once the hub has stopped.
func (m *ManagerService) Register(client Client) bool {
	select {
	case m.RegisterCh <- client:
		return true
	case <-m.done:
		return false
	}
}

// Done is closed when Run returns.
func (m *ManagerService) Done() <-chan struct{} { return m.done }
