package chathub

import (
	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/messagelog"
	"anonchat/backend/internal/models"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

const inboxSize = 64

// session handles one client's frames in order, on its own goroutine.
type session struct {
	chat   *chat.Service
	client Client
	userID string
	inbox  chan models.ClientFrame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// rooms is only touched by the loop goroutine.
	rooms map[string]*messagelog.Subscription
}

func newSession(parent context.Context, svc *chat.Service, client Client) *session {
	ctx, cancel := context.WithCancel(parent)
	return &session{
		chat:   svc,
		client: client,
		userID: client.GetUserID(),
		inbox:  make(chan models.ClientFrame, inboxSize),
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*messagelog.Subscription),
	}
}

func (s *session) start() {
	s.wg.Add(2)
	go s.loop()
	go s.heartbeat()
}

// stop cancels the session and waits until nothing sends to the client.
func (s *session) stop() {
	s.cancel()
	s.wg.Wait()
}

// enqueue is called from the hub goroutine and never blocks it.
func (s *session) enqueue(frame models.ClientFrame) {
	select {
	case s.inbox <- frame:
	default:
		log.Warn().Str("user_id", s.userID).Str("type", frame.Type).Msg("session inbox full, frame dropped")
	}
}

func (s *session) heartbeat() {
	defer s.wg.Done()
	if err := s.chat.Identities.Heartbeat(s.ctx, s.userID, config.HeartbeatInterval); err != nil {
		log.Warn().Err(err).Str("user_id", s.userID).Msg("heartbeat stopped")
	}
}

func (s *session) loop() {
	defer s.wg.Done()
	defer func() {
		for id, sub := range s.rooms {
			sub.Close()
			delete(s.rooms, id)
		}
	}()

	watch, err := s.chat.WatchChats(s.ctx, s.userID)
	if err != nil {
		s.fail("", err)
	} else {
		s.wg.Add(1)
		go s.forwardChats(watch)
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.inbox:
			s.handle(frame)
		}
	}
}

func (s *session) handle(frame models.ClientFrame) {
	switch frame.Type {
	case models.FrameOpen:
		if _, ok := s.rooms[frame.RoomID]; ok {
			return
		}
		if _, err := s.chat.OpenChat(s.ctx, frame.RoomID, s.userID); err != nil {
			s.fail(frame.RoomID, err)
			return
		}
		sub, err := s.chat.Subscribe(s.ctx, frame.RoomID, s.userID)
		if err != nil {
			s.fail(frame.RoomID, err)
			return
		}
		s.rooms[frame.RoomID] = sub
		s.wg.Add(1)
		go s.forwardMessages(frame.RoomID, sub)

	case models.FrameClose:
		if sub, ok := s.rooms[frame.RoomID]; ok {
			sub.Close()
			delete(s.rooms, frame.RoomID)
		}

	case models.FrameSend:
		content := models.Content{Body: frame.Body, ImageRef: frame.ImageRef}
		if _, err := s.chat.Send(s.ctx, frame.RoomID, s.userID, content); err != nil {
			s.fail(frame.RoomID, err)
		}

	case models.FrameSeen:
		if err := s.chat.MarkSeen(s.ctx, frame.RoomID, s.userID); err != nil {
			s.fail(frame.RoomID, err)
		}

	default:
		s.fail(frame.RoomID, fmt.Errorf("%w: unknown frame type %q", models.ErrValidation, frame.Type))
	}
}

func (s *session) forwardMessages(roomID string, sub *messagelog.Subscription) {
	defer s.wg.Done()
	for msg := range sub.C {
		m := msg
		if !s.push(models.ServerFrame{Type: models.FrameMessage, RoomID: roomID, Message: &m}) {
			return
		}
	}
	if err := sub.Err(); err != nil {
		s.fail(roomID, err)
	}
}

func (s *session) forwardChats(watch *chat.ChatsWatch) {
	defer s.wg.Done()
	defer watch.Close()
	for summaries := range watch.C {
		if !s.push(models.ServerFrame{Type: models.FrameChats, Chats: summaries}) {
			return
		}
	}
}

func (s *session) fail(roomID string, err error) {
	if s.ctx.Err() != nil {
		return
	}
	log.Debug().Err(err).Str("user_id", s.userID).Str("room_id", roomID).Msg("frame failed")
	s.push(models.ServerFrame{Type: models.FrameError, RoomID: roomID, Error: err.Error()})
}

func (s *session) push(frame models.ServerFrame) bool {
	select {
	case s.client.GetSendChannel() <- frame:
		return true
	case <-s.ctx.Done():
		return false
	}
}
