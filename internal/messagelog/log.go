// Package messagelog is the ordered, append-only message log of each room
// and its live subscriptions.
package messagelog

import (
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Projector derives chat-list entries from appended messages and
// announces the resulting changes.
type Projector interface {
	Project(room *models.Room, msg *models.Message) []models.ChatListEntry
	Notify(ctx context.Context, ownerIDs ...string)
}

type Log struct {
	messages  storage.MessageStore
	rooms     storage.RoomStore
	broker    storage.Broker
	projector Projector
	clock     clock.Clock
}

func New(messages storage.MessageStore, rooms storage.RoomStore, broker storage.Broker, projector Projector, clk clock.Clock) *Log {
	return &Log{
		messages:  messages,
		rooms:     rooms,
		broker:    broker,
		projector: projector,
		clock:     clk,
	}
}

// Append validates content, stamps it with the server clock and appends it
// to the room's log. Both chat-list entries are updated in the same write.
func (l *Log) Append(ctx context.Context, roomID, senderID string, content models.Content) (*models.Message, error) {
	if roomID == "" || senderID == "" {
		return nil, fmt.Errorf("%w: room and sender are required", models.ErrValidation)
	}
	content, err := content.Normalize(config.MaxBodyRunes)
	if err != nil {
		return nil, err
	}

	room, err := l.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("append to %s: %w", roomID, err)
	}
	if !room.HasParticipant(senderID) {
		return nil, fmt.Errorf("%w: %s is not a participant of %s", models.ErrValidation, senderID, roomID)
	}

	msg := &models.Message{
		MessageID: uuid.New().String(),
		RoomID:    roomID,
		SenderID:  senderID,
		Body:      content.Body,
		ImageRef:  content.ImageRef,
		CreatedAt: l.clock.Now(),
	}
	if err := l.messages.AppendMessage(ctx, msg, l.projector.Project); err != nil {
		return nil, fmt.Errorf("append to %s: %w", roomID, err)
	}

	// The log is committed at this point. Subscribers that miss the
	// publish recover the message by sequence number.
	payload, err := json.Marshal(msg)
	if err == nil {
		err = l.broker.Publish(ctx, storage.RoomChannel(roomID), payload)
	}
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Int64("seq", msg.Seq).Msg("message publish failed")
	}
	l.projector.Notify(ctx, room.ParticipantA, room.ParticipantB)

	log.Debug().Str("room_id", roomID).Int64("seq", msg.Seq).Msg("message appended")
	return msg, nil
}

// History returns up to limit messages with Seq > afterSeq. A limit of zero
// selects the default page size; larger limits are capped.
func (l *Log) History(ctx context.Context, roomID string, afterSeq int64, limit int) ([]models.Message, error) {
	if afterSeq < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: negative paging parameters", models.ErrValidation)
	}
	if limit == 0 {
		limit = config.DefaultHistoryLimit
	}
	if limit > config.MaxHistoryLimit {
		limit = config.MaxHistoryLimit
	}
	if _, err := l.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, fmt.Errorf("history of %s: %w", roomID, err)
	}
	msgs, err := l.messages.ListMessages(ctx, roomID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("history of %s: %w", roomID, err)
	}
	return msgs, nil
}

// Media returns the room's image messages, oldest first.
func (l *Log) Media(ctx context.Context, roomID string) ([]models.Message, error) {
	if _, err := l.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, fmt.Errorf("media of %s: %w", roomID, err)
	}
	msgs, err := l.messages.ListMedia(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("media of %s: %w", roomID, err)
	}
	return msgs, nil
}
