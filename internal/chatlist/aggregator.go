// Package chatlist maintains each participant's chat list: one entry per
// room with the last message preview, an unread flag and recency.
package chatlist

import (
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

type Aggregator struct {
	store  storage.ChatListStore
	broker storage.Broker
	clock  clock.Clock
}

func NewAggregator(store storage.ChatListStore, broker storage.Broker, clk clock.Clock) *Aggregator {
	return &Aggregator{
		store:  store,
		broker: broker,
		clock:  clk,
	}
}

// InitialEntries returns the two entries of a room that has no messages yet.
func InitialEntries(room *models.Room) []models.ChatListEntry {
	entries := make([]models.ChatListEntry, 0, 2)
	for _, owner := range room.Participants() {
		entries = append(entries, models.ChatListEntry{
			OwnerID:       owner,
			RoomID:        room.RoomID,
			CounterpartID: room.Counterpart(owner),
			UpdatedAt:     room.CreatedAt,
			Seen:          true,
			RoomCreatedAt: room.CreatedAt,
		})
	}
	return entries
}

// EnsureEntries creates whichever of the room's two entries is missing.
// Existing entries are left as they are.
func (a *Aggregator) EnsureEntries(ctx context.Context, room *models.Room) error {
	if err := a.store.EnsureChatListEntries(ctx, InitialEntries(room)); err != nil {
		return fmt.Errorf("ensure chat-list entries: %w", err)
	}
	a.Notify(ctx, room.ParticipantA, room.ParticipantB)
	return nil
}

// HasEntries reports whether both of the room's entries exist.
func (a *Aggregator) HasEntries(ctx context.Context, room *models.Room) (bool, error) {
	n, err := a.store.CountChatListEntries(ctx, room.RoomID)
	if err != nil {
		return false, fmt.Errorf("count chat-list entries: %w", err)
	}
	return n >= 2, nil
}

// Project computes both participants' entries after msg was appended. The
// sender's entry is marked seen and the recipient's is not.
func (a *Aggregator) Project(room *models.Room, msg *models.Message) []models.ChatListEntry {
	preview := Preview(msg)
	entries := make([]models.ChatListEntry, 0, 2)
	for _, owner := range room.Participants() {
		entries = append(entries, models.ChatListEntry{
			OwnerID:            owner,
			RoomID:             room.RoomID,
			CounterpartID:      room.Counterpart(owner),
			LastMessagePreview: preview,
			UpdatedAt:          msg.CreatedAt,
			Seen:               owner == msg.SenderID,
			RoomCreatedAt:      room.CreatedAt,
		})
	}
	return entries
}

// Preview is the chat-list text for a message.
func Preview(msg *models.Message) string {
	if msg.IsImage() {
		return config.ImagePreview
	}
	if utf8.RuneCountInString(msg.Body) <= config.PreviewMaxRunes {
		return msg.Body
	}
	runes := []rune(msg.Body)
	return string(runes[:config.PreviewMaxRunes])
}

// Notify announces that the owners' chat lists changed. Failures are
// logged; watchers re-read the list on their next notification.
func (a *Aggregator) Notify(ctx context.Context, ownerIDs ...string) {
	for _, owner := range ownerIDs {
		if err := a.broker.Publish(ctx, storage.ChatsChannel(owner), []byte(owner)); err != nil {
			log.Warn().Err(err).Str("owner_id", owner).Msg("chat-list notification failed")
		}
	}
}

// MarkSeen flags the owner's entry as seen. An entry that is already seen
// is left alone and nobody is notified.
func (a *Aggregator) MarkSeen(ctx context.Context, ownerID, roomID string) error {
	entry, err := a.store.GetChatListEntry(ctx, ownerID, roomID)
	if err != nil {
		return fmt.Errorf("mark %s seen for %s: %w", roomID, ownerID, err)
	}
	if entry.Seen {
		return nil
	}
	if err := a.store.MarkChatListSeen(ctx, ownerID, roomID); err != nil {
		return fmt.Errorf("mark %s seen for %s: %w", roomID, ownerID, err)
	}
	a.Notify(ctx, ownerID)
	return nil
}

// ListChats returns the owner's entries, most recently updated first. Equal
// timestamps are ordered by room creation, older first.
func (a *Aggregator) ListChats(ctx context.Context, ownerID string) ([]models.ChatListEntry, error) {
	entries, err := a.store.ListChatListEntries(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list chats for %s: %w", ownerID, err)
	}
	return entries, nil
}

// DeleteEntry removes only the owner's projection of the room. The room,
// its log and the counterpart's entry are untouched.
func (a *Aggregator) DeleteEntry(ctx context.Context, ownerID, roomID string) error {
	if err := a.store.DeleteChatListEntry(ctx, ownerID, roomID); err != nil {
		return fmt.Errorf("delete %s for %s: %w", roomID, ownerID, err)
	}
	a.Notify(ctx, ownerID)
	return nil
}
