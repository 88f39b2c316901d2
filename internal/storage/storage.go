// Package storage is the persistence and transport boundary of the chat
// core. Every write that two participants can race on is expressed here as
// a single conditional statement (create-if-absent or merge-by-key), never
// as a read followed by a write in the caller.
package storage

import (
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type IdentityStore interface {
	CreateIdentity(ctx context.Context, identity *models.Identity) error
	GetIdentity(ctx context.Context, id string) (*models.Identity, error)
	// TouchIdentity sets LastSeenAt. ErrNotFound if the identity is unknown.
	TouchIdentity(ctx context.Context, id string, at time.Time) error
	UpdateIdentityProfile(ctx context.Context, id, displayName, bio string) error
}

type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	// CreateRoomIfAbsent inserts the room unless a room with the same ID
	// exists. It reports whether this call created it.
	CreateRoomIfAbsent(ctx context.Context, room *models.Room) (bool, error)
}

type ChatListStore interface {
	// EnsureChatListEntries inserts every entry whose (owner, room) key is
	// missing and leaves existing ones untouched, in one atomic statement.
	EnsureChatListEntries(ctx context.Context, entries []models.ChatListEntry) error
	CountChatListEntries(ctx context.Context, roomID string) (int64, error)
	GetChatListEntry(ctx context.Context, ownerID, roomID string) (*models.ChatListEntry, error)
	// ListChatListEntries returns the owner's entries, most recent first,
	// ties broken by room creation order.
	ListChatListEntries(ctx context.Context, ownerID string) ([]models.ChatListEntry, error)
	MarkChatListSeen(ctx context.Context, ownerID, roomID string) error
	DeleteChatListEntry(ctx context.Context, ownerID, roomID string) error
}

type AliasStore interface {
	GetAlias(ctx context.Context, roomID, counterpartID string) (*models.Alias, error)
	// PutAliasIfAbsent stores the alias unless the key already has one and
	// returns the authoritative record. ErrConflict means the pseudonym is
	// already used by another counterpart in the room.
	PutAliasIfAbsent(ctx context.Context, alias *models.Alias) (*models.Alias, error)
	ListAliases(ctx context.Context, roomID string) ([]models.Alias, error)
}

// Projection computes the chat-list entries to merge for an appended
// message. It runs inside the append's critical section.
type Projection func(room *models.Room, msg *models.Message) []models.ChatListEntry

type MessageStore interface {
	// AppendMessage assigns Seq, clamps CreatedAt so it never precedes the
	// room's previous message, stores the message and merges the projected
	// chat-list entries, atomically.
	AppendMessage(ctx context.Context, msg *models.Message, project Projection) error
	// ListMessages returns messages with Seq > afterSeq in log order. A
	// limit <= 0 returns all of them.
	ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]models.Message, error)
	// ListMedia returns the room's messages that carry an image, in log
	// order.
	ListMedia(ctx context.Context, roomID string) ([]models.Message, error)
}

type InviteStore interface {
	CreateInvite(ctx context.Context, token *models.InviteToken) error
	GetInvite(ctx context.Context, tokenID string) (*models.InviteToken, error)
	// ClaimInvite marks the token redeemed. ErrConflict if already claimed.
	ClaimInvite(ctx context.Context, tokenID string, at time.Time) error
	// ReleaseInvite undoes a claim so the token can be redeemed again.
	ReleaseInvite(ctx context.Context, tokenID string) error
	DeleteExpiredInvites(ctx context.Context, now time.Time) (int64, error)
}

// Feed is a live subscription to one broker channel.
type Feed interface {
	C() <-chan []byte
	Close() error
}

// Broker is the live-notification half of the boundary.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe returns once the subscription is active, so anything
	// published afterwards is delivered.
	Subscribe(ctx context.Context, channel string) (Feed, error)
}

type Storage interface {
	IdentityStore
	RoomStore
	ChatListStore
	AliasStore
	MessageStore
	InviteStore
	Broker
}

// RoomChannel is the broker channel carrying a room's new messages.
func RoomChannel(roomID string) string { return "room:" + roomID }

// ChatsChannel is the broker channel announcing changes to an owner's chat list.
func ChatsChannel(ownerID string) string { return "chats:" + ownerID }

// Service implements Storage on PostgreSQL (GORM) and Redis pub/sub.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

var _ Storage = (*Service)(nil)

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

// Migrate creates or updates the tables of every model.
func (s *Service) Migrate() error {
	return s.DB.AutoMigrate(
		&models.Identity{},
		&models.Room{},
		&models.ChatListEntry{},
		&models.Alias{},
		&models.Message{},
		&models.InviteToken{},
	)
}

// translate maps driver errors onto the core's error taxonomy.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.ErrNotFound
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrConflict):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", models.ErrUpstreamUnavailable, err)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
