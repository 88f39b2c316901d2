// Package memstore is an in-process implementation of storage.Storage. It
// backs STORAGE_DRIVER=memory and the unit tests of the core packages; all
// conditional writes happen under a single mutex.
package memstore

import (
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entryKey struct{ owner, room string }

type aliasKey struct{ room, counterpart string }

type Store struct {
	mu         sync.Mutex
	identities map[string]models.Identity
	rooms      map[string]models.Room
	entries    map[entryKey]models.ChatListEntry
	aliases    map[aliasKey]models.Alias
	messages   map[string][]models.Message
	invites    map[string]models.InviteToken

	*Broker
}

var _ storage.Storage = (*Store)(nil)

func New() *Store {
	return &Store{
		identities: make(map[string]models.Identity),
		rooms:      make(map[string]models.Room),
		entries:    make(map[entryKey]models.ChatListEntry),
		aliases:    make(map[aliasKey]models.Alias),
		messages:   make(map[string][]models.Message),
		invites:    make(map[string]models.InviteToken),
		Broker:     NewBroker(),
	}
}

func (s *Store) CreateIdentity(_ context.Context, identity *models.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.New().String()
	}
	if identity.AvatarColor == "" {
		identity.AvatarColor = models.AvatarColorFor(identity.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[identity.ID]; ok {
		return models.ErrConflict
	}
	s.identities[identity.ID] = *identity
	return nil
}

func (s *Store) GetIdentity(_ context.Context, id string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &identity, nil
}

func (s *Store) TouchIdentity(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	identity.LastSeenAt = at
	s.identities[id] = identity
	return nil
}

func (s *Store) UpdateIdentityProfile(_ context.Context, id, displayName, bio string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return models.ErrNotFound
	}
	identity.DisplayName = displayName
	identity.Bio = bio
	s.identities[id] = identity
	return nil
}

func (s *Store) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &room, nil
}

func (s *Store) CreateRoomIfAbsent(_ context.Context, room *models.Room) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.RoomID]; ok {
		return false, nil
	}
	s.rooms[room.RoomID] = *room
	return true, nil
}

func (s *Store) EnsureChatListEntries(_ context.Context, entries []models.ChatListEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		key := entryKey{e.OwnerID, e.RoomID}
		if _, ok := s.entries[key]; !ok {
			s.entries[key] = e
		}
	}
	return nil
}

func (s *Store) CountChatListEntries(_ context.Context, roomID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.entries {
		if key.room == roomID {
			n++
		}
	}
	return n, nil
}

func (s *Store) GetChatListEntry(_ context.Context, ownerID, roomID string) (*models.ChatListEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[entryKey{ownerID, roomID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &entry, nil
}

func (s *Store) ListChatListEntries(_ context.Context, ownerID string) ([]models.ChatListEntry, error) {
	s.mu.Lock()
	out := make([]models.ChatListEntry, 0)
	for key, e := range s.entries {
		if key.owner == ownerID {
			out = append(out, e)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.RoomCreatedAt.Equal(b.RoomCreatedAt) {
			return a.RoomCreatedAt.Before(b.RoomCreatedAt)
		}
		return a.RoomID < b.RoomID
	})
	return out, nil
}

func (s *Store) MarkChatListSeen(_ context.Context, ownerID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entryKey{ownerID, roomID}
	entry, ok := s.entries[key]
	if !ok {
		return models.ErrNotFound
	}
	entry.Seen = true
	s.entries[key] = entry
	return nil
}

func (s *Store) DeleteChatListEntry(_ context.Context, ownerID, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := entryKey{ownerID, roomID}
	if _, ok := s.entries[key]; !ok {
		return models.ErrNotFound
	}
	delete(s.entries, key)
	return nil
}

func (s *Store) GetAlias(_ context.Context, roomID, counterpartID string) (*models.Alias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alias, ok := s.aliases[aliasKey{roomID, counterpartID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &alias, nil
}

func (s *Store) PutAliasIfAbsent(_ context.Context, alias *models.Alias) (*models.Alias, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := aliasKey{alias.RoomID, alias.CounterpartID}
	if existing, ok := s.aliases[key]; ok {
		return &existing, nil
	}
	for k, other := range s.aliases {
		if k.room == alias.RoomID && other.Pseudonym == alias.Pseudonym {
			return nil, models.ErrConflict
		}
	}
	s.aliases[key] = *alias
	stored := *alias
	return &stored, nil
}

func (s *Store) ListAliases(_ context.Context, roomID string) ([]models.Alias, error) {
	s.mu.Lock()
	out := make([]models.Alias, 0, 2)
	for k, a := range s.aliases {
		if k.room == roomID {
			out = append(out, a)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AppendMessage(_ context.Context, msg *models.Message, project storage.Projection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	room, ok := s.rooms[msg.RoomID]
	if !ok {
		return models.ErrNotFound
	}
	if msg.CreatedAt.Before(room.LastMessageAt) {
		msg.CreatedAt = room.LastMessageAt
	}
	msg.Seq = room.LastSeq + 1
	room.LastSeq = msg.Seq
	room.LastMessageAt = msg.CreatedAt

	var projected []models.ChatListEntry
	if project != nil {
		projected = project(&room, msg)
	}

	s.rooms[room.RoomID] = room
	s.messages[room.RoomID] = append(s.messages[room.RoomID], *msg)
	for _, e := range projected {
		s.entries[entryKey{e.OwnerID, e.RoomID}] = e
	}
	return nil
}

func (s *Store) ListMessages(_ context.Context, roomID string, afterSeq int64, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The log is dense: the message with Seq n sits at index n-1.
	log := s.messages[roomID]
	start := int(afterSeq)
	if start < 0 {
		start = 0
	}
	if start >= len(log) {
		return []models.Message{}, nil
	}
	end := len(log)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]models.Message, end-start)
	copy(out, log[start:end])
	return out, nil
}

func (s *Store) ListMedia(_ context.Context, roomID string) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	for _, msg := range s.messages[roomID] {
		if msg.ImageRef != "" {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *Store) CreateInvite(_ context.Context, token *models.InviteToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[token.TokenID]; ok {
		return models.ErrConflict
	}
	s.invites[token.TokenID] = *token
	return nil
}

func (s *Store) GetInvite(_ context.Context, tokenID string) (*models.InviteToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.invites[tokenID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &token, nil
}

func (s *Store) ClaimInvite(_ context.Context, tokenID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.invites[tokenID]
	if !ok {
		return models.ErrNotFound
	}
	if token.RedeemedAt != nil {
		return models.ErrConflict
	}
	token.RedeemedAt = &at
	s.invites[tokenID] = token
	return nil
}

func (s *Store) ReleaseInvite(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.invites[tokenID]
	if !ok {
		return models.ErrNotFound
	}
	token.RedeemedAt = nil
	s.invites[tokenID] = token
	return nil
}

func (s *Store) DeleteExpiredInvites(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, token := range s.invites {
		if token.ExpiresAt.Before(now) {
			delete(s.invites, id)
			n++
		}
	}
	return n, nil
}
