// Package chat is the entry point used by the HTTP and WebSocket layers.
// It authorises the caller for room-scoped operations and decorates chat
// lists with pseudonyms and presence.
package chat

import (
	"anonchat/backend/internal/alias"
	"anonchat/backend/internal/chatlist"
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/identity"
	"anonchat/backend/internal/messagelog"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/room"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

type Service struct {
	Identities *identity.Registry
	Aliases    *alias.Allocator
	Rooms      *room.Resolver
	Log        *messagelog.Log
	Lists      *chatlist.Aggregator
}

func NewService(identities *identity.Registry, aliases *alias.Allocator, rooms *room.Resolver, messages *messagelog.Log, lists *chatlist.Aggregator) *Service {
	return &Service{
		Identities: identities,
		Aliases:    aliases,
		Rooms:      rooms,
		Log:        messages,
		Lists:      lists,
	}
}

// Build wires the core components on top of one storage backend.
func Build(store storage.Storage, clk clock.Clock) *Service {
	identities := identity.NewRegistry(store, clk)
	aliases := alias.NewAllocator(store, clk)
	lists := chatlist.NewAggregator(store, store, clk)
	rooms := room.NewResolver(store, store, lists, aliases, clk)
	messages := messagelog.New(store, store, store, lists, clk)
	return NewService(identities, aliases, rooms, messages, lists)
}

// StartChat opens (or reopens) the room between selfID and counterpartID.
func (s *Service) StartChat(ctx context.Context, selfID, counterpartID string) (*models.ChatView, error) {
	r, err := s.Rooms.GetOrCreateRoom(ctx, selfID, counterpartID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, r, selfID)
}

// OpenChat returns what the presentation layer needs to render the room
// and marks it seen for selfID.
func (s *Service) OpenChat(ctx context.Context, roomID, selfID string) (*models.ChatView, error) {
	r, err := s.Rooms.Authorize(ctx, roomID, selfID)
	if err != nil {
		return nil, err
	}
	view, err := s.view(ctx, r, selfID)
	if err != nil {
		return nil, err
	}
	// A deleted entry stays deleted until the next message arrives.
	if err := s.Lists.MarkSeen(ctx, selfID, roomID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	return view, nil
}

func (s *Service) Send(ctx context.Context, roomID, selfID string, content models.Content) (*models.Message, error) {
	if _, err := s.Rooms.Authorize(ctx, roomID, selfID); err != nil {
		return nil, err
	}
	return s.Log.Append(ctx, roomID, selfID, content)
}

func (s *Service) History(ctx context.Context, roomID, selfID string, afterSeq int64, limit int) ([]models.Message, error) {
	if _, err := s.Rooms.Authorize(ctx, roomID, selfID); err != nil {
		return nil, err
	}
	return s.Log.History(ctx, roomID, afterSeq, limit)
}

// Media lists the image messages of the room, oldest first.
func (s *Service) Media(ctx context.Context, roomID, selfID string) ([]models.Message, error) {
	if _, err := s.Rooms.Authorize(ctx, roomID, selfID); err != nil {
		return nil, err
	}
	return s.Log.Media(ctx, roomID)
}

// UpdateProfile changes selfID's own display name and bio.
func (s *Service) UpdateProfile(ctx context.Context, selfID, displayName, bio string) (*models.Identity, error) {
	return s.Identities.UpdateProfile(ctx, selfID, displayName, bio)
}

func (s *Service) Subscribe(ctx context.Context, roomID, selfID string) (*messagelog.Subscription, error) {
	if _, err := s.Rooms.Authorize(ctx, roomID, selfID); err != nil {
		return nil, err
	}
	return s.Log.Subscribe(ctx, roomID)
}

func (s *Service) MarkSeen(ctx context.Context, roomID, selfID string) error {
	return s.Lists.MarkSeen(ctx, selfID, roomID)
}

// Delete removes the room from selfID's chat list only.
func (s *Service) Delete(ctx context.Context, roomID, selfID string) error {
	return s.Lists.DeleteEntry(ctx, selfID, roomID)
}

// ListChats returns selfID's chat list with each counterpart shown by
// pseudonym.
func (s *Service) ListChats(ctx context.Context, selfID string) ([]models.ChatSummary, error) {
	entries, err := s.Lists.ListChats(ctx, selfID)
	if err != nil {
		return nil, err
	}
	return s.summarise(ctx, entries)
}

func (s *Service) summarise(ctx context.Context, entries []models.ChatListEntry) ([]models.ChatSummary, error) {
	out := make([]models.ChatSummary, 0, len(entries))
	for _, e := range entries {
		pseudonym, err := s.pseudonym(ctx, e.RoomID, e.CounterpartID)
		if err != nil {
			return nil, err
		}
		who, err := s.presence(ctx, e.CounterpartID)
		if err != nil {
			return nil, err
		}
		out = append(out, models.ChatSummary{
			ChatListEntry: e,
			Pseudonym:     pseudonym,
			AvatarColor:   who.color,
			Online:        who.online,
		})
	}
	return out, nil
}

func (s *Service) view(ctx context.Context, r *models.Room, selfID string) (*models.ChatView, error) {
	counterpart := r.Counterpart(selfID)
	pseudonym, err := s.pseudonym(ctx, r.RoomID, counterpart)
	if err != nil {
		return nil, err
	}
	who, err := s.presence(ctx, counterpart)
	if err != nil {
		return nil, err
	}
	return &models.ChatView{
		RoomID:        r.RoomID,
		CounterpartID: counterpart,
		Pseudonym:     pseudonym,
		AvatarColor:   who.color,
		Bio:           who.bio,
		Online:        who.online,
	}, nil
}

// pseudonym reads the stored alias and only allocates one when the room
// has none yet for the counterpart.
func (s *Service) pseudonym(ctx context.Context, roomID, counterpartID string) (string, error) {
	name, err := s.Aliases.Lookup(ctx, roomID, counterpartID)
	if errors.Is(err, models.ErrNotFound) {
		name, err = s.Aliases.Allocate(ctx, roomID, counterpartID)
	}
	if err != nil {
		return "", fmt.Errorf("pseudonym for %s: %w", roomID, err)
	}
	return name, nil
}

type counterpartInfo struct {
	color  string
	bio    string
	online bool
}

// presence returns what a counterpart may see of an identity. One that no
// longer resolves is shown offline.
func (s *Service) presence(ctx context.Context, id string) (counterpartInfo, error) {
	who, err := s.Identities.Resolve(ctx, id)
	switch {
	case err == nil:
		return counterpartInfo{color: who.AvatarColor, bio: who.Bio, online: s.Identities.IsOnline(who)}, nil
	case errors.Is(err, models.ErrNotFound):
		log.Debug().Str("identity_id", id).Msg("counterpart not found, showing offline")
		return counterpartInfo{color: models.AvatarColorFor(id)}, nil
	default:
		return counterpartInfo{}, err
	}
}
