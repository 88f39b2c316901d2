// Package room maps a pair of identities onto their single shared room.
package room

import (
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Separator joins the two participant IDs of a room ID.
const Separator = "_"

// ChatLists initialises the participants' chat-list projections of a room.
type ChatLists interface {
	EnsureEntries(ctx context.Context, room *models.Room) error
	HasEntries(ctx context.Context, room *models.Room) (bool, error)
}

// Aliases allocates per-room pseudonyms.
type Aliases interface {
	Allocate(ctx context.Context, roomID, counterpartID string) (string, error)
}

type Resolver struct {
	rooms      storage.RoomStore
	identities storage.IdentityStore
	lists      ChatLists
	aliases    Aliases
	clock      clock.Clock
}

func NewResolver(rooms storage.RoomStore, identities storage.IdentityStore, lists ChatLists, aliases Aliases, clk clock.Clock) *Resolver {
	return &Resolver{
		rooms:      rooms,
		identities: identities,
		lists:      lists,
		aliases:    aliases,
		clock:      clk,
	}
}

// Canonicalize derives the room ID for an unordered pair: the smaller ID
// first, joined by Separator. It is pure and commutative.
func Canonicalize(a, b string) (string, error) {
	switch {
	case a == "" || b == "":
		return "", fmt.Errorf("%w: both participants are required", models.ErrValidation)
	case a == b:
		return "", fmt.Errorf("%w: cannot open a room with yourself", models.ErrValidation)
	case strings.Contains(a, Separator) || strings.Contains(b, Separator):
		return "", fmt.Errorf("%w: identity ids must not contain %q", models.ErrValidation, Separator)
	}
	if b < a {
		a, b = b, a
	}
	return a + Separator + b, nil
}

// GetOrCreateRoom returns the pair's room, creating it and both chat-list
// entries on first contact. Any number of concurrent calls for the same pair
// leave exactly one room and two entries behind.
func (r *Resolver) GetOrCreateRoom(ctx context.Context, selfID, counterpartID string) (*models.Room, error) {
	roomID, err := Canonicalize(selfID, counterpartID)
	if err != nil {
		return nil, err
	}

	room, err := r.rooms.GetRoom(ctx, roomID)
	switch {
	case err == nil:
		complete, err := r.lists.HasEntries(ctx, room)
		if err != nil {
			return nil, fmt.Errorf("check chat lists for %s: %w", roomID, err)
		}
		if complete {
			return room, nil
		}
		log.Warn().Str("room_id", roomID).Msg("room is missing chat-list entries, repairing")
	case errors.Is(err, models.ErrNotFound):
		room, err = r.create(ctx, roomID, selfID, counterpartID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}

	if err := r.ensureEntries(ctx, room); err != nil {
		return nil, err
	}

	for _, participant := range room.Participants() {
		if _, err := r.aliases.Allocate(ctx, room.RoomID, participant); err != nil {
			return nil, fmt.Errorf("allocate alias in %s: %w", room.RoomID, err)
		}
	}
	return room, nil
}

func (r *Resolver) create(ctx context.Context, roomID, selfID, counterpartID string) (*models.Room, error) {
	for _, id := range []string{selfID, counterpartID} {
		if _, err := r.identities.GetIdentity(ctx, id); err != nil {
			return nil, fmt.Errorf("resolve participant %s: %w", id, err)
		}
	}

	a, b := selfID, counterpartID
	if b < a {
		a, b = b, a
	}
	now := r.clock.Now()
	candidate := &models.Room{
		RoomID:        roomID,
		ParticipantA:  a,
		ParticipantB:  b,
		CreatedAt:     now,
		LastMessageAt: now,
	}

	created, err := r.rooms.CreateRoomIfAbsent(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("create room %s: %w", roomID, err)
	}
	if created {
		log.Info().Str("room_id", roomID).Msg("room created")
		return candidate, nil
	}

	// Lost the race: the winner's record is authoritative.
	winner, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("re-read room %s: %w", roomID, err)
	}
	return winner, nil
}

func (r *Resolver) ensureEntries(ctx context.Context, room *models.Room) error {
	var err error
	for attempt := 1; attempt <= config.ChatListInitAttempts; attempt++ {
		if err = r.lists.EnsureEntries(ctx, room); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		log.Warn().Err(err).Str("room_id", room.RoomID).Int("attempt", attempt).Msg("chat-list initialisation failed")
	}
	return fmt.Errorf("initialise chat lists for %s: %w", room.RoomID, err)
}

// Get returns the room by ID.
func (r *Resolver) Get(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := r.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return room, nil
}

// Authorize returns the room if selfID is one of its participants.
func (r *Resolver) Authorize(ctx context.Context, roomID, selfID string) (*models.Room, error) {
	room, err := r.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.HasParticipant(selfID) {
		return nil, fmt.Errorf("%w: %s is not a participant of %s", models.ErrForbidden, selfID, roomID)
	}
	return room, nil
}
