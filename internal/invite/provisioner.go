// Package invite issues and redeems shareable invite links. Redeeming a
// link mints a guest identity and opens a room with the issuer.
package invite

import (
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Identities interface {
	Resolve(ctx context.Context, id string) (*models.Identity, error)
	RegisterGuest(ctx context.Context) (*models.Identity, error)
}

type Rooms interface {
	GetOrCreateRoom(ctx context.Context, selfID, counterpartID string) (*models.Room, error)
}

type Provisioner struct {
	store      storage.InviteStore
	identities Identities
	rooms      Rooms
	clock      clock.Clock
	singleUse  bool
}

// NewProvisioner builds a Provisioner. With singleUse set, each token opens
// at most one room; otherwise a token may be redeemed until it expires.
func NewProvisioner(store storage.InviteStore, identities Identities, rooms Rooms, clk clock.Clock, singleUse bool) *Provisioner {
	return &Provisioner{
		store:      store,
		identities: identities,
		rooms:      rooms,
		clock:      clk,
		singleUse:  singleUse,
	}
}

// Issue creates a token for ownerID that expires after config.InviteTTL.
func (p *Provisioner) Issue(ctx context.Context, ownerID string) (*models.InviteToken, error) {
	if _, err := p.identities.Resolve(ctx, ownerID); err != nil {
		return nil, fmt.Errorf("issue invite: %w", err)
	}

	now := p.clock.Now()
	token := &models.InviteToken{
		TokenID:   uuid.New().String(),
		IssuerID:  ownerID,
		CreatedAt: now,
		ExpiresAt: now.Add(config.InviteTTL),
	}
	if err := p.store.CreateInvite(ctx, token); err != nil {
		return nil, fmt.Errorf("issue invite: %w", err)
	}
	log.Info().Str("issuer_id", ownerID).Time("expires_at", token.ExpiresAt).Msg("invite issued")
	return token, nil
}

// Redeem mints a guest identity and opens a room between the guest and the
// token's issuer. Nothing is created for an unknown or expired token.
func (p *Provisioner) Redeem(ctx context.Context, tokenID string) (*models.Identity, *models.Room, error) {
	if tokenID == "" {
		return nil, nil, fmt.Errorf("%w: empty invite token", models.ErrValidation)
	}
	token, err := p.store.GetInvite(ctx, tokenID)
	if err != nil {
		return nil, nil, fmt.Errorf("redeem invite: %w", err)
	}
	if token.Expired(p.clock.Now()) {
		return nil, nil, fmt.Errorf("redeem invite: %w", models.ErrExpired)
	}
	if p.singleUse {
		if err := p.store.ClaimInvite(ctx, tokenID, p.clock.Now()); err != nil {
			return nil, nil, fmt.Errorf("redeem invite: %w", err)
		}
	}

	guest, room, err := p.open(ctx, token.IssuerID)
	if err != nil {
		if p.singleUse {
			p.release(ctx, tokenID)
		}
		return nil, nil, fmt.Errorf("redeem invite: %w", err)
	}
	log.Info().Str("issuer_id", token.IssuerID).Str("guest_id", guest.ID).Str("room_id", room.RoomID).Msg("invite redeemed")
	return guest, room, nil
}

func (p *Provisioner) open(ctx context.Context, issuerID string) (*models.Identity, *models.Room, error) {
	guest, err := p.identities.RegisterGuest(ctx)
	if err != nil {
		return nil, nil, err
	}
	room, err := p.rooms.GetOrCreateRoom(ctx, guest.ID, issuerID)
	if err != nil {
		return nil, nil, err
	}
	return guest, room, nil
}

// release hands a claimed token back after a failed redemption. It runs
// even if ctx was cancelled, which is a common cause of the failure.
func (p *Provisioner) release(ctx context.Context, tokenID string) {
	if err := p.store.ReleaseInvite(context.WithoutCancel(ctx), tokenID); err != nil {
		log.Warn().Err(err).Str("token_id", tokenID).Msg("invite release failed")
	}
}

// PurgeExpired deletes every token that has expired.
func (p *Provisioner) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := p.store.DeleteExpiredInvites(ctx, p.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge invites: %w", err)
	}
	return n, nil
}
