// Package identity resolves identities and tracks their presence.
package identity

import (
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GuestIDPrefix marks identities minted for invite visitors.
const GuestIDPrefix = "guest-"

type Registry struct {
	store storage.IdentityStore
	clock clock.Clock

	// mu guards rand, which is not safe for concurrent use.
	mu   sync.Mutex
	rand *rand.Rand
}

func NewRegistry(store storage.IdentityStore, clk clock.Clock) *Registry {
	return &Registry{
		store: store,
		clock: clk,
		rand:  rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithRand swaps the random source used for guest names.
func (r *Registry) WithRand(src *rand.Rand) *Registry {
	r.mu.Lock()
	r.rand = src
	r.mu.Unlock()
	return r
}

func (r *Registry) Resolve(ctx context.Context, id string) (*models.Identity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty identity id", models.ErrValidation)
	}
	identity, err := r.store.GetIdentity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve identity %s: %w", id, err)
	}
	return identity, nil
}

// Register creates a regular identity with a generated ID.
func (r *Registry) Register(ctx context.Context, displayName string) (*models.Identity, error) {
	displayName, err := cleanDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	return r.create(ctx, uuid.New().String(), displayName, false)
}

func cleanDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: display name is required", models.ErrValidation)
	}
	if utf8.RuneCountInString(name) > config.MaxDisplayNameRunes {
		return "", fmt.Errorf("%w: display name exceeds %d characters", models.ErrValidation, config.MaxDisplayNameRunes)
	}
	return name, nil
}

// RegisterGuest creates a throwaway identity for an invite visitor.
func (r *Registry) RegisterGuest(ctx context.Context) (*models.Identity, error) {
	id := GuestIDPrefix + uuid.New().String()
	r.mu.Lock()
	n := r.rand.IntN(10000)
	r.mu.Unlock()
	return r.create(ctx, id, fmt.Sprintf("Guest-%04d", n), true)
}

func (r *Registry) create(ctx context.Context, id, displayName string, guest bool) (*models.Identity, error) {
	now := r.clock.Now()
	identity := &models.Identity{
		ID:          id,
		DisplayName: displayName,
		AvatarColor: models.AvatarColorFor(id),
		IsGuest:     guest,
		LastSeenAt:  now,
		CreatedAt:   now,
	}
	if err := r.store.CreateIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}
	log.Info().Str("identity_id", id).Bool("guest", guest).Msg("identity registered")
	return identity, nil
}

// UpdateProfile replaces the identity's display name and bio and returns
// the stored identity. An empty bio clears it.
func (r *Registry) UpdateProfile(ctx context.Context, id, displayName, bio string) (*models.Identity, error) {
	displayName, err := cleanDisplayName(displayName)
	if err != nil {
		return nil, err
	}
	bio = strings.TrimSpace(bio)
	if utf8.RuneCountInString(bio) > config.MaxBioRunes {
		return nil, fmt.Errorf("%w: bio exceeds %d characters", models.ErrValidation, config.MaxBioRunes)
	}
	if err := r.store.UpdateIdentityProfile(ctx, id, displayName, bio); err != nil {
		return nil, fmt.Errorf("update profile %s: %w", id, err)
	}
	log.Info().Str("identity_id", id).Msg("profile updated")
	return r.Resolve(ctx, id)
}

// TouchPresence records that the identity is active now.
func (r *Registry) TouchPresence(ctx context.Context, id string) error {
	if err := r.store.TouchIdentity(ctx, id, r.clock.Now()); err != nil {
		return fmt.Errorf("touch presence %s: %w", id, err)
	}
	return nil
}

// IsOnline reports whether the identity was seen within the presence window.
func (r *Registry) IsOnline(identity *models.Identity) bool {
	if identity == nil || identity.LastSeenAt.IsZero() {
		return false
	}
	return r.clock.Now().Sub(identity.LastSeenAt) <= config.PresenceWindow
}

// Heartbeat touches presence immediately and then every interval until ctx
// is done. Failed touches are logged and do not stop the loop.
func (r *Registry) Heartbeat(ctx context.Context, id string, interval time.Duration) error {
	if interval <= 0 || interval > config.PresenceWindow {
		return fmt.Errorf("%w: heartbeat interval %s must be in (0, %s]", models.ErrValidation, interval, config.PresenceWindow)
	}

	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := r.TouchPresence(ctx, id); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("identity_id", id).Msg("presence heartbeat failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
