// Package alias hands out the per-room pseudonyms that stand in for a
// counterpart's real display name.
package alias

import (
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Allocator struct {
	store    storage.AliasStore
	clock    clock.Clock
	prefixes []string

	mu   sync.Mutex
	rand *rand.Rand
}

func NewAllocator(store storage.AliasStore, clk clock.Clock) *Allocator {
	return &Allocator{
		store:    store,
		clock:    clk,
		prefixes: config.AliasPrefixes,
		rand:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// WithRand swaps the random source used to draw candidates.
func (a *Allocator) WithRand(src *rand.Rand) *Allocator {
	a.mu.Lock()
	a.rand = src
	a.mu.Unlock()
	return a
}

// Lookup returns the stored pseudonym for the counterpart in the room.
func (a *Allocator) Lookup(ctx context.Context, roomID, counterpartID string) (string, error) {
	stored, err := a.store.GetAlias(ctx, roomID, counterpartID)
	if err != nil {
		return "", fmt.Errorf("lookup alias: %w", err)
	}
	return stored.Pseudonym, nil
}

// Allocate returns the counterpart's pseudonym in the room, creating it on
// first use. Concurrent callers for the same key all get the first value
// that was committed. Collisions with other pseudonyms in the room are
// retried, first with a wider suffix and finally with a random fallback
// name, so allocation does not fail because the name space is crowded.
func (a *Allocator) Allocate(ctx context.Context, roomID, counterpartID string) (string, error) {
	if roomID == "" || counterpartID == "" {
		return "", fmt.Errorf("%w: room and counterpart are required", models.ErrValidation)
	}

	existing, err := a.store.GetAlias(ctx, roomID, counterpartID)
	if err == nil {
		return existing.Pseudonym, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", fmt.Errorf("allocate alias: %w", err)
	}

	others, err := a.store.ListAliases(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("allocate alias: %w", err)
	}
	taken := make(map[string]struct{}, len(others))
	for _, o := range others {
		taken[o.Pseudonym] = struct{}{}
	}

	rounds := []int{config.AliasDigits, config.AliasWideDigits}
	for _, digits := range rounds {
		for attempt := 0; attempt < config.AliasAttempts; attempt++ {
			candidate := a.candidate(digits)
			if _, ok := taken[candidate]; ok {
				continue
			}
			name, err := a.put(ctx, roomID, counterpartID, candidate)
			if errors.Is(err, models.ErrConflict) {
				taken[candidate] = struct{}{}
				continue
			}
			return name, err
		}
		log.Debug().Str("room_id", roomID).Int("digits", digits).Msg("alias candidates exhausted, widening")
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		name, err := a.put(ctx, roomID, counterpartID, fallbackName())
		if errors.Is(err, models.ErrConflict) {
			continue
		}
		return name, err
	}
}

func (a *Allocator) put(ctx context.Context, roomID, counterpartID, pseudonym string) (string, error) {
	stored, err := a.store.PutAliasIfAbsent(ctx, &models.Alias{
		RoomID:        roomID,
		CounterpartID: counterpartID,
		Pseudonym:     pseudonym,
		CreatedAt:     a.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return "", err
		}
		return "", fmt.Errorf("store alias: %w", err)
	}
	return stored.Pseudonym, nil
}

func (a *Allocator) candidate(digits int) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	prefix := a.prefixes[a.rand.IntN(len(a.prefixes))]
	limit := 1
	for i := 0; i < digits; i++ {
		limit *= 10
	}
	return fmt.Sprintf("%s %0*d", prefix, digits, a.rand.IntN(limit))
}

func fallbackName() string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return config.AliasFallbackName + "-" + hex[:8]
}
