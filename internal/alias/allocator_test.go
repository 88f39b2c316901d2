package alias_test

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"anonchat/backend/internal/alias"
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/config"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

var pseudonymPattern = regexp.MustCompile(`^(.+) (\d{4})$`)

func TestAllocateFormat(t *testing.T) {
	store := memstore.New()
	a := alias.NewAllocator(store, clock.Fake(t0)).WithRand(rand.New(rand.NewPCG(7, 7)))

	name, err := a.Allocate(context.Background(), "a_b", "b")
	require.NoError(t, err)

	m := pseudonymPattern.FindStringSubmatch(name)
	require.NotNil(t, m, "unexpected pseudonym %q", name)
	assert.Contains(t, config.AliasPrefixes, m[1])
}

func TestAllocateIsStable(t *testing.T) {
	store := memstore.New()
	a := alias.NewAllocator(store, clock.Fake(t0))
	ctx := context.Background()

	first, err := a.Allocate(ctx, "a_b", "b")
	require.NoError(t, err)
	again, err := a.Allocate(ctx, "a_b", "b")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	looked, err := a.Lookup(ctx, "a_b", "b")
	require.NoError(t, err)
	assert.Equal(t, first, looked)

	_, err = a.Lookup(ctx, "a_b", "a")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAllocateConcurrentSameKey(t *testing.T) {
	store := memstore.New()
	a := alias.NewAllocator(store, clock.Fake(t0))
	ctx := context.Background()

	const callers = 32
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name, err := a.Allocate(ctx, "a_b", "b")
			assert.NoError(t, err)
			results[i] = name
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestAllocateUniqueWithinRoom(t *testing.T) {
	store := memstore.New()
	a := alias.NewAllocator(store, clock.Fake(t0)).WithRand(rand.New(rand.NewPCG(1, 1)))
	ctx := context.Background()

	first, err := a.Allocate(ctx, "a_b", "a")
	require.NoError(t, err)
	second, err := a.Allocate(ctx, "a_b", "b")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

// collidingStore rejects every non-fallback pseudonym.
type collidingStore struct {
	*memstore.Store
	mu       sync.Mutex
	attempts []string
}

func (s *collidingStore) PutAliasIfAbsent(ctx context.Context, a *models.Alias) (*models.Alias, error) {
	s.mu.Lock()
	s.attempts = append(s.attempts, a.Pseudonym)
	s.mu.Unlock()
	if !strings.HasPrefix(a.Pseudonym, config.AliasFallbackName+"-") {
		return nil, models.ErrConflict
	}
	return s.Store.PutAliasIfAbsent(ctx, a)
}

func TestAllocateWidensThenFallsBack(t *testing.T) {
	store := &collidingStore{Store: memstore.New()}
	a := alias.NewAllocator(store, clock.Fake(t0))

	name, err := a.Allocate(context.Background(), "a_b", "b")
	require.NoError(t, err)
	assert.Regexp(t, `^Anonymous-[0-9a-f]{8}$`, name)

	wide := regexp.MustCompile(` \d{6}$`)
	narrow := regexp.MustCompile(` \d{4}$`)
	var narrowCount, wideCount int
	for _, p := range store.attempts {
		switch {
		case wide.MatchString(p):
			wideCount++
		case narrow.MatchString(p):
			narrowCount++
		}
	}
	assert.LessOrEqual(t, narrowCount, config.AliasAttempts)
	assert.LessOrEqual(t, wideCount, config.AliasAttempts)
	assert.Positive(t, wideCount, "suffix is widened before falling back")
}

type mockAliasStore struct{ mock.Mock }

func (m *mockAliasStore) GetAlias(ctx context.Context, roomID, counterpartID string) (*models.Alias, error) {
	args := m.Called(ctx, roomID, counterpartID)
	if a := args.Get(0); a != nil {
		return a.(*models.Alias), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAliasStore) PutAliasIfAbsent(ctx context.Context, a *models.Alias) (*models.Alias, error) {
	args := m.Called(ctx, a)
	if stored := args.Get(0); stored != nil {
		return stored.(*models.Alias), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAliasStore) ListAliases(ctx context.Context, roomID string) ([]models.Alias, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).([]models.Alias), args.Error(1)
}

func TestAllocateUpstreamFailure(t *testing.T) {
	store := new(mockAliasStore)
	store.On("GetAlias", mock.Anything, "a_b", "b").Return(nil, models.ErrUpstreamUnavailable)

	a := alias.NewAllocator(store, clock.Fake(t0))
	_, err := a.Allocate(context.Background(), "a_b", "b")

	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	store.AssertNotCalled(t, "PutAliasIfAbsent", mock.Anything, mock.Anything)
}

func TestAllocateListFailure(t *testing.T) {
	store := new(mockAliasStore)
	store.On("GetAlias", mock.Anything, "a_b", "b").Return(nil, models.ErrNotFound)
	store.On("ListAliases", mock.Anything, "a_b").Return([]models.Alias(nil), models.ErrUpstreamUnavailable)

	a := alias.NewAllocator(store, clock.Fake(t0))
	_, err := a.Allocate(context.Background(), "a_b", "b")

	assert.ErrorIs(t, err, models.ErrUpstreamUnavailable)
	store.AssertNotCalled(t, "PutAliasIfAbsent", mock.Anything, mock.Anything)
}

func TestAllocateReturnsRaceWinner(t *testing.T) {
	store := new(mockAliasStore)
	store.On("GetAlias", mock.Anything, "a_b", "b").Return(nil, models.ErrNotFound)
	store.On("ListAliases", mock.Anything, "a_b").Return([]models.Alias{}, nil)
	store.On("PutAliasIfAbsent", mock.Anything, mock.AnythingOfType("*models.Alias")).
		Return(&models.Alias{RoomID: "a_b", CounterpartID: "b", Pseudonym: "Golden Eagle 4242"}, nil)

	a := alias.NewAllocator(store, clock.Fake(t0))
	name, err := a.Allocate(context.Background(), "a_b", "b")

	require.NoError(t, err)
	assert.Equal(t, "Golden Eagle 4242", name)
	store.AssertExpectations(t)
}

func TestAllocateValidation(t *testing.T) {
	a := alias.NewAllocator(memstore.New(), clock.Fake(t0))
	_, err := a.Allocate(context.Background(), "", "b")
	assert.ErrorIs(t, err, models.ErrValidation)
}
