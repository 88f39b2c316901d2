package storage_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) *storage.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := storage.NewStorageService(db, rdb)
	require.NoError(t, s.Migrate())
	return s
}

func seedRoom(t *testing.T, s *storage.Service) *models.Room {
	t.Helper()
	room := &models.Room{RoomID: "a_b", ParticipantA: "a", ParticipantB: "b", CreatedAt: t0, LastMessageAt: t0}
	created, err := s.CreateRoomIfAbsent(context.Background(), room)
	require.NoError(t, err)
	require.True(t, created)
	return room
}

func TestIdentityRoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	identity := &models.Identity{DisplayName: "alice", CreatedAt: t0, LastSeenAt: t0}
	require.NoError(t, s.CreateIdentity(ctx, identity))
	require.NotEmpty(t, identity.ID)

	got, err := s.GetIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.DisplayName)
	assert.Equal(t, models.AvatarColorFor(identity.ID), got.AvatarColor)

	require.NoError(t, s.TouchIdentity(ctx, identity.ID, t0.Add(time.Minute)))
	got, err = s.GetIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.Equal(t0.Add(time.Minute)))

	require.NoError(t, s.UpdateIdentityProfile(ctx, identity.ID, "Alice", "hello there"))
	got, err = s.GetIdentity(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, "hello there", got.Bio)
	assert.ErrorIs(t, s.UpdateIdentityProfile(ctx, "ghost", "x", ""), models.ErrNotFound)

	assert.ErrorIs(t, s.TouchIdentity(ctx, "ghost", t0), models.ErrNotFound)
	_, err = s.GetIdentity(ctx, "ghost")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.CreateIdentity(ctx, &models.Identity{ID: identity.ID, DisplayName: "dup"}), models.ErrConflict)
}

func TestCreateRoomIfAbsent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedRoom(t, s)

	created, err := s.CreateRoomIfAbsent(ctx, &models.Room{RoomID: "a_b", ParticipantA: "a", ParticipantB: "b", CreatedAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.False(t, created, "second create must not win")

	room, err := s.GetRoom(ctx, "a_b")
	require.NoError(t, err)
	assert.True(t, room.CreatedAt.Equal(t0), "first creation time is kept")

	_, err = s.GetRoom(ctx, "x_y")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEnsureChatListEntries(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedRoom(t, s)

	entries := []models.ChatListEntry{
		{OwnerID: "a", RoomID: "a_b", CounterpartID: "b", UpdatedAt: t0, Seen: true, RoomCreatedAt: t0},
		{OwnerID: "b", RoomID: "a_b", CounterpartID: "a", UpdatedAt: t0, Seen: true, RoomCreatedAt: t0},
	}
	require.NoError(t, s.EnsureChatListEntries(ctx, entries))

	require.NoError(t, s.MarkChatListSeen(ctx, "a", "a_b"))
	// A repeated ensure must leave existing rows untouched.
	entries[0].LastMessagePreview = "overwritten?"
	require.NoError(t, s.EnsureChatListEntries(ctx, entries))

	count, err := s.CountChatListEntries(ctx, "a_b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	entry, err := s.GetChatListEntry(ctx, "a", "a_b")
	require.NoError(t, err)
	assert.Empty(t, entry.LastMessagePreview)

	require.NoError(t, s.DeleteChatListEntry(ctx, "a", "a_b"))
	assert.ErrorIs(t, s.DeleteChatListEntry(ctx, "a", "a_b"), models.ErrNotFound)
	assert.ErrorIs(t, s.MarkChatListSeen(ctx, "a", "a_b"), models.ErrNotFound)

	count, err = s.CountChatListEntries(ctx, "a_b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestListChatListEntriesOrder(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureChatListEntries(ctx, []models.ChatListEntry{
		{OwnerID: "a", RoomID: "a_c", CounterpartID: "c", UpdatedAt: t0, RoomCreatedAt: t0.Add(-time.Hour), Seen: true},
		{OwnerID: "a", RoomID: "a_b", CounterpartID: "b", UpdatedAt: t0, RoomCreatedAt: t0.Add(-2 * time.Hour), Seen: true},
		{OwnerID: "a", RoomID: "a_d", CounterpartID: "d", UpdatedAt: t0.Add(time.Minute), RoomCreatedAt: t0, Seen: false},
		{OwnerID: "b", RoomID: "a_b", CounterpartID: "a", UpdatedAt: t0, RoomCreatedAt: t0, Seen: true},
	}))

	entries, err := s.ListChatListEntries(ctx, "a")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a_d", entries[0].RoomID)
	assert.Equal(t, "a_b", entries[1].RoomID, "ties fall back to room creation time")
	assert.Equal(t, "a_c", entries[2].RoomID)
	assert.False(t, entries[0].Seen)
}

func TestPutAliasIfAbsent(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	stored, err := s.PutAliasIfAbsent(ctx, &models.Alias{RoomID: "a_b", CounterpartID: "b", Pseudonym: "Red Panda 0001"})
	require.NoError(t, err)
	assert.Equal(t, "Red Panda 0001", stored.Pseudonym)

	// Same key: the first value wins.
	stored, err = s.PutAliasIfAbsent(ctx, &models.Alias{RoomID: "a_b", CounterpartID: "b", Pseudonym: "Blue Falcon 0002"})
	require.NoError(t, err)
	assert.Equal(t, "Red Panda 0001", stored.Pseudonym)

	// Same pseudonym for another counterpart in the room.
	_, err = s.PutAliasIfAbsent(ctx, &models.Alias{RoomID: "a_b", CounterpartID: "a", Pseudonym: "Red Panda 0001"})
	assert.ErrorIs(t, err, models.ErrConflict)

	// Pseudonyms are scoped to the room.
	_, err = s.PutAliasIfAbsent(ctx, &models.Alias{RoomID: "b_c", CounterpartID: "c", Pseudonym: "Red Panda 0001"})
	require.NoError(t, err)

	aliases, err := s.ListAliases(ctx, "a_b")
	require.NoError(t, err)
	assert.Len(t, aliases, 1)

	_, err = s.GetAlias(ctx, "a_b", "a")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAppendMessage(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedRoom(t, s)

	project := func(room *models.Room, msg *models.Message) []models.ChatListEntry {
		return []models.ChatListEntry{
			{OwnerID: "a", RoomID: room.RoomID, CounterpartID: "b", LastMessagePreview: msg.Body, UpdatedAt: msg.CreatedAt, Seen: msg.SenderID == "a", RoomCreatedAt: room.CreatedAt},
			{OwnerID: "b", RoomID: room.RoomID, CounterpartID: "a", LastMessagePreview: msg.Body, UpdatedAt: msg.CreatedAt, Seen: msg.SenderID == "b", RoomCreatedAt: room.CreatedAt},
		}
	}

	first := &models.Message{MessageID: "m1", RoomID: "a_b", SenderID: "a", Body: "hi", CreatedAt: t0.Add(time.Second)}
	require.NoError(t, s.AppendMessage(ctx, first, project))
	assert.EqualValues(t, 1, first.Seq)

	// A timestamp behind the previous message is clamped forward.
	second := &models.Message{MessageID: "m2", RoomID: "a_b", SenderID: "b", Body: "yo", CreatedAt: t0}
	require.NoError(t, s.AppendMessage(ctx, second, project))
	assert.EqualValues(t, 2, second.Seq)
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))

	messages, err := s.ListMessages(ctx, "a_b", 0, 0)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].MessageID)
	assert.Equal(t, "m2", messages[1].MessageID)

	after, err := s.ListMessages(ctx, "a_b", 1, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "m2", after[0].MessageID)

	entryA, err := s.GetChatListEntry(ctx, "a", "a_b")
	require.NoError(t, err)
	assert.Equal(t, "yo", entryA.LastMessagePreview)
	assert.False(t, entryA.Seen)
	entryB, err := s.GetChatListEntry(ctx, "b", "a_b")
	require.NoError(t, err)
	assert.True(t, entryB.Seen)

	room, err := s.GetRoom(ctx, "a_b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, room.LastSeq)

	media, err := s.ListMedia(ctx, "a_b")
	require.NoError(t, err)
	assert.Empty(t, media)
	assert.NotNil(t, media)

	err = s.AppendMessage(ctx, &models.Message{MessageID: "m3", RoomID: "nope", SenderID: "a", Body: "x", CreatedAt: t0}, project)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListMedia(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedRoom(t, s)

	for i, m := range []models.Message{
		{MessageID: "m1", Body: "hi"},
		{MessageID: "m2", ImageRef: "img-1"},
		{MessageID: "m3", Body: "nice"},
		{MessageID: "m4", ImageRef: "img-2"},
	} {
		m.RoomID, m.SenderID, m.CreatedAt = "a_b", "a", t0.Add(time.Duration(i)*time.Second)
		require.NoError(t, s.AppendMessage(ctx, &m, nil))
	}

	media, err := s.ListMedia(ctx, "a_b")
	require.NoError(t, err)
	require.Len(t, media, 2)
	assert.Equal(t, "img-1", media[0].ImageRef)
	assert.EqualValues(t, 2, media[0].Seq)
	assert.Equal(t, "img-2", media[1].ImageRef)
	assert.EqualValues(t, 4, media[1].Seq)

	other, err := s.ListMedia(ctx, "x_y")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestInvites(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	live := &models.InviteToken{TokenID: "live", IssuerID: "a", CreatedAt: t0, ExpiresAt: t0.Add(24 * time.Hour)}
	stale := &models.InviteToken{TokenID: "stale", IssuerID: "a", CreatedAt: t0.Add(-48 * time.Hour), ExpiresAt: t0.Add(-24 * time.Hour)}
	require.NoError(t, s.CreateInvite(ctx, live))
	require.NoError(t, s.CreateInvite(ctx, stale))
	assert.ErrorIs(t, s.CreateInvite(ctx, live), models.ErrConflict)

	got, err := s.GetInvite(ctx, "live")
	require.NoError(t, err)
	assert.Nil(t, got.RedeemedAt)

	require.NoError(t, s.ClaimInvite(ctx, "live", t0.Add(time.Minute)))
	assert.ErrorIs(t, s.ClaimInvite(ctx, "live", t0.Add(2*time.Minute)), models.ErrConflict)
	assert.ErrorIs(t, s.ClaimInvite(ctx, "missing", t0), models.ErrNotFound)

	require.NoError(t, s.ReleaseInvite(ctx, "live"))
	got, err = s.GetInvite(ctx, "live")
	require.NoError(t, err)
	assert.Nil(t, got.RedeemedAt)
	require.NoError(t, s.ClaimInvite(ctx, "live", t0.Add(3*time.Minute)), "released token can be claimed again")
	assert.ErrorIs(t, s.ReleaseInvite(ctx, "missing"), models.ErrNotFound)

	purged, err := s.DeleteExpiredInvites(ctx, t0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, purged)
	_, err = s.GetInvite(ctx, "stale")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRedisBroker(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	feed, err := s.Subscribe(ctx, storage.RoomChannel("a_b"))
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, storage.RoomChannel("a_b"), []byte("one")))
	require.NoError(t, s.Publish(ctx, storage.RoomChannel("x_y"), []byte("other room")))
	require.NoError(t, s.Publish(ctx, storage.RoomChannel("a_b"), []byte("two")))

	for _, want := range []string{"one", "two"} {
		select {
		case got := <-feed.C():
			assert.Equal(t, want, string(got))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close(), "Close is idempotent")

	select {
	case _, ok := <-feed.C():
		assert.False(t, ok, "channel closes after Close")
	case <-time.After(2 * time.Second):
		t.Fatal("feed channel was not closed")
	}
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "room:a_b", storage.RoomChannel("a_b"))
	assert.Equal(t, "chats:a", storage.ChatsChannel("a"))
}
