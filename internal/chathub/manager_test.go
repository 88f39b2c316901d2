package chathub_test

import (
	"anonchat/backend/internal/chat"
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/clock"
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage/memstore"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubFixture struct {
	hub    *chathub.ManagerService
	svc    *chat.Service
	alice  *models.Identity
	bob    *models.Identity
	cancel context.CancelFunc
}

func startHub(t *testing.T) *hubFixture {
	t.Helper()
	svc := chat.Build(memstore.New(), clock.Fake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
	ctx, cancel := context.WithCancel(context.Background())

	alice, err := svc.Identities.Register(ctx, "Alice")
	require.NoError(t, err)
	bob, err := svc.Identities.Register(ctx, "Bob")
	require.NoError(t, err)

	hub := chathub.NewManagerService(svc)
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return &hubFixture{hub: hub, svc: svc, alice: alice, bob: bob, cancel: cancel}
}

func TestManager_RegisterSendsChatList(t *testing.T) {
	f := startHub(t)
	clientA := newMockClient(f.alice.ID)

	require.True(t, f.hub.Register(clientA))
	frame := clientA.waitFrame(t, models.FrameChats)
	assert.Empty(t, frame.Chats)

	f.hub.Unregister(clientA)
	clientA.waitClosed(t)
	clientA.AssertNumberOfCalls(t, "Close", 1)
}

func TestManager_OpenSendReceive(t *testing.T) {
	f := startHub(t)
	ctx := context.Background()

	view, err := f.svc.StartChat(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	clientA := newMockClient(f.alice.ID)
	clientB := newMockClient(f.bob.ID)
	require.True(t, f.hub.Register(clientA))
	require.True(t, f.hub.Register(clientB))

	f.hub.Dispatch(models.ClientFrame{Type: models.FrameOpen, RoomID: view.RoomID, SenderID: f.alice.ID})
	f.hub.Dispatch(models.ClientFrame{Type: models.FrameSend, RoomID: view.RoomID, Body: "hello", SenderID: f.alice.ID})

	got := clientA.waitFrame(t, models.FrameMessage)
	require.NotNil(t, got.Message)
	assert.Equal(t, "hello", got.Message.Body)
	assert.Equal(t, f.alice.ID, got.Message.SenderID)

	// Bob has not opened the room: he learns about it from his chat list.
	var unread models.ServerFrame
	for {
		unread = clientB.waitFrame(t, models.FrameChats)
		if len(unread.Chats) == 1 && unread.Chats[0].LastMessagePreview == "hello" {
			break
		}
	}
	assert.False(t, unread.Chats[0].Seen)
	assert.NotEqual(t, "Alice", unread.Chats[0].Pseudonym)

	// Opening replays history and marks the room seen.
	f.hub.Dispatch(models.ClientFrame{Type: models.FrameOpen, RoomID: view.RoomID, SenderID: f.bob.ID})
	replay := clientB.waitFrame(t, models.FrameMessage)
	assert.Equal(t, "hello", replay.Message.Body)

	entry, err := f.svc.Lists.ListChats(ctx, f.bob.ID)
	require.NoError(t, err)
	require.Len(t, entry, 1)
	assert.True(t, entry[0].Seen)
}

func TestManager_ErrorFrames(t *testing.T) {
	f := startHub(t)
	ctx := context.Background()

	eve, err := f.svc.Identities.Register(ctx, "Eve")
	require.NoError(t, err)
	view, err := f.svc.StartChat(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	clientE := newMockClient(eve.ID)
	require.True(t, f.hub.Register(clientE))

	f.hub.Dispatch(models.ClientFrame{Type: models.FrameOpen, RoomID: view.RoomID, SenderID: eve.ID})
	forbidden := clientE.waitFrame(t, models.FrameError)
	assert.Equal(t, view.RoomID, forbidden.RoomID)
	assert.Contains(t, forbidden.Error, models.ErrForbidden.Error())

	f.hub.Dispatch(models.ClientFrame{Type: "dance", SenderID: eve.ID})
	unknown := clientE.waitFrame(t, models.FrameError)
	assert.Contains(t, unknown.Error, "unknown frame type")

	f.hub.Dispatch(models.ClientFrame{Type: models.FrameSend, RoomID: view.RoomID, Body: "   ", SenderID: eve.ID})
	assert.Contains(t, clientE.waitFrame(t, models.FrameError).Error, models.ErrForbidden.Error())
}

func TestManager_ReplacesConnection(t *testing.T) {
	f := startHub(t)

	first := newMockClient(f.alice.ID)
	second := newMockClient(f.alice.ID)
	require.True(t, f.hub.Register(first))
	require.True(t, f.hub.Register(second))

	first.waitClosed(t)
	second.waitFrame(t, models.FrameChats)

	// A late unregister of the replaced client leaves the new one alone.
	f.hub.Unregister(first)
	f.hub.Dispatch(models.ClientFrame{Type: "ping", SenderID: f.alice.ID})
	second.waitFrame(t, models.FrameError)
}

func TestManager_CloseRoomStopsDelivery(t *testing.T) {
	f := startHub(t)
	ctx := context.Background()

	view, err := f.svc.StartChat(ctx, f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	clientA := newMockClient(f.alice.ID)
	require.True(t, f.hub.Register(clientA))
	f.hub.Dispatch(models.ClientFrame{Type: models.FrameOpen, RoomID: view.RoomID, SenderID: f.alice.ID})
	f.hub.Dispatch(models.ClientFrame{Type: models.FrameClose, RoomID: view.RoomID, SenderID: f.alice.ID})
	// Frames are handled in order, so the error below arrives after the close.
	f.hub.Dispatch(models.ClientFrame{Type: "sync", SenderID: f.alice.ID})
	clientA.waitFrame(t, models.FrameError)

	_, err = f.svc.Send(ctx, view.RoomID, f.bob.ID, models.Text("anyone?"))
	require.NoError(t, err)

	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case frame := <-clientA.send:
			assert.NotEqual(t, models.FrameMessage, frame.Type, "closed room still delivering")
		case <-deadline:
			return
		}
	}
}

func TestManager_ShutdownClosesClients(t *testing.T) {
	f := startHub(t)

	clientA := newMockClient(f.alice.ID)
	clientB := newMockClient(f.bob.ID)
	require.True(t, f.hub.Register(clientA))
	require.True(t, f.hub.Register(clientB))
	clientA.waitFrame(t, models.FrameChats)
	clientB.waitFrame(t, models.FrameChats)

	f.cancel()
	<-f.hub.Done()
	clientA.waitClosed(t)
	clientB.waitClosed(t)

	assert.False(t, f.hub.Register(newMockClient("late")))
	assert.False(t, f.hub.Dispatch(models.ClientFrame{Type: models.FrameSeen}))
}
