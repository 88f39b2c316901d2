package chatlist

import (
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Watcher streams snapshots of one owner's chat list.
type Watcher struct {
	C <-chan []models.ChatListEntry

	cancel context.CancelFunc
	feed   storage.Feed
	done   chan struct{}
	once   sync.Once
}

// Watch delivers the current chat list, then a fresh snapshot after every
// change announced for the owner. Bursts of changes may be coalesced into
// one snapshot.
func (a *Aggregator) Watch(ctx context.Context, ownerID string) (*Watcher, error) {
	feed, err := a.broker.Subscribe(ctx, storage.ChatsChannel(ownerID))
	if err != nil {
		return nil, err
	}

	initial, err := a.ListChats(ctx, ownerID)
	if err != nil {
		_ = feed.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan []models.ChatListEntry, 1)
	w := &Watcher{
		C:      out,
		cancel: cancel,
		feed:   feed,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(w.done)
		defer close(out)
		defer feed.Close()

		snapshot, send := initial, true
		for {
			if send {
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case _, ok := <-feed.C():
				if !ok {
					return
				}
			}
			drain(feed.C())

			next, err := a.ListChats(ctx, ownerID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("owner_id", ownerID).Msg("chat-list refresh failed")
				send = false
				continue
			}
			snapshot, send = next, true
		}
	}()

	return w, nil
}

// drain discards notifications that are already queued.
func drain(ch <-chan []byte) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() {
	w.once.Do(func() {
		w.cancel()
		_ = w.feed.Close()
	})
	<-w.done
}
