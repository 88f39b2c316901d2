package chat

import (
	"anonchat/backend/internal/chatlist"
	"anonchat/backend/internal/models"
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// ChatsWatch streams decorated chat-list snapshots for one identity.
type ChatsWatch struct {
	C <-chan []models.ChatSummary

	watcher *chatlist.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// WatchChats delivers selfID's chat list now and after every change.
func (s *Service) WatchChats(ctx context.Context, selfID string) (*ChatsWatch, error) {
	ctx, cancel := context.WithCancel(ctx)
	w, err := s.Lists.Watch(ctx, selfID)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan []models.ChatSummary, 1)
	cw := &ChatsWatch{C: out, watcher: w, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(cw.done)
		defer close(out)
		for entries := range w.C {
			summaries, err := s.summarise(ctx, entries)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Str("identity_id", selfID).Msg("chat-list decoration failed")
				continue
			}
			select {
			case out <- summaries:
			case <-ctx.Done():
				return
			}
		}
	}()
	return cw, nil
}

func (cw *ChatsWatch) Close() {
	cw.once.Do(func() {
		cw.cancel()
		cw.watcher.Close()
	})
	<-cw.done
}
