package messagelog

import (
	"anonchat/backend/internal/models"
	"anonchat/backend/internal/storage"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Subscription yields a room's full history followed by live messages, in
// log order, until it is closed.
type Subscription struct {
	C <-chan models.Message

	roomID string
	cancel context.CancelFunc
	feed   storage.Feed
	done   chan struct{}
	once   sync.Once
	err    error
}

// Subscribe starts a subscription on the room. The live feed is attached
// before history is read, so no message falls between the two. Feed
// payloads are treated as wake-ups: messages are always read from the log
// after the last delivered sequence number, so a lossy feed cannot leave
// a gap or a duplicate.
func (l *Log) Subscribe(ctx context.Context, roomID string) (*Subscription, error) {
	if _, err := l.rooms.GetRoom(ctx, roomID); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", roomID, err)
	}
	feed, err := l.broker.Subscribe(ctx, storage.RoomChannel(roomID))
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", roomID, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan models.Message)
	sub := &Subscription{
		C:      out,
		roomID: roomID,
		cancel: cancel,
		feed:   feed,
		done:   make(chan struct{}),
	}
	go sub.run(ctx, l.messages, out)
	return sub, nil
}

func (s *Subscription) run(ctx context.Context, store storage.MessageStore, out chan<- models.Message) {
	defer close(s.done)
	defer close(out)
	defer s.feed.Close()

	var lastSeq int64

	send := func(msg models.Message) bool {
		select {
		case out <- msg:
			lastSeq = msg.Seq
			return true
		case <-ctx.Done():
			return false
		}
	}

	catchUp := func() bool {
		msgs, err := store.ListMessages(ctx, s.roomID, lastSeq, 0)
		if err != nil {
			if ctx.Err() == nil {
				s.err = err
				log.Warn().Err(err).Str("room_id", s.roomID).Msg("subscription back-fill failed")
			}
			return false
		}
		for _, msg := range msgs {
			if !send(msg) {
				return false
			}
		}
		return true
	}

	if !catchUp() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-s.feed.C():
			if !ok {
				if ctx.Err() == nil {
					s.err = fmt.Errorf("%w: live feed for %s closed", models.ErrUpstreamUnavailable, s.roomID)
				}
				return
			}
			// A notification only says the log grew. The feed may have
			// dropped payloads behind the ones still queued, so the store
			// is read back by sequence after every wake-up.
			drain(s.feed.C())
			if !catchUp() {
				return
			}
		}
	}
}

// drain discards the notifications already queued on ch.
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

// Close stops delivery and waits for the subscription to wind down. The
// log itself is unaffected.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		_ = s.feed.Close()
	})
	<-s.done
}

// Err reports why delivery stopped, once C is closed. It is nil after a
// regular Close or context cancellation.
func (s *Subscription) Err() error {
	<-s.done
	return s.err
}
