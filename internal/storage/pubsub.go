package storage

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// feedBuffer is the per-subscription queue depth.
const feedBuffer = 256

func (s *Service) Publish(ctx context.Context, channel string, payload []byte) error {
	return translate(s.Redis.Publish(ctx, channel, payload).Err())
}

func (s *Service) Subscribe(ctx context.Context, channel string) (Feed, error) {
	pubsub := s.Redis.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so that nothing published
	// after Subscribe returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, translate(err)
	}

	f := &redisFeed{
		pubsub: pubsub,
		out:    make(chan []byte, feedBuffer),
		done:   make(chan struct{}),
	}
	go f.pump()
	return f, nil
}

type redisFeed struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}
	once   sync.Once
}

func (f *redisFeed) pump() {
	defer close(f.out)
	ch := f.pubsub.Channel()
	for {
		select {
		case <-f.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case f.out <- []byte(msg.Payload):
			case <-f.done:
				return
			}
		}
	}
}

func (f *redisFeed) C() <-chan []byte { return f.out }

func (f *redisFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.pubsub.Close()
	})
	return err
}
