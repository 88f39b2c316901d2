package memstore

import (
	"context"
	"sync"

	"anonchat/backend/internal/storage"
)

const feedBuffer = 256

// Broker fans published payloads out to in-process subscribers. A
// subscriber whose buffer is full misses the payload but still has the
// queued ones to wake it.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[*feed]struct{}
}

var _ storage.Broker = (*Broker)(nil)

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[*feed]struct{})}
}

func (b *Broker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for f := range b.subs[channel] {
		data := make([]byte, len(payload))
		copy(data, payload)
		select {
		case f.ch <- data:
		default:
		}
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (storage.Feed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f := &feed{broker: b, channel: channel, ch: make(chan []byte, feedBuffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*feed]struct{})
	}
	b.subs[channel][f] = struct{}{}
	return f, nil
}

type feed struct {
	broker  *Broker
	channel string
	ch      chan []byte
	once    sync.Once
}

func (f *feed) C() <-chan []byte { return f.ch }

func (f *feed) Close() error {
	f.once.Do(func() {
		b := f.broker
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[f.channel], f)
		if len(b.subs[f.channel]) == 0 {
			delete(b.subs, f.channel)
		}
		// Publish holds the same lock, so no send can race this close.
		close(f.ch)
	})
	return nil
}
