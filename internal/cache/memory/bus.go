// Package memory provides an in-process signal bus and price cache for
// single-node runs without Redis.
package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// Bus implements domain.SignalBus in memory. Pub/sub delivery drops
// messages for subscribers whose buffer is full; streams keep at most
// maxLen entries.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     uint64
	maxLen  int
	notify  chan struct{}
}

// NewBus creates a Bus. maxLen <= 0 keeps 10000 stream entries.
func NewBus(maxLen int) *Bus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &Bus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
		notify:  make(chan struct{}),
	}
}

func matches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, subs := range b.subs {
		if !matches(pattern, channel) {
			continue
		}
		for _, ch := range subs {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel that closes when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	msgs := append(b.streams[stream], domain.StreamMessage{ID: strconv.FormatUint(b.seq, 10), Payload: payload})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// StreamRead returns up to count entries after lastID ("0" or "" reads from
// the start, "$" only new entries). It waits up to block for new entries
// when none are pending.
func (b *Bus) StreamRead(ctx context.Context, stream string, lastID string, count int, block time.Duration) ([]domain.StreamMessage, error) {
	if lastID == "$" {
		b.mu.Lock()
		lastID = strconv.FormatUint(b.seq, 10)
		b.mu.Unlock()
	}
	after, _ := strconv.ParseUint(lastID, 10, 64)

	var deadline <-chan time.Time
	if block > 0 {
		t := time.NewTimer(block)
		defer t.Stop()
		deadline = t.C
	}
	for {
		b.mu.Lock()
		var out []domain.StreamMessage
		for _, m := range b.streams[stream] {
			id, _ := strconv.ParseUint(m.ID, 10, 64)
			if id <= after {
				continue
			}
			out = append(out, m)
			if count > 0 && len(out) == count {
				break
			}
		}
		wait := b.notify
		b.mu.Unlock()

		if len(out) > 0 || block <= 0 {
			return out, nil
		}
		select {
		case <-wait:
		case <-deadline:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

var _ domain.SignalBus = (*Bus)(nil)
