package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus(0)

	exact, err := b.Subscribe(ctx, "positions")
	require.NoError(t, err)
	wild, err := b.Subscribe(ctx, "pos*")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "positions", []byte("x")))
	require.NoError(t, b.Publish(ctx, "other", []byte("y")))

	assert.Equal(t, []byte("x"), <-exact)
	assert.Equal(t, []byte("x"), <-wild)
	assert.Empty(t, exact)

	cancel()
	_, ok := <-exact
	for ok {
		_, ok = <-exact
	}
}

func TestBus_Stream(t *testing.T) {
	ctx := context.Background()
	b := NewBus(2)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "intents", []byte(p)))
	}
	msgs, err := b.StreamRead(ctx, "intents", "0", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", string(msgs[0].Payload))

	more, err := b.StreamRead(ctx, "intents", msgs[1].ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, more)

	done := make(chan string, 1)
	go func() {
		got, _ := b.StreamRead(ctx, "intents", msgs[1].ID, 1, time.Second)
		if len(got) == 1 {
			done <- string(got[0].Payload)
		}
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.StreamAppend(ctx, "intents", []byte("d")))
	assert.Equal(t, "d", <-done)
}
