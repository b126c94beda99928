package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDeliversToAllSubscribers(t *testing.T) {
	b := NewMemory()

	var first, second [][]byte
	b.Subscribe("topic-a", "sub-a", func(_ context.Context, p []byte) error {
		first = append(first, p)
		return nil
	})
	b.Subscribe("topic-a", "sub-b", func(_ context.Context, p []byte) error {
		second = append(second, p)
		return nil
	})
	b.Subscribe("topic-b", "sub-c", func(_ context.Context, p []byte) error {
		t.Fatal("wrong topic delivered")
		return nil
	})

	require.NoError(t, b.Publish(context.Background(), "topic-a", []byte("hello")))

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, []byte("hello"), first[0])
}

func TestMemoryRedelivery(t *testing.T) {
	b := NewMemory()

	var n int
	b.Subscribe("topic-a", "sub-a", func(context.Context, []byte) error {
		n++
		return nil
	})

	// At-least-once: the same payload may arrive any number of times.
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(context.Background(), "topic-a", []byte("dup")))
	}
	assert.Equal(t, 3, n)
}

func TestMemorySwallowsHandlerErrors(t *testing.T) {
	b := NewMemory()
	b.Subscribe("topic-a", "sub-a", func(context.Context, []byte) error {
		return errors.New("boom")
	})
	assert.NoError(t, b.Publish(context.Background(), "topic-a", nil))
}
