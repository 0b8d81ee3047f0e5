package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, ChunkFrame([]byte("a")), time.Second))
	require.NoError(t, q.Enqueue(ctx, ChunkFrame([]byte("b")), time.Second))

	f1, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), f1.Data)

	f2, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), f2.Data)
}

func TestQueueDequeueTimeout(t *testing.T) {
	q := New(1)
	_, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestQueueCloseDrainsBufferedFrameFirst(t *testing.T) {
	q := New(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, ChunkFrame([]byte("last")), time.Second))
	q.Close(nil)

	f, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("last"), f.Data)

	_, err = q.Dequeue(ctx, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueueCloseWithCause(t *testing.T) {
	q := New(1)
	cause := errors.New("link lost")
	q.Close(cause)

	_, err := q.Dequeue(context.Background(), time.Second)
	assert.ErrorIs(t, err, cause)
}

func TestQueueEnqueueAfterCloseFails(t *testing.T) {
	q := New(1)
	q.Close(nil)
	err := q.Enqueue(context.Background(), ChunkFrame(nil), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	q := New(1)
	q.Close(nil)
	assert.NotPanics(t, func() { q.Close(errors.New("ignored")) })
	assert.True(t, q.Closed())
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewRegistry()
	q1 := r.Open("req-1", 1)
	q2 := r.Open("req-2", 1)
	assert.Equal(t, 2, r.Len())

	r.CloseAll(errors.New("reconnect grace expired"))

	assert.True(t, q1.Closed())
	assert.True(t, q2.Closed())
	assert.Equal(t, 0, r.Len())

	_, ok := r.Get("req-1")
	assert.False(t, ok)
}

func TestRegistryCloseAndRemove(t *testing.T) {
	r := NewRegistry()
	q := r.Open("req-1", 1)
	r.CloseAndRemove("req-1", nil)
	assert.True(t, q.Closed())
	_, ok := r.Get("req-1")
	assert.False(t, ok)
}
