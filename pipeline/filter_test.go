package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_PassesItemsInOrder(t *testing.T) {
	src := &scriptedSource{results: []fetchResult{
		{item: makeItem(0, "a")},
		{item: makeItem(1, "b")},
		{item: makeItem(2, "c")},
	}}
	f := NewFilter(src, nil)
	ctx := context.Background()

	for want := int64(0); want < 3; want++ {
		it, err := f.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, it.Offset)
	}

	_, err := f.Next(ctx)
	assert.ErrorIs(t, err, ErrSourceClosed)
	assert.Equal(t, int64(0), f.ReceiveErrors())
}

func TestFilter_DropsTransportErrors(t *testing.T) {
	transportErr := errors.New("broker hiccup")
	src := &scriptedSource{results: []fetchResult{
		{err: transportErr},
		{item: makeItem(0, "a")},
		{err: transportErr},
		{err: transportErr},
		{item: makeItem(1, "b")},
	}}
	f := NewFilter(src, nil)
	ctx := context.Background()

	it, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), it.Offset)

	it, err = f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), it.Offset)

	_, err = f.Next(ctx)
	assert.ErrorIs(t, err, ErrSourceClosed)
	assert.Equal(t, int64(3), f.ReceiveErrors())
}

func TestFilter_SourceClosedPassesThrough(t *testing.T) {
	f := NewFilter(&scriptedSource{}, nil)

	_, err := f.Next(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestFilter_ContextCancelled(t *testing.T) {
	f := NewFilter(&blockingSource{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.Next(ctx)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancellation")
	}
	assert.Equal(t, int64(0), f.ReceiveErrors())
}
