package observable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_WatchDeliversCurrent(t *testing.T) {
	v := NewValue(false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := v.Watch(ctx)
	select {
	case got := <-ch:
		assert.False(t, got)
	case <-time.After(time.Second):
		t.Fatal("watch did not deliver current value")
	}

	require.True(t, v.Set(true))
	select {
	case got := <-ch:
		assert.True(t, got)
	case <-time.After(time.Second):
		t.Fatal("watch did not deliver update")
	}
}

func TestValue_SetSameValueIsNoop(t *testing.T) {
	v := NewValue("a")
	assert.False(t, v.Set("a"))
	assert.True(t, v.Set("b"))
	assert.Equal(t, "b", v.Get())
}

func TestValue_SlowWatcherSeesLatestOnly(t *testing.T) {
	v := NewValue(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := v.Watch(ctx)
	for i := 1; i <= 10; i++ {
		v.Set(i)
	}

	got := <-ch
	assert.Equal(t, 10, got)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected backlog value %d", extra)
	default:
	}
}

func TestValue_WatchClosedOnCancel(t *testing.T) {
	v := NewValue(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := v.Watch(ctx)
	<-ch
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	// Writers keep working after a watcher left.
	assert.True(t, v.Set(2))
}
