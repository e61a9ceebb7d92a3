package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestTransport returns a transport whose backoff waits are recorded
// instead of slept.
func newTestTransport(config Config) (*Transport, *[]time.Duration) {
	tr := New(config)
	var waits []time.Duration
	tr.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	tr.randFloat = func() float64 { return 0 }
	return tr, &waits
}

func TestBackoffRanges(t *testing.T) {
	tr := New(Config{})

	tr.randFloat = func() float64 { return 0 }
	assert.Equal(t, 1*time.Second, tr.Backoff(1))
	assert.Equal(t, 2*time.Second, tr.Backoff(2))
	// min(1s*2^(n-1), 30s): the cap is first reached at n=6, so n=5 is still 16s.
	assert.Equal(t, 16*time.Second, tr.Backoff(5))
	assert.Equal(t, 30*time.Second, tr.Backoff(6))
	assert.Equal(t, 30*time.Second, tr.Backoff(40))

	tr.randFloat = func() float64 { return 0.999999 }
	assert.Less(t, tr.Backoff(1), 1100*time.Millisecond)
	assert.Less(t, tr.Backoff(6), 33*time.Second)
	assert.GreaterOrEqual(t, tr.Backoff(6), 30*time.Second)
}

func TestBackoffMonotonic(t *testing.T) {
	tr := New(Config{})
	tr.randFloat = func() float64 { return 0.5 }

	prev := time.Duration(0)
	for n := 1; n <= 12; n++ {
		d := tr.Backoff(n)
		assert.GreaterOrEqual(t, d, prev, "backoff(%d)", n)
		prev = d
	}
}

func TestPerformSuccess(t *testing.T) {
	tr, _ := newTestTransport(Config{})

	body, err := tr.Perform(context.Background(), "op-1", func(ctx context.Context) ([]byte, error) {
		return []byte("ok"), nil
	}, 3)

	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 0, tr.QueueLen())
}

func TestPerformNonNetworkErrorIsNotRetried(t *testing.T) {
	tr, waits := newTestTransport(Config{})
	var calls int32

	_, err := tr.Perform(context.Background(), "op-1", func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("invalid api key")
	}, 3)

	require.Error(t, err)
	assert.Equal(t, "invalid api key", err.Error())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, *waits)
}

func TestPerformRetryExhaustion(t *testing.T) {
	tr, waits := newTestTransport(Config{})
	var calls int32

	_, err := tr.Perform(context.Background(), "op-1", func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("network down")
	}, 3)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "one direct attempt plus three retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *waits)
	assert.Equal(t, 0, tr.QueueLen())
}

func TestPerformRecoversOnRetry(t *testing.T) {
	tr, _ := newTestTransport(Config{})
	var calls int32

	body, err := tr.Perform(context.Background(), "op-1", func(ctx context.Context) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, errors.New("fetch failed")
		}
		return []byte("finally"), nil
	}, 3)

	require.NoError(t, err)
	assert.Equal(t, "finally", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPerformZeroRetries(t *testing.T) {
	tr, _ := newTestTransport(Config{})

	_, err := tr.Perform(context.Background(), "op-1", func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("network down")
	}, 0)

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestPerformOfflineQueuesUntilOnline(t *testing.T) {
	tr, _ := newTestTransport(Config{StartOffline: true})
	var calls int32

	var transitions []bool
	tr.Connectivity.Subscribe(func(online bool) { transitions = append(transitions, online) })

	done := make(chan error, 1)
	go func() {
		_, err := tr.Perform(context.Background(), "op-1", func(ctx context.Context) ([]byte, error) {
			atomic.AddInt32(&calls, 1)
			return []byte("ok"), nil
		}, 3)
		done <- err
	}()

	require.Eventually(t, func() bool { return tr.QueueLen() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	select {
	case <-done:
		t.Fatal("operation settled while offline")
	default:
	}

	tr.SetOnline(true)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("operation did not settle after going online")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, []bool{true}, transitions)
}

func TestClearRejectsQueued(t *testing.T) {
	tr, _ := newTestTransport(Config{StartOffline: true})

	done := make(chan error, 2)
	for _, id := range []string{"a", "b"} {
		go func(id string) {
			_, err := tr.Perform(context.Background(), id, func(ctx context.Context) ([]byte, error) {
				return []byte("never"), nil
			}, 3)
			done <- err
		}(id)
	}
	require.Eventually(t, func() bool { return tr.QueueLen() == 2 }, time.Second, 5*time.Millisecond)

	tr.Clear()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrQueueCleared)
		case <-time.After(time.Second):
			t.Fatal("queued operation was not rejected")
		}
	}
	assert.Equal(t, 0, tr.QueueLen())
}

func TestOneQueuedRetryPerOperationID(t *testing.T) {
	tr, _ := newTestTransport(Config{StartOffline: true})

	first := make(chan error, 1)
	go func() {
		_, err := tr.Perform(context.Background(), "same", func(ctx context.Context) ([]byte, error) {
			return nil, nil
		}, 3)
		first <- err
	}()
	require.Eventually(t, func() bool { return tr.QueueLen() == 1 }, time.Second, 5*time.Millisecond)

	go func() {
		_, _ = tr.Perform(context.Background(), "same", func(ctx context.Context) ([]byte, error) {
			return nil, nil
		}, 3)
	}()

	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("first operation was not superseded")
	}
	assert.Equal(t, 1, tr.QueueLen())
	tr.Clear()
}

func TestPerformContextCancelRemovesQueued(t *testing.T) {
	tr, _ := newTestTransport(Config{StartOffline: true})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := tr.Perform(ctx, "op-1", func(ctx context.Context) ([]byte, error) {
			return nil, nil
		}, 3)
		done <- err
	}()
	require.Eventually(t, func() bool { return tr.QueueLen() == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled operation did not return")
	}
	assert.Equal(t, 0, tr.QueueLen())
}

func TestSetOnlineOnlyPublishesTransitions(t *testing.T) {
	tr := New(Config{})
	var transitions []bool
	tr.Connectivity.Subscribe(func(online bool) { transitions = append(transitions, online) })

	tr.SetOnline(true)
	tr.SetOnline(false)
	tr.SetOnline(false)
	tr.SetOnline(true)

	assert.Equal(t, []bool{false, true}, transitions)
	assert.True(t, tr.IsOnline())
}
