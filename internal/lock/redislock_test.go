package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/lock"
)

func newLocker(t *testing.T) lock.Locker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond}
}

func TestWithLockRunsCallback(t *testing.T) {
	locker := newLocker(t)
	ran := false
	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestWithLockPropagatesCallbackError(t *testing.T) {
	locker := newLocker(t)
	wantErr := errors.New("boom")
	err := locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestWithLockSerialisesHolders(t *testing.T) {
	locker := newLocker(t)
	var mu sync.Mutex
	var events []string

	release := make(chan struct{})
	firstHolding := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = locker.WithLock(context.Background(), "k", 5*time.Second, func(context.Context) error {
			mu.Lock()
			events = append(events, "first-start")
			mu.Unlock()
			close(firstHolding)
			<-release
			mu.Lock()
			events = append(events, "first-end")
			mu.Unlock()
			return nil
		})
	}()
	go func() {
		defer wg.Done()
		<-firstHolding
		_ = locker.WithLock(context.Background(), "k", 5*time.Second, func(context.Context) error {
			mu.Lock()
			events = append(events, "second")
			mu.Unlock()
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, []string{"first-start", "first-end", "second"}, events)
}

func TestWithLockHonoursContext(t *testing.T) {
	locker := newLocker(t)
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), "k", 5*time.Second, func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := locker.WithLock(ctx, "k", time.Second, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
