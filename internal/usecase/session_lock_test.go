package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLockerReleasesOnce(t *testing.T) {
	sl := NewSessionLocker()

	unlock, err := sl.Lock(context.Background(), "web:1")
	require.NoError(t, err)
	assert.Equal(t, 1, sl.ActiveCount())

	unlock()
	unlock()
	assert.Equal(t, 0, sl.ActiveCount())
}

func TestSessionLockerQueuesSameSession(t *testing.T) {
	sl := NewSessionLocker()
	first, err := sl.Lock(context.Background(), "web:1")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		trace []string
		done  = make(chan struct{})
	)
	record := func(s string) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	}
	go func() {
		defer close(done)
		second, err := sl.Lock(context.Background(), "web:1")
		if !assert.NoError(t, err) {
			return
		}
		record("second")
		second()
	}()

	time.Sleep(30 * time.Millisecond)
	record("first")
	first()
	<-done

	assert.Equal(t, []string{"first", "second"}, trace)
	assert.Equal(t, 0, sl.ActiveCount())
}

func TestSessionLockerIndependentSessions(t *testing.T) {
	sl := NewSessionLocker()
	held, err := sl.Lock(context.Background(), "web:1")
	require.NoError(t, err)
	defer held()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := sl.Lock(ctx, "tui:local")
	require.NoError(t, err, "a different session must not wait")
	other()
}

func TestSessionLockerGivesUpWithContext(t *testing.T) {
	sl := NewSessionLocker()
	held, err := sl.Lock(context.Background(), "cli:ask")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sl.Lock(ctx, "cli:ask")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	held()
	assert.Equal(t, 0, sl.ActiveCount())

	again, err := sl.Lock(context.Background(), "cli:ask")
	require.NoError(t, err)
	again()
}
