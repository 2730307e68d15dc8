package optlock

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_VersionParity(t *testing.T) {
	var l Lock
	assert.Equal(t, uint64(0), l.Version())

	l.Lock()
	assert.Equal(t, uint64(1), l.Version()&1)
	l.Unlock()
	assert.Equal(t, uint64(2), l.Version())
}

func TestLock_ReadOptimistic(t *testing.T) {
	var l Lock
	calls := 0
	err := l.Read(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	opt, fb := l.Stats()
	assert.Equal(t, int64(1), opt)
	assert.Equal(t, int64(0), fb)
}

func TestLock_ReadPropagatesError(t *testing.T) {
	var l Lock
	sentinel := errors.New("boom")
	assert.ErrorIs(t, l.Read(func() error { return sentinel }), sentinel)
}

func TestLock_ReadRetriesOnConcurrentWrite(t *testing.T) {
	var l Lock
	calls := 0
	err := l.Read(func() error {
		calls++
		if calls == 1 {
			// Simulate a writer completing during the first attempt.
			l.Lock()
			l.Unlock()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestLock_FallbackUnderWriteLoad(t *testing.T) {
	var l Lock
	calls := 0
	err := l.Read(func() error {
		calls++
		if calls <= DefaultRetries {
			l.Lock()
			l.Unlock()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, DefaultRetries+1, calls)

	_, fb := l.Stats()
	assert.Equal(t, int64(1), fb)
}

func TestLock_ConcurrentReadersSeeConsistentPairs(t *testing.T) {
	var l Lock
	var a, b atomic.Int64

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := int64(1); i <= 1000; i++ {
			l.Lock()
			a.Store(i)
			b.Store(i)
			l.Unlock()
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				var x, y int64
				_ = l.Read(func() error {
					x = a.Load()
					y = b.Load()
					return nil
				})
				assert.Equal(t, x, y)
			}
		}()
	}
	wg.Wait()
}

func TestLock_RLockExcludesWriters(t *testing.T) {
	var l Lock
	l.RLock()

	var wrote atomic.Bool
	done := make(chan struct{})
	go func() {
		l.Lock()
		wrote.Store(true)
		l.Unlock()
		close(done)
	}()

	assert.False(t, wrote.Load())
	assert.Equal(t, uint64(0), l.Version())
	l.RUnlock()
	<-done
	assert.True(t, wrote.Load())
}
