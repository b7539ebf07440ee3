package storage

import (
	"errors"
	"sync"
	"testing"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerReserveAndRelease(t *testing.T) {
	b := NewBreaker(100)

	require.NoError(t, b.Reserve(60, "a"))
	assert.Equal(t, int64(60), b.InUse())

	err := b.Reserve(50, "b")
	require.Error(t, err)

	var cbe *domain.CircuitBreakingError
	require.True(t, errors.As(err, &cbe))
	assert.Equal(t, int64(100), cbe.ByteLimit)
	assert.Equal(t, int64(110), cbe.BytesWanted)
	assert.Equal(t, "b", cbe.Label)
	assert.Equal(t, int64(1), b.Tripped())
	assert.Equal(t, int64(60), b.InUse())

	b.Release(60)
	assert.Equal(t, int64(0), b.InUse())
	require.NoError(t, b.Reserve(100, "c"))

	// over-release never goes negative
	b.Release(1000)
	assert.Equal(t, int64(0), b.InUse())
}

func TestBreakerDisabled(t *testing.T) {
	b := NewBreaker(0)
	assert.NoError(t, b.Reserve(1<<40, "x"))
	assert.Equal(t, int64(0), b.InUse())

	var nilBreaker *Breaker
	assert.NoError(t, nilBreaker.Reserve(10, "x"))
	nilBreaker.Release(10)
}

func TestBreakerConcurrent(t *testing.T) {
	b := NewBreaker(1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Reserve(100, "x") == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
	assert.Equal(t, int64(1000), b.InUse())
}

func TestParseBreakerLimit(t *testing.T) {
	n, err := ParseBreakerLimit("1KiB")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)

	n, err = ParseBreakerLimit("2 MB")
	require.NoError(t, err)
	assert.Equal(t, int64(2000000), n)

	n, err = ParseBreakerLimit("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = ParseBreakerLimit("lots")
	assert.Error(t, err)
}
