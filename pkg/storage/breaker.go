package storage

import (
	"fmt"
	"sync/atomic"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/dustin/go-humanize"
)

// Breaker is a byte budget for in-flight search memory. Searches reserve
// the memory their partial aggregations hold and release it once the
// response is built. A reservation that would exceed the limit fails with a
// *domain.CircuitBreakingError.
//
// Breaker is safe for concurrent use.
type Breaker struct {
	limit   int64
	inUse   atomic.Int64
	tripped atomic.Int64
}

// NewBreaker creates a breaker with the given limit in bytes. A limit of 0
// or less disables the breaker.
func NewBreaker(limit int64) *Breaker {
	return &Breaker{limit: limit}
}

// ParseBreakerLimit parses a human size such as "64MiB" or "500kb".
func ParseBreakerLimit(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid breaker limit %q: %w", s, err)
	}
	return int64(n), nil
}

// Limit returns the configured limit in bytes.
func (b *Breaker) Limit() int64 {
	return b.limit
}

// InUse returns the currently reserved bytes.
func (b *Breaker) InUse() int64 {
	return b.inUse.Load()
}

// Tripped returns how many reservations were refused.
func (b *Breaker) Tripped() int64 {
	return b.tripped.Load()
}

// Reserve reserves n bytes for label.
func (b *Breaker) Reserve(n int64, label string) error {
	if b == nil || b.limit <= 0 || n <= 0 {
		return nil
	}
	for {
		current := b.inUse.Load()
		wanted := current + n
		if wanted > b.limit {
			b.tripped.Add(1)
			return &domain.CircuitBreakingError{
				Label:       label,
				ByteLimit:   b.limit,
				BytesWanted: wanted,
			}
		}
		if b.inUse.CompareAndSwap(current, wanted) {
			return nil
		}
	}
}

// Release returns n previously reserved bytes.
func (b *Breaker) Release(n int64) {
	if b == nil || b.limit <= 0 || n <= 0 {
		return
	}
	for {
		current := b.inUse.Load()
		next := current - n
		if next < 0 {
			next = 0
		}
		if b.inUse.CompareAndSwap(current, next) {
			return
		}
	}
}
