package indexer

import (
	"errors"
	"math"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/transform"
)

// MinimumPageSize is the smallest page size a transform may shrink to
const MinimumPageSize = 10

// ShrinkPageSize computes the page size to retry with after a search wanted
// bytesWanted of a byteLimit budget. The reduction is at least what the
// budget requires and grows with the page size.
func ShrinkPageSize(pageSize int, byteLimit, bytesWanted int64) int {
	reducingFactor := math.Min(
		float64(byteLimit)/float64(bytesWanted),
		1-(math.Log10(float64(pageSize))*0.1),
	)
	return int(math.Round(reducingFactor * float64(pageSize)))
}

// TryShrink handles a search error. Only a circuit breaker error anywhere in
// the error tree is handled: the page size shrinks and the caller retries the
// same page. Under MinimumPageSize the transform fails and a FatalError is
// returned. Other errors are returned unchanged with handled false.
func (ix *Indexer) TryShrink(err error) (int, bool, error) {
	var cbe *domain.CircuitBreakingError
	if !errors.As(err, &cbe) {
		return ix.pageSize, false, err
	}

	newPageSize := ShrinkPageSize(ix.pageSize, cbe.ByteLimit, cbe.BytesWanted)
	if newPageSize < MinimumPageSize {
		message := transform.LowPageSizeFailureMessage(ix.pageSize)
		ix.deps.Failer.FailIndexer(message)
		return ix.pageSize, true, &FatalError{Reason: message, Err: err}
	}

	message := transform.ReducePageSizeMessage(ix.pageSize, newPageSize)
	ix.deps.Auditor.Info(ix.config.ID, message)
	ix.logger.Info().
		Int("from", ix.pageSize).
		Int("to", newPageSize).
		Str("breaker", cbe.Label).
		Msg(message)
	if ix.deps.Metrics != nil {
		ix.deps.Metrics.PageSizeReduced(ix.config.ID, newPageSize)
	}
	ix.pageSize = newPageSize
	return newPageSize, true, nil
}
