package transform

import "fmt"

// Audit messages
const (
	msgReducePageSize     = "Insufficient memory for search, reducing number of buckets per search from [%d] to [%d]"
	msgLowPageSizeFailure = "Insufficient memory for search after repeated page size reductions to [%d], unable to continue pivot, please simplify job or increase heap size on data nodes."
	msgChangeDetection    = "Failed to detect changed groups, falling back to a full recompute of checkpoint [%d]: %v"
	msgFinishedCheckpoint = "Finished indexing for transform checkpoint [%d]."
	msgFinishedBatch      = "Finished indexing all data, stopping transform."
	msgStarted            = "Transform started."
	msgStopped            = "Transform stopped."
	msgCreated            = "Created transform."
	msgFailed             = "Transform failed: %s"
	msgSearchFailed       = "Search failed, will retry on the next trigger: %v"
	msgBulkFailed         = "Failed to index documents into [%s]: %s"
)

// ReducePageSizeMessage is audited when a search ran out of memory and the page size shrinks
func ReducePageSizeMessage(from, to int) string {
	return fmt.Sprintf(msgReducePageSize, from, to)
}

// LowPageSizeFailureMessage is the failure reason when the page size cannot shrink further
func LowPageSizeFailureMessage(pageSize int) string {
	return fmt.Sprintf(msgLowPageSizeFailure, pageSize)
}

// ChangeDetectionFailedMessage is audited when change detection fails
func ChangeDetectionFailedMessage(checkpoint int64, err error) string {
	return fmt.Sprintf(msgChangeDetection, checkpoint, err)
}

// FinishedCheckpointMessage is audited when a checkpoint completes
func FinishedCheckpointMessage(checkpoint int64) string {
	return fmt.Sprintf(msgFinishedCheckpoint, checkpoint)
}

// FinishedBatchMessage is audited when a batch transform completes
func FinishedBatchMessage() string { return msgFinishedBatch }

// StartedMessage is audited when a transform starts
func StartedMessage() string { return msgStarted }

// StoppedMessage is audited when a transform stops
func StoppedMessage() string { return msgStopped }

// CreatedMessage is audited when a transform is created
func CreatedMessage() string { return msgCreated }

// FailedMessage is audited when a transform fails
func FailedMessage(reason string) string {
	return fmt.Sprintf(msgFailed, reason)
}

// SearchFailedMessage is audited when a search fails with a retryable error
func SearchFailedMessage(err error) string {
	return fmt.Sprintf(msgSearchFailed, err)
}

// BulkFailedMessage is audited when a bulk write reports failed items
func BulkFailedMessage(dest, detail string) string {
	return fmt.Sprintf(msgBulkFailed, dest, detail)
}
