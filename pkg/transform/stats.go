package transform

import "time"

// IndexerState is the state of the run loop of a transform
type IndexerState string

const (
	IndexerStarted  IndexerState = "started"
	IndexerIndexing IndexerState = "indexing"
	IndexerStopping IndexerState = "stopping"
	IndexerStopped  IndexerState = "stopped"
	IndexerAborting IndexerState = "aborting"
)

// TaskState is the externally visible state of a transform
type TaskState string

const (
	TaskStarted TaskState = "started"
	TaskStopped TaskState = "stopped"
	TaskFailed  TaskState = "failed"
)

// IndexerStats counts the work of a transform. It is owned by the goroutine
// running the transform's cycles; readers get copies.
type IndexerStats struct {
	NumPages           int64 `json:"pages_processed" msgpack:"pages"`
	NumInputDocuments  int64 `json:"documents_processed" msgpack:"input_docs"`
	NumOutputDocuments int64 `json:"documents_indexed" msgpack:"output_docs"`
	NumInvocations     int64 `json:"trigger_count" msgpack:"invocations"`
	IndexTimeMillis    int64 `json:"index_time_in_ms" msgpack:"index_time"`
	SearchTimeMillis   int64 `json:"search_time_in_ms" msgpack:"search_time"`
	IndexTotal         int64 `json:"index_total" msgpack:"index_total"`
	SearchTotal        int64 `json:"search_total" msgpack:"search_total"`
	IndexFailures      int64 `json:"index_failures" msgpack:"index_failures"`
	SearchFailures     int64 `json:"search_failures" msgpack:"search_failures"`
}

// IncrementNumDocuments adds to the number of source documents processed
func (s *IndexerStats) IncrementNumDocuments(n int64) {
	s.NumInputDocuments += n
}

// MarkStartSearch counts a search
func (s *IndexerStats) MarkStartSearch() {
	s.SearchTotal++
}

// MarkEndSearch records how long a search took
func (s *IndexerStats) MarkEndSearch(took time.Duration) {
	s.SearchTimeMillis += took.Milliseconds()
}

// MarkStartIndexing counts a bulk request
func (s *IndexerStats) MarkStartIndexing() {
	s.IndexTotal++
}

// MarkEndIndexing records how long a bulk request took
func (s *IndexerStats) MarkEndIndexing(took time.Duration) {
	s.IndexTimeMillis += took.Milliseconds()
}

// CheckpointStats describes one checkpoint in the stats API
type CheckpointStats struct {
	Checkpoint     int64     `json:"checkpoint"`
	Timestamp      int64     `json:"timestamp_millis,omitempty"`
	TimeUpperBound int64     `json:"time_upper_bound_millis,omitempty"`
	Position       string    `json:"position,omitempty"`
	Progress       *Progress `json:"checkpoint_progress,omitempty"`
}

// CheckpointingInfo describes the last completed and the in-progress checkpoint
type CheckpointingInfo struct {
	Last             CheckpointStats  `json:"last"`
	Next             *CheckpointStats `json:"next,omitempty"`
	OperationsBehind int64            `json:"operations_behind,omitempty"`
}

// Stats is the stats API view of a transform
type Stats struct {
	ID                    string            `json:"id"`
	State                 TaskState         `json:"state"`
	IndexerState          IndexerState      `json:"indexer_state"`
	Reason                string            `json:"reason,omitempty"`
	ProgressPercent       *float64          `json:"progress_percent,omitempty"`
	Node                  string            `json:"node,omitempty"`
	AssignmentExplanation string            `json:"assignment_explanation,omitempty"`
	Checkpointing         CheckpointingInfo `json:"checkpointing"`
	Indexer               IndexerStats      `json:"stats"`
}
