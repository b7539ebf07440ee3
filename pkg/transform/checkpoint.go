package transform

// Checkpoint is a consistent view of the sources: the time upper bound
// documents were selected by and the partition sequence numbers at the time
// it was taken. Checkpoint 0 is the empty checkpoint of a transform that
// never ran.
type Checkpoint struct {
	TransformID    string             `json:"transform_id" msgpack:"transform_id"`
	Checkpoint     int64              `json:"checkpoint" msgpack:"checkpoint"`
	Timestamp      int64              `json:"timestamp_millis" msgpack:"timestamp"`
	TimeUpperBound int64              `json:"time_upper_bound_millis,omitempty" msgpack:"time_upper_bound"`
	Partitions     map[string][]int64 `json:"partitions,omitempty" msgpack:"partitions"`
}

// EmptyCheckpoint returns the checkpoint of a transform that never ran
func EmptyCheckpoint(transformID string) *Checkpoint {
	return &Checkpoint{TransformID: transformID}
}

// IsEmpty reports whether this is the empty checkpoint
func (c *Checkpoint) IsEmpty() bool {
	return c == nil || c.Checkpoint == 0
}

// SameSources reports whether both checkpoints saw identical partition
// sequence numbers, i.e. nothing was written in between.
func (c *Checkpoint) SameSources(other *Checkpoint) bool {
	if c.IsEmpty() || other.IsEmpty() {
		return false
	}
	if len(c.Partitions) != len(other.Partitions) {
		return false
	}
	for coll, seqs := range c.Partitions {
		otherSeqs, ok := other.Partitions[coll]
		if !ok || len(otherSeqs) != len(seqs) {
			return false
		}
		for i := range seqs {
			if seqs[i] != otherSeqs[i] {
				return false
			}
		}
	}
	return true
}

// OperationsBehind counts the writes next has seen that old has not
func OperationsBehind(old, next *Checkpoint) int64 {
	if next == nil {
		return 0
	}
	var newOps, oldOps int64
	for _, seqs := range next.Partitions {
		for _, s := range seqs {
			newOps += s
		}
	}
	if old != nil {
		for coll, seqs := range old.Partitions {
			if _, ok := next.Partitions[coll]; !ok {
				continue
			}
			for _, s := range seqs {
				oldOps += s
			}
		}
	}
	if newOps < oldOps {
		return 0
	}
	return newOps - oldOps
}
