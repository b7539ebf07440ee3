package indexer

import (
	"context"
	"fmt"
)

// advanceCheckpoint requests the next checkpoint and adopts it together with
// the groups that changed since the held one. On failure the held checkpoint
// stays.
func (ix *Indexer) advanceCheckpoint(ctx context.Context) error {
	next, err := ix.deps.Checkpoints.CreateCheckpoint(ctx, ix.checkpoint)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint for transform [%s]: %w", ix.config.ID, err)
	}

	// nothing was indexed yet, so there is nothing to compare against
	if ix.checkpoint.IsEmpty() {
		ix.logger.Debug().Int64("checkpoint", next.Checkpoint).Msg("adopting first checkpoint")
		ix.checkpoint = next
		ix.changedGroups = nil
		return nil
	}

	changed := ix.detectChanges(ctx, ix.checkpoint, next)
	ix.checkpoint = next
	ix.changedGroups = changed
	ix.logger.Debug().
		Int64("checkpoint", next.Checkpoint).
		Int("changed_groups", len(changed)).
		Msg("adopted checkpoint")
	return nil
}
