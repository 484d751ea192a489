package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mycelic/cogmem/internal/storeerr"
)

// CleanupCompletedProcessingRows deletes processing_queue rows whose
// status is 'completed' and whose completed_at is older than olderThan
// ago. Used by Scheduler's progress-cleanup cadence.
func (s *Store) CleanupCompletedProcessingRows(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM processing_queue WHERE status = 'completed' AND completed_at IS NOT NULL AND completed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, storeerr.NewTransient("store", 0, fmt.Errorf("cleanup_completed_processing_rows: %w", err))
	}
	return int(tag.RowsAffected()), nil
}
