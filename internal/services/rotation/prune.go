package rotation

import (
	"context"
	"fmt"
	"time"
)

// Prune removes ledger entries whose last use is older than maxIdle. Entries
// without a LastUsed stamp are kept. It returns the number of removed users.
func Prune(ctx context.Context, store LedgerStore, maxIdle time.Duration, now time.Time) (int, error) {
	if maxIdle <= 0 {
		return 0, nil
	}

	state, err := store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load rotation ledger: %w", err)
	}

	cutoff := now.Add(-maxIdle).UnixMilli()
	removed := 0
	for key, entry := range state.Users {
		if entry.LastUsed != 0 && entry.LastUsed < cutoff {
			delete(state.Users, key)
			removed++
		}
	}

	if removed == 0 {
		return 0, nil
	}
	if err := store.Save(ctx, state); err != nil {
		return 0, fmt.Errorf("failed to save rotation ledger: %w", err)
	}
	return removed, nil
}
