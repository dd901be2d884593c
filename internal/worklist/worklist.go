// Package worklist implements the Dispatcher's two document-mutation
// actions: overwriting the current worklist and appending to the
// tactical learnings log. Both are store-backed rather than
// filesystem-backed so every service reads a consistent view regardless
// of which host it runs on.
package worklist

import (
	"context"
	"fmt"
	"time"

	"github.com/nembal/fullsend-fabric/internal/store"
)

// Overwrite replaces the current worklist document wholesale, matching
// update_worklist's "overwrite, don't merge" contract.
func Overwrite(ctx context.Context, s store.Store, content string) error {
	return s.HSet(ctx, store.WorklistKey, map[string]string{
		"content":    content,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Current reads back the worklist document, or "" if none has been set
// yet.
func Current(ctx context.Context, s store.Store) (string, error) {
	content, _, err := s.HGet(ctx, store.WorklistKey, "content")
	if err != nil {
		return "", fmt.Errorf("worklist: read: %w", err)
	}
	return content, nil
}

// AppendLearning stamps content with an RFC3339 header and adds it to
// the append-only tactical learnings log, scored by the same timestamp
// so readers can pull the most recent entries with ZRevRange.
func AppendLearning(ctx context.Context, s store.Store, content string) error {
	now := time.Now().UTC()
	entry := fmt.Sprintf("[%s] %s", now.Format(time.RFC3339), content)
	// Scored by nanosecond rather than Unix second so two learnings
	// recorded within the same second still sort in insertion order.
	return s.ZAdd(ctx, store.LearningsTacticalIndexKey, float64(now.UnixNano()), entry)
}

// RecentLearnings returns up to n of the most recently recorded
// learnings, newest first.
func RecentLearnings(ctx context.Context, s store.Store, n int64) ([]string, error) {
	if n <= 0 {
		n = 5
	}
	entries, err := s.ZRevRange(ctx, store.LearningsTacticalIndexKey, 0, n-1)
	if err != nil {
		return nil, fmt.Errorf("worklist: read learnings: %w", err)
	}
	return entries, nil
}
