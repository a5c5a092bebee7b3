package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/0gfoundation/oracle-settler/internal/feed"
)

var (
	// ErrNotFound is returned when the requested feed does not exist.
	ErrNotFound = errors.New("feed not found")
	// ErrConflict is returned when a guarded update finds the feed no longer
	// in the expected status, or already carrying a settled value.
	ErrConflict = errors.New("feed status changed concurrently")
)

// Store is the persisted feed table.
//
// MarkSettled and MarkFailed are single conditional updates: they apply only
// while the row is still in status from and has no settled value.
type Store interface {
	Get(ctx context.Context, id string) (feed.Feed, error)
	ListPending(ctx context.Context) ([]feed.Feed, error)
	ListByModule(ctx context.Context, m feed.Module, statuses ...feed.Status) ([]feed.Feed, error)
	MarkSettled(ctx context.Context, id string, from feed.Status, s feed.Settlement) error
	MarkFailed(ctx context.Context, id string, from feed.Status) error
	UpdateConfig(ctx context.Context, id string, cfg json.RawMessage) error
}
