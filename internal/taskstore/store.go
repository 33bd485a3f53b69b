package taskstore

import (
	"context"
	"errors"
)

// ErrNotFound covers both a missing id and an id owned by a different user.
// The two cases are never distinguishable to callers.
var ErrNotFound = errors.New("task not found")

// Store is the task table contract consumed by the tool dispatch layer.
// Every method that takes an id also takes the owning user and filters on
// both jointly. Transient driver failures surface as
// reliability.StorageError values carrying an enumerated code.
type Store interface {
	Create(ctx context.Context, task Task) (Task, error)
	Get(ctx context.Context, id, userID string) (Task, error)
	Update(ctx context.Context, id, userID string, patch Patch) (Task, error)
	Delete(ctx context.Context, id, userID string) error
	List(ctx context.Context, userID string, filter Filter) ([]Task, error)
	Count(ctx context.Context, userID string) (int, error)
	Close() error
}
