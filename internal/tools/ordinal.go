package tools

import (
	"context"
	"strconv"

	"github.com/nbianchi/tasktalk/internal/taskstore"
)

// References longer than this are taken as opaque task ids verbatim.
// Anything shorter is tried as a 1-based ordinal against a fresh listing.
const opaqueIDThreshold = 10

// resolveReference turns a caller-supplied task reference into a concrete id.
// A small positive integer i resolves to the i-th entry of the principal's
// current creation-descending listing. The snapshot is fetched fresh on every
// call and nothing prevents a concurrent turn from reordering the list
// between resolution and use; this is a documented best-effort convenience,
// not a stable identifier. Unresolvable references pass through unchanged and
// fail the subsequent lookup.
func (r *Registry) resolveReference(ctx context.Context, ref string) (string, error) {
	if len(ref) > opaqueIDThreshold {
		return ref, nil
	}
	i, err := strconv.Atoi(ref)
	if err != nil || i <= 0 {
		return ref, nil
	}

	var listing []taskstore.Task
	err = r.retry(ctx, func(ctx context.Context) error {
		var lerr error
		listing, lerr = r.store.List(ctx, r.principal.UserID, taskstore.Filter{})
		return lerr
	})
	if err != nil {
		return "", err
	}
	if i > len(listing) {
		return ref, nil
	}
	return listing[i-1].ID, nil
}
