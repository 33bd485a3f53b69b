package tools

import (
	"context"
	"testing"
	"time"

	"github.com/nbianchi/tasktalk/internal/identity"
	"github.com/nbianchi/tasktalk/internal/taskstore"
)

func seedTasks(t *testing.T, store taskstore.Store, userID string, titles ...string) []taskstore.Task {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	out := make([]taskstore.Task, 0, len(titles))
	for i, title := range titles {
		task, err := store.Create(context.Background(), taskstore.Task{
			UserID:    userID,
			Title:     title,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed task %q: %v", title, err)
		}
		out = append(out, task)
	}
	return out
}

func TestResolveReferenceOrdinals(t *testing.T) {
	store := taskstore.NewInMemoryStore()
	created := seedTasks(t, store, "alice", "oldest", "middle", "newest")
	r := newTestRegistry(t, store)
	ctx := context.Background()

	// Listing is creation-descending: ordinal 1 is the newest task.
	cases := []struct {
		ref  string
		want string
	}{
		{"1", created[2].ID},
		{"2", created[1].ID},
		{"3", created[0].ID},
	}
	for _, tc := range cases {
		got, err := r.resolveReference(ctx, tc.ref)
		if err != nil {
			t.Fatalf("resolveReference(%q) error = %v", tc.ref, err)
		}
		if got != tc.want {
			t.Fatalf("resolveReference(%q) = %q, want %q", tc.ref, got, tc.want)
		}
	}
}

func TestResolveReferencePassThrough(t *testing.T) {
	store := taskstore.NewInMemoryStore()
	seedTasks(t, store, "alice", "only")
	r := newTestRegistry(t, store)
	ctx := context.Background()

	// Out-of-range ordinals and non-numeric short strings pass through
	// unresolved; long references are opaque ids and are never resolved.
	for _, ref := range []string{"0", "2", "-1", "soon", "abcdefghijk"} {
		got, err := r.resolveReference(ctx, ref)
		if err != nil {
			t.Fatalf("resolveReference(%q) error = %v", ref, err)
		}
		if got != ref {
			t.Fatalf("resolveReference(%q) = %q, want pass-through", ref, got)
		}
	}
}

func TestResolveReferenceUsesFreshSnapshot(t *testing.T) {
	store := taskstore.NewInMemoryStore()
	created := seedTasks(t, store, "alice", "first", "second")
	r := newTestRegistry(t, store)
	ctx := context.Background()

	got, err := r.resolveReference(ctx, "1")
	if err != nil || got != created[1].ID {
		t.Fatalf("resolveReference(1) = %q, %v", got, err)
	}

	// A newer task shifts every ordinal: resolution always re-lists.
	newest, err := store.Create(ctx, taskstore.Task{UserID: "alice", Title: "third"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	got, err = r.resolveReference(ctx, "1")
	if err != nil || got != newest.ID {
		t.Fatalf("resolveReference(1) after insert = %q, %v, want %q", got, err, newest.ID)
	}
}

func TestResolveReferenceScopedToPrincipal(t *testing.T) {
	store := taskstore.NewInMemoryStore()
	seedTasks(t, store, "alice", "alice task")
	bobTasks := seedTasks(t, store, "bob", "bob task")

	r := NewRegistry(identity.Principal{UserID: "bob"}, store, testPolicy(), nil)
	got, err := r.resolveReference(context.Background(), "1")
	if err != nil {
		t.Fatalf("resolveReference error = %v", err)
	}
	if got != bobTasks[0].ID {
		t.Fatalf("resolveReference(1) = %q, want bob's own task %q", got, bobTasks[0].ID)
	}
}
