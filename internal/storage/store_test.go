package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
)

// openStores returns one instance of each Store implementation.
func openStores(t *testing.T) map[string]Store {
	t.Helper()

	ctx := context.Background()
	sqlite, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "kv.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_SetGet(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Set(ctx, "quality", "85"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			got, err := store.Get(ctx, "quality")
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got != "85" {
				t.Errorf("Get = %q, want %q", got, "85")
			}

			// Overwrite replaces.
			if err := store.Set(ctx, "quality", "40"); err != nil {
				t.Fatalf("Set overwrite failed: %v", err)
			}
			got, _ = store.Get(ctx, "quality")
			if got != "40" {
				t.Errorf("Get after overwrite = %q, want %q", got, "40")
			}
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "absent")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(absent) error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.Set(ctx, "k", "v"); err != nil {
				t.Fatalf("Set failed: %v", err)
			}
			if err := store.Remove(ctx, "k"); err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			// Second remove of an absent key succeeds.
			if err := store.Remove(ctx, "k"); err != nil {
				t.Errorf("Remove(absent) error = %v, want nil", err)
			}
			if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get after Remove error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_KeysAndMultiRemove(t *testing.T) {
	ctx := context.Background()

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"a", "b", "c"} {
				if err := store.Set(ctx, k, "1"); err != nil {
					t.Fatalf("Set(%q) failed: %v", k, err)
				}
			}

			keys, err := store.Keys(ctx)
			if err != nil {
				t.Fatalf("Keys failed: %v", err)
			}
			sort.Strings(keys)
			if len(keys) != 3 || keys[0] != "a" || keys[2] != "c" {
				t.Errorf("Keys = %v, want [a b c]", keys)
			}

			if err := store.MultiRemove(ctx, []string{"a", "c", "missing"}); err != nil {
				t.Fatalf("MultiRemove failed: %v", err)
			}

			keys, _ = store.Keys(ctx)
			if len(keys) != 1 || keys[0] != "b" {
				t.Errorf("Keys after MultiRemove = %v, want [b]", keys)
			}
		})
	}
}
