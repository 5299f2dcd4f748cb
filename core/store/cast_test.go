package store

import (
	"bytes"
	"testing"

	"hubd/core/errors"
	"hubd/storage"
)

func TestCastMergeAndGet(t *testing.T) {
	db := storage.NewMemDB()
	f := newFactory(t)
	casts := NewCastStore(db)

	add := f.castAdd(24, 10, "first")
	result := mustMerge(t, db, casts, add)
	if len(result.Deleted) != 0 {
		t.Fatalf("fresh merge displaced %d messages", len(result.Deleted))
	}

	got, err := casts.GetCastAdd(24, add.Hash)
	if err != nil {
		t.Fatalf("get cast: %v", err)
	}
	if !bytes.Equal(got.Hash, add.Hash) {
		t.Fatalf("hash mismatch")
	}

	page, err := casts.CastAddsByFid(24, PageOptions{})
	if err != nil {
		t.Fatalf("casts by fid: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("expected one cast, got %d", len(page.Messages))
	}
}

func TestCastMergeDuplicate(t *testing.T) {
	db := storage.NewMemDB()
	f := newFactory(t)
	casts := NewCastStore(db)

	add := f.castAdd(24, 10, "once")
	mustMerge(t, db, casts, add)
	if err := mergeErr(t, db, casts, add); !errors.IsKind(err, errors.KindDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestCastRemoveDisplacesAdd(t *testing.T) {
	db := storage.NewMemDB()
	f := newFactory(t)
	casts := NewCastStore(db)

	add := f.castAdd(24, 10, "doomed")
	mustMerge(t, db, casts, add)

	remove := f.castRemove(24, 11, add.Hash)
	result := mustMerge(t, db, casts, remove)
	if len(result.Deleted) != 1 || !bytes.Equal(result.Deleted[0].Hash, add.Hash) {
		t.Fatalf("remove must displace the add")
	}

	if _, err := casts.GetCastAdd(24, add.Hash); !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("displaced cast still queryable: %v", err)
	}

	// A late add for the same hash loses to the remove.
	if err := mergeErr(t, db, casts, add); !errors.IsKind(err, errors.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCastConvergenceIsOrderIndependent(t *testing.T) {
	f := newFactory(t)
	add := f.castAdd(24, 10, "contested")
	remove := f.castRemove(24, 11, add.Hash)

	finalState := func(order []int) map[string]string {
		db := storage.NewMemDB()
		casts := NewCastStore(db)
		for _, idx := range order {
			msg := add
			if idx == 1 {
				msg = remove
			}
			txn := storage.NewTxn(db)
			if _, err := casts.Merge(txn, msg); err == nil {
				if err := txn.Commit(); err != nil {
					t.Fatalf("commit: %v", err)
				}
			}
		}
		state := map[string]string{}
		it := db.NewIterator(nil, false)
		defer it.Release()
		for it.Next() {
			state[string(it.Key())] = string(it.Value())
		}
		return state
	}

	forward := finalState([]int{0, 1})
	reverse := finalState([]int{1, 0})
	if len(forward) != len(reverse) {
		t.Fatalf("states diverge: %d vs %d rows", len(forward), len(reverse))
	}
	for key, value := range forward {
		if reverse[key] != value {
			t.Fatalf("row %x diverges between merge orders", key)
		}
	}
}

func TestCastTieBreakPrefersAdd(t *testing.T) {
	f := newFactory(t)
	add := f.castAdd(24, 10, "same instant")
	remove := f.castRemove(24, 10, add.Hash)

	db := storage.NewMemDB()
	casts := NewCastStore(db)
	mustMerge(t, db, casts, remove)

	// Equal timestamps: the add outranks the remove it conflicts with.
	result := mustMerge(t, db, casts, add)
	if len(result.Deleted) != 1 {
		t.Fatalf("add must displace the equal-timestamp remove")
	}
	if _, err := casts.GetCastAdd(24, add.Hash); err != nil {
		t.Fatalf("winning add must be queryable: %v", err)
	}
}
