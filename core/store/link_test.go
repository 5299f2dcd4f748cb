package store

import (
	"bytes"
	"encoding/binary"
	"testing"

	"hubd/core/errors"
	"hubd/core/keyspace"
	"hubd/storage"
)

func TestLinkMergeAndTargetIndex(t *testing.T) {
	db := storage.NewMemDB()
	f := newFactory(t)
	links := NewLinkStore(db)

	add := f.linkAdd(7, 10, "follow", 42)
	mustMerge(t, db, links, add)

	got, err := links.GetLinkAdd(7, "follow", 42)
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if !bytes.Equal(got.Hash, add.Hash) {
		t.Fatalf("hash mismatch")
	}

	page, err := links.LinksByTarget(42, PageOptions{})
	if err != nil {
		t.Fatalf("links by target: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("expected one follower, got %d", len(page.Messages))
	}

	remove := f.linkRemove(7, 11, "follow", 42)
	mustMerge(t, db, links, remove)
	page, err = links.LinksByTarget(42, PageOptions{})
	if err != nil {
		t.Fatalf("links by target: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Fatalf("target index must drop with the add")
	}
}

// Earlier releases wrote the unpadded link type into secondary keys. Reads
// must find those rows and a write that touches one must rewrite it padded.
func TestLinkLegacyKeyMigration(t *testing.T) {
	db := storage.NewMemDB()
	f := newFactory(t)
	links := NewLinkStore(db)

	add := f.linkAdd(7, 10, "follow", 42)
	tsHash, err := add.TsHash()
	if err != nil {
		t.Fatalf("tshash: %v", err)
	}
	encoded, err := add.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Plant the row the way a legacy writer would have: primary row plus an
	// unpadded adds-index key.
	legacyBody := append([]byte("follow"), 0, 0, 0, 42)
	if err := db.Put(keyspace.MessagePrimaryKey(7, keyspace.PostfixLinkMessage, tsHash), encoded); err != nil {
		t.Fatalf("seed primary: %v", err)
	}
	if err := db.Put(keyspace.IndexKey(7, keyspace.PostfixLinkAdds, legacyBody), tsHash); err != nil {
		t.Fatalf("seed legacy index: %v", err)
	}

	// Reads see the legacy row.
	if _, err := links.GetLinkAdd(7, "follow", 42); err != nil {
		t.Fatalf("legacy row must be readable: %v", err)
	}

	// A newer write for the same (type, target) displaces it and leaves only
	// canonical keys behind.
	newer := f.linkAdd(7, 11, "follow", 42)
	result := mustMerge(t, db, links, newer)
	if len(result.Deleted) != 1 {
		t.Fatalf("legacy row must be displaced")
	}
	if _, err := db.Get(keyspace.IndexKey(7, keyspace.PostfixLinkAdds, legacyBody)); err != storage.ErrNotFound {
		t.Fatalf("legacy index key must be deleted, got %v", err)
	}
	padded, err := keyspace.LinkTypeKey("follow")
	if err != nil {
		t.Fatalf("link type key: %v", err)
	}
	canonical := binary.BigEndian.AppendUint32(append([]byte(nil), padded...), 42)
	if _, err := db.Get(keyspace.IndexKey(7, keyspace.PostfixLinkAdds, canonical)); err != nil {
		t.Fatalf("canonical index key must exist: %v", err)
	}
}

// When the stored legacy row wins, the losing merge still migrates the key.
func TestLinkLegacyKeyMigratedEvenOnConflict(t *testing.T) {
	db := storage.NewMemDB()
	f := newFactory(t)
	links := NewLinkStore(db)

	add := f.linkAdd(7, 20, "follow", 42)
	tsHash, _ := add.TsHash()
	encoded, _ := add.Encode()
	legacyBody := append([]byte("follow"), 0, 0, 0, 42)
	if err := db.Put(keyspace.MessagePrimaryKey(7, keyspace.PostfixLinkMessage, tsHash), encoded); err != nil {
		t.Fatalf("seed primary: %v", err)
	}
	if err := db.Put(keyspace.IndexKey(7, keyspace.PostfixLinkAdds, legacyBody), tsHash); err != nil {
		t.Fatalf("seed legacy index: %v", err)
	}

	older := f.linkAdd(7, 10, "follow", 42)
	txn := storage.NewTxn(db)
	_, err := links.Merge(txn, older)
	if !errors.IsKind(err, errors.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	// The migration rides along in the transaction the caller commits.
	if txn.Len() == 0 {
		t.Fatalf("conflicting merge must still stage the legacy migration")
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := db.Get(keyspace.IndexKey(7, keyspace.PostfixLinkAdds, legacyBody)); err != storage.ErrNotFound {
		t.Fatalf("legacy key must be migrated, got %v", err)
	}
}

func TestLinkCompactStateIsPruneExempt(t *testing.T) {
	db := storage.NewMemDB()
	f := newFactory(t)
	links := NewLinkStore(db)

	compact := f.message(compactStateData(7, 5, "follow", []uint64{42, 43}))
	mustMerge(t, db, links, compact)
	add := f.linkAdd(7, 10, "follow", 44)
	mustMerge(t, db, links, add)

	earliest, err := links.Earliest(7)
	if err != nil {
		t.Fatalf("earliest: %v", err)
	}
	if earliest == nil || !bytes.Equal(earliest.Hash, add.Hash) {
		t.Fatalf("compact state must never be the prune candidate")
	}
}
