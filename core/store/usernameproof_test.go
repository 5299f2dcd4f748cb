package store

import (
	"bytes"
	"testing"

	"hubd/core/errors"
	"hubd/storage"
)

func TestUsernameProofOnePerName(t *testing.T) {
	db := storage.NewMemDB()
	proofs := NewUsernameProofStore(db)
	alice := newFactory(t)
	bob := newFactory(t)

	first := alice.usernameProof(9, 10, "alice.eth")
	mustMerge(t, db, proofs, first)

	got, err := proofs.GetProofByName([]byte("alice.eth"))
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if got.Fid() != 9 {
		t.Fatalf("proof held by fid %d", got.Fid())
	}

	// A later proof from another fid takes the name over.
	second := bob.usernameProof(12, 20, "alice.eth")
	result := mustMerge(t, db, proofs, second)
	if len(result.Deleted) != 1 || result.Deleted[0].Fid() != 9 {
		t.Fatalf("transfer must displace the previous holder")
	}
	got, err = proofs.GetProofByName([]byte("alice.eth"))
	if err != nil {
		t.Fatalf("get proof: %v", err)
	}
	if got.Fid() != 12 {
		t.Fatalf("name must follow the newer proof, held by %d", got.Fid())
	}

	// The old holder's per-fid rows are gone too.
	page, err := proofs.ProofsByFid(9, PageOptions{})
	if err != nil {
		t.Fatalf("proofs by fid: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Fatalf("displaced proof still listed for old fid")
	}
}

func TestUsernameProofEarlierChallengerLoses(t *testing.T) {
	db := storage.NewMemDB()
	proofs := NewUsernameProofStore(db)
	alice := newFactory(t)
	bob := newFactory(t)

	holder := alice.usernameProof(9, 30, "prize")
	mustMerge(t, db, proofs, holder)

	challenger := bob.usernameProof(12, 20, "prize")
	if err := mergeErr(t, db, proofs, challenger); !errors.IsKind(err, errors.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, err := proofs.GetProofByName([]byte("prize"))
	if err != nil || got.Fid() != 9 {
		t.Fatalf("holder must be unchanged: fid=%d err=%v", got.Fid(), err)
	}
}

func TestUsernameProofRevoke(t *testing.T) {
	db := storage.NewMemDB()
	proofs := NewUsernameProofStore(db)
	f := newFactory(t)

	proof := f.usernameProof(9, 10, "gone")
	mustMerge(t, db, proofs, proof)

	txn := storage.NewTxn(db)
	if err := proofs.Revoke(txn, proof); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := proofs.GetProofByName([]byte("gone")); !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("revoked proof still resolvable: %v", err)
	}

	// Revoking an unmerged message is a no-op.
	txn = storage.NewTxn(db)
	if err := proofs.Revoke(txn, f.usernameProof(9, 11, "never")); err != nil {
		t.Fatalf("revoke of unmerged message must be idempotent: %v", err)
	}
}

func TestUserDataLaterAddDisplaces(t *testing.T) {
	db := storage.NewMemDB()
	f := newFactory(t)
	userData := NewUserDataStore(db)

	first := f.userData(9, 10, 1, "pfp-one")
	mustMerge(t, db, userData, first)
	second := f.userData(9, 11, 1, "pfp-two")
	result := mustMerge(t, db, userData, second)
	if len(result.Deleted) != 1 || !bytes.Equal(result.Deleted[0].Hash, first.Hash) {
		t.Fatalf("later value must displace the earlier one")
	}

	page, err := userData.UserDataByFid(9, PageOptions{})
	if err != nil {
		t.Fatalf("user data by fid: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Data.UserData().Value != "pfp-two" {
		t.Fatalf("unexpected live value")
	}
}
