package keyspace

import (
	"bytes"
	"testing"

	"hubd/core/types"
)

func TestMessagePrimaryKeyLayout(t *testing.T) {
	tsHash := bytes.Repeat([]byte{0xaa}, types.TsHashLength)
	key := MessagePrimaryKey(24, PostfixCastMessage, tsHash)
	if len(key) != 1+4+1+types.TsHashLength {
		t.Fatalf("key length %d", len(key))
	}
	if key[0] != RootPrefixUser {
		t.Fatalf("root prefix %d", key[0])
	}
	if !bytes.Equal(key[1:5], []byte{0, 0, 0, 24}) {
		t.Fatalf("fid bytes %x", key[1:5])
	}
	if key[5] != PostfixCastMessage {
		t.Fatalf("postfix %d", key[5])
	}
	if !bytes.HasPrefix(key, MessagePrimaryPrefix(24, PostfixCastMessage)) {
		t.Fatalf("prefix mismatch")
	}
}

func TestSetPostfixCoversEveryType(t *testing.T) {
	all := []types.MessageType{
		types.MessageTypeCastAdd, types.MessageTypeCastRemove,
		types.MessageTypeReactionAdd, types.MessageTypeReactionRemove,
		types.MessageTypeLinkAdd, types.MessageTypeLinkRemove,
		types.MessageTypeLinkCompactState,
		types.MessageTypeVerificationAdd, types.MessageTypeVerificationRemove,
		types.MessageTypeUserDataAdd, types.MessageTypeUsernameProof,
	}
	for _, mt := range all {
		if _, err := SetPostfix(mt); err != nil {
			t.Fatalf("no set for %v: %v", mt, err)
		}
	}
	if _, err := SetPostfix(types.MessageTypeNone); err == nil {
		t.Fatalf("expected error for unset type")
	}
}

func TestPadBodyKey(t *testing.T) {
	padded, err := PadBodyKey([]byte("follow"), LinkTypeKeyWidth)
	if err != nil {
		t.Fatalf("pad: %v", err)
	}
	if !bytes.Equal(padded, []byte{'f', 'o', 'l', 'l', 'o', 'w', 0, 0}) {
		t.Fatalf("padded form %x", padded)
	}
	if _, err := PadBodyKey([]byte("excessive"), LinkTypeKeyWidth); err == nil {
		t.Fatalf("over-width key must be rejected, never truncated")
	}
}

func TestLegacyLinkKeyDiffersFromCanonical(t *testing.T) {
	canonical, err := LinkTypeKey("follow")
	if err != nil {
		t.Fatalf("link type key: %v", err)
	}
	legacy := LegacyLinkTypeKey("follow")
	if bytes.Equal(canonical, legacy) {
		t.Fatalf("legacy and canonical forms must differ for short types")
	}
	full, err := LinkTypeKey("12345678")
	if err != nil {
		t.Fatalf("link type key: %v", err)
	}
	if !bytes.Equal(full, LegacyLinkTypeKey("12345678")) {
		t.Fatalf("full-width types coincide in both forms")
	}
}

func TestBySignerKeyLayout(t *testing.T) {
	signer := bytes.Repeat([]byte{0x05}, 32)
	tsHash := bytes.Repeat([]byte{0x06}, types.TsHashLength)
	key := BySignerKey(7, signer, types.MessageTypeCastAdd, tsHash)
	if !bytes.HasPrefix(key, BySignerPrefix(7, signer)) {
		t.Fatalf("by-signer prefix mismatch")
	}
	if key[len(key)-types.TsHashLength-1] != byte(types.MessageTypeCastAdd) {
		t.Fatalf("type byte misplaced")
	}
}

func TestOnChainEventKeysSortByBlock(t *testing.T) {
	early := OnChainEventPrimaryKey(9, types.OnChainEventTypeSigner, 100, 2)
	late := OnChainEventPrimaryKey(9, types.OnChainEventTypeSigner, 100, 3)
	later := OnChainEventPrimaryKey(9, types.OnChainEventTypeSigner, 101, 0)
	if bytes.Compare(early, late) >= 0 || bytes.Compare(late, later) >= 0 {
		t.Fatalf("event keys must order by (blockNumber, logIndex)")
	}
	prefix := OnChainEventTypePrefix(9, types.OnChainEventTypeSigner)
	for _, key := range [][]byte{early, late, later} {
		if !bytes.HasPrefix(key, prefix) {
			t.Fatalf("type prefix mismatch")
		}
	}
}

func TestHubEventKeyRoundTrip(t *testing.T) {
	key := HubEventKey(0xdeadbeef)
	id, err := HubEventIdFromKey(key)
	if err != nil || id != 0xdeadbeef {
		t.Fatalf("round trip: id=%d err=%v", id, err)
	}
	if _, err := HubEventIdFromKey([]byte{0x00}); err == nil {
		t.Fatalf("expected malformed key error")
	}
}
