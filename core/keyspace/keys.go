// Package keyspace defines the canonical byte-key layout for every logical
// index in the KV store. Every key begins with a one-byte root prefix; user
// message keys follow with fid, a set or index postfix, and the 24-byte
// TsHash ordering key.
package keyspace

import (
	"encoding/binary"
	"fmt"

	"hubd/core/types"
)

// Root prefixes. These values are persisted; never renumber.
const (
	RootPrefixUser                byte = 1
	RootPrefixOnChainEvent        byte = 2
	RootPrefixHubEvent            byte = 3
	RootPrefixSyncTrieNode        byte = 4
	RootPrefixJobQueue            byte = 5
	RootPrefixUsernameProofByName byte = 6
	RootPrefixReactionsByTarget   byte = 7
	RootPrefixLinksByTarget       byte = 8
)

// User postfixes below 86 address primary message sets; 86 and above address
// secondary indices.
const (
	PostfixCastMessage             byte = 1
	PostfixLinkMessage             byte = 2
	PostfixReactionMessage         byte = 3
	PostfixVerificationMessage     byte = 4
	PostfixUserDataMessage         byte = 6
	PostfixUsernameProofMessage    byte = 7
	PostfixLinkCompactStateMessage byte = 8

	PostfixBySigner            byte = 86
	PostfixCastAdds            byte = 87
	PostfixCastRemoves         byte = 88
	PostfixLinkAdds            byte = 89
	PostfixLinkRemoves         byte = 90
	PostfixReactionAdds        byte = 91
	PostfixReactionRemoves     byte = 92
	PostfixVerificationAdds    byte = 93
	PostfixVerificationRemoves byte = 94
	PostfixUserDataAdds        byte = 95
	PostfixUsernameProofAdds   byte = 96
	PostfixLinkCompactAdds     byte = 97
)

// Fixed body-key widths. Shorter inputs are right-zero padded; longer inputs
// are rejected at validation time.
const (
	LinkTypeKeyWidth          = 8
	UsernameProofNameKeyWidth = 20
)

// IsMessageSetPostfix reports whether a postfix addresses a primary message
// set rather than a secondary index.
func IsMessageSetPostfix(p byte) bool {
	switch p {
	case PostfixCastMessage, PostfixLinkMessage, PostfixReactionMessage,
		PostfixVerificationMessage, PostfixUserDataMessage,
		PostfixUsernameProofMessage, PostfixLinkCompactStateMessage:
		return true
	default:
		return false
	}
}

// SetPostfix maps a message type to the primary set holding its rows.
func SetPostfix(t types.MessageType) (byte, error) {
	switch t {
	case types.MessageTypeCastAdd, types.MessageTypeCastRemove:
		return PostfixCastMessage, nil
	case types.MessageTypeLinkAdd, types.MessageTypeLinkRemove:
		return PostfixLinkMessage, nil
	case types.MessageTypeLinkCompactState:
		return PostfixLinkCompactStateMessage, nil
	case types.MessageTypeReactionAdd, types.MessageTypeReactionRemove:
		return PostfixReactionMessage, nil
	case types.MessageTypeVerificationAdd, types.MessageTypeVerificationRemove:
		return PostfixVerificationMessage, nil
	case types.MessageTypeUserDataAdd:
		return PostfixUserDataMessage, nil
	case types.MessageTypeUsernameProof:
		return PostfixUsernameProofMessage, nil
	default:
		return 0, fmt.Errorf("keyspace: no set for message type %d", t)
	}
}

func fidBytes(fid uint64) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(fid))
	return b
}

// FidFromKeyBytes reads a 4-byte big-endian fid segment.
func FidFromKeyBytes(b []byte) uint64 {
	return uint64(binary.BigEndian.Uint32(b))
}

// UserKey builds User ‖ fid ‖ postfix ‖ suffix...
func UserKey(fid uint64, postfix byte, suffix ...[]byte) []byte {
	fb := fidBytes(fid)
	size := 1 + 4 + 1
	for _, s := range suffix {
		size += len(s)
	}
	key := make([]byte, 0, size)
	key = append(key, RootPrefixUser)
	key = append(key, fb[:]...)
	key = append(key, postfix)
	for _, s := range suffix {
		key = append(key, s...)
	}
	return key
}

// MessagePrimaryKey addresses the serialized message bytes.
func MessagePrimaryKey(fid uint64, setPostfix byte, tsHash []byte) []byte {
	return UserKey(fid, setPostfix, tsHash)
}

// MessagePrimaryPrefix spans all rows of one set for a fid.
func MessagePrimaryPrefix(fid uint64, setPostfix byte) []byte {
	return UserKey(fid, setPostfix)
}

// UserPrefix spans every row for a fid.
func UserPrefix(fid uint64) []byte {
	fb := fidBytes(fid)
	return append([]byte{RootPrefixUser}, fb[:]...)
}

// IndexKey addresses an adds/removes secondary index row. The value at the
// key is the TsHash of the message the body key resolves to.
func IndexKey(fid uint64, indexPostfix byte, bodyKey []byte) []byte {
	return UserKey(fid, indexPostfix, bodyKey)
}

// PadBodyKey right-zero pads a body key to the declared width. Inputs longer
// than the width are rejected; truncation would alias distinct keys.
func PadBodyKey(b []byte, width int) ([]byte, error) {
	if len(b) > width {
		return nil, fmt.Errorf("keyspace: body key %d bytes exceeds width %d", len(b), width)
	}
	padded := make([]byte, width)
	copy(padded, b)
	return padded, nil
}

// LinkTypeKey is the canonical fixed-width form of a link type.
func LinkTypeKey(linkType string) ([]byte, error) {
	return PadBodyKey([]byte(linkType), LinkTypeKeyWidth)
}

// LegacyLinkTypeKey is the variable-width form emitted by earlier releases.
// Readers must consult it after the canonical key misses; writers that find a
// legacy row migrate it in the same transaction.
func LegacyLinkTypeKey(linkType string) []byte {
	return []byte(linkType)
}

// BySignerKey indexes a message under its signer for revocation sweeps:
// User ‖ fid ‖ BySigner ‖ signer ‖ type ‖ tsHash.
func BySignerKey(fid uint64, signer []byte, msgType types.MessageType, tsHash []byte) []byte {
	return UserKey(fid, PostfixBySigner, signer, []byte{byte(msgType)}, tsHash)
}

// BySignerPrefix spans every message a signer produced for a fid.
func BySignerPrefix(fid uint64, signer []byte) []byte {
	return UserKey(fid, PostfixBySigner, signer)
}

// ReactionsByTargetKey indexes a reaction globally under its target:
// ReactionsByTarget ‖ targetKey ‖ fid ‖ tsHash.
func ReactionsByTargetKey(targetKey []byte, fid uint64, tsHash []byte) []byte {
	fb := fidBytes(fid)
	key := make([]byte, 0, 1+len(targetKey)+4+len(tsHash))
	key = append(key, RootPrefixReactionsByTarget)
	key = append(key, targetKey...)
	key = append(key, fb[:]...)
	return append(key, tsHash...)
}

// ReactionsByTargetPrefix spans every reaction on a target.
func ReactionsByTargetPrefix(targetKey []byte) []byte {
	return append([]byte{RootPrefixReactionsByTarget}, targetKey...)
}

// LinksByTargetKey indexes a link under its target fid:
// LinksByTarget ‖ targetFid ‖ fid ‖ tsHash.
func LinksByTargetKey(targetFid, fid uint64, tsHash []byte) []byte {
	tb := fidBytes(targetFid)
	fb := fidBytes(fid)
	key := make([]byte, 0, 1+4+4+len(tsHash))
	key = append(key, RootPrefixLinksByTarget)
	key = append(key, tb[:]...)
	key = append(key, fb[:]...)
	return append(key, tsHash...)
}

// LinksByTargetPrefix spans every link pointing at a target fid.
func LinksByTargetPrefix(targetFid uint64) []byte {
	tb := fidBytes(targetFid)
	return append([]byte{RootPrefixLinksByTarget}, tb[:]...)
}

// UsernameProofByNameKey is the global one-proof-per-name index.
func UsernameProofByNameKey(name []byte) ([]byte, error) {
	padded, err := PadBodyKey(name, UsernameProofNameKeyWidth)
	if err != nil {
		return nil, err
	}
	return append([]byte{RootPrefixUsernameProofByName}, padded...), nil
}

// OnChainEventPrimaryKey orders events per fid by (type, blockNumber, logIndex).
func OnChainEventPrimaryKey(fid uint64, eventType types.OnChainEventType, blockNumber uint64, logIndex uint32) []byte {
	fb := fidBytes(fid)
	key := make([]byte, 0, 1+1+4+1+8+4)
	key = append(key, RootPrefixOnChainEvent, onChainSubPrimary)
	key = append(key, fb[:]...)
	key = append(key, byte(eventType))
	key = binary.BigEndian.AppendUint64(key, blockNumber)
	return binary.BigEndian.AppendUint32(key, logIndex)
}

// OnChainEventTypePrefix spans all events of one type for a fid.
func OnChainEventTypePrefix(fid uint64, eventType types.OnChainEventType) []byte {
	fb := fidBytes(fid)
	key := make([]byte, 0, 1+1+4+1)
	key = append(key, RootPrefixOnChainEvent, onChainSubPrimary)
	key = append(key, fb[:]...)
	return append(key, byte(eventType))
}

// OnChainEventFidPrefix spans all events for a fid.
func OnChainEventFidPrefix(fid uint64) []byte {
	fb := fidBytes(fid)
	key := make([]byte, 0, 1+1+4)
	key = append(key, RootPrefixOnChainEvent, onChainSubPrimary)
	return append(key, fb[:]...)
}

const (
	onChainSubPrimary  byte = 0
	onChainSubByTx     byte = 1
	onChainSubBySigner byte = 2
	onChainSubByAddr   byte = 3
)

// OnChainEventByTxKey deduplicates replayed logs.
func OnChainEventByTxKey(txHash []byte, logIndex uint32) []byte {
	key := make([]byte, 0, 2+len(txHash)+4)
	key = append(key, RootPrefixOnChainEvent, onChainSubByTx)
	key = append(key, txHash...)
	return binary.BigEndian.AppendUint32(key, logIndex)
}

// OnChainEventBySignerKey orders Signer events per delegate key.
func OnChainEventBySignerKey(fid uint64, signer []byte, blockNumber uint64, logIndex uint32) []byte {
	fb := fidBytes(fid)
	key := make([]byte, 0, 2+4+len(signer)+8+4)
	key = append(key, RootPrefixOnChainEvent, onChainSubBySigner)
	key = append(key, fb[:]...)
	key = append(key, signer...)
	key = binary.BigEndian.AppendUint64(key, blockNumber)
	return binary.BigEndian.AppendUint32(key, logIndex)
}

// OnChainEventBySignerPrefix spans the Signer event history of one key.
func OnChainEventBySignerPrefix(fid uint64, signer []byte) []byte {
	fb := fidBytes(fid)
	key := make([]byte, 0, 2+4+len(signer))
	key = append(key, RootPrefixOnChainEvent, onChainSubBySigner)
	key = append(key, fb[:]...)
	return append(key, signer...)
}

// OnChainEventByAddressKey maps a custody address to a fid.
func OnChainEventByAddressKey(addr []byte, fid uint64) []byte {
	fb := fidBytes(fid)
	key := make([]byte, 0, 2+len(addr)+4)
	key = append(key, RootPrefixOnChainEvent, onChainSubByAddr)
	key = append(key, addr...)
	return append(key, fb[:]...)
}

// HubEventKey orders the event log by monotonic id.
func HubEventKey(id uint64) []byte {
	key := make([]byte, 0, 1+8)
	key = append(key, RootPrefixHubEvent)
	return binary.BigEndian.AppendUint64(key, id)
}

// HubEventPrefix spans the whole event log.
func HubEventPrefix() []byte {
	return []byte{RootPrefixHubEvent}
}

// HubEventIdFromKey recovers the id from a log key.
func HubEventIdFromKey(key []byte) (uint64, error) {
	if len(key) != 9 || key[0] != RootPrefixHubEvent {
		return 0, fmt.Errorf("keyspace: not a hub event key")
	}
	return binary.BigEndian.Uint64(key[1:]), nil
}

// JobQueueKey orders durable jobs by (type, enqueue time, sequence).
func JobQueueKey(jobType byte, enqueueMillis uint64, seq uint32) []byte {
	key := make([]byte, 0, 2+8+4)
	key = append(key, RootPrefixJobQueue, jobType)
	key = binary.BigEndian.AppendUint64(key, enqueueMillis)
	return binary.BigEndian.AppendUint32(key, seq)
}

// JobQueuePrefix spans every job of one type.
func JobQueuePrefix(jobType byte) []byte {
	return []byte{RootPrefixJobQueue, jobType}
}

// SyncTrieNodeKey addresses one trie node by its nibble path.
func SyncTrieNodeKey(path []byte) []byte {
	return append([]byte{RootPrefixSyncTrieNode}, path...)
}

// SyncTrieNodePrefix spans the whole persisted trie.
func SyncTrieNodePrefix() []byte {
	return []byte{RootPrefixSyncTrieNode}
}
