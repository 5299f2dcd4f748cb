package types

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// FarcasterEpoch is the network's time origin: 2021-01-01T00:00:00Z.
	FarcasterEpoch int64 = 1609459200

	// HashLength is the truncated blake3 digest size used for message hashes.
	HashLength = 20

	// TsHashLength is timestamp(4) + hash(20).
	TsHashLength = 24

	// SyncIdLength is tsHash prefix(10) + type(1) + fid(4) + hash(20).
	SyncIdLength = 35

	syncIdTsPrefixLength = 10
)

// MakeTsHash composes the primary ordering key: 4-byte big-endian
// Farcaster-epoch seconds followed by the 20-byte message hash.
func MakeTsHash(timestamp uint32, hash []byte) ([]byte, error) {
	if len(hash) != HashLength {
		return nil, fmt.Errorf("tshash: hash must be %d bytes, got %d", HashLength, len(hash))
	}
	tsHash := make([]byte, TsHashLength)
	binary.BigEndian.PutUint32(tsHash[:4], timestamp)
	copy(tsHash[4:], hash)
	return tsHash, nil
}

// SplitTsHash decomposes a TsHash into its timestamp and hash parts.
func SplitTsHash(tsHash []byte) (uint32, []byte, error) {
	if len(tsHash) != TsHashLength {
		return 0, nil, fmt.Errorf("tshash: must be %d bytes, got %d", TsHashLength, len(tsHash))
	}
	return binary.BigEndian.Uint32(tsHash[:4]), append([]byte(nil), tsHash[4:]...), nil
}

// MakeSyncId builds the fixed-layout identifier used by the sync trie:
// the first 10 bytes of the TsHash, the message type tag, the fid as 4
// big-endian bytes, and the full 20-byte hash.
func MakeSyncId(timestamp uint32, msgType MessageType, fid uint64, hash []byte) ([]byte, error) {
	tsHash, err := MakeTsHash(timestamp, hash)
	if err != nil {
		return nil, err
	}
	id := make([]byte, 0, SyncIdLength)
	id = append(id, tsHash[:syncIdTsPrefixLength]...)
	id = append(id, byte(msgType))
	var fidBytes [4]byte
	binary.BigEndian.PutUint32(fidBytes[:], uint32(fid))
	id = append(id, fidBytes[:]...)
	id = append(id, hash...)
	return id, nil
}

// SplitSyncId recovers (timestamp, type, fid, hash) from a SyncId.
func SplitSyncId(id []byte) (uint32, MessageType, uint64, []byte, error) {
	if len(id) != SyncIdLength {
		return 0, MessageTypeNone, 0, nil, fmt.Errorf("syncid: must be %d bytes, got %d", SyncIdLength, len(id))
	}
	timestamp := binary.BigEndian.Uint32(id[:4])
	msgType := MessageType(id[syncIdTsPrefixLength])
	fid := uint64(binary.BigEndian.Uint32(id[syncIdTsPrefixLength+1 : syncIdTsPrefixLength+5]))
	hash := append([]byte(nil), id[syncIdTsPrefixLength+5:]...)
	return timestamp, msgType, fid, hash, nil
}

// ToFarcasterTime converts wall time to Farcaster-epoch seconds.
func ToFarcasterTime(t time.Time) (uint32, error) {
	secs := t.Unix() - FarcasterEpoch
	if secs < 0 {
		return 0, fmt.Errorf("time %v predates the Farcaster epoch", t)
	}
	if secs > int64(^uint32(0)) {
		return 0, fmt.Errorf("time %v overflows the Farcaster epoch range", t)
	}
	return uint32(secs), nil
}

// FromFarcasterTime converts Farcaster-epoch seconds back to wall time.
func FromFarcasterTime(ts uint32) time.Time {
	return time.Unix(FarcasterEpoch+int64(ts), 0).UTC()
}
