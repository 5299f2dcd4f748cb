package synctrie

import (
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"hubd/core/types"
)

// node is one persisted trie entry. A node either carries a full SyncId
// (leaf) or a child bitmap (internal). Internal hashes are the XOR of every
// leaf hash underneath, which SyncId uniqueness makes a sound set digest.
type node struct {
	hash     []byte
	count    uint64
	leaf     []byte
	children uint16
}

type nodeEnvelope struct {
	Hash     []byte
	Count    uint64
	Leaf     []byte
	Children uint16
}

func (n *node) isLeaf() bool {
	return len(n.leaf) > 0
}

func (n *node) hasChild(nibble byte) bool {
	return n.children&(1<<nibble) != 0
}

func (n *node) setChild(nibble byte) {
	n.children |= 1 << nibble
}

func (n *node) clearChild(nibble byte) {
	n.children &^= 1 << nibble
}

func (n *node) encode() ([]byte, error) {
	return rlp.EncodeToBytes(&nodeEnvelope{
		Hash:     n.hash,
		Count:    n.count,
		Leaf:     n.leaf,
		Children: n.children,
	})
}

func decodeNode(b []byte) (*node, error) {
	var env nodeEnvelope
	if err := rlp.DecodeBytes(b, &env); err != nil {
		return nil, err
	}
	return &node{hash: env.Hash, count: env.Count, leaf: env.Leaf, children: env.Children}, nil
}

// leafHash digests one SyncId.
func leafHash(syncId []byte) []byte {
	sum := blake3.Sum256(syncId)
	return sum[:types.HashLength]
}

// xorInto folds delta into hash in place, allocating when hash is empty.
func xorInto(hash, delta []byte) []byte {
	if len(hash) == 0 {
		return append([]byte(nil), delta...)
	}
	for i := range hash {
		hash[i] ^= delta[i]
	}
	return hash
}

// nibblePath expands a SyncId into one 4-bit symbol per byte, high first.
func nibblePath(syncId []byte) []byte {
	path := make([]byte, 0, len(syncId)*2)
	for _, b := range syncId {
		path = append(path, b>>4, b&0x0f)
	}
	return path
}
