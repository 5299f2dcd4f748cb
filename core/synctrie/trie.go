// Package synctrie maintains the persistent Merkle prefix trie over SyncIds
// that peers use to locate the symmetric difference of their message sets.
// The trie is a rebuildable cache over the primary message rows; its nodes
// are staged into the same transaction as the rows they reflect.
package synctrie

import (
	"bytes"
	"fmt"
	"sync"

	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

// fanout is the number of children per internal node (one hex nibble).
const fanout = 16

// NodeMetadata describes one subtree for the sync RPC surface.
type NodeMetadata struct {
	Prefix      []byte
	NumMessages uint64
	Hash        []byte
	Children    map[byte][]byte
}

// Trie is safe for concurrent use. Callers stage mutations into their own
// transaction; because the in-memory node cache advances as soon as an
// operation is staged, writers must serialize stage+commit and call
// Invalidate if a staged transaction fails to commit.
type Trie struct {
	mu    sync.Mutex
	db    storage.Database
	cache map[string]*node
}

func New(db storage.Database) *Trie {
	return &Trie{
		db:    db,
		cache: make(map[string]*node),
	}
}

// Invalidate drops the node cache, forcing reloads from committed state.
func (t *Trie) Invalidate() {
	t.mu.Lock()
	t.cache = make(map[string]*node)
	t.mu.Unlock()
}

// load returns the node at a nibble path, nil when absent. The cache stores
// nil entries for known-absent paths.
func (t *Trie) load(path []byte) (*node, error) {
	if cached, ok := t.cache[string(path)]; ok {
		return cached, nil
	}
	raw, err := t.db.Get(keyspace.SyncTrieNodeKey(path))
	if err == storage.ErrNotFound {
		t.cache[string(path)] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n, err := decodeNode(raw)
	if err != nil {
		return nil, fmt.Errorf("synctrie: decode node at %x: %w", path, err)
	}
	t.cache[string(path)] = n
	return n, nil
}

func (t *Trie) stage(txn *storage.Txn, path []byte, n *node) error {
	encoded, err := n.encode()
	if err != nil {
		return err
	}
	txn.Put(keyspace.SyncTrieNodeKey(path), encoded)
	t.cache[string(path)] = n
	return nil
}

func (t *Trie) stageLeaf(txn *storage.Txn, path []byte, syncId []byte) error {
	return t.stage(txn, path, &node{
		hash:  leafHash(syncId),
		count: 1,
		leaf:  append([]byte(nil), syncId...),
	})
}

func (t *Trie) stageDelete(txn *storage.Txn, path []byte) {
	txn.Delete(keyspace.SyncTrieNodeKey(path))
	t.cache[string(path)] = nil
}

type trail struct {
	prefix []byte
	n      *node
	nibble byte
}

// Insert stages a SyncId into the trie. It reports false when the id is
// already present.
func (t *Trie) Insert(txn *storage.Txn, syncId []byte) (bool, error) {
	if len(syncId) != types.SyncIdLength {
		return false, fmt.Errorf("synctrie: sync id must be %d bytes, got %d", types.SyncIdLength, len(syncId))
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	path := nibblePath(syncId)
	delta := leafHash(syncId)

	var ancestors []trail
	depth := 0
walk:
	for {
		prefix := path[:depth]
		n, err := t.load(prefix)
		if err != nil {
			return false, err
		}
		switch {
		case n == nil:
			if err := t.stageLeaf(txn, prefix, syncId); err != nil {
				return false, err
			}
			break walk
		case n.isLeaf():
			if bytes.Equal(n.leaf, syncId) {
				return false, nil
			}
			if err := t.split(txn, n, path, depth, syncId, delta); err != nil {
				return false, err
			}
			break walk
		default:
			n.setChild(path[depth])
			ancestors = append(ancestors, trail{prefix: prefix, n: n, nibble: path[depth]})
			depth++
		}
	}

	for _, a := range ancestors {
		a.n.count++
		a.n.hash = xorInto(a.n.hash, delta)
		if err := t.stage(txn, a.prefix, a.n); err != nil {
			return false, err
		}
	}
	return true, nil
}

// split relocates an in-place leaf downward until its path diverges from the
// incoming id, leaving a chain of two-leaf internal nodes behind.
func (t *Trie) split(txn *storage.Txn, n *node, path []byte, depth int, syncId, delta []byte) error {
	existing := append([]byte(nil), n.leaf...)
	existingPath := nibblePath(existing)
	existingDelta := leafHash(existing)

	j := depth
	for existingPath[j] == path[j] {
		j++
	}
	pairHash := xorInto(append([]byte(nil), existingDelta...), delta)
	for k := depth; k <= j; k++ {
		internal := &node{
			count: 2,
			hash:  append([]byte(nil), pairHash...),
		}
		if k < j {
			internal.setChild(path[k])
		} else {
			internal.setChild(path[j])
			internal.setChild(existingPath[j])
		}
		if err := t.stage(txn, path[:k], internal); err != nil {
			return err
		}
	}
	if err := t.stageLeaf(txn, existingPath[:j+1], existing); err != nil {
		return err
	}
	return t.stageLeaf(txn, path[:j+1], syncId)
}

// Delete stages the removal of a SyncId, collapsing empty internal nodes. It
// reports false when the id is absent.
func (t *Trie) Delete(txn *storage.Txn, syncId []byte) (bool, error) {
	if len(syncId) != types.SyncIdLength {
		return false, fmt.Errorf("synctrie: sync id must be %d bytes, got %d", types.SyncIdLength, len(syncId))
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	path := nibblePath(syncId)
	var chain []trail
	depth := 0
	for {
		prefix := path[:depth]
		n, err := t.load(prefix)
		if err != nil {
			return false, err
		}
		if n == nil {
			return false, nil
		}
		if n.isLeaf() {
			if !bytes.Equal(n.leaf, syncId) {
				return false, nil
			}
			t.stageDelete(txn, prefix)
			break
		}
		if !n.hasChild(path[depth]) {
			return false, nil
		}
		chain = append(chain, trail{prefix: prefix, n: n, nibble: path[depth]})
		depth++
	}

	delta := leafHash(syncId)
	childGone := true
	for i := len(chain) - 1; i >= 0; i-- {
		a := chain[i]
		a.n.count--
		a.n.hash = xorInto(a.n.hash, delta)
		if childGone {
			a.n.clearChild(a.nibble)
		}
		if a.n.count == 0 {
			t.stageDelete(txn, a.prefix)
			childGone = true
			continue
		}
		if err := t.stage(txn, a.prefix, a.n); err != nil {
			return false, err
		}
		childGone = false
	}
	return true, nil
}

// Exists reports whether a SyncId is present.
func (t *Trie) Exists(syncId []byte) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := nibblePath(syncId)
	depth := 0
	for {
		n, err := t.load(path[:depth])
		if err != nil {
			return false, err
		}
		if n == nil {
			return false, nil
		}
		if n.isLeaf() {
			return bytes.Equal(n.leaf, syncId), nil
		}
		if !n.hasChild(path[depth]) {
			return false, nil
		}
		depth++
	}
}

// RootHash returns the digest over the whole accepted SyncId set. An empty
// trie hashes to all zeroes.
func (t *Trie) RootHash() ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, err := t.load(nil)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return make([]byte, types.HashLength), nil
	}
	return append([]byte(nil), root.hash...), nil
}

// Count returns the number of SyncIds in the trie.
func (t *Trie) Count() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, err := t.load(nil)
	if err != nil {
		return 0, err
	}
	if root == nil {
		return 0, nil
	}
	return root.count, nil
}

// descend walks to the node covering a nibble prefix. When a leaf sits above
// the requested depth it is returned as long as its id matches the prefix.
func (t *Trie) descend(prefix []byte) (*node, error) {
	depth := 0
	for {
		n, err := t.load(prefix[:depth])
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, nil
		}
		if depth == len(prefix) {
			return n, nil
		}
		if n.isLeaf() {
			if bytes.HasPrefix(nibblePath(n.leaf), prefix) {
				return n, nil
			}
			return nil, nil
		}
		if !n.hasChild(prefix[depth]) {
			return nil, nil
		}
		depth++
	}
}

// Metadata reports the subtree digest at a prefix and the digests of its
// children, which peers compare to steer the divergence walk.
func (t *Trie) Metadata(prefix []byte) (*NodeMetadata, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.descend(prefix)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	meta := &NodeMetadata{
		Prefix:      append([]byte(nil), prefix...),
		NumMessages: n.count,
		Hash:        append([]byte(nil), n.hash...),
		Children:    make(map[byte][]byte),
	}
	if n.isLeaf() {
		return meta, nil
	}
	for nibble := byte(0); nibble < fanout; nibble++ {
		if !n.hasChild(nibble) {
			continue
		}
		child, err := t.load(append(append([]byte(nil), prefix...), nibble))
		if err != nil {
			return nil, err
		}
		if child != nil {
			meta.Children[nibble] = append([]byte(nil), child.hash...)
		}
	}
	return meta, nil
}

// AllValues enumerates every SyncId under a prefix in id order.
func (t *Trie) AllValues(prefix []byte) ([][]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.descend(prefix)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, nil
	}
	// A leaf that answered for the prefix is the only value under it.
	base := prefix
	if n.isLeaf() {
		return [][]byte{append([]byte(nil), n.leaf...)}, nil
	}
	var out [][]byte
	if err := t.collect(base, n, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Trie) collect(path []byte, n *node, out *[][]byte) error {
	if n.isLeaf() {
		*out = append(*out, append([]byte(nil), n.leaf...))
		return nil
	}
	for nibble := byte(0); nibble < fanout; nibble++ {
		if !n.hasChild(nibble) {
			continue
		}
		childPath := append(append([]byte(nil), path...), nibble)
		child, err := t.load(childPath)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}
		if err := t.collect(childPath, child, out); err != nil {
			return err
		}
	}
	return nil
}
