package store

import (
	"bytes"
	"sync"
	"time"

	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

type usageKey struct {
	fid        uint64
	setPostfix byte
}

type usage struct {
	count    uint64
	earliest []byte // TsHash of the oldest row; nil when unknown
}

// StorageCache keeps per-(fid, set) active counts and earliest keys plus the
// fid's purchased units in memory. It is soft state: the KV store is
// authoritative and the cache is rebuilt by a full sweep on start. Updates
// must follow the KV commit they describe.
type StorageCache struct {
	db      storage.Database
	onchain *OnChainEventStore

	mu     sync.RWMutex
	counts map[usageKey]*usage
	units  map[uint64]uint32
}

func NewStorageCache(db storage.Database, onchain *OnChainEventStore) *StorageCache {
	return &StorageCache{
		db:      db,
		onchain: onchain,
		counts:  make(map[usageKey]*usage),
		units:   make(map[uint64]uint32),
	}
}

// Rebuild sweeps every primary message row and reconstructs the counters.
func (c *StorageCache) Rebuild() error {
	counts := make(map[usageKey]*usage)
	it := c.db.NewIterator([]byte{keyspace.RootPrefixUser}, false)
	defer it.Release()
	for it.Next() {
		key := it.Key()
		// User ‖ fid(4) ‖ postfix ‖ tsHash(24)
		if len(key) != 1+4+1+types.TsHashLength {
			continue
		}
		postfix := key[5]
		if !keyspace.IsMessageSetPostfix(postfix) {
			continue
		}
		fid := keyspace.FidFromKeyBytes(key[1:5])
		uk := usageKey{fid: fid, setPostfix: postfix}
		entry := counts[uk]
		if entry == nil {
			entry = &usage{}
			counts[uk] = entry
		}
		entry.count++
		tsHash := append([]byte(nil), key[6:]...)
		if entry.earliest == nil || bytes.Compare(tsHash, entry.earliest) < 0 {
			entry.earliest = tsHash
		}
	}
	if err := it.Error(); err != nil {
		return err
	}
	c.mu.Lock()
	c.counts = counts
	c.units = make(map[uint64]uint32)
	c.mu.Unlock()
	return nil
}

// Count returns the active message count for (fid, set).
func (c *StorageCache) Count(fid uint64, setPostfix byte) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry := c.counts[usageKey{fid: fid, setPostfix: setPostfix}]; entry != nil {
		return entry.count
	}
	return 0
}

// EarliestTsHash returns the TsHash of the oldest row for (fid, set), or nil.
func (c *StorageCache) EarliestTsHash(fid uint64, setPostfix byte) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if entry := c.counts[usageKey{fid: fid, setPostfix: setPostfix}]; entry != nil && entry.earliest != nil {
		return append([]byte(nil), entry.earliest...)
	}
	return nil
}

// Units returns the fid's purchased storage units, consulting the on-chain
// store on a cache miss.
func (c *StorageCache) Units(fid uint64) (uint32, error) {
	c.mu.RLock()
	units, ok := c.units[fid]
	c.mu.RUnlock()
	if ok {
		return units, nil
	}
	units, err := c.onchain.StorageUnits(fid, time.Now())
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.units[fid] = units
	c.mu.Unlock()
	return units, nil
}

// InvalidateUnits drops the cached units after a rent event merges.
func (c *StorageCache) InvalidateUnits(fid uint64) {
	c.mu.Lock()
	delete(c.units, fid)
	c.mu.Unlock()
}

func (c *StorageCache) add(fid uint64, setPostfix byte, tsHash []byte) {
	uk := usageKey{fid: fid, setPostfix: setPostfix}
	entry := c.counts[uk]
	if entry == nil {
		entry = &usage{}
		c.counts[uk] = entry
	}
	entry.count++
	if entry.earliest != nil && bytes.Compare(tsHash, entry.earliest) < 0 {
		entry.earliest = append([]byte(nil), tsHash...)
	} else if entry.count == 1 {
		entry.earliest = append([]byte(nil), tsHash...)
	}
}

func (c *StorageCache) remove(fid uint64, setPostfix byte, tsHash []byte) {
	uk := usageKey{fid: fid, setPostfix: setPostfix}
	entry := c.counts[uk]
	if entry == nil {
		return
	}
	if entry.count > 0 {
		entry.count--
	}
	if entry.count == 0 {
		delete(c.counts, uk)
		return
	}
	if entry.earliest != nil && bytes.Equal(entry.earliest, tsHash) {
		// The earliest row is gone; rescan the prefix for the next one.
		entry.earliest = c.scanEarliest(fid, setPostfix)
	}
}

func (c *StorageCache) scanEarliest(fid uint64, setPostfix byte) []byte {
	it := c.db.NewIterator(keyspace.MessagePrimaryPrefix(fid, setPostfix), false)
	defer it.Release()
	if it.Next() {
		key := it.Key()
		return append([]byte(nil), key[len(key)-types.TsHashLength:]...)
	}
	return nil
}

// OnMerge applies a committed merge to the counters.
func (c *StorageCache) OnMerge(setPostfix byte, merged *types.Message, deleted []*types.Message) error {
	tsHash, err := merged.TsHash()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, gone := range deleted {
		goneTsHash, err := gone.TsHash()
		if err != nil {
			return err
		}
		c.remove(gone.Fid(), setPostfix, goneTsHash)
	}
	c.add(merged.Fid(), setPostfix, tsHash)
	return nil
}

// OnDelete applies a committed revoke or prune to the counters.
func (c *StorageCache) OnDelete(setPostfix byte, msg *types.Message) error {
	tsHash, err := msg.TsHash()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(msg.Fid(), setPostfix, tsHash)
	return nil
}
