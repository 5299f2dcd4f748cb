package engine

import "sync"

// fidLocks stripes per-fid mutexes so merges within a fid serialize while
// unrelated fids proceed in parallel.
type fidLocks struct {
	stripes [256]sync.Mutex
}

func (l *fidLocks) lock(fid uint64) func() {
	m := &l.stripes[fid%uint64(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
