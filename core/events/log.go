package events

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

// sequenceBits is how much of the event id is reserved for the intra-
// millisecond sequence counter. The rest holds milliseconds since the
// Farcaster epoch, so ids remain monotonic across restarts.
const sequenceBits = 12

// MakeEventID composes an id from a millisecond clock and a sequence number.
func MakeEventID(millis uint64, seq uint64) uint64 {
	return millis<<sequenceBits | (seq & (1<<sequenceBits - 1))
}

// SplitEventID recovers the clock component of an id.
func SplitEventID(id uint64) (millis uint64, seq uint64) {
	return id >> sequenceBits, id & (1<<sequenceBits - 1)
}

// Subscription delivers events to one consumer. Events that do not fit a slow
// consumer's buffer are dropped rather than allowed to stall the engine.
type Subscription struct {
	ID string
	C  <-chan *HubEvent

	cancel func()
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

// Log is the durable event log. Entries are staged into the caller's KV
// transaction so the log commits atomically with the state change it
// describes; Publish must only be called after that commit succeeds.
type Log struct {
	db     storage.Database
	logger *slog.Logger
	nowFn  func() time.Time

	idMu       sync.Mutex
	lastMillis uint64
	lastSeq    uint64

	subMu sync.RWMutex
	subs  map[string]chan *HubEvent
}

func NewLog(db storage.Database, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		db:     db,
		logger: logger,
		nowFn:  time.Now,
		subs:   make(map[string]chan *HubEvent),
	}
}

// SetNowFunc overrides the id clock for tests.
func (l *Log) SetNowFunc(now func() time.Time) {
	if now == nil {
		l.nowFn = time.Now
		return
	}
	l.nowFn = now
}

func (l *Log) nextID() uint64 {
	l.idMu.Lock()
	defer l.idMu.Unlock()
	millis := uint64(l.nowFn().UnixMilli() - types.FarcasterEpoch*1000)
	if millis < l.lastMillis {
		millis = l.lastMillis
	}
	if millis == l.lastMillis {
		l.lastSeq++
		if l.lastSeq >= 1<<sequenceBits {
			l.lastMillis++
			l.lastSeq = 0
		}
	} else {
		l.lastMillis = millis
		l.lastSeq = 0
	}
	return MakeEventID(l.lastMillis, l.lastSeq)
}

// Append assigns the event its id and stages the log row into the
// transaction.
func (l *Log) Append(txn *storage.Txn, event *HubEvent) error {
	event.ID = l.nextID()
	encoded, err := event.Encode()
	if err != nil {
		return fmt.Errorf("append hub event: %w", err)
	}
	txn.Put(keyspace.HubEventKey(event.ID), encoded)
	return nil
}

// Publish fans the event out to subscribers. Must follow the KV commit.
func (l *Log) Publish(event *HubEvent) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	for id, ch := range l.subs {
		select {
		case ch <- event:
		default:
			l.logger.Warn("dropping event for slow subscriber",
				slog.String("subscriber", id),
				slog.Uint64("event_id", event.ID))
		}
	}
}

// Subscribe registers a live consumer. Events committed before the
// subscription are available through Range.
func (l *Log) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 256
	}
	id := uuid.NewString()
	ch := make(chan *HubEvent, buffer)
	l.subMu.Lock()
	l.subs[id] = ch
	l.subMu.Unlock()
	var once sync.Once
	return &Subscription{
		ID: id,
		C:  ch,
		cancel: func() {
			once.Do(func() {
				l.subMu.Lock()
				delete(l.subs, id)
				l.subMu.Unlock()
			})
		},
	}
}

// Range reads committed events with id >= fromID in log order, up to limit.
// It returns the next id to resume from, or 0 when the log is exhausted.
func (l *Log) Range(fromID uint64, limit int) ([]*HubEvent, uint64, error) {
	if limit <= 0 {
		limit = 100
	}
	it := l.db.NewIterator(keyspace.HubEventPrefix(), false)
	defer it.Release()

	var out []*HubEvent
	for it.Next() {
		id, err := keyspace.HubEventIdFromKey(it.Key())
		if err != nil {
			return nil, 0, err
		}
		if id < fromID {
			continue
		}
		if len(out) == limit {
			return out, id, nil
		}
		event, err := DecodeHubEvent(it.Value())
		if err != nil {
			return nil, 0, fmt.Errorf("decode event %d: %w", id, err)
		}
		out = append(out, event)
	}
	if err := it.Error(); err != nil {
		return nil, 0, err
	}
	return out, 0, nil
}
