package store

import (
	"bytes"
	"time"

	"hubd/core/errors"
	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

// RentPeriod is how long one storage-rent purchase stays active.
const RentPeriod = 395 * 24 * time.Hour

// OnChainEventStore is the append-only per-fid log of contract events. It
// owns the custody, active-signer, and storage-unit derivations.
type OnChainEventStore struct {
	db storage.Database
}

func NewOnChainEventStore(db storage.Database) *OnChainEventStore {
	return &OnChainEventStore{db: db}
}

// Merge stages an event. Replaying an already-stored log returns
// bad_request.duplicate, which callers treat as a no-op.
func (s *OnChainEventStore) Merge(txn *storage.Txn, ev *types.OnChainEvent) error {
	txKey := keyspace.OnChainEventByTxKey(ev.TransactionHash, ev.LogIndex)
	if _, err := txn.Get(txKey); err == nil {
		return errors.New(errors.KindDuplicate, "on-chain event already merged")
	} else if err != storage.ErrNotFound {
		return errors.Wrap(errors.KindStorageFailure, "dedup lookup", err)
	}

	encoded, err := ev.Encode()
	if err != nil {
		return errors.Wrap(errors.KindValidationFailure, "encode on-chain event", err)
	}
	primaryKey := keyspace.OnChainEventPrimaryKey(ev.Fid, ev.Type, ev.BlockNumber, ev.LogIndex)
	txn.Put(primaryKey, encoded)
	txn.Put(txKey, primaryKey)

	switch ev.Type {
	case types.OnChainEventTypeSigner:
		if body := ev.Signer(); body != nil {
			txn.Put(keyspace.OnChainEventBySignerKey(ev.Fid, body.Key, ev.BlockNumber, ev.LogIndex), primaryKey)
		}
	case types.OnChainEventTypeIdRegister:
		if body := ev.IdRegister(); body != nil {
			txn.Put(keyspace.OnChainEventByAddressKey(body.To, ev.Fid), primaryKey)
		}
	}
	return nil
}

// latest returns the highest (blockNumber, logIndex) event of a type for a
// fid, or nil when none exist.
func (s *OnChainEventStore) latest(fid uint64, eventType types.OnChainEventType) (*types.OnChainEvent, error) {
	it := s.db.NewIterator(keyspace.OnChainEventTypePrefix(fid, eventType), true)
	defer it.Release()
	if !it.Next() {
		return nil, it.Error()
	}
	return types.DecodeOnChainEvent(it.Value())
}

// IdRegisterEvent returns the event currently defining the fid's custody.
func (s *OnChainEventStore) IdRegisterEvent(fid uint64) (*types.OnChainEvent, error) {
	ev, err := s.latest(fid, types.OnChainEventTypeIdRegister)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "load id register event", err)
	}
	if ev == nil {
		return nil, errors.Newf(errors.KindNotFound, "fid %d is not registered", fid)
	}
	return ev, nil
}

// CustodyAddress derives the fid's current custody address.
func (s *OnChainEventStore) CustodyAddress(fid uint64) ([]byte, error) {
	ev, err := s.IdRegisterEvent(fid)
	if err != nil {
		return nil, err
	}
	body := ev.IdRegister()
	if body == nil {
		return nil, errors.New(errors.KindStorageFailure, "id register event without body")
	}
	return body.To, nil
}

func eventPosition(ev *types.OnChainEvent) (uint64, uint32) {
	return ev.BlockNumber, ev.LogIndex
}

func positionAfter(aBlock uint64, aLog uint32, bBlock uint64, bLog uint32) bool {
	if aBlock != bBlock {
		return aBlock > bBlock
	}
	return aLog > bLog
}

// ActiveSigner returns the Signer event proving the key is an active
// delegate. A key whose latest event is a removal, or whose addition predates
// the most recent custody transfer, is not active.
func (s *OnChainEventStore) ActiveSigner(fid uint64, key []byte) (*types.OnChainEvent, error) {
	it := s.db.NewIterator(keyspace.OnChainEventBySignerPrefix(fid, key), true)
	defer it.Release()
	if !it.Next() {
		if err := it.Error(); err != nil {
			return nil, errors.Wrap(errors.KindStorageFailure, "signer index scan", err)
		}
		return nil, errors.Newf(errors.KindNotFound, "no signer events for key")
	}
	raw, err := s.db.Get(it.Value())
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "load signer event", err)
	}
	ev, err := types.DecodeOnChainEvent(raw)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "decode signer event", err)
	}
	body := ev.Signer()
	if body == nil || body.EventType != types.SignerEventTypeAdd {
		return nil, errors.New(errors.KindNotFound, "signer key is removed")
	}
	if err := s.checkSignerSurvivesTransfer(fid, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// checkSignerSurvivesTransfer voids signer additions that predate the most
// recent custody transfer: authority granted by the outgoing custody does not
// carry over.
func (s *OnChainEventStore) checkSignerSurvivesTransfer(fid uint64, signerEv *types.OnChainEvent) error {
	idEv, err := s.latest(fid, types.OnChainEventTypeIdRegister)
	if err != nil {
		return errors.Wrap(errors.KindStorageFailure, "load id register event", err)
	}
	if idEv == nil {
		return nil
	}
	body := idEv.IdRegister()
	if body == nil || body.EventType != types.IdRegisterEventTypeTransfer {
		return nil
	}
	sb, sl := eventPosition(signerEv)
	tb, tl := eventPosition(idEv)
	if !positionAfter(sb, sl, tb, tl) {
		return errors.New(errors.KindNotFound, "signer key predates custody transfer")
	}
	return nil
}

// ActiveSigners lists the fid's active delegate keys.
func (s *OnChainEventStore) ActiveSigners(fid uint64) ([]*types.OnChainEvent, error) {
	it := s.db.NewIterator(keyspace.OnChainEventBySignerPrefix(fid, nil), false)
	defer it.Release()

	latestByKey := make(map[string][]byte)
	var order []string
	for it.Next() {
		primaryKey := append([]byte(nil), it.Value()...)
		key := it.Key()
		// fid prefix(6) ‖ signer ‖ block(8) ‖ log(4)
		signer := key[6 : len(key)-12]
		id := string(signer)
		if _, seen := latestByKey[id]; !seen {
			order = append(order, id)
		}
		latestByKey[id] = primaryKey // ascending scan leaves the latest
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "signer index scan", err)
	}

	var active []*types.OnChainEvent
	for _, id := range order {
		raw, err := s.db.Get(latestByKey[id])
		if err != nil {
			return nil, errors.Wrap(errors.KindStorageFailure, "load signer event", err)
		}
		ev, err := types.DecodeOnChainEvent(raw)
		if err != nil {
			return nil, errors.Wrap(errors.KindStorageFailure, "decode signer event", err)
		}
		body := ev.Signer()
		if body == nil || body.EventType != types.SignerEventTypeAdd {
			continue
		}
		if err := s.checkSignerSurvivesTransfer(fid, ev); err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				continue
			}
			return nil, err
		}
		active = append(active, ev)
	}
	return active, nil
}

// StorageUnits sums the units of rents still inside their rent period.
func (s *OnChainEventStore) StorageUnits(fid uint64, at time.Time) (uint32, error) {
	it := s.db.NewIterator(keyspace.OnChainEventTypePrefix(fid, types.OnChainEventTypeStorageRent), false)
	defer it.Release()

	var units uint32
	for it.Next() {
		ev, err := types.DecodeOnChainEvent(it.Value())
		if err != nil {
			return 0, errors.Wrap(errors.KindStorageFailure, "decode rent event", err)
		}
		body := ev.StorageRent()
		if body == nil {
			continue
		}
		expiry := time.Unix(int64(ev.BlockTimestamp), 0).Add(RentPeriod)
		if at.Before(expiry) {
			units += body.Units
		}
	}
	if err := it.Error(); err != nil {
		return 0, errors.Wrap(errors.KindStorageFailure, "rent scan", err)
	}
	return units, nil
}

// EventsPage is one page of on-chain events.
type EventsPage struct {
	Events        []*types.OnChainEvent
	NextPageToken []byte
}

// EventsByFid pages a fid's events, optionally filtered to one type.
func (s *OnChainEventStore) EventsByFid(fid uint64, eventType types.OnChainEventType, page PageOptions) (*EventsPage, error) {
	prefix := keyspace.OnChainEventFidPrefix(fid)
	if eventType != types.OnChainEventTypeNone {
		prefix = keyspace.OnChainEventTypePrefix(fid, eventType)
	}
	limit := page.size()
	it := s.db.NewIterator(prefix, page.Reverse)
	defer it.Release()

	result := &EventsPage{}
	var lastSuffix []byte
	for it.Next() {
		suffix := it.Key()[len(prefix):]
		if len(page.PageToken) > 0 {
			if !page.Reverse && bytes.Compare(suffix, page.PageToken) <= 0 {
				continue
			}
			if page.Reverse && bytes.Compare(suffix, page.PageToken) >= 0 {
				continue
			}
		}
		if len(result.Events) == limit {
			result.NextPageToken = append([]byte(nil), lastSuffix...)
			return result, nil
		}
		ev, err := types.DecodeOnChainEvent(it.Value())
		if err != nil {
			return nil, errors.Wrap(errors.KindStorageFailure, "decode on-chain event", err)
		}
		result.Events = append(result.Events, ev)
		lastSuffix = append(lastSuffix[:0], suffix...)
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "event scan", err)
	}
	return result, nil
}

// FidByCustodyAddress reverse-maps a custody address to its fid.
func (s *OnChainEventStore) FidByCustodyAddress(addr []byte) (uint64, error) {
	it := s.db.NewIterator(keyspace.OnChainEventByAddressKey(addr, 0)[:1+1+len(addr)], false)
	defer it.Release()
	var fid uint64
	found := false
	for it.Next() {
		key := it.Key()
		candidate := keyspace.FidFromKeyBytes(key[len(key)-4:])
		// The address index keeps history; confirm it is still current.
		custody, err := s.CustodyAddress(candidate)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				continue
			}
			return 0, err
		}
		if bytes.Equal(custody, addr) {
			fid = candidate
			found = true
		}
	}
	if err := it.Error(); err != nil {
		return 0, errors.Wrap(errors.KindStorageFailure, "address index scan", err)
	}
	if !found {
		return 0, errors.New(errors.KindNotFound, "no fid for custody address")
	}
	return fid, nil
}
