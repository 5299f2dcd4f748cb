package events

import (
	"testing"
	"time"

	"hubd/core/types"
	"hubd/storage"
)

func testMessage(t *testing.T, ts uint32, text string) *types.Message {
	t.Helper()
	data := &types.MessageData{
		Type:      types.MessageTypeCastAdd,
		Fid:       5,
		Timestamp: ts,
		Network:   types.NetworkDevnet,
		Body:      &types.CastAddBody{Text: text},
	}
	encoded, err := data.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &types.Message{
		Data:       data,
		Hash:       types.ComputeMessageHash(encoded),
		HashScheme: types.HashSchemeBlake3,
	}
}

func appendEvent(t *testing.T, log *Log, db storage.Database, event *HubEvent) *HubEvent {
	t.Helper()
	txn := storage.NewTxn(db)
	if err := log.Append(txn, event); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	log.Publish(event)
	return event
}

func TestEventIDsAreStrictlyIncreasing(t *testing.T) {
	db := storage.NewMemDB()
	log := NewLog(db, nil)
	// Freeze the clock so every id must come from the sequence counter.
	log.SetNowFunc(func() time.Time {
		return time.Unix(types.FarcasterEpoch+10, 0)
	})

	var last uint64
	for i := 0; i < 100; i++ {
		event := appendEvent(t, log, db, MergeMessage(testMessage(t, uint32(i+1), "x"), nil))
		if event.ID <= last {
			t.Fatalf("event ids must be strictly increasing: %d after %d", event.ID, last)
		}
		last = event.ID
	}
}

func TestRangeResumesFromID(t *testing.T) {
	db := storage.NewMemDB()
	log := NewLog(db, nil)

	var ids []uint64
	for i := 0; i < 5; i++ {
		event := appendEvent(t, log, db, MergeMessage(testMessage(t, uint32(i+1), "x"), nil))
		ids = append(ids, event.ID)
	}

	events, next, err := log.Range(0, 3)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(events) != 3 || next != ids[3] {
		t.Fatalf("unexpected page: len=%d next=%d want %d", len(events), next, ids[3])
	}
	events, next, err = log.Range(next, 100)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(events) != 2 || next != 0 {
		t.Fatalf("tail page: len=%d next=%d", len(events), next)
	}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	db := storage.NewMemDB()
	log := NewLog(db, nil)

	sub := log.Subscribe(4)
	defer sub.Cancel()

	event := appendEvent(t, log, db, MergeOnChainEvent(&types.OnChainEvent{
		Type:        types.OnChainEventTypeSigner,
		Fid:         7,
		BlockNumber: 1,
		Body:        &types.SignerEventBody{Key: make([]byte, 32), EventType: types.SignerEventTypeAdd},
	}))

	select {
	case got := <-sub.C:
		if got.ID != event.ID || got.Type != HubEventTypeMergeOnChainEvent {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
	}

	sub.Cancel()
	log.Publish(event) // must not panic or block after cancel
}

func TestHubEventRoundTrip(t *testing.T) {
	msg := testMessage(t, 9, "keep")
	displaced := testMessage(t, 8, "gone")
	event := MergeMessage(msg, []*types.Message{displaced})
	event.ID = 42

	encoded, err := event.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeHubEvent(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != 42 || decoded.Type != HubEventTypeMergeMessage {
		t.Fatalf("envelope mismatch: %+v", decoded)
	}
	if len(decoded.Deleted) != 1 || decoded.Deleted[0].Data.CastAdd().Text != "gone" {
		t.Fatalf("displaced messages not preserved")
	}
}
