// Package events carries the typed state-change notifications emitted by the
// engine and the durable, monotonically-ordered log that backs them.
package events

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"hubd/core/types"
)

type HubEventType uint8

const (
	HubEventTypeNone               HubEventType = 0
	HubEventTypeMergeMessage       HubEventType = 1
	HubEventTypePruneMessage       HubEventType = 2
	HubEventTypeRevokeMessage      HubEventType = 3
	HubEventTypeMergeOnChainEvent  HubEventType = 4
	HubEventTypeMergeUsernameProof HubEventType = 5
)

func (t HubEventType) String() string {
	switch t {
	case HubEventTypeMergeMessage:
		return "MERGE_MESSAGE"
	case HubEventTypePruneMessage:
		return "PRUNE_MESSAGE"
	case HubEventTypeRevokeMessage:
		return "REVOKE_MESSAGE"
	case HubEventTypeMergeOnChainEvent:
		return "MERGE_ON_CHAIN_EVENT"
	case HubEventTypeMergeUsernameProof:
		return "MERGE_USERNAME_PROOF"
	default:
		return fmt.Sprintf("HUB_EVENT_TYPE_%d", uint8(t))
	}
}

// HubEvent is one entry of the event log. Message events carry the affected
// message plus, for merges, the conflicting messages they displaced.
type HubEvent struct {
	ID      uint64
	Type    HubEventType
	Message *types.Message
	Deleted []*types.Message
	// OnChainEvent is set for MergeOnChainEvent entries.
	OnChainEvent *types.OnChainEvent
}

// EventType satisfies the generic emitter contract used across the codebase.
func (e *HubEvent) EventType() string {
	return e.Type.String()
}

func MergeMessage(msg *types.Message, deleted []*types.Message) *HubEvent {
	eventType := HubEventTypeMergeMessage
	if msg.Type() == types.MessageTypeUsernameProof {
		eventType = HubEventTypeMergeUsernameProof
	}
	return &HubEvent{Type: eventType, Message: msg, Deleted: deleted}
}

func PruneMessage(msg *types.Message) *HubEvent {
	return &HubEvent{Type: HubEventTypePruneMessage, Message: msg}
}

func RevokeMessage(msg *types.Message) *HubEvent {
	return &HubEvent{Type: HubEventTypeRevokeMessage, Message: msg}
}

func MergeOnChainEvent(ev *types.OnChainEvent) *HubEvent {
	return &HubEvent{Type: HubEventTypeMergeOnChainEvent, OnChainEvent: ev}
}

type hubEventEnvelope struct {
	ID           uint64
	Type         uint8
	Message      []byte
	Deleted      [][]byte
	OnChainEvent []byte
}

func (e *HubEvent) Encode() ([]byte, error) {
	env := hubEventEnvelope{ID: e.ID, Type: uint8(e.Type)}
	if e.Message != nil {
		encoded, err := e.Message.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode event message: %w", err)
		}
		env.Message = encoded
	}
	for _, deleted := range e.Deleted {
		encoded, err := deleted.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode displaced message: %w", err)
		}
		env.Deleted = append(env.Deleted, encoded)
	}
	if e.OnChainEvent != nil {
		encoded, err := e.OnChainEvent.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode on-chain event: %w", err)
		}
		env.OnChainEvent = encoded
	}
	return rlp.EncodeToBytes(&env)
}

func DecodeHubEvent(b []byte) (*HubEvent, error) {
	var env hubEventEnvelope
	if err := rlp.DecodeBytes(b, &env); err != nil {
		return nil, fmt.Errorf("decode hub event: %w", err)
	}
	event := &HubEvent{ID: env.ID, Type: HubEventType(env.Type)}
	if len(env.Message) > 0 {
		msg, err := types.DecodeMessage(env.Message)
		if err != nil {
			return nil, err
		}
		event.Message = msg
	}
	for _, raw := range env.Deleted {
		msg, err := types.DecodeMessage(raw)
		if err != nil {
			return nil, err
		}
		event.Deleted = append(event.Deleted, msg)
	}
	if len(env.OnChainEvent) > 0 {
		ev, err := types.DecodeOnChainEvent(env.OnChainEvent)
		if err != nil {
			return nil, err
		}
		event.OnChainEvent = ev
	}
	return event, nil
}
