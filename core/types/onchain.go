package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// OnChainEventType distinguishes the contract log families the engine tracks.
type OnChainEventType uint8

const (
	OnChainEventTypeNone        OnChainEventType = 0
	OnChainEventTypeIdRegister  OnChainEventType = 1
	OnChainEventTypeSigner      OnChainEventType = 2
	OnChainEventTypeStorageRent OnChainEventType = 3
)

func (t OnChainEventType) String() string {
	switch t {
	case OnChainEventTypeIdRegister:
		return "ID_REGISTER"
	case OnChainEventTypeSigner:
		return "SIGNER"
	case OnChainEventTypeStorageRent:
		return "STORAGE_RENT"
	default:
		return fmt.Sprintf("ON_CHAIN_EVENT_TYPE_%d", uint8(t))
	}
}

type IdRegisterEventType uint8

const (
	IdRegisterEventTypeNone           IdRegisterEventType = 0
	IdRegisterEventTypeRegister       IdRegisterEventType = 1
	IdRegisterEventTypeTransfer       IdRegisterEventType = 2
	IdRegisterEventTypeChangeRecovery IdRegisterEventType = 3
)

type SignerEventType uint8

const (
	SignerEventTypeNone       SignerEventType = 0
	SignerEventTypeAdd        SignerEventType = 1
	SignerEventTypeRemove     SignerEventType = 2
	SignerEventTypeAdminReset SignerEventType = 3
)

// OnChainEventBody is the per-family payload union.
type OnChainEventBody interface {
	isOnChainEventBody()
}

type IdRegisterEventBody struct {
	To              []byte
	EventType       IdRegisterEventType
	From            []byte
	RecoveryAddress []byte
}

type SignerEventBody struct {
	Key       []byte
	KeyType   uint32
	EventType SignerEventType
	Metadata  []byte
}

type StorageRentEventBody struct {
	Payer []byte
	Units uint32
	// Payment is the rent paid, big-endian wei. Use PaymentAmount for math.
	Payment []byte
}

func (*IdRegisterEventBody) isOnChainEventBody()  {}
func (*SignerEventBody) isOnChainEventBody()      {}
func (*StorageRentEventBody) isOnChainEventBody() {}

// PaymentAmount interprets the stored payment bytes as a 256-bit amount.
func (b *StorageRentEventBody) PaymentAmount() *uint256.Int {
	return new(uint256.Int).SetBytes(b.Payment)
}

// OnChainEvent is an accepted, immutable contract log. Events are strictly
// ordered per fid by (blockNumber, logIndex).
type OnChainEvent struct {
	Type            OnChainEventType
	ChainID         uint32
	BlockNumber     uint64
	BlockHash       []byte
	BlockTimestamp  uint64
	TransactionHash []byte
	LogIndex        uint32
	TxIndex         uint32
	Fid             uint64
	Body            OnChainEventBody
}

type onChainEnvelope struct {
	Type            uint8
	ChainID         uint32
	BlockNumber     uint64
	BlockHash       []byte
	BlockTimestamp  uint64
	TransactionHash []byte
	LogIndex        uint32
	TxIndex         uint32
	Fid             uint64
	Body            []byte
}

func (e *OnChainEvent) IdRegister() *IdRegisterEventBody {
	b, _ := e.Body.(*IdRegisterEventBody)
	return b
}

func (e *OnChainEvent) Signer() *SignerEventBody {
	b, _ := e.Body.(*SignerEventBody)
	return b
}

func (e *OnChainEvent) StorageRent() *StorageRentEventBody {
	b, _ := e.Body.(*StorageRentEventBody)
	return b
}

func (e *OnChainEvent) Encode() ([]byte, error) {
	if e == nil || e.Body == nil {
		return nil, fmt.Errorf("on-chain event incomplete")
	}
	bodyBytes, err := rlp.EncodeToBytes(e.Body)
	if err != nil {
		return nil, fmt.Errorf("encode event body: %w", err)
	}
	return rlp.EncodeToBytes(&onChainEnvelope{
		Type:            uint8(e.Type),
		ChainID:         e.ChainID,
		BlockNumber:     e.BlockNumber,
		BlockHash:       e.BlockHash,
		BlockTimestamp:  e.BlockTimestamp,
		TransactionHash: e.TransactionHash,
		LogIndex:        e.LogIndex,
		TxIndex:         e.TxIndex,
		Fid:             e.Fid,
		Body:            bodyBytes,
	})
}

func DecodeOnChainEvent(b []byte) (*OnChainEvent, error) {
	var env onChainEnvelope
	if err := rlp.DecodeBytes(b, &env); err != nil {
		return nil, fmt.Errorf("decode event envelope: %w", err)
	}
	var body OnChainEventBody
	switch OnChainEventType(env.Type) {
	case OnChainEventTypeIdRegister:
		body = new(IdRegisterEventBody)
	case OnChainEventTypeSigner:
		body = new(SignerEventBody)
	case OnChainEventTypeStorageRent:
		body = new(StorageRentEventBody)
	default:
		return nil, fmt.Errorf("unknown on-chain event type %d", env.Type)
	}
	if err := rlp.DecodeBytes(env.Body, body); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", OnChainEventType(env.Type), err)
	}
	return &OnChainEvent{
		Type:            OnChainEventType(env.Type),
		ChainID:         env.ChainID,
		BlockNumber:     env.BlockNumber,
		BlockHash:       env.BlockHash,
		BlockTimestamp:  env.BlockTimestamp,
		TransactionHash: env.TransactionHash,
		LogIndex:        env.LogIndex,
		TxIndex:         env.TxIndex,
		Fid:             env.Fid,
		Body:            body,
	}, nil
}
