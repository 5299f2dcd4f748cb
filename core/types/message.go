package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

// MessageData is the signed envelope: everything the hash and signature cover.
type MessageData struct {
	Type      MessageType
	Fid       uint64
	Timestamp uint32
	Network   Network
	Body      Body
}

// dataEnvelope is the canonical wire form of MessageData. The body is nested
// as pre-encoded bytes so the outer layout stays identical across families.
type dataEnvelope struct {
	Type      uint8
	Fid       uint64
	Timestamp uint32
	Network   uint8
	Body      []byte
}

// Encode produces the canonical bytes the message hash is computed over.
func (d *MessageData) Encode() ([]byte, error) {
	if d == nil || d.Body == nil {
		return nil, fmt.Errorf("message data incomplete")
	}
	bodyBytes, err := rlp.EncodeToBytes(d.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return rlp.EncodeToBytes(&dataEnvelope{
		Type:      uint8(d.Type),
		Fid:       d.Fid,
		Timestamp: d.Timestamp,
		Network:   uint8(d.Network),
		Body:      bodyBytes,
	})
}

func newBodyFor(t MessageType) (Body, error) {
	switch t {
	case MessageTypeCastAdd:
		return new(CastAddBody), nil
	case MessageTypeCastRemove:
		return new(CastRemoveBody), nil
	case MessageTypeReactionAdd, MessageTypeReactionRemove:
		return new(ReactionBody), nil
	case MessageTypeLinkAdd, MessageTypeLinkRemove:
		return new(LinkBody), nil
	case MessageTypeLinkCompactState:
		return new(LinkCompactStateBody), nil
	case MessageTypeVerificationAdd:
		return new(VerificationAddBody), nil
	case MessageTypeVerificationRemove:
		return new(VerificationRemoveBody), nil
	case MessageTypeUserDataAdd:
		return new(UserDataBody), nil
	case MessageTypeUsernameProof:
		return new(UsernameProofBody), nil
	default:
		return nil, fmt.Errorf("unknown message type %d", t)
	}
}

// DecodeMessageData parses canonical data bytes back into a MessageData.
func DecodeMessageData(b []byte) (*MessageData, error) {
	var env dataEnvelope
	if err := rlp.DecodeBytes(b, &env); err != nil {
		return nil, fmt.Errorf("decode data envelope: %w", err)
	}
	body, err := newBodyFor(MessageType(env.Type))
	if err != nil {
		return nil, err
	}
	if err := rlp.DecodeBytes(env.Body, body); err != nil {
		return nil, fmt.Errorf("decode %s body: %w", MessageType(env.Type), err)
	}
	return &MessageData{
		Type:      MessageType(env.Type),
		Fid:       env.Fid,
		Timestamp: env.Timestamp,
		Network:   Network(env.Network),
		Body:      body,
	}, nil
}

// Typed body accessors return nil when the message carries a different family.

func (d *MessageData) CastAdd() *CastAddBody {
	b, _ := d.Body.(*CastAddBody)
	return b
}

func (d *MessageData) CastRemove() *CastRemoveBody {
	b, _ := d.Body.(*CastRemoveBody)
	return b
}

func (d *MessageData) Reaction() *ReactionBody {
	b, _ := d.Body.(*ReactionBody)
	return b
}

func (d *MessageData) Link() *LinkBody {
	b, _ := d.Body.(*LinkBody)
	return b
}

func (d *MessageData) LinkCompactState() *LinkCompactStateBody {
	b, _ := d.Body.(*LinkCompactStateBody)
	return b
}

func (d *MessageData) VerificationAdd() *VerificationAddBody {
	b, _ := d.Body.(*VerificationAddBody)
	return b
}

func (d *MessageData) VerificationRemove() *VerificationRemoveBody {
	b, _ := d.Body.(*VerificationRemoveBody)
	return b
}

func (d *MessageData) UserData() *UserDataBody {
	b, _ := d.Body.(*UserDataBody)
	return b
}

func (d *MessageData) UsernameProof() *UsernameProofBody {
	b, _ := d.Body.(*UsernameProofBody)
	return b
}

// Message is a signed unit of user state.
type Message struct {
	Data            *MessageData
	Hash            []byte
	HashScheme      HashScheme
	Signature       []byte
	SignatureScheme SignatureScheme
	// Signer is a 32-byte ed25519 public key or a 20-byte custody address,
	// depending on the signature scheme.
	Signer []byte

	dataBytes []byte
}

type messageEnvelope struct {
	Data            []byte
	Hash            []byte
	HashScheme      uint8
	Signature       []byte
	SignatureScheme uint8
	Signer          []byte
}

// ComputeMessageHash derives the 20-byte blake3 digest of canonical data bytes.
func ComputeMessageHash(dataBytes []byte) []byte {
	sum := blake3.Sum256(dataBytes)
	return sum[:HashLength]
}

// DataBytes returns (and caches) the canonical encoding of the data envelope.
func (m *Message) DataBytes() ([]byte, error) {
	if m.dataBytes != nil {
		return m.dataBytes, nil
	}
	encoded, err := m.Data.Encode()
	if err != nil {
		return nil, err
	}
	m.dataBytes = encoded
	return encoded, nil
}

func (m *Message) Fid() uint64 {
	if m.Data == nil {
		return 0
	}
	return m.Data.Fid
}

func (m *Message) Type() MessageType {
	if m.Data == nil {
		return MessageTypeNone
	}
	return m.Data.Type
}

func (m *Message) Timestamp() uint32 {
	if m.Data == nil {
		return 0
	}
	return m.Data.Timestamp
}

func (m *Message) TsHash() ([]byte, error) {
	return MakeTsHash(m.Timestamp(), m.Hash)
}

func (m *Message) SyncId() ([]byte, error) {
	return MakeSyncId(m.Timestamp(), m.Type(), m.Fid(), m.Hash)
}

// Encode serializes the full message for storage and transport.
func (m *Message) Encode() ([]byte, error) {
	dataBytes, err := m.DataBytes()
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(&messageEnvelope{
		Data:            dataBytes,
		Hash:            m.Hash,
		HashScheme:      uint8(m.HashScheme),
		Signature:       m.Signature,
		SignatureScheme: uint8(m.SignatureScheme),
		Signer:          m.Signer,
	})
}

// DecodeMessage parses stored or submitted message bytes.
func DecodeMessage(b []byte) (*Message, error) {
	var env messageEnvelope
	if err := rlp.DecodeBytes(b, &env); err != nil {
		return nil, fmt.Errorf("decode message envelope: %w", err)
	}
	data, err := DecodeMessageData(env.Data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Data:            data,
		Hash:            env.Hash,
		HashScheme:      HashScheme(env.HashScheme),
		Signature:       env.Signature,
		SignatureScheme: SignatureScheme(env.SignatureScheme),
		Signer:          env.Signer,
		dataBytes:       env.Data,
	}, nil
}
