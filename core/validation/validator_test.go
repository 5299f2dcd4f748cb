package validation

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"hubd/core/errors"
	"hubd/core/types"
	"hubd/crypto"
)

func signedMessage(t *testing.T, data *types.MessageData, priv ed25519.PrivateKey) *types.Message {
	t.Helper()
	encoded, err := data.Encode()
	if err != nil {
		t.Fatalf("encode data: %v", err)
	}
	hash := types.ComputeMessageHash(encoded)
	return &types.Message{
		Data:            data,
		Hash:            hash,
		HashScheme:      types.HashSchemeBlake3,
		Signature:       crypto.SignMessageHash(priv, hash),
		SignatureScheme: types.SignatureSchemeEd25519,
		Signer:          []byte(priv.Public().(ed25519.PublicKey)),
	}
}

func testValidator() *Validator {
	v := New(types.NetworkDevnet)
	v.SetNowFunc(func() time.Time {
		return time.Unix(types.FarcasterEpoch+1000, 0)
	})
	return v
}

func castAddData(ts uint32) *types.MessageData {
	return &types.MessageData{
		Type:      types.MessageTypeCastAdd,
		Fid:       24,
		Timestamp: ts,
		Network:   types.NetworkDevnet,
		Body:      &types.CastAddBody{Text: "gm"},
	}
}

func TestValidateAcceptsWellFormedCast(t *testing.T) {
	_, priv, err := crypto.GenerateSignerKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	msg := signedMessage(t, castAddData(500), priv)
	if err := testValidator().Validate(msg); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
}

func TestValidateRejectsWrongNetwork(t *testing.T) {
	_, priv, _ := crypto.GenerateSignerKey()
	data := castAddData(500)
	data.Network = types.NetworkMainnet
	msg := signedMessage(t, data, priv)
	err := testValidator().Validate(msg)
	if !errors.IsKind(err, errors.KindValidationFailure) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestValidateRejectsTamperedHash(t *testing.T) {
	_, priv, _ := crypto.GenerateSignerKey()
	msg := signedMessage(t, castAddData(500), priv)
	msg.Hash = bytes.Repeat([]byte{0x01}, types.HashLength)
	if err := testValidator().Validate(msg); !errors.IsKind(err, errors.KindValidationFailure) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestValidateRejectsForgedSignature(t *testing.T) {
	_, priv, _ := crypto.GenerateSignerKey()
	otherPub, _, _ := crypto.GenerateSignerKey()
	msg := signedMessage(t, castAddData(500), priv)
	msg.Signer = []byte(otherPub)
	if err := testValidator().Validate(msg); !errors.IsKind(err, errors.KindValidationFailure) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestValidateRejectsFutureTimestamp(t *testing.T) {
	_, priv, _ := crypto.GenerateSignerKey()
	msg := signedMessage(t, castAddData(1000+601), priv)
	if err := testValidator().Validate(msg); !errors.IsKind(err, errors.KindValidationFailure) {
		t.Fatalf("expected future timestamp rejection, got %v", err)
	}
	// Inside the skew bound is fine.
	msg = signedMessage(t, castAddData(1000+599), priv)
	if err := testValidator().Validate(msg); err != nil {
		t.Fatalf("timestamp within skew must pass, got %v", err)
	}
}

func TestValidateBodyChecks(t *testing.T) {
	_, priv, _ := crypto.GenerateSignerKey()
	cases := []struct {
		name string
		data *types.MessageData
	}{
		{"empty cast", &types.MessageData{Type: types.MessageTypeCastAdd, Fid: 1, Timestamp: 1, Network: types.NetworkDevnet, Body: &types.CastAddBody{}}},
		{"oversize cast text", &types.MessageData{Type: types.MessageTypeCastAdd, Fid: 1, Timestamp: 1, Network: types.NetworkDevnet, Body: &types.CastAddBody{Text: string(bytes.Repeat([]byte{'a'}, 321))}}},
		{"unknown reaction", &types.MessageData{Type: types.MessageTypeReactionAdd, Fid: 1, Timestamp: 1, Network: types.NetworkDevnet, Body: &types.ReactionBody{Type: 99, TargetURL: "https://x"}}},
		{"double reaction target", &types.MessageData{Type: types.MessageTypeReactionAdd, Fid: 1, Timestamp: 1, Network: types.NetworkDevnet, Body: &types.ReactionBody{Type: types.ReactionTypeLike, TargetURL: "https://x", TargetCastId: &types.CastId{Fid: 2, Hash: bytes.Repeat([]byte{1}, 20)}}}},
		{"long link type", &types.MessageData{Type: types.MessageTypeLinkAdd, Fid: 1, Timestamp: 1, Network: types.NetworkDevnet, Body: &types.LinkBody{Type: "muchtoolong", TargetFid: 2}}},
		{"zero link target", &types.MessageData{Type: types.MessageTypeLinkAdd, Fid: 1, Timestamp: 1, Network: types.NetworkDevnet, Body: &types.LinkBody{Type: "follow", TargetFid: 0}}},
		{"bad userdata type", &types.MessageData{Type: types.MessageTypeUserDataAdd, Fid: 1, Timestamp: 1, Network: types.NetworkDevnet, Body: &types.UserDataBody{Type: 42, Value: "x"}}},
		{"short verification address", &types.MessageData{Type: types.MessageTypeVerificationRemove, Fid: 1, Timestamp: 1, Network: types.NetworkDevnet, Body: &types.VerificationRemoveBody{Address: []byte{0x01}}}},
	}
	v := testValidator()
	for _, tc := range cases {
		msg := signedMessage(t, tc.data, priv)
		if err := v.Validate(msg); !errors.IsKind(err, errors.KindValidationFailure) {
			t.Fatalf("%s: expected validation failure, got %v", tc.name, err)
		}
	}
}

func TestValidateEip712Message(t *testing.T) {
	custody, err := crypto.GenerateIdentityKey()
	if err != nil {
		t.Fatalf("generate custody: %v", err)
	}
	data := castAddData(500)
	encoded, err := data.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	hash := types.ComputeMessageHash(encoded)
	sig, err := crypto.SignMessageHash712(custody, hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	addr := custody.Address()
	msg := &types.Message{
		Data:            data,
		Hash:            hash,
		HashScheme:      types.HashSchemeBlake3,
		Signature:       sig,
		SignatureScheme: types.SignatureSchemeEip712,
		Signer:          addr[:],
	}
	if err := testValidator().Validate(msg); err != nil {
		t.Fatalf("custody-signed message must pass, got %v", err)
	}

	other, _ := crypto.GenerateIdentityKey()
	otherAddr := other.Address()
	msg.Signer = otherAddr[:]
	if err := testValidator().Validate(msg); !errors.IsKind(err, errors.KindValidationFailure) {
		t.Fatalf("expected recovery mismatch, got %v", err)
	}
}

func TestPoolValidatesAndCancels(t *testing.T) {
	_, priv, _ := crypto.GenerateSignerKey()
	pool := NewPool(testValidator(), 2, nil)
	defer pool.Close()

	msg := signedMessage(t, castAddData(500), priv)
	if err := pool.Validate(context.Background(), msg); err != nil {
		t.Fatalf("pool validate: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pool.Validate(cancelled, msg); err == nil {
		t.Fatalf("expected context error")
	}
}
