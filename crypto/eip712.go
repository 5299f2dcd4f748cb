package crypto

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var eip712DomainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
}

func messageEnvelopeTypedData(hash []byte) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainTypes,
			"MessageData":  {{Name: "hash", Type: "bytes"}},
		},
		PrimaryType: "MessageData",
		Domain: apitypes.TypedDataDomain{
			Name:    "Farcaster",
			Version: "1",
		},
		Message: apitypes.TypedDataMessage{
			"hash": hexutil.Encode(hash),
		},
	}
}

func verificationClaimTypedData(fid uint64, address, blockHash []byte, network uint8) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": eip712DomainTypes,
			"VerificationClaim": {
				{Name: "fid", Type: "uint256"},
				{Name: "address", Type: "address"},
				{Name: "blockHash", Type: "bytes32"},
				{Name: "network", Type: "uint8"},
			},
		},
		PrimaryType: "VerificationClaim",
		Domain: apitypes.TypedDataDomain{
			Name:    "Farcaster Verify Ethereum Address",
			Version: "2.0.0",
		},
		Message: apitypes.TypedDataMessage{
			"fid":       (*math.HexOrDecimal256)(new(big.Int).SetUint64(fid)),
			"address":   hexutil.Encode(address),
			"blockHash": hexutil.Encode(blockHash),
			"network":   math.NewHexOrDecimal256(int64(network)),
		},
	}
}

func recoverTypedDataSigner(typedData apitypes.TypedData, sig []byte) ([]byte, error) {
	if len(sig) != 65 {
		return nil, fmt.Errorf("eip712: signature must be 65 bytes, got %d", len(sig))
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("eip712: hash typed data: %w", err)
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return nil, fmt.Errorf("eip712: recover signer: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(*pub)
	return addr[:], nil
}

// RecoverMessageSigner recovers the custody address that produced an EIP-712
// signature over a message hash.
func RecoverMessageSigner(hash, sig []byte) ([]byte, error) {
	return recoverTypedDataSigner(messageEnvelopeTypedData(hash), sig)
}

// SignMessageHash712 produces the custody EIP-712 signature over a message
// hash. Used by tests and tooling; hubs only verify.
func SignMessageHash712(key *IdentityKey, hash []byte) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(messageEnvelopeTypedData(hash))
	if err != nil {
		return nil, err
	}
	return ethcrypto.Sign(digest, key.PrivateKey)
}

// VerifyVerificationClaim checks that the claim signature recovers to the
// claimed address.
func VerifyVerificationClaim(fid uint64, address, blockHash []byte, network uint8, claimSig []byte) error {
	recovered, err := recoverTypedDataSigner(verificationClaimTypedData(fid, address, blockHash, network), claimSig)
	if err != nil {
		return err
	}
	if !bytes.Equal(recovered, address) {
		return fmt.Errorf("eip712: claim signer %x does not match claimed address %x", recovered, address)
	}
	return nil
}

// SignVerificationClaim produces a claim signature for tests and tooling.
func SignVerificationClaim(key *IdentityKey, fid uint64, blockHash []byte, network uint8) ([]byte, error) {
	addr := key.Address()
	digest, _, err := apitypes.TypedDataAndHash(verificationClaimTypedData(fid, addr[:], blockHash, network))
	if err != nil {
		return nil, err
	}
	return ethcrypto.Sign(digest, key.PrivateKey)
}
