package crypto

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// SignerKeyLength is the size of a delegate ed25519 public key.
	SignerKeyLength = ed25519.PublicKeySize

	// AddressLength is the size of a custody address.
	AddressLength = 20
)

// GenerateSignerKey creates a fresh ed25519 delegate key pair.
func GenerateSignerKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate signer key: %w", err)
	}
	return pub, priv, nil
}

// SignMessageHash signs the 20-byte message hash with a delegate key.
func SignMessageHash(priv ed25519.PrivateKey, hash []byte) []byte {
	return ed25519.Sign(priv, hash)
}

// VerifyMessageSignature checks an ed25519 signature over the message hash.
func VerifyMessageSignature(pub, hash, sig []byte) bool {
	if len(pub) != SignerKeyLength || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), hash, sig)
}

// --- Node identity ---

// IdentityKey is the node's secp256k1 identity used for peer addressing and
// keystore storage. It never signs user messages.
type IdentityKey struct {
	*ecdsa.PrivateKey
}

// GenerateIdentityKey creates a new node identity.
func GenerateIdentityKey() (*IdentityKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &IdentityKey{key}, nil
}

// Address derives the 20-byte address form of the identity.
func (k *IdentityKey) Address() [AddressLength]byte {
	return ethcrypto.PubkeyToAddress(k.PublicKey)
}
