// Package validation implements the pure, side-effect-free message checks.
// Authorization against on-chain state (active signers, custody) is the
// engine's job; everything here is decidable from the message alone.
package validation

import (
	"bytes"
	"time"
	"unicode"

	"hubd/core/errors"
	"hubd/core/types"
	"hubd/crypto"
)

const (
	// MaxClockSkew bounds how far in the future a timestamp may sit at merge
	// time.
	MaxClockSkew = 10 * time.Minute

	maxCastTextBytes   = 320
	maxCastEmbeds      = 4
	maxURLBytes        = 256
	maxLinkTypeBytes   = 8
	maxUserDataBytes   = 2048
	maxUserDataURL     = 256
	maxUsernameBytes   = 20
	addressLength      = 20
	blockHashLength    = 32
	ed25519SignerBytes = 32
)

// Validator runs the ordered structural and cryptographic checks over a
// decoded message.
type Validator struct {
	network types.Network
	nowFn   func() time.Time
}

func New(network types.Network) *Validator {
	return &Validator{
		network: network,
		nowFn:   time.Now,
	}
}

// SetNowFunc overrides the clock. Primarily intended for tests.
func (v *Validator) SetNowFunc(now func() time.Time) {
	if now == nil {
		v.nowFn = time.Now
		return
	}
	v.nowFn = now
}

func failf(format string, args ...any) error {
	return errors.Newf(errors.KindValidationFailure, format, args...)
}

// Validate runs every check in order and returns the first failure.
func (v *Validator) Validate(msg *types.Message) error {
	if msg == nil || msg.Data == nil || msg.Data.Body == nil {
		return failf("message data missing")
	}
	if msg.Data.Network != v.network {
		return failf("network %s does not match node network %s", msg.Data.Network, v.network)
	}

	if msg.HashScheme != types.HashSchemeBlake3 {
		return failf("unsupported hash scheme %d", msg.HashScheme)
	}
	dataBytes, err := msg.DataBytes()
	if err != nil {
		return errors.Wrap(errors.KindValidationFailure, "encode message data", err)
	}
	if !bytes.Equal(types.ComputeMessageHash(dataBytes), msg.Hash) {
		return failf("hash does not match message data")
	}

	switch msg.SignatureScheme {
	case types.SignatureSchemeEd25519:
		if len(msg.Signer) != ed25519SignerBytes {
			return failf("ed25519 signer must be %d bytes", ed25519SignerBytes)
		}
		if !crypto.VerifyMessageSignature(msg.Signer, msg.Hash, msg.Signature) {
			return failf("invalid ed25519 signature")
		}
	case types.SignatureSchemeEip712:
		if len(msg.Signer) != addressLength {
			return failf("eip712 signer must be a %d-byte address", addressLength)
		}
		recovered, err := crypto.RecoverMessageSigner(msg.Hash, msg.Signature)
		if err != nil {
			return errors.Wrap(errors.KindValidationFailure, "recover eip712 signer", err)
		}
		if !bytes.Equal(recovered, msg.Signer) {
			return failf("eip712 signature does not recover to signer")
		}
	default:
		return failf("unsupported signature scheme %d", msg.SignatureScheme)
	}

	if err := v.validateBody(msg.Data); err != nil {
		return err
	}

	now, err := types.ToFarcasterTime(v.nowFn())
	if err != nil {
		return errors.Wrap(errors.KindValidationFailure, "clock before epoch", err)
	}
	if int64(msg.Data.Timestamp) > int64(now)+int64(MaxClockSkew/time.Second) {
		return failf("timestamp %d is too far in the future", msg.Data.Timestamp)
	}

	return nil
}

func (v *Validator) validateBody(data *types.MessageData) error {
	switch data.Type {
	case types.MessageTypeCastAdd:
		return validateCastAdd(data.CastAdd())
	case types.MessageTypeCastRemove:
		body := data.CastRemove()
		if body == nil || len(body.TargetHash) != types.HashLength {
			return failf("cast remove requires a %d-byte target hash", types.HashLength)
		}
	case types.MessageTypeReactionAdd, types.MessageTypeReactionRemove:
		return validateReaction(data.Reaction())
	case types.MessageTypeLinkAdd, types.MessageTypeLinkRemove:
		return validateLink(data.Link())
	case types.MessageTypeLinkCompactState:
		body := data.LinkCompactState()
		if body == nil {
			return failf("link compact state body missing")
		}
		if err := validateLinkType(body.Type); err != nil {
			return err
		}
		for _, fid := range body.TargetFids {
			if fid == 0 {
				return failf("link compact state target fid must be positive")
			}
		}
	case types.MessageTypeVerificationAdd:
		body := data.VerificationAdd()
		if body == nil {
			return failf("verification body missing")
		}
		if len(body.Address) != addressLength {
			return failf("verification address must be %d bytes", addressLength)
		}
		if len(body.BlockHash) != blockHashLength {
			return failf("verification block hash must be %d bytes", blockHashLength)
		}
		if err := crypto.VerifyVerificationClaim(data.Fid, body.Address, body.BlockHash, uint8(data.Network), body.ClaimSignature); err != nil {
			return errors.Wrap(errors.KindValidationFailure, "verification claim", err)
		}
	case types.MessageTypeVerificationRemove:
		body := data.VerificationRemove()
		if body == nil || len(body.Address) != addressLength {
			return failf("verification remove requires a %d-byte address", addressLength)
		}
	case types.MessageTypeUserDataAdd:
		return validateUserData(data.UserData())
	case types.MessageTypeUsernameProof:
		return validateUsernameProof(data.UsernameProof(), data.Fid)
	default:
		return failf("unknown message type %d", data.Type)
	}
	return nil
}

func validateCastAdd(body *types.CastAddBody) error {
	if body == nil {
		return failf("cast body missing")
	}
	if len(body.Text) == 0 && len(body.Embeds) == 0 {
		return failf("cast must carry text or embeds")
	}
	if len(body.Text) > maxCastTextBytes {
		return failf("cast text exceeds %d bytes", maxCastTextBytes)
	}
	if len(body.Embeds) > maxCastEmbeds {
		return failf("cast carries more than %d embeds", maxCastEmbeds)
	}
	for _, embed := range body.Embeds {
		if (embed.URL == "") == (embed.CastId == nil) {
			return failf("embed must set exactly one of url or cast id")
		}
		if len(embed.URL) > maxURLBytes {
			return failf("embed url exceeds %d bytes", maxURLBytes)
		}
		if embed.CastId != nil && len(embed.CastId.Hash) != types.HashLength {
			return failf("embed cast hash must be %d bytes", types.HashLength)
		}
	}
	if len(body.MentionPositions) != len(body.Mentions) {
		return failf("mention positions must pair with mentions")
	}
	for _, fid := range body.Mentions {
		if fid == 0 {
			return failf("mention fid must be positive")
		}
	}
	if body.ParentCastId != nil && body.ParentURL != "" {
		return failf("cast parent must set at most one of cast id or url")
	}
	if len(body.ParentURL) > maxURLBytes {
		return failf("parent url exceeds %d bytes", maxURLBytes)
	}
	return nil
}

func validateReaction(body *types.ReactionBody) error {
	if body == nil {
		return failf("reaction body missing")
	}
	if body.Type != types.ReactionTypeLike && body.Type != types.ReactionTypeRecast {
		return failf("unknown reaction type %d", body.Type)
	}
	if (body.TargetCastId == nil) == (body.TargetURL == "") {
		return failf("reaction must target exactly one of cast id or url")
	}
	if len(body.TargetURL) > maxURLBytes {
		return failf("reaction target url exceeds %d bytes", maxURLBytes)
	}
	if body.TargetCastId != nil {
		if body.TargetCastId.Fid == 0 {
			return failf("reaction target fid must be positive")
		}
		if len(body.TargetCastId.Hash) != types.HashLength {
			return failf("reaction target hash must be %d bytes", types.HashLength)
		}
	}
	return nil
}

func validateLinkType(linkType string) error {
	if len(linkType) == 0 || len(linkType) > maxLinkTypeBytes {
		return failf("link type must be 1..%d bytes", maxLinkTypeBytes)
	}
	for _, r := range linkType {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return failf("link type must be printable ascii")
		}
	}
	return nil
}

func validateLink(body *types.LinkBody) error {
	if body == nil {
		return failf("link body missing")
	}
	if err := validateLinkType(body.Type); err != nil {
		return err
	}
	if body.TargetFid == 0 {
		return failf("link target fid must be positive")
	}
	return nil
}

func validateUserData(body *types.UserDataBody) error {
	if body == nil {
		return failf("user data body missing")
	}
	if !body.Type.Valid() {
		return failf("unknown user data type %d", body.Type)
	}
	limit := maxUserDataBytes
	if body.Type == types.UserDataTypePfp || body.Type == types.UserDataTypeURL {
		limit = maxUserDataURL
	}
	if len(body.Value) > limit {
		return failf("user data value exceeds %d bytes", limit)
	}
	return nil
}

func validateUsernameProof(body *types.UsernameProofBody, fid uint64) error {
	if body == nil {
		return failf("username proof body missing")
	}
	if len(body.Name) == 0 || len(body.Name) > maxUsernameBytes {
		return failf("username must be 1..%d bytes", maxUsernameBytes)
	}
	if body.Type != types.UsernameTypeFname && body.Type != types.UsernameTypeEnsL1 {
		return failf("unknown username proof type %d", body.Type)
	}
	if body.Fid != fid {
		return failf("proof fid %d does not match message fid %d", body.Fid, fid)
	}
	if len(body.Owner) != addressLength {
		return failf("proof owner must be a %d-byte address", addressLength)
	}
	return nil
}
