package types

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageType identifies the message family. The numeric values are part of
// the persisted encoding and must never be reused.
type MessageType uint8

const (
	MessageTypeNone               MessageType = 0
	MessageTypeCastAdd            MessageType = 1
	MessageTypeCastRemove         MessageType = 2
	MessageTypeReactionAdd        MessageType = 3
	MessageTypeReactionRemove     MessageType = 4
	MessageTypeLinkAdd            MessageType = 5
	MessageTypeLinkRemove         MessageType = 6
	MessageTypeVerificationAdd    MessageType = 7
	MessageTypeVerificationRemove MessageType = 8
	MessageTypeUserDataAdd        MessageType = 11
	MessageTypeUsernameProof      MessageType = 12
	MessageTypeLinkCompactState   MessageType = 13
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeCastAdd:
		return "CAST_ADD"
	case MessageTypeCastRemove:
		return "CAST_REMOVE"
	case MessageTypeReactionAdd:
		return "REACTION_ADD"
	case MessageTypeReactionRemove:
		return "REACTION_REMOVE"
	case MessageTypeLinkAdd:
		return "LINK_ADD"
	case MessageTypeLinkRemove:
		return "LINK_REMOVE"
	case MessageTypeVerificationAdd:
		return "VERIFICATION_ADD"
	case MessageTypeVerificationRemove:
		return "VERIFICATION_REMOVE"
	case MessageTypeUserDataAdd:
		return "USER_DATA_ADD"
	case MessageTypeUsernameProof:
		return "USERNAME_PROOF"
	case MessageTypeLinkCompactState:
		return "LINK_COMPACT_STATE"
	default:
		return fmt.Sprintf("MESSAGE_TYPE_%d", uint8(t))
	}
}

// IsAdd reports whether the type carries add semantics for LWW resolution.
func (t MessageType) IsAdd() bool {
	switch t {
	case MessageTypeCastAdd, MessageTypeReactionAdd, MessageTypeLinkAdd,
		MessageTypeVerificationAdd, MessageTypeUserDataAdd,
		MessageTypeUsernameProof, MessageTypeLinkCompactState:
		return true
	default:
		return false
	}
}

// Network tags messages with the network they belong to. A node only merges
// messages matching its configured network.
type Network uint8

const (
	NetworkNone    Network = 0
	NetworkMainnet Network = 1
	NetworkTestnet Network = 2
	NetworkDevnet  Network = 3
)

func (n Network) String() string {
	switch n {
	case NetworkMainnet:
		return "mainnet"
	case NetworkTestnet:
		return "testnet"
	case NetworkDevnet:
		return "devnet"
	default:
		return fmt.Sprintf("network_%d", uint8(n))
	}
}

// ParseNetwork accepts both the symbolic names and the numeric ids used by
// the FC_NETWORK_ID environment variable.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "1":
		return NetworkMainnet, nil
	case "testnet", "2":
		return NetworkTestnet, nil
	case "devnet", "3":
		return NetworkDevnet, nil
	default:
		return NetworkNone, fmt.Errorf("unknown network %q", s)
	}
}

type HashScheme uint8

const (
	HashSchemeNone   HashScheme = 0
	HashSchemeBlake3 HashScheme = 1
)

type SignatureScheme uint8

const (
	SignatureSchemeNone    SignatureScheme = 0
	SignatureSchemeEd25519 SignatureScheme = 1
	SignatureSchemeEip712  SignatureScheme = 2
)

type ReactionType uint8

const (
	ReactionTypeNone   ReactionType = 0
	ReactionTypeLike   ReactionType = 1
	ReactionTypeRecast ReactionType = 2
)

func (r ReactionType) String() string {
	switch r {
	case ReactionTypeLike:
		return "LIKE"
	case ReactionTypeRecast:
		return "RECAST"
	default:
		return fmt.Sprintf("REACTION_TYPE_%d", uint8(r))
	}
}

// ParseReactionType accepts symbolic and numeric spellings from query params.
func ParseReactionType(s string) (ReactionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIKE":
		return ReactionTypeLike, nil
	case "RECAST":
		return ReactionTypeRecast, nil
	}
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		rt := ReactionType(n)
		if rt == ReactionTypeLike || rt == ReactionTypeRecast {
			return rt, nil
		}
	}
	return ReactionTypeNone, fmt.Errorf("unknown reaction type %q", s)
}

type UserDataType uint8

const (
	UserDataTypeNone     UserDataType = 0
	UserDataTypePfp      UserDataType = 1
	UserDataTypeDisplay  UserDataType = 2
	UserDataTypeBio      UserDataType = 3
	UserDataTypeURL      UserDataType = 5
	UserDataTypeUsername UserDataType = 6
)

func (u UserDataType) Valid() bool {
	switch u {
	case UserDataTypePfp, UserDataTypeDisplay, UserDataTypeBio, UserDataTypeURL, UserDataTypeUsername:
		return true
	default:
		return false
	}
}

type UsernameType uint8

const (
	UsernameTypeNone  UsernameType = 0
	UsernameTypeFname UsernameType = 1
	UsernameTypeEnsL1 UsernameType = 2
)
