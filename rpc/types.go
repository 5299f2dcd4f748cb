package rpc

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"hubd/core/errors"
	"hubd/core/events"
	"hubd/core/store"
	"hubd/core/types"
)

// errorBody is the wire form of every error response.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindUnauthenticated:
		return http.StatusUnauthorized
	case errors.KindUnauthorized:
		return http.StatusForbidden
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindValidationFailure, errors.KindInvalidParam, errors.KindParseFailure,
		errors.KindDuplicate, errors.KindConflict, errors.KindPrunable:
		return http.StatusBadRequest
	case errors.KindStorageFailure, errors.KindNetworkFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	body := errorBody{Code: string(kind), Message: err.Error()}
	writeJSONStatus(w, statusForKind(kind), body)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONStatus(w, http.StatusOK, payload)
}

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Debug("write response", slog.Any("error", err))
	}
}

// parsePageOptions reads pageSize/pageToken/reverse query params.
func parsePageOptions(r *http.Request) (store.PageOptions, error) {
	opts := store.PageOptions{}
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("pageSize")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return opts, errors.Newf(errors.KindInvalidParam, "invalid pageSize %q", raw)
		}
		opts.PageSize = size
	}
	if raw := strings.TrimSpace(q.Get("pageToken")); raw != "" {
		token, err := base64.RawURLEncoding.DecodeString(raw)
		if err != nil {
			return opts, errors.Wrap(errors.KindInvalidParam, "invalid pageToken", err)
		}
		opts.PageToken = token
	}
	if raw := strings.TrimSpace(q.Get("reverse")); raw != "" {
		reverse, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.Newf(errors.KindInvalidParam, "invalid reverse %q", raw)
		}
		opts.Reverse = reverse
	}
	return opts, nil
}

func encodePageToken(token []byte) string {
	if len(token) == 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(token)
}

func parseFidParam(raw string) (uint64, error) {
	fid, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || fid == 0 {
		return 0, errors.Newf(errors.KindInvalidParam, "invalid fid %q", raw)
	}
	return fid, nil
}

// --- JSON projections ---

type castIdJSON struct {
	Fid  uint64 `json:"fid"`
	Hash string `json:"hash"`
}

func castIdToJSON(id *types.CastId) *castIdJSON {
	if id == nil {
		return nil
	}
	return &castIdJSON{Fid: id.Fid, Hash: hexutil.Encode(id.Hash)}
}

type messageJSON struct {
	Fid             uint64 `json:"fid"`
	Type            string `json:"type"`
	Timestamp       uint32 `json:"timestamp"`
	Network         string `json:"network"`
	Hash            string `json:"hash"`
	HashScheme      string `json:"hashScheme"`
	Signature       string `json:"signature"`
	SignatureScheme string `json:"signatureScheme"`
	Signer          string `json:"signer"`
	Body            any    `json:"body"`
	// MessageBytes carries the canonical encoding for resubmission/gossip.
	MessageBytes string `json:"messageBytes"`
}

func messageToJSON(msg *types.Message) (*messageJSON, error) {
	encoded, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	out := &messageJSON{
		Fid:          msg.Fid(),
		Type:         msg.Type().String(),
		Timestamp:    msg.Timestamp(),
		Network:      msg.Data.Network.String(),
		Hash:         hexutil.Encode(msg.Hash),
		Signature:    hexutil.Encode(msg.Signature),
		Signer:       hexutil.Encode(msg.Signer),
		MessageBytes: hexutil.Encode(encoded),
	}
	switch msg.HashScheme {
	case types.HashSchemeBlake3:
		out.HashScheme = "BLAKE3"
	default:
		out.HashScheme = "NONE"
	}
	switch msg.SignatureScheme {
	case types.SignatureSchemeEd25519:
		out.SignatureScheme = "ED25519"
	case types.SignatureSchemeEip712:
		out.SignatureScheme = "EIP712"
	default:
		out.SignatureScheme = "NONE"
	}
	out.Body = bodyToJSON(msg.Data)
	return out, nil
}

func bodyToJSON(data *types.MessageData) any {
	switch data.Type {
	case types.MessageTypeCastAdd:
		body := data.CastAdd()
		embeds := make([]map[string]any, 0, len(body.Embeds))
		for _, embed := range body.Embeds {
			entry := map[string]any{}
			if embed.URL != "" {
				entry["url"] = embed.URL
			}
			if embed.CastId != nil {
				entry["castId"] = castIdToJSON(embed.CastId)
			}
			embeds = append(embeds, entry)
		}
		return map[string]any{
			"text":             body.Text,
			"embeds":           embeds,
			"mentions":         body.Mentions,
			"mentionPositions": body.MentionPositions,
			"parentCastId":     castIdToJSON(body.ParentCastId),
			"parentUrl":        body.ParentURL,
		}
	case types.MessageTypeCastRemove:
		return map[string]any{"targetHash": hexutil.Encode(data.CastRemove().TargetHash)}
	case types.MessageTypeReactionAdd, types.MessageTypeReactionRemove:
		body := data.Reaction()
		return map[string]any{
			"type":         body.Type.String(),
			"targetCastId": castIdToJSON(body.TargetCastId),
			"targetUrl":    body.TargetURL,
		}
	case types.MessageTypeLinkAdd, types.MessageTypeLinkRemove:
		body := data.Link()
		return map[string]any{
			"type":             body.Type,
			"targetFid":        body.TargetFid,
			"displayTimestamp": body.DisplayTimestamp,
		}
	case types.MessageTypeLinkCompactState:
		body := data.LinkCompactState()
		return map[string]any{"type": body.Type, "targetFids": body.TargetFids}
	case types.MessageTypeVerificationAdd:
		body := data.VerificationAdd()
		return map[string]any{
			"address":        hexutil.Encode(body.Address),
			"claimSignature": hexutil.Encode(body.ClaimSignature),
			"blockHash":      hexutil.Encode(body.BlockHash),
			"chainId":        body.ChainID,
		}
	case types.MessageTypeVerificationRemove:
		return map[string]any{"address": hexutil.Encode(data.VerificationRemove().Address)}
	case types.MessageTypeUserDataAdd:
		body := data.UserData()
		return map[string]any{"type": uint8(body.Type), "value": body.Value}
	case types.MessageTypeUsernameProof:
		body := data.UsernameProof()
		return map[string]any{
			"timestamp": body.Timestamp,
			"name":      string(body.Name),
			"owner":     hexutil.Encode(body.Owner),
			"signature": hexutil.Encode(body.Signature),
			"fid":       body.Fid,
			"type":      uint8(body.Type),
		}
	default:
		return nil
	}
}

type messagesPageJSON struct {
	Messages      []*messageJSON `json:"messages"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

func messagesPageToJSON(page *store.MessagesPage) (*messagesPageJSON, error) {
	out := &messagesPageJSON{
		Messages:      make([]*messageJSON, 0, len(page.Messages)),
		NextPageToken: encodePageToken(page.NextPageToken),
	}
	for _, msg := range page.Messages {
		entry, err := messageToJSON(msg)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, entry)
	}
	return out, nil
}

type onChainEventJSON struct {
	Type            string `json:"type"`
	ChainID         uint32 `json:"chainId"`
	BlockNumber     uint64 `json:"blockNumber"`
	BlockHash       string `json:"blockHash"`
	BlockTimestamp  uint64 `json:"blockTimestamp"`
	TransactionHash string `json:"transactionHash"`
	LogIndex        uint32 `json:"logIndex"`
	Fid             uint64 `json:"fid"`
	Body            any    `json:"body"`
}

func onChainEventToJSON(ev *types.OnChainEvent) *onChainEventJSON {
	out := &onChainEventJSON{
		Type:            ev.Type.String(),
		ChainID:         ev.ChainID,
		BlockNumber:     ev.BlockNumber,
		BlockHash:       hexutil.Encode(ev.BlockHash),
		BlockTimestamp:  ev.BlockTimestamp,
		TransactionHash: hexutil.Encode(ev.TransactionHash),
		LogIndex:        ev.LogIndex,
		Fid:             ev.Fid,
	}
	switch ev.Type {
	case types.OnChainEventTypeIdRegister:
		body := ev.IdRegister()
		out.Body = map[string]any{
			"to":              hexutil.Encode(body.To),
			"eventType":       uint8(body.EventType),
			"from":            hexutil.Encode(body.From),
			"recoveryAddress": hexutil.Encode(body.RecoveryAddress),
		}
	case types.OnChainEventTypeSigner:
		body := ev.Signer()
		out.Body = map[string]any{
			"key":       hexutil.Encode(body.Key),
			"keyType":   body.KeyType,
			"eventType": uint8(body.EventType),
		}
	case types.OnChainEventTypeStorageRent:
		body := ev.StorageRent()
		out.Body = map[string]any{
			"payer":   hexutil.Encode(body.Payer),
			"units":   body.Units,
			"payment": body.PaymentAmount().Dec(),
		}
	}
	return out
}

type hubEventJSON struct {
	ID           uint64            `json:"id"`
	Type         string            `json:"type"`
	Message      *messageJSON      `json:"message,omitempty"`
	Deleted      []*messageJSON    `json:"deletedMessages,omitempty"`
	OnChainEvent *onChainEventJSON `json:"onChainEvent,omitempty"`
}

func hubEventToJSON(ev *events.HubEvent) (*hubEventJSON, error) {
	out := &hubEventJSON{ID: ev.ID, Type: ev.Type.String()}
	if ev.Message != nil {
		msg, err := messageToJSON(ev.Message)
		if err != nil {
			return nil, err
		}
		out.Message = msg
	}
	for _, deleted := range ev.Deleted {
		msg, err := messageToJSON(deleted)
		if err != nil {
			return nil, err
		}
		out.Deleted = append(out.Deleted, msg)
	}
	if ev.OnChainEvent != nil {
		out.OnChainEvent = onChainEventToJSON(ev.OnChainEvent)
	}
	return out, nil
}
