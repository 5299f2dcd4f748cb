package rpc

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"hubd/core/errors"
	"hubd/core/types"
)

const maxSubmitBytes = 1 << 20 // 1 MiB

type submitJSON struct {
	MessageBytes string `json:"messageBytes"`
}

// handleSubmitMessage accepts the canonical message encoding, either raw in
// the body or hex-wrapped in JSON. Duplicates return the stored message with
// a marker header so gossip relays can treat them as success.
func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := readMessageBytes(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msg, err := types.DecodeMessage(raw)
	if err != nil {
		writeError(w, errors.Wrap(errors.KindParseFailure, "decode message", err))
		return
	}

	_, err = s.engine.MergeMessage(r.Context(), msg)
	if errors.IsKind(err, errors.KindDuplicate) {
		w.Header().Set("X-Hubd-Duplicate", "true")
	} else if err != nil {
		writeError(w, err)
		return
	}

	out, err := messageToJSON(msg)
	if err != nil {
		writeError(w, errors.Wrap(errors.KindStorageFailure, "encode response", err))
		return
	}
	writeJSON(w, out)
}

func readMessageBytes(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBytes+1))
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidParam, "read body", err)
	}
	if len(body) > maxSubmitBytes {
		return nil, errors.Newf(errors.KindInvalidParam, "body exceeds %d bytes", maxSubmitBytes)
	}
	if len(body) == 0 {
		return nil, errors.New(errors.KindInvalidParam, "empty body")
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var wrapper submitJSON
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "decode json body", err)
		}
		raw, err := hexutil.Decode(wrapper.MessageBytes)
		if err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "decode messageBytes", err)
		}
		return raw, nil
	}
	return body, nil
}

// onChainSubmitJSON is the watcher feed format: the watcher has already
// validated the log against the chain, so the engine takes it at face value.
type onChainSubmitJSON struct {
	Type            string          `json:"type"`
	ChainID         uint32          `json:"chainId"`
	BlockNumber     uint64          `json:"blockNumber"`
	BlockHash       string          `json:"blockHash"`
	BlockTimestamp  uint64          `json:"blockTimestamp"`
	TransactionHash string          `json:"transactionHash"`
	LogIndex        uint32          `json:"logIndex"`
	TxIndex         uint32          `json:"txIndex"`
	Fid             uint64          `json:"fid"`
	Body            json.RawMessage `json:"body"`
}

type idRegisterBodyJSON struct {
	To              string `json:"to"`
	EventType       uint8  `json:"eventType"`
	From            string `json:"from"`
	RecoveryAddress string `json:"recoveryAddress"`
}

type signerBodyJSON struct {
	Key       string `json:"key"`
	KeyType   uint32 `json:"keyType"`
	EventType uint8  `json:"eventType"`
	Metadata  string `json:"metadata"`
}

type storageRentBodyJSON struct {
	Payer   string `json:"payer"`
	Units   uint32 `json:"units"`
	Payment string `json:"payment"`
}

func decodeHexField(value string) ([]byte, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return hexutil.Decode(value)
}

func (s *Server) handleSubmitOnChainEvent(w http.ResponseWriter, r *http.Request) {
	var payload onChainSubmitJSON
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSubmitBytes)).Decode(&payload); err != nil {
		writeError(w, errors.Wrap(errors.KindParseFailure, "decode event", err))
		return
	}
	ev, err := onChainEventFromJSON(&payload)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.engine.MergeOnChainEvent(r.Context(), ev); err != nil && !errors.IsKind(err, errors.KindDuplicate) {
		writeError(w, err)
		return
	}
	writeJSON(w, onChainEventToJSON(ev))
}

func onChainEventFromJSON(payload *onChainSubmitJSON) (*types.OnChainEvent, error) {
	blockHash, err := decodeHexField(payload.BlockHash)
	if err != nil {
		return nil, errors.Wrap(errors.KindParseFailure, "blockHash", err)
	}
	txHash, err := decodeHexField(payload.TransactionHash)
	if err != nil {
		return nil, errors.Wrap(errors.KindParseFailure, "transactionHash", err)
	}
	ev := &types.OnChainEvent{
		ChainID:         payload.ChainID,
		BlockNumber:     payload.BlockNumber,
		BlockHash:       blockHash,
		BlockTimestamp:  payload.BlockTimestamp,
		TransactionHash: txHash,
		LogIndex:        payload.LogIndex,
		TxIndex:         payload.TxIndex,
		Fid:             payload.Fid,
	}
	switch strings.ToUpper(strings.TrimSpace(payload.Type)) {
	case "ID_REGISTER":
		ev.Type = types.OnChainEventTypeIdRegister
		var body idRegisterBodyJSON
		if err := json.Unmarshal(payload.Body, &body); err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "id register body", err)
		}
		to, err := decodeHexField(body.To)
		if err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "to", err)
		}
		from, err := decodeHexField(body.From)
		if err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "from", err)
		}
		recovery, err := decodeHexField(body.RecoveryAddress)
		if err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "recoveryAddress", err)
		}
		ev.Body = &types.IdRegisterEventBody{
			To:              to,
			EventType:       types.IdRegisterEventType(body.EventType),
			From:            from,
			RecoveryAddress: recovery,
		}
	case "SIGNER":
		ev.Type = types.OnChainEventTypeSigner
		var body signerBodyJSON
		if err := json.Unmarshal(payload.Body, &body); err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "signer body", err)
		}
		key, err := decodeHexField(body.Key)
		if err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "key", err)
		}
		metadata, err := decodeHexField(body.Metadata)
		if err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "metadata", err)
		}
		ev.Body = &types.SignerEventBody{
			Key:       key,
			KeyType:   body.KeyType,
			EventType: types.SignerEventType(body.EventType),
			Metadata:  metadata,
		}
	case "STORAGE_RENT":
		ev.Type = types.OnChainEventTypeStorageRent
		var body storageRentBodyJSON
		if err := json.Unmarshal(payload.Body, &body); err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "storage rent body", err)
		}
		payer, err := decodeHexField(body.Payer)
		if err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "payer", err)
		}
		payment, err := decodeHexField(body.Payment)
		if err != nil {
			return nil, errors.Wrap(errors.KindParseFailure, "payment", err)
		}
		ev.Body = &types.StorageRentEventBody{Payer: payer, Units: body.Units, Payment: payment}
	default:
		return nil, errors.Newf(errors.KindInvalidParam, "unknown event type %q", payload.Type)
	}
	return ev, nil
}
