package rpc

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"hubd/core/errors"
	"hubd/core/store"
	"hubd/core/types"
)

func (s *Server) handleCastById(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(r.URL.Query().Get("fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	hash, err := hexutil.Decode(strings.TrimSpace(r.URL.Query().Get("hash")))
	if err != nil {
		writeError(w, errors.Wrap(errors.KindInvalidParam, "hash", err))
		return
	}
	msg, err := s.engine.Casts().GetCastAdd(fid, hash)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessage(w, msg)
}

func (s *Server) handleCastsByFid(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(r.URL.Query().Get("fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.Casts().CastAddsByFid(fid, page)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessagesPage(w, result)
}

func parseOptionalReactionType(raw string) (types.ReactionType, error) {
	if strings.TrimSpace(raw) == "" {
		return types.ReactionTypeNone, nil
	}
	rt, err := types.ParseReactionType(raw)
	if err != nil {
		return types.ReactionTypeNone, errors.Wrap(errors.KindInvalidParam, "reactionType", err)
	}
	return rt, nil
}

func (s *Server) handleReactionsByFid(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(chi.URLParam(r, "fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	reactionType, err := parseOptionalReactionType(r.URL.Query().Get("reactionType"))
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.Reactions().ReactionAddsByFid(fid, reactionType, page)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessagesPage(w, result)
}

func (s *Server) handleReactionsByTarget(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	reactionType, err := parseOptionalReactionType(q.Get("reactionType"))
	if err != nil {
		writeError(w, err)
		return
	}

	var targetKey []byte
	if url := strings.TrimSpace(q.Get("url")); url != "" {
		targetKey = []byte(url)
	} else {
		castFid, err := parseFidParam(q.Get("castFid"))
		if err != nil {
			writeError(w, errors.New(errors.KindInvalidParam, "target requires url or castFid+castHash"))
			return
		}
		hash, err := hexutil.Decode(strings.TrimSpace(q.Get("castHash")))
		if err != nil {
			writeError(w, errors.Wrap(errors.KindInvalidParam, "castHash", err))
			return
		}
		body := &types.ReactionBody{TargetCastId: &types.CastId{Fid: castFid, Hash: hash}}
		targetKey = body.TargetKey()
	}

	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.Reactions().ReactionsByTarget(targetKey, reactionType, page)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessagesPage(w, result)
}

func (s *Server) handleLinksByFid(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(r.URL.Query().Get("fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.Links().LinkAddsByFid(fid, strings.TrimSpace(r.URL.Query().Get("linkType")), page)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessagesPage(w, result)
}

func (s *Server) handleLinksByTargetFid(w http.ResponseWriter, r *http.Request) {
	target, err := parseFidParam(r.URL.Query().Get("targetFid"))
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.Links().LinksByTarget(target, page)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessagesPage(w, result)
}

func (s *Server) handleUserDataByFid(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(chi.URLParam(r, "fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		dataType, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			writeError(w, errors.Newf(errors.KindInvalidParam, "invalid type %q", raw))
			return
		}
		msg, err := s.engine.UserData().GetUserData(fid, types.UserDataType(dataType))
		if err != nil {
			writeError(w, err)
			return
		}
		s.writeMessage(w, msg)
		return
	}
	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.UserData().UserDataByFid(fid, page)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessagesPage(w, result)
}

type storageLimitsJSON struct {
	Fid    uint64              `json:"fid"`
	Units  uint32              `json:"units"`
	Limits []storageLimitEntry `json:"limits"`
}

type storageLimitEntry struct {
	Store string `json:"store"`
	Limit uint64 `json:"limit"`
	Used  uint64 `json:"used"`
}

func (s *Server) handleStorageLimits(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(chi.URLParam(r, "fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	units, limits, err := s.engine.StorageLimits(fid)
	if err != nil {
		writeError(w, err)
		return
	}
	out := storageLimitsJSON{Fid: fid, Units: units}
	for _, limit := range limits {
		out.Limits = append(out.Limits, storageLimitEntry{Store: limit.Name, Limit: limit.Limit, Used: limit.Used})
	}
	writeJSON(w, out)
}

func (s *Server) handleUsernameProof(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, errors.New(errors.KindInvalidParam, "name required"))
		return
	}
	msg, err := s.engine.UsernameProofs().GetProofByName([]byte(name))
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessage(w, msg)
}

func (s *Server) handleUsernameProofsByFid(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(r.URL.Query().Get("fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.UsernameProofs().ProofsByFid(fid, page)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessagesPage(w, result)
}

func (s *Server) handleVerificationsByFid(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(chi.URLParam(r, "fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("address")); raw != "" {
		address, err := hexutil.Decode(raw)
		if err != nil {
			writeError(w, errors.Wrap(errors.KindInvalidParam, "address", err))
			return
		}
		msg, err := s.engine.Verifications().GetVerificationAdd(fid, address)
		if err != nil {
			writeError(w, err)
			return
		}
		s.writeMessage(w, msg)
		return
	}
	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.Verifications().VerificationAddsByFid(fid, page)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeMessagesPage(w, result)
}

func (s *Server) handleOnChainEventsByFid(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(chi.URLParam(r, "fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	eventType := types.OnChainEventTypeNone
	switch strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type"))) {
	case "":
	case "ID_REGISTER":
		eventType = types.OnChainEventTypeIdRegister
	case "SIGNER":
		eventType = types.OnChainEventTypeSigner
	case "STORAGE_RENT":
		eventType = types.OnChainEventTypeStorageRent
	default:
		writeError(w, errors.Newf(errors.KindInvalidParam, "unknown event type %q", r.URL.Query().Get("type")))
		return
	}
	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.OnChain().EventsByFid(fid, eventType, page)
	if err != nil {
		writeError(w, err)
		return
	}
	out := struct {
		Events        []*onChainEventJSON `json:"events"`
		NextPageToken string              `json:"nextPageToken,omitempty"`
	}{NextPageToken: encodePageToken(result.NextPageToken)}
	for _, ev := range result.Events {
		out.Events = append(out.Events, onChainEventToJSON(ev))
	}
	writeJSON(w, out)
}

func (s *Server) handleOnChainSigners(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(chi.URLParam(r, "fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	signers, err := s.engine.OnChain().ActiveSigners(fid)
	if err != nil {
		writeError(w, err)
		return
	}
	out := struct {
		Events []*onChainEventJSON `json:"events"`
	}{}
	for _, ev := range signers {
		out.Events = append(out.Events, onChainEventToJSON(ev))
	}
	writeJSON(w, out)
}

func (s *Server) handleOnChainIdRegister(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(chi.URLParam(r, "fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	ev, err := s.engine.OnChain().IdRegisterEvent(fid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, onChainEventToJSON(ev))
}

func (s *Server) handleOnChainStorage(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(chi.URLParam(r, "fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	page, err := parsePageOptions(r)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := s.engine.OnChain().EventsByFid(fid, types.OnChainEventTypeStorageRent, page)
	if err != nil {
		writeError(w, err)
		return
	}
	out := struct {
		Events        []*onChainEventJSON `json:"events"`
		NextPageToken string              `json:"nextPageToken,omitempty"`
	}{NextPageToken: encodePageToken(result.NextPageToken)}
	for _, ev := range result.Events {
		out.Events = append(out.Events, onChainEventToJSON(ev))
	}
	writeJSON(w, out)
}

func (s *Server) writeMessage(w http.ResponseWriter, msg *types.Message) {
	out, err := messageToJSON(msg)
	if err != nil {
		writeError(w, errors.Wrap(errors.KindStorageFailure, "encode message", err))
		return
	}
	writeJSON(w, out)
}

func (s *Server) writeMessagesPage(w http.ResponseWriter, page *store.MessagesPage) {
	out, err := messagesPageToJSON(page)
	if err != nil {
		writeError(w, errors.Wrap(errors.KindStorageFailure, "encode page", err))
		return
	}
	writeJSON(w, out)
}
