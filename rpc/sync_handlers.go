package rpc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"hubd/core/errors"
)

// Sync prefixes travel as hex strings with one character per trie nibble.

func parseNibblePrefix(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	prefix := make([]byte, 0, len(raw))
	for _, c := range strings.ToLower(raw) {
		var nibble byte
		switch {
		case c >= '0' && c <= '9':
			nibble = byte(c - '0')
		case c >= 'a' && c <= 'f':
			nibble = byte(c-'a') + 10
		default:
			return nil, errors.Newf(errors.KindInvalidParam, "invalid prefix character %q", c)
		}
		prefix = append(prefix, nibble)
	}
	return prefix, nil
}

func formatNibblePrefix(prefix []byte) string {
	var sb strings.Builder
	for _, nibble := range prefix {
		fmt.Fprintf(&sb, "%x", nibble)
	}
	return sb.String()
}

func (s *Server) handleSyncRoot(w http.ResponseWriter, r *http.Request) {
	root, err := s.engine.SyncTrie().RootHash()
	if err != nil {
		writeError(w, errors.Wrap(errors.KindStorageFailure, "root hash", err))
		return
	}
	count, err := s.engine.SyncTrie().Count()
	if err != nil {
		writeError(w, errors.Wrap(errors.KindStorageFailure, "trie count", err))
		return
	}
	writeJSON(w, map[string]any{
		"rootHash":    hexutil.Encode(root),
		"numMessages": count,
	})
}

type syncMetadataJSON struct {
	Prefix      string            `json:"prefix"`
	NumMessages uint64            `json:"numMessages"`
	Hash        string            `json:"hash"`
	Children    map[string]string `json:"children"`
}

func (s *Server) handleSyncMetadata(w http.ResponseWriter, r *http.Request) {
	prefix, err := parseNibblePrefix(r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := s.engine.SyncTrie().Metadata(prefix)
	if err != nil {
		writeError(w, errors.Wrap(errors.KindStorageFailure, "trie metadata", err))
		return
	}
	if meta == nil {
		writeError(w, errors.New(errors.KindNotFound, "no trie node at prefix"))
		return
	}
	out := syncMetadataJSON{
		Prefix:      formatNibblePrefix(meta.Prefix),
		NumMessages: meta.NumMessages,
		Hash:        hexutil.Encode(meta.Hash),
		Children:    make(map[string]string, len(meta.Children)),
	}
	for nibble, hash := range meta.Children {
		out.Children[fmt.Sprintf("%x", nibble)] = hexutil.Encode(hash)
	}
	writeJSON(w, out)
}

func (s *Server) handleSyncIds(w http.ResponseWriter, r *http.Request) {
	prefix, err := parseNibblePrefix(r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.engine.SyncTrie().AllValues(prefix)
	if err != nil {
		writeError(w, errors.Wrap(errors.KindStorageFailure, "trie values", err))
		return
	}
	out := struct {
		SyncIds []string `json:"syncIds"`
	}{SyncIds: make([]string, 0, len(ids))}
	for _, id := range ids {
		out.SyncIds = append(out.SyncIds, hexutil.Encode(id))
	}
	writeJSON(w, out)
}

type syncMessagesRequest struct {
	SyncIds []string `json:"syncIds"`
}

func (s *Server) handleSyncMessages(w http.ResponseWriter, r *http.Request) {
	var req syncMessagesRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSubmitBytes)).Decode(&req); err != nil {
		writeError(w, errors.Wrap(errors.KindParseFailure, "decode request", err))
		return
	}
	out := struct {
		Messages []string `json:"messages"`
	}{}
	for _, rawId := range req.SyncIds {
		id, err := hexutil.Decode(rawId)
		if err != nil {
			writeError(w, errors.Wrap(errors.KindInvalidParam, "sync id", err))
			return
		}
		msg, err := s.engine.GetMessageBySyncId(id)
		if errors.IsKind(err, errors.KindNotFound) {
			continue
		}
		if err != nil {
			writeError(w, err)
			return
		}
		encoded, err := msg.Encode()
		if err != nil {
			writeError(w, errors.Wrap(errors.KindStorageFailure, "encode message", err))
			return
		}
		out.Messages = append(out.Messages, hexutil.Encode(encoded))
	}
	writeJSON(w, out)
}
