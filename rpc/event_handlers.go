package rpc

import (
	"net/http"
	"strconv"
	"strings"

	"hubd/core/errors"
)

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	var fromID uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("fromEventId")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, errors.Newf(errors.KindInvalidParam, "invalid fromEventId %q", raw))
			return
		}
		fromID = parsed
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("pageSize")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, errors.Newf(errors.KindInvalidParam, "invalid pageSize %q", raw))
			return
		}
		if parsed > 1000 {
			parsed = 1000
		}
		limit = parsed
	}

	evs, next, err := s.engine.EventLog().Range(fromID, limit)
	if err != nil {
		writeError(w, errors.Wrap(errors.KindStorageFailure, "read event log", err))
		return
	}
	out := struct {
		Events      []*hubEventJSON `json:"events"`
		NextEventID uint64          `json:"nextEventId,omitempty"`
	}{NextEventID: next}
	for _, ev := range evs {
		entry, err := hubEventToJSON(ev)
		if err != nil {
			writeError(w, errors.Wrap(errors.KindStorageFailure, "encode event", err))
			return
		}
		out.Events = append(out.Events, entry)
	}
	writeJSON(w, out)
}
