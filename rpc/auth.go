package rpc

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"hubd/core/errors"
)

// adminClaims is the token payload for the admin surface. Tokens are HS256
// signed with the shared secret from HUBD_ADMIN_SECRET.
type adminClaims struct {
	Admin bool `json:"admin"`
	jwt.RegisteredClaims
}

// requireAdmin guards mutating operator endpoints. Missing credentials map
// to unauthenticated; a valid token without the admin claim to unauthorized.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.adminSecret) == 0 {
			writeError(w, errors.New(errors.KindUnauthorized, "admin surface disabled"))
			return
		}
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, errors.New(errors.KindUnauthenticated, "missing bearer token"))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			writeError(w, errors.New(errors.KindUnauthenticated, "authorization must be a bearer token"))
			return
		}

		claims := &adminClaims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Newf(errors.KindUnauthenticated, "unexpected signing method %v", t.Header["alg"])
			}
			return s.adminSecret, nil
		})
		if err != nil || !parsed.Valid {
			writeError(w, errors.New(errors.KindUnauthenticated, "invalid token"))
			return
		}
		if !claims.Admin {
			writeError(w, errors.New(errors.KindUnauthorized, "token lacks admin privileges"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MintAdminToken issues a token for operator tooling and tests.
func MintAdminToken(secret []byte, admin bool) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, adminClaims{Admin: admin})
	return token.SignedString(secret)
}

func (s *Server) handleAdminPrune(w http.ResponseWriter, r *http.Request) {
	fid, err := parseFidParam(chi.URLParam(r, "fid"))
	if err != nil {
		writeError(w, err)
		return
	}
	pruned, err := s.engine.PruneMessages(r.Context(), fid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"fid": fid, "pruned": len(pruned)})
}

func (s *Server) handleAdminRebuildTrie(w http.ResponseWriter, r *http.Request) {
	inserted, err := s.engine.RebuildSyncTrie(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"inserted": inserted})
}
