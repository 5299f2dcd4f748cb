// Package rpc exposes the engine over HTTP: submission, queries, the event
// stream, the sync RPC peers reconcile through, and the admin surface.
package rpc

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"hubd/core/engine"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

type Server struct {
	engine      *engine.Engine
	logger      *slog.Logger
	adminSecret []byte
	httpServer  *http.Server
}

// ServerOption mutates server defaults during construction.
type ServerOption func(*Server)

// WithAdminSecret enables the admin surface with an HS256 token secret.
func WithAdminSecret(secret string) ServerOption {
	return func(s *Server) {
		if secret != "" {
			s.adminSecret = []byte(secret)
		}
	}
}

func NewServer(e *engine.Engine, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{engine: e, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(srv)
		}
	}
	return srv
}

// Router assembles the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/submitMessage", s.handleSubmitMessage)

		r.Get("/castById", s.handleCastById)
		r.Get("/castsByFid", s.handleCastsByFid)
		r.Get("/reactions/target", s.handleReactionsByTarget)
		r.Get("/reactions/{fid}", s.handleReactionsByFid)
		r.Get("/linksByFid", s.handleLinksByFid)
		r.Get("/linksByTargetFid", s.handleLinksByTargetFid)
		r.Get("/userdata/{fid}", s.handleUserDataByFid)
		r.Get("/storagelimits/{fid}", s.handleStorageLimits)
		r.Get("/usernameproof/{name}", s.handleUsernameProof)
		r.Get("/usernameproofsByFid", s.handleUsernameProofsByFid)
		r.Get("/verifications/{fid}", s.handleVerificationsByFid)

		r.Get("/onchain/events/{fid}", s.handleOnChainEventsByFid)
		r.Get("/onchain/signers/{fid}", s.handleOnChainSigners)
		r.Get("/onchain/idregister/{fid}", s.handleOnChainIdRegister)
		r.Get("/onchain/storage/{fid}", s.handleOnChainStorage)

		r.Get("/events", s.handleEvents)
		r.Get("/events/stream", s.handleEventStream)

		r.Get("/sync/root", s.handleSyncRoot)
		r.Get("/sync/metadata", s.handleSyncMetadata)
		r.Get("/sync/ids", s.handleSyncIds)
		r.Post("/sync/messages", s.handleSyncMessages)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Post("/onchain/submit", s.handleSubmitOnChainEvent)
			r.Post("/admin/prune/{fid}", s.handleAdminPrune)
			r.Post("/admin/rebuild-synctrie", s.handleAdminRebuildTrie)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return otelhttp.NewHandler(r, "hubd.rpc")
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	s.logger.Info("rpc server listening", slog.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
