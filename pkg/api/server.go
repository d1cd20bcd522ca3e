package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/marrygold/usher/pkg/httputil"
	"github.com/marrygold/usher/pkg/identity"
	"github.com/marrygold/usher/pkg/middleware"
	"github.com/marrygold/usher/pkg/observability"
	"github.com/marrygold/usher/pkg/redirect"
	"github.com/marrygold/usher/pkg/webhook"
)

// Server wires the webhook handler and the read-side endpoints onto a router.
type Server struct {
	router    *mux.Router
	webhooks  *webhook.Handler
	auth      *middleware.AuthMiddleware
	redirects *redirect.Resolver
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewServer creates the HTTP server. The metrics argument may be nil.
func NewServer(
	webhooks *webhook.Handler,
	auth *middleware.AuthMiddleware,
	redirects *redirect.Resolver,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if redirects == nil {
		redirects = redirect.NewResolver(nil)
	}

	s := &Server{
		router:    mux.NewRouter(),
		webhooks:  webhooks,
		auth:      auth,
		redirects: redirects,
		logger:    logger,
		metrics:   metrics,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.LoggingMiddleware(s.logger))
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware)
	}

	// Webhook deliveries authenticate by signature, not session, so they
	// stay outside the auth middleware.
	s.webhooks.RegisterRoutes(s.router)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	if s.auth != nil {
		v1.Use(s.auth.Handler)
	}
	v1.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	v1.HandleFunc("/redirect", s.handleRedirect).Methods(http.MethodGet)
}

// Router returns the configured router, usable as an http.Handler.
func (s *Server) Router() *mux.Router {
	return s.router
}

type meResponse struct {
	Anonymous   bool   `json:"anonymous"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// handleMe reports the caller's resolved identity. Anonymous callers get a
// 200 with anonymous=true rather than a 401; the frontend decides what to do
// with an anonymous visitor.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	authCtx := middleware.GetAuthContext(r)
	resp := meResponse{
		Anonymous: authCtx.Anonymous(),
		Role:      string(authCtx.Role()),
	}
	if id := authCtx.Identity; id != nil {
		resp.DisplayName = id.DisplayName
		resp.Email = id.Email
		resp.AvatarRef = id.AvatarRef
	}
	httputil.WriteSuccess(w, resp)
}

type redirectResponse struct {
	Path string `json:"path"`
}

// handleRedirect computes the post-sign-in landing path.
//
// Query parameters:
//
//	role     - overrides the session role; used by the sign-up flow before
//	           the webhook has landed
//	continue - caller-supplied destination, sanitized before use
//	hint     - ambient surface hint ("studio")
//	from     - referrer path, used to derive the hint when none is given
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	authCtx := middleware.GetAuthContext(r)
	role := authCtx.Role()
	if override := q.Get("role"); override != "" {
		role = identity.ParseRole(override)
	}

	hint := redirect.Hint(q.Get("hint"))
	if hint == redirect.HintNone {
		hint = s.redirects.HintFromPath(q.Get("from"))
	}

	path := s.redirects.Resolve(role, q.Get("continue"), hint)
	httputil.WriteSuccess(w, redirectResponse{Path: path})
}
