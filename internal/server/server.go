package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nortal/cmz-chatbots/internal/analytics"
	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/otel"
	"github.com/nortal/cmz-chatbots/internal/profile"
	"github.com/nortal/cmz-chatbots/internal/tenant"
	"github.com/nortal/cmz-chatbots/internal/validator"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Validator classifies content.
type Validator interface {
	Validate(ctx context.Context, content string, vc validator.Context) (*validator.Outcome, error)
}

// Effectiveness answers rule effectiveness queries.
type Effectiveness interface {
	Effectiveness(ctx context.Context, ruleID string, window analytics.Window, detail bool) (*analytics.Effectiveness, error)
}

// GuardrailsStore writes and lists config versions.
type GuardrailsStore interface {
	Create(ctx context.Context, doc *guardrails.Document, createdBy string) (*guardrails.Config, error)
	Versions(ctx context.Context, configID string) ([]guardrails.Config, error)
}

// ConfigResolver selects the config a scope validates against.
type ConfigResolver interface {
	Resolve(ctx context.Context, scope guardrails.Scope) (*guardrails.Config, error)
	Invalidate()
}

// Profiles serves context profiles.
type Profiles interface {
	ProcessTurn(ctx context.Context, turn profile.Turn) *profile.TurnResult
	Get(ctx context.Context, userID string) (*profile.Profile, error)
	Archives(ctx context.Context, userID string) ([]profile.Archive, error)
	Delete(ctx context.Context, userID string) (int64, error)
}

// Server holds the dependencies of the HTTP API.
type Server struct {
	router     *chi.Mux
	validator  Validator
	analytics  Effectiveness
	guardrails GuardrailsStore
	resolver   ConfigResolver
	profiles   Profiles
	limiter    *tenant.Limiter
	apiKeys    map[string]string
	timeout    time.Duration
	startTime  time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithLimiter enables per-tenant rate limiting.
func WithLimiter(l *tenant.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithTimeout overrides the 30s request timeout of /v1 routes.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewServer builds a Server. apiKeys maps key to tenant id.
func NewServer(
	v Validator,
	eff Effectiveness,
	store GuardrailsStore,
	resolver ConfigResolver,
	profiles Profiles,
	apiKeys map[string]string,
	opts ...Option,
) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		validator:  v,
		analytics:  eff,
		guardrails: store,
		resolver:   resolver,
		profiles:   profiles,
		apiKeys:    apiKeys,
		timeout:    defaultTimeout,
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the chi router with all middleware and routes.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.MiddlewareWithStatus())

	// Unauthenticated
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))
		r.Use(middleware.Timeout(s.timeout))

		r.Post("/v1/validate", s.handleValidate)
		r.Get("/v1/rules/{rule_id}/effectiveness", s.handleEffectiveness)

		r.Post("/v1/guardrails", s.handleGuardrailsCreate)
		r.Get("/v1/guardrails/active", s.handleGuardrailsActive)
		r.Get("/v1/guardrails/{config_id}/versions", s.handleGuardrailsVersions)

		r.Get("/v1/context/{user_id}", s.handleContextGet)
		r.Get("/v1/context/{user_id}/archives", s.handleContextArchives)
		r.Delete("/v1/context/{user_id}", s.handleContextDelete)
		r.Post("/v1/conversations/turns", s.handleTurn)
	})

	return r
}
