package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/engine"
	"github.com/jonwraymond/cachegate/health"
	"github.com/jonwraymond/cachegate/invalidation"
	"github.com/jonwraymond/cachegate/listener"
	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/quota"
)

// NamespaceHeader supplies the namespace when a request body omits it.
const NamespaceHeader = "X-Cache-Namespace"

// Options wires a Server. Engine, Invalidator, Resolver and Guard are
// required; a nil Listeners disables the listener routes.
type Options struct {
	Engine      *engine.Engine
	Invalidator invalidation.Invalidator
	Listeners   *listener.Registry
	Resolver    *auth.Resolver
	Guard       *quota.Guard
	Authorizer  auth.Authorizer
	Health      *health.Aggregator

	// Gatherer backs /metrics. Nil omits the route.
	Gatherer prometheus.Gatherer

	Logger observe.Logger

	// MaxBodyBytes bounds request bodies. Default: auth.DefaultMaxBodyBytes.
	MaxBodyBytes int64

	Now func() time.Time
}

// Server is the HTTP API.
type Server struct {
	engine      *engine.Engine
	invalidator invalidation.Invalidator
	listeners   *listener.Registry
	resolver    *auth.Resolver
	guard       *quota.Guard
	authorizer  auth.Authorizer
	health      *health.Aggregator
	gatherer    prometheus.Gatherer
	logger      observe.Logger
	maxBody     int64
	now         func() time.Time

	router chi.Router
}

// New builds the router.
func New(opts Options) *Server {
	s := &Server{
		engine:      opts.Engine,
		invalidator: opts.Invalidator,
		listeners:   opts.Listeners,
		resolver:    opts.Resolver,
		guard:       opts.Guard,
		authorizer:  opts.Authorizer,
		health:      opts.Health,
		gatherer:    opts.Gatherer,
		logger:      opts.Logger,
		maxBody:     opts.MaxBodyBytes,
		now:         opts.Now,
	}
	if s.authorizer == nil {
		s.authorizer = auth.NamespaceAuthorizer{}
	}
	if s.logger == nil {
		s.logger = observe.NopLogger()
	}
	if s.maxBody <= 0 {
		s.maxBody = auth.DefaultMaxBodyBytes
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.health == nil {
		s.health = health.NewAggregator(0)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(observe.Zerolog(s.logger)))
	r.Use(hlog.RequestIDHandler("request_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(chimw.Recoverer)

	health.Mount(r, s.health)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/stats", s.handleStats)

		r.Group(func(r chi.Router) {
			r.Use(s.meter)
			r.Post("/cache/get", s.handleGet)
			r.Post("/cache/set", s.handleSet)
			r.Post("/cache/invalidate", s.handleInvalidate)

			if s.listeners != nil {
				r.Route("/listeners", func(r chi.Router) {
					r.Post("/", s.handleRegisterListener)
					r.Get("/", s.handleListListeners)
					r.Get("/{id}", s.handleGetListener)
					r.Delete("/{id}", s.handleDeleteListener)
					r.Post("/{id}/enable", s.handleEnableListener)
				})
			}
		})
	})
	return r
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	ev := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		ev = hlog.FromRequest(r).Error()
	}
	ev.Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("http request")
}
