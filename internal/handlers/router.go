package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warungkita/api/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

// mountPoint pairs one API group path with its registrar and per-group
// middleware. Groups without a registrar answer 501 until wired.
type mountPoint struct {
	name        string
	path        string
	register    RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	basePath    string
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*mountPoint
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 60 * time.Second
)

// NewRouter builds the chi router: health probes at the root, every API
// group mounted under the versioned prefix, JSON errors on every miss.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		basePath: defaultAPIPrefix,
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(defaultTimeout),
		},
		groups: map[string]*mountPoint{
			"products": {name: "products", path: "/products"},
			"orders":   {name: "orders", path: "/orders"},
			"payments": {name: "payments", path: "/payments"},
			"admin":    {name: "admin", path: "/admin"},
			"webhooks": {name: "webhooks", path: "/webhooks"},
			"internal": {name: "internal", path: "/internal"},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.basePath, func(api chi.Router) {
		for _, key := range []string{"products", "orders", "payments", "admin", "webhooks", "internal"} {
			cfg.groups[key].mount(api)
		}
	})
	return r
}

func (m *mountPoint) mount(api chi.Router) {
	api.Route(m.path, func(group chi.Router) {
		for _, mw := range m.middlewares {
			if mw != nil {
				group.Use(mw)
			}
		}
		if m.register != nil {
			m.register(group)
			return
		}
		pending := func(w http.ResponseWriter, req *http.Request) {
			httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", fmt.Sprintf("%s routes not implemented", m.name), http.StatusNotImplemented))
		}
		group.HandleFunc("/*", pending)
		group.HandleFunc("/", pending)
		group.NotFound(pending)
		group.MethodNotAllowed(pending)
	})
}

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers behind /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithProductRoutes wires the public catalog endpoints.
func WithProductRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["products"].register = reg }
}

// WithOrderRoutes wires checkout and order endpoints.
func WithOrderRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["orders"].register = reg }
}

// WithPaymentRoutes wires payment status endpoints.
func WithPaymentRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["payments"].register = reg }
}

// WithAdminRoutes wires operator endpoints.
func WithAdminRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["admin"].register = reg }
}

// WithWebhookRoutes wires provider callback endpoints.
func WithWebhookRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["webhooks"].register = reg }
}

// WithWebhookMiddlewares adds middleware scoped to the /webhooks group.
func WithWebhookMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.groups["webhooks"]
		g.middlewares = append(g.middlewares, mw...)
	}
}

// WithInternalRoutes wires scheduler-invoked endpoints.
func WithInternalRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups["internal"].register = reg }
}

// WithInternalMiddlewares adds middleware scoped to the /internal group.
func WithInternalMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := cfg.groups["internal"]
		g.middlewares = append(g.middlewares, mw...)
	}
}
