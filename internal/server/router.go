package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/boxhub/boxhub/internal/authz"
	boxmiddleware "github.com/boxhub/boxhub/internal/middleware"
)

// ConnectMount is a Connect handler and the path prefix it serves.
type ConnectMount struct {
	Path    string
	Handler http.Handler
}

// RouterOptions controls the construction of the HTTP router. Every service is
// optional so one binary can serve the identity side, the datasets side or both.
type RouterOptions struct {
	// Identity enables the /auth routes.
	Identity IdentityAPI
	// Datasets and Training enable the /datasets routes. Gate must be set
	// with them.
	Datasets DatasetAPI
	Training TrainingAPI
	Gate     *authz.Delegate

	CookieSecure  bool
	LoginLimiter  *boxmiddleware.RateLimiter
	CORSOptions   *cors.Options
	Connect       []ConnectMount
	Metrics       http.Handler
	HealthHandler http.HandlerFunc
	Logger        *slog.Logger
}

// DefaultCORSOptions returns the development CORS policy.
func DefaultCORSOptions() cors.Options {
	return cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{
			"Content-Type",
			"Connect-Protocol-Version",
			"Connect-Timeout-Ms",
			"Authorization",
		},
		ExposedHeaders: []string{
			"Connect-Protocol-Version",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func defaultHealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// NewRouter assembles a chi.Router with shared middleware, CORS policy, and
// the configured handlers mounted.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	corsCfg := DefaultCORSOptions()
	if opts.CORSOptions != nil {
		corsCfg = *opts.CORSOptions
	}
	r.Use(cors.Handler(corsCfg))

	if opts.Identity != nil {
		mountAuthRoutes(r, opts)
	}

	if opts.Datasets != nil {
		if opts.Gate == nil {
			logger.Warn("skipping /datasets routes: no authorization delegate configured")
		} else {
			mountDatasetRoutes(r, opts)
		}
	}

	for _, m := range opts.Connect {
		r.Mount(m.Path, m.Handler)
	}

	healthHandler := opts.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	r.Get("/health", healthHandler)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	return r
}

// NewH2CHandler wraps the router with an h2c server to provide HTTP/2 over
// cleartext for Connect clients.
func NewH2CHandler(opts RouterOptions) http.Handler {
	return h2c.NewHandler(NewRouter(opts), &http2.Server{})
}

func mountAuthRoutes(r chi.Router, opts RouterOptions) {
	h := &authHandlers{identity: opts.Identity, secure: opts.CookieSecure}

	r.Route("/auth", func(r chi.Router) {
		login := r.With()
		if opts.LoginLimiter != nil {
			login = r.With(opts.LoginLimiter.Middleware)
		}
		login.Post("/login", h.login)
		r.Post("/refresh", h.refresh)
		r.Post("/logout", h.logout)
	})
}

func mountDatasetRoutes(r chi.Router, opts RouterOptions) {
	h := &datasetHandlers{datasets: opts.Datasets, training: opts.Training}
	gate := func(route string) func(http.Handler) http.Handler {
		return boxmiddleware.Authorize(opts.Gate, route)
	}

	r.Route("/datasets", func(r chi.Router) {
		r.With(gate(RouteListDatasets)).Get("/", h.list)
		r.With(gate(RouteCreateDataset)).Post("/", h.create)

		r.Route("/{id}", func(r chi.Router) {
			r.With(gate(RouteGetDataset)).Get("/", h.get)
			r.With(gate(RouteRemoveDataset)).Delete("/", h.remove)
			r.With(gate(RouteRemoveImage)).Delete("/images", h.removeImage)
			r.With(gate(RouteUpdateBoundingBoxes)).Put("/images/{imageId}/boxes", h.updateBoundingBoxes)
			if opts.Training != nil {
				r.With(gate(RouteTrainModel)).Post("/models", h.train)
			}
			r.With(gate(RouteRemoveModel)).Delete("/models/{name}", h.removeModel)
		})
	})
}
