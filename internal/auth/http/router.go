package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/campusgrid/schoolauth/internal/auth/domain"
	"github.com/campusgrid/schoolauth/internal/auth/obs"
	"github.com/campusgrid/schoolauth/internal/auth/service"
	"github.com/campusgrid/schoolauth/internal/auth/store"
	"github.com/campusgrid/schoolauth/pkg/httpx"
	"github.com/campusgrid/schoolauth/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	cookies      cookieWriter

	store store.Store
	Auth  *service.AuthService
}

func NewRouter(buildVersion string, secureCookies bool, st store.Store, auth *service.AuthService, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
		cookies:      cookieWriter{secure: secureCookies},
		store:        st,
		Auth:         auth,
	}

	// Global middleware chain: request logging first, then the CSRF guard so
	// every mutating route outside the bootstrap allowlist is covered.
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		CSRFGuard,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerPassword()
	r.registerAdmin()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// handle registers the pattern with per-route Prometheus instrumentation.
func (r *Router) handle(pattern string, h http.Handler) {
	r.Mux.Handle(pattern, obs.Instrument(pattern, h))
}

func (r *Router) registerAuth() {
	// POST /login - strict limit keyed by IP + username so one address
	// cannot spray a single account from behind a NAT.
	r.handle("POST /v1/auth/login",
		httpx.Chain(&LoginHandler{Auth: r.Auth, Cookies: r.cookies},
			httpx.RateLimitByIPAndHeader(httpx.StrictLimit, "X-Login-Username"),
		),
	)

	// POST /signup - strict limit by IP (public account creation).
	r.handle("POST /v1/auth/signup",
		httpx.Chain(&SignupHandler{Auth: r.Auth, Cookies: r.cookies},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /refresh - separate strict bucket; rotation is cheap but a replay
	// oracle if left open.
	r.handle("POST /v1/auth/refresh",
		httpx.Chain(&RefreshHandler{Auth: r.Auth, Cookies: r.cookies},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.handle("POST /v1/auth/logout",
		httpx.Chain(&LogoutHandler{Auth: r.Auth, Cookies: r.cookies},
			Protect(r.Auth),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	r.handle("POST /v1/auth/logout-all",
		httpx.Chain(&LogoutAllHandler{Auth: r.Auth, Cookies: r.cookies},
			Protect(r.Auth),
			UpdateSessionActivity(r.Auth),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerPassword() {
	// POST /first-password - the scoped-token bootstrap endpoint.
	r.handle("POST /v1/auth/first-password",
		httpx.Chain(&FirstPasswordHandler{Auth: r.Auth, Cookies: r.cookies},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /forgot-password - strict limit; responses never reveal whether
	// the email exists.
	r.handle("POST /v1/auth/forgot-password",
		httpx.Chain(&ForgotPasswordHandler{Auth: r.Auth},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// PATCH /reset-password/{token} - emailed-token redemption.
	r.handle("PATCH /v1/auth/reset-password/{token}",
		httpx.Chain(&ResetPasswordHandler{Auth: r.Auth, Cookies: r.cookies},
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// PATCH /update-my-password - authenticated and CSRF-guarded (not on the
	// bootstrap allowlist).
	r.handle("PATCH /v1/auth/update-my-password",
		httpx.Chain(&UpdatePasswordHandler{Auth: r.Auth, Cookies: r.cookies},
			Protect(r.Auth),
			UpdateSessionActivity(r.Auth),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerAdmin() {
	r.handle("POST /v1/auth/users/{id}/first-password-token",
		httpx.Chain(&FirstPasswordTokenHandler{Auth: r.Auth},
			Protect(r.Auth),
			RestrictToEnhanced(domain.RoleAdmin),
			UpdateSessionActivity(r.Auth),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /metrics", obs.Handler())
}
