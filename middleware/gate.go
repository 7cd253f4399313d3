package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/internal/errutil"
	"github.com/MrEthical07/goGate/policy"
)

type principalContextKey struct{}

// PrincipalFromContext returns the principal a [Gate] admitted the request
// for. Requests passed on PermitAll rules without a session carry none.
func PrincipalFromContext(ctx context.Context) (*goGate.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*goGate.Principal)
	return p, ok && p != nil
}

// Gate enforces an engine's decisions on HTTP traffic.
type Gate struct {
	engine   *goGate.Engine
	cfg      goGate.Config
	logger   *slog.Logger
	deviceID func(*http.Request) string
	clientIP func(*http.Request) string
	denied   http.Handler
}

// Option configures a [Gate].
type Option func(*Gate)

// WithLogger sets the logger for transport-level failures.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithDeviceID derives the remember-me device scope from the login request.
// The default puts every login in one shared scope.
func WithDeviceID(fn func(*http.Request) string) Option {
	return func(g *Gate) {
		if fn != nil {
			g.deviceID = fn
		}
	}
}

// WithClientIP overrides how the caller's address is derived for audit
// records. The default uses the connection's remote address.
func WithClientIP(fn func(*http.Request) string) Option {
	return func(g *Gate) {
		if fn != nil {
			g.clientIP = fn
		}
	}
}

// WithDeniedHandler replaces the plain 403 response for DENY decisions.
func WithDeniedHandler(h http.Handler) Option {
	return func(g *Gate) {
		if h != nil {
			g.denied = h
		}
	}
}

// New returns a Gate for engine.
func New(engine *goGate.Engine, opts ...Option) *Gate {
	g := &Gate{
		engine:   engine,
		logger:   slog.Default(),
		deviceID: func(*http.Request) string { return "" },
		clientIP: remoteIP,
		denied: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "forbidden", http.StatusForbidden)
		}),
	}
	if engine != nil {
		g.cfg = engine.Config()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Handler serves the login and logout surfaces and guards everything else
// before handing it to next.
func (g *Gate) Handler(next http.Handler) http.Handler {
	login := g.LoginHandler()
	logout := g.LogoutHandler()
	guarded := g.Guard(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := policy.NormalizePath(r.URL.Path)
		switch {
		case path == g.cfg.Form.LoginPath && r.Method == http.MethodPost:
			login.ServeHTTP(w, r)
		case path == g.cfg.Form.LogoutPath:
			logout.ServeHTTP(w, r)
		default:
			guarded.ServeHTTP(w, r)
		}
	})
}

// Guard authorizes each request before passing it to next.
func (g *Gate) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r, ok := g.Check(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Check authorizes r. When access is granted it returns the request to pass
// on, carrying the principal in its context, and true. Otherwise it has
// already written the response (redirect, 403 or 503) and returns false.
// Cookie updates from remember-me re-authentication are written either way.
func (g *Gate) Check(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if g.engine == nil {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return r, false
	}

	ctx := goGate.WithClientIP(r.Context(), g.clientIP(r))
	sessionID := readCookie(r, g.cfg.Cookie.SessionName)
	rememberMe := ""
	if g.engine.RememberMeEnabled() {
		rememberMe = readCookie(r, g.cfg.RememberMe.CookieName)
	}

	res, err := g.engine.Authorize(ctx, goGate.AccessRequest{
		Path:             r.URL.Path,
		SessionID:        sessionID,
		RememberMeCookie: rememberMe,
	})

	switch res.RememberMe {
	case goGate.RememberMeRotated:
		if res.RememberMeCookie != "" {
			g.setRememberMeCookie(w, res.RememberMeCookie)
		}
		if res.SessionID != "" {
			g.setSessionCookie(w, res.SessionID)
		}
	case goGate.RememberMeRejected, goGate.RememberMeTheft:
		g.clearCookie(w, g.cfg.RememberMe.CookieName)
	}

	if err != nil {
		errutil.LogError(ctx, g.logger, "authorization unavailable", err, "path", r.URL.Path)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return r, false
	}

	switch res.Decision {
	case policy.DecisionAllow:
		if res.Principal != nil {
			ctx = context.WithValue(ctx, principalContextKey{}, res.Principal)
		}
		return r.WithContext(ctx), true
	case policy.DecisionChallenge:
		if sessionID != "" {
			// stale or forged; drop it so the browser stops sending it
			g.clearCookie(w, g.cfg.Cookie.SessionName)
		}
		http.Redirect(w, r, g.cfg.Form.LoginPagePath, http.StatusFound)
		return r, false
	default:
		g.denied.ServeHTTP(w, r.WithContext(ctx))
		return r, false
	}
}

// LoginHandler processes the login form. It only accepts POST.
func (g *Gate) LoginHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if g.engine == nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		ctx := goGate.WithClientIP(r.Context(), g.clientIP(r))

		if err := r.ParseForm(); err != nil {
			http.Redirect(w, r, g.cfg.Form.FailurePath, http.StatusFound)
			return
		}

		opts := goGate.LoginOptions{
			RememberMe: g.engine.RememberMeEnabled() && truthy(r.PostForm.Get(g.cfg.Form.RememberMeField)),
			DeviceID:   g.deviceID(r),
			// a session that predates the login must not survive it
			PreviousSessionID: readCookie(r, g.cfg.Cookie.SessionName),
		}
		res, err := g.engine.Login(ctx,
			r.PostForm.Get(g.cfg.Form.UsernameField),
			r.PostForm.Get(g.cfg.Form.PasswordField),
			opts,
		)
		if err != nil {
			http.Redirect(w, r, g.cfg.Form.FailurePath, http.StatusFound)
			return
		}

		g.setSessionCookie(w, res.SessionID)
		if res.RememberMeCookie != "" {
			g.setRememberMeCookie(w, res.RememberMeCookie)
		}
		http.Redirect(w, r, g.cfg.Form.DefaultSuccessPath, http.StatusFound)
	})
}

// LogoutHandler ends the caller's session and remember-me series, clears
// both cookies and redirects to the logout-success path. Store failures are
// logged; the cookies are cleared regardless. It only accepts POST, so a
// cross-site link or image cannot log the caller out.
func (g *Gate) LogoutHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if g.engine == nil {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return
		}
		ctx := goGate.WithClientIP(r.Context(), g.clientIP(r))

		if sessionID := readCookie(r, g.cfg.Cookie.SessionName); sessionID != "" {
			if err := g.engine.Logout(ctx, sessionID); err != nil {
				errutil.LogError(ctx, g.logger, "logout failed", err)
			}
		}
		if g.engine.RememberMeEnabled() {
			if cookie := readCookie(r, g.cfg.RememberMe.CookieName); cookie != "" {
				if err := g.engine.ForgetRememberMe(ctx, cookie); err != nil {
					errutil.LogError(ctx, g.logger, "remember-me revoke failed", err)
				}
			}
			g.clearCookie(w, g.cfg.RememberMe.CookieName)
		}

		g.clearCookie(w, g.cfg.Cookie.SessionName)
		http.Redirect(w, r, g.cfg.Form.LogoutSuccessPath, http.StatusFound)
	})
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1", "yes":
		return true
	default:
		return false
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Form returns the login and logout surface configuration the Gate serves.
func (g *Gate) Form() goGate.FormConfig {
	return g.cfg.Form
}
