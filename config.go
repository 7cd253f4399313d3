package goGate

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/policy"
)

// Config is the complete engine configuration. Build it from
// [DefaultConfig] and override what differs.
type Config struct {
	Policy     PolicyConfig
	Form       FormConfig
	Cookie     CookieConfig
	RememberMe RememberMeConfig
	Session    SessionConfig
	Throttle   ThrottleConfig
	Timeouts   TimeoutConfig
	Password   PasswordConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig holds the ordered rule table. Paths matching no rule require
// an authenticated principal.
type PolicyConfig struct {
	Rules []policy.RuleSpec
}

/*
====================================
FORM CONFIG
====================================
*/

// FormConfig names the login and logout surfaces.
type FormConfig struct {
	// LoginPagePath renders the login form; LoginPath processes it.
	LoginPagePath string
	LoginPath     string

	UsernameField   string
	PasswordField   string
	RememberMeField string

	DefaultSuccessPath string
	// FailurePath is the single redirect target for every login failure.
	FailurePath string

	LogoutPath        string
	LogoutSuccessPath string

	// PermitSurfaces prepends PermitAll rules for the login page, login,
	// failure, logout and logout-success paths.
	PermitSurfaces bool
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig controls the session and remember-me cookies.
type CookieConfig struct {
	SessionName string
	Path        string
	Domain      string
	Secure      bool
	SameSite    http.SameSite
}

/*
====================================
REMEMBER-ME CONFIG
====================================
*/

// RememberMeConfig controls persistent login tokens.
type RememberMeConfig struct {
	Enabled    bool
	CookieName string
	Validity   time.Duration
	// SigningKey is the HS256 key for the cookie artifact, at least 16 bytes.
	SigningKey []byte
	KeyID      string
	Issuer     string
	// RevokeAllOnTheft revokes every series and ends every session of the
	// principal, not only the compromised series, when theft is detected.
	RevokeAllOnTheft bool
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and the Redis key namespace.
type SessionConfig struct {
	RedisPrefix     string
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
}

// ThrottleConfig limits failed logins per username and, with PerIP, per
// client address. Counters live in Redis next to the sessions.
type ThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	PerIP       bool
}

// TimeoutConfig bounds every call into a collaborator or store.
type TimeoutConfig struct {
	Collaborator time.Duration
}

// PasswordConfig configures the default verifier used when none is
// injected: argon2id for new hashes, bcrypt accepted for existing ones.
type PasswordConfig struct {
	Memory      uint32 // in KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	BcryptCost  int
	// DummyScheme picks the hash family unknown usernames are verified
	// against: "argon2id" (default) or "bcrypt" for directories still seeded
	// with bcrypt hashes.
	DummyScheme string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the stock configuration: the conventional form
// surfaces, remember-me disabled until a signing key is supplied, 30 minute
// idle and 12 hour absolute session lifetime.
func DefaultConfig() Config {
	return Config{
		Form: FormConfig{
			LoginPagePath:      "/login",
			LoginPath:          "/login",
			UsernameField:      "username",
			PasswordField:      "password",
			RememberMeField:    "remember-me",
			DefaultSuccessPath: "/index",
			FailurePath:        "/login?error",
			LogoutPath:         "/logout",
			LogoutSuccessPath:  "/login",
			PermitSurfaces:     true,
		},
		Cookie: CookieConfig{
			SessionName: "GOGATESESSION",
			Path:        "/",
			Secure:      true,
			SameSite:    http.SameSiteLaxMode,
		},
		RememberMe: RememberMeConfig{
			Enabled:          false,
			CookieName:       "remember-me",
			Validity:         1800 * time.Second,
			Issuer:           "gogate",
			RevokeAllOnTheft: true,
		},
		Session: SessionConfig{
			RedisPrefix:     "gg",
			IdleTimeout:     30 * time.Minute,
			AbsoluteTimeout: 12 * time.Hour,
		},
		Throttle: ThrottleConfig{
			Enabled:     false,
			MaxAttempts: 5,
			Window:      15 * time.Minute,
		},
		Timeouts: TimeoutConfig{
			Collaborator: 2 * time.Second,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			BcryptCost:  bcrypt.DefaultCost,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.RememberMe.SigningKey = cloneBytes(cfg.RememberMe.SigningKey)
	if cfg.Policy.Rules != nil {
		out.Policy.Rules = make([]policy.RuleSpec, len(cfg.Policy.Rules))
		for i, r := range cfg.Policy.Rules {
			r.Patterns = append([]string(nil), r.Patterns...)
			r.Requirement.Roles = append([]string(nil), r.Requirement.Roles...)
			out.Policy.Rules[i] = r
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// surfacePaths returns the paths that PermitSurfaces exempts.
func (c *Config) surfacePaths() []string {
	return []string{
		c.Form.LoginPagePath,
		c.Form.LoginPath,
		c.Form.FailurePath,
		c.Form.LogoutPath,
		c.Form.LogoutSuccessPath,
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem as an error wrapping
// [ErrConfiguration]. It does not compile the rule table; Build does.
func (c *Config) Validate() error {
	errb := oops.In("config").Code("CONFIG_INVALID")
	invalid := func(format string, args ...any) error {
		return errb.Wrapf(ErrConfiguration, format, args...)
	}

	// Form
	paths := []struct {
		name, value string
	}{
		{"Form.LoginPagePath", c.Form.LoginPagePath},
		{"Form.LoginPath", c.Form.LoginPath},
		{"Form.DefaultSuccessPath", c.Form.DefaultSuccessPath},
		{"Form.FailurePath", c.Form.FailurePath},
		{"Form.LogoutPath", c.Form.LogoutPath},
		{"Form.LogoutSuccessPath", c.Form.LogoutSuccessPath},
	}
	for _, p := range paths {
		if err := validateLocalPath(p.value); err != nil {
			return errb.With("field", p.name).Wrapf(ErrConfiguration, "%s %v", p.name, err)
		}
	}
	if strings.TrimSpace(c.Form.UsernameField) == "" {
		return invalid("Form.UsernameField is required")
	}
	if strings.TrimSpace(c.Form.PasswordField) == "" {
		return invalid("Form.PasswordField is required")
	}
	if c.Form.UsernameField == c.Form.PasswordField {
		return invalid("Form.UsernameField and Form.PasswordField must differ")
	}
	if c.Form.LoginPath == c.Form.LogoutPath {
		return invalid("Form.LoginPath and Form.LogoutPath must differ")
	}

	// Cookie
	if !validCookieName(c.Cookie.SessionName) {
		return invalid("Cookie.SessionName %q is not a valid cookie name", c.Cookie.SessionName)
	}
	if c.Cookie.Path == "" || !strings.HasPrefix(c.Cookie.Path, "/") {
		return invalid("Cookie.Path must start with '/'")
	}

	// Remember-me
	if c.RememberMe.Enabled {
		if strings.TrimSpace(c.Form.RememberMeField) == "" {
			return invalid("Form.RememberMeField is required when remember-me is enabled")
		}
		if !validCookieName(c.RememberMe.CookieName) {
			return invalid("RememberMe.CookieName %q is not a valid cookie name", c.RememberMe.CookieName)
		}
		if c.RememberMe.CookieName == c.Cookie.SessionName {
			return invalid("RememberMe.CookieName must differ from Cookie.SessionName")
		}
		if c.RememberMe.Validity <= 0 {
			return invalid("RememberMe.Validity must be > 0")
		}
		if len(c.RememberMe.SigningKey) < 16 {
			return invalid("RememberMe.SigningKey must be at least 16 bytes")
		}
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return invalid("Session.RedisPrefix is required")
	}
	if c.Session.AbsoluteTimeout <= 0 {
		return invalid("Session.AbsoluteTimeout must be > 0")
	}
	if c.Session.IdleTimeout > c.Session.AbsoluteTimeout {
		return invalid("Session.IdleTimeout must not exceed Session.AbsoluteTimeout")
	}

	// Throttle
	if c.Throttle.Enabled {
		if c.Throttle.MaxAttempts < 1 {
			return invalid("Throttle.MaxAttempts must be >= 1")
		}
		if c.Throttle.Window <= 0 {
			return invalid("Throttle.Window must be > 0")
		}
	}

	// Timeouts
	if c.Timeouts.Collaborator <= 0 {
		return invalid("Timeouts.Collaborator must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return invalid("Password.Memory must be >= 8192 KiB")
	}
	if c.Password.Time < 1 {
		return invalid("Password.Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return invalid("Password.Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return invalid("Password.SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return invalid("Password.KeyLength must be >= 16")
	}
	if c.Password.BcryptCost != 0 &&
		(c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost) {
		return invalid("Password.BcryptCost must be within [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if _, ok := password.ParseScheme(c.Password.DummyScheme); !ok {
		return invalid("Password.DummyScheme must be argon2id or bcrypt")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return invalid("Audit.BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

// validateLocalPath accepts same-origin absolute paths with an optional
// query, rejecting anything that could redirect off-site.
func validateLocalPath(p string) error {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, `\`) {
		return oops.Errorf("must be an absolute local path, got %q", p)
	}
	u, err := url.Parse(p)
	if err != nil {
		return oops.Wrapf(err, "unparseable path %q", p)
	}
	if u.Scheme != "" || u.Host != "" || u.Fragment != "" {
		return oops.Errorf("must not carry scheme, host or fragment, got %q", p)
	}
	return nil
}

func validCookieName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r <= ' ' || r >= 0x7f || strings.ContainsRune(`()<>@,;:\"/[]?={}`, r) {
			return false
		}
	}
	return true
}
