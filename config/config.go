package config

import (
	"net/http"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/policy"
)

// File is the on-disk configuration.
type File struct {
	Server     ServerSection     `koanf:"server"`
	Redis      RedisSection      `koanf:"redis"`
	Log        LogSection        `koanf:"log"`
	Directory  DirectorySection  `koanf:"directory"`
	Policy     PolicySection     `koanf:"policy"`
	Form       FormSection       `koanf:"form"`
	Cookie     CookieSection     `koanf:"cookie"`
	RememberMe RememberMeSection `koanf:"remember_me"`
	Session    SessionSection    `koanf:"session"`
	Throttle   ThrottleSection   `koanf:"throttle"`
	Timeouts   TimeoutsSection   `koanf:"timeouts"`
	Audit      AuditSection      `koanf:"audit"`
	Metrics    MetricsSection    `koanf:"metrics"`
}

type ServerSection struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// RedisSection selects the session store. An empty Addr starts an embedded
// in-memory Redis, which is only suitable for development.
type RedisSection struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DirectorySection selects where principals come from. Kind is one of
// "static", "postgres" or "sqlite".
type DirectorySection struct {
	Kind       string            `koanf:"kind"`
	DSN        string            `koanf:"dsn"`
	Path       string            `koanf:"path"`
	Principals []PrincipalRecord `koanf:"principals"`
}

// PrincipalRecord is one statically configured principal.
type PrincipalRecord struct {
	ID           string   `koanf:"id"`
	Username     string   `koanf:"username"`
	PasswordHash string   `koanf:"password_hash"`
	Roles        []string `koanf:"roles"`
}

type PolicySection struct {
	Rules []RuleRecord `koanf:"rules"`
}

// RuleRecord is one access rule. Requirement accepts "permitAll",
// "authenticated", "hasAnyRole"/"any" and "hasAllRoles"/"all".
type RuleRecord struct {
	Patterns    []string `koanf:"patterns"`
	Requirement string   `koanf:"requirement"`
	Roles       []string `koanf:"roles"`
}

type FormSection struct {
	LoginPagePath      string `koanf:"login_page_path"`
	LoginPath          string `koanf:"login_path"`
	UsernameField      string `koanf:"username_field"`
	PasswordField      string `koanf:"password_field"`
	RememberMeField    string `koanf:"remember_me_field"`
	DefaultSuccessPath string `koanf:"default_success_path"`
	FailurePath        string `koanf:"failure_path"`
	LogoutPath         string `koanf:"logout_path"`
	LogoutSuccessPath  string `koanf:"logout_success_path"`
	PermitSurfaces     bool   `koanf:"permit_surfaces"`
}

type CookieSection struct {
	SessionName string `koanf:"session_name"`
	Path        string `koanf:"path"`
	Domain      string `koanf:"domain"`
	Secure      bool   `koanf:"secure"`
	SameSite    string `koanf:"same_site"`
}

type RememberMeSection struct {
	Enabled          bool          `koanf:"enabled"`
	CookieName       string        `koanf:"cookie_name"`
	Validity         time.Duration `koanf:"validity"`
	SigningKey       string        `koanf:"signing_key"`
	KeyID            string        `koanf:"key_id"`
	Issuer           string        `koanf:"issuer"`
	RevokeAllOnTheft bool          `koanf:"revoke_all_on_theft"`
}

type SessionSection struct {
	RedisPrefix     string        `koanf:"redis_prefix"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	AbsoluteTimeout time.Duration `koanf:"absolute_timeout"`
}

type ThrottleSection struct {
	Enabled     bool          `koanf:"enabled"`
	MaxAttempts int           `koanf:"max_attempts"`
	Window      time.Duration `koanf:"window"`
	PerIP       bool          `koanf:"per_ip"`
}

type TimeoutsSection struct {
	Collaborator time.Duration `koanf:"collaborator"`
}

// AuditSection controls the audit trail. Sink is "log" or "json" (stdout).
type AuditSection struct {
	Enabled    bool   `koanf:"enabled"`
	BufferSize int    `koanf:"buffer_size"`
	DropIfFull bool   `koanf:"drop_if_full"`
	Sink       string `koanf:"sink"`
}

type MetricsSection struct {
	Enabled           bool   `koanf:"enabled"`
	LatencyHistograms bool   `koanf:"latency_histograms"`
	Path              string `koanf:"path"`
}

// Default returns the built-in configuration.
func Default() File {
	d := goGate.DefaultConfig()
	return File{
		Server: ServerSection{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:    LogSection{Level: "info", Format: "json"},
		Directory: DirectorySection{
			Kind: "static",
		},
		Form: FormSection{
			LoginPagePath:      d.Form.LoginPagePath,
			LoginPath:          d.Form.LoginPath,
			UsernameField:      d.Form.UsernameField,
			PasswordField:      d.Form.PasswordField,
			RememberMeField:    d.Form.RememberMeField,
			DefaultSuccessPath: d.Form.DefaultSuccessPath,
			FailurePath:        d.Form.FailurePath,
			LogoutPath:         d.Form.LogoutPath,
			LogoutSuccessPath:  d.Form.LogoutSuccessPath,
			PermitSurfaces:     d.Form.PermitSurfaces,
		},
		Cookie: CookieSection{
			SessionName: d.Cookie.SessionName,
			Path:        d.Cookie.Path,
			Secure:      d.Cookie.Secure,
			SameSite:    "lax",
		},
		RememberMe: RememberMeSection{
			Enabled:          d.RememberMe.Enabled,
			CookieName:       d.RememberMe.CookieName,
			Validity:         d.RememberMe.Validity,
			Issuer:           d.RememberMe.Issuer,
			RevokeAllOnTheft: d.RememberMe.RevokeAllOnTheft,
		},
		Session: SessionSection{
			RedisPrefix:     d.Session.RedisPrefix,
			IdleTimeout:     d.Session.IdleTimeout,
			AbsoluteTimeout: d.Session.AbsoluteTimeout,
		},
		Throttle: ThrottleSection{
			Enabled:     d.Throttle.Enabled,
			MaxAttempts: d.Throttle.MaxAttempts,
			Window:      d.Throttle.Window,
			PerIP:       d.Throttle.PerIP,
		},
		Timeouts: TimeoutsSection{Collaborator: d.Timeouts.Collaborator},
		Audit: AuditSection{
			Enabled:    true,
			BufferSize: d.Audit.BufferSize,
			DropIfFull: d.Audit.DropIfFull,
			Sink:       "log",
		},
		Metrics: MetricsSection{
			Enabled:           d.Metrics.Enabled,
			LatencyHistograms: true,
			Path:              "/metrics",
		},
	}
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":             "server.addr",
	"redis-addr":       "redis.addr",
	"redis-password":   "redis.password",
	"redis-db":         "redis.db",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"directory":        "directory.kind",
	"directory-dsn":    "directory.dsn",
	"directory-path":   "directory.path",
	"remember-me":      "remember_me.enabled",
	"insecure-cookies": "cookie.insecure",
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "HTTP listen address")
	fs.String("redis-addr", "", "Redis address; empty starts an embedded in-memory Redis")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database number")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (json, text)")
	fs.String("directory", "", "principal directory kind (static, postgres, sqlite)")
	fs.String("directory-dsn", "", "PostgreSQL DSN for the postgres directory")
	fs.String("directory-path", "", "database file for the sqlite directory")
	fs.Bool("remember-me", false, "enable remember-me persistent login")
	fs.Bool("insecure-cookies", false, "send cookies without the Secure attribute (local development)")
}

// Load reads path (optional) and the explicitly set flags of fs (optional)
// on top of [Default].
func Load(path string, fs *pflag.FlagSet) (File, error) {
	out := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return out, oops.In("config").Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return out, oops.In("config").Code("CONFIG_LOAD_FAILED").Wrap(err)
		}
	}

	if err := k.UnmarshalWithConf("", &out, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return out, oops.In("config").Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	if k.Bool("cookie.insecure") {
		out.Cookie.Secure = false
	}
	return out, nil
}

// EngineConfig converts f into a validated goGate.Config.
func (f File) EngineConfig() (goGate.Config, error) {
	errb := oops.In("config").Code("CONFIG_INVALID")
	cfg := goGate.DefaultConfig()

	rules := make([]policy.RuleSpec, 0, len(f.Policy.Rules))
	for i, r := range f.Policy.Rules {
		kind, ok := policy.ParseRequirementKind(r.Requirement)
		if !ok {
			return cfg, errb.With("rule", i+1).With("requirement", r.Requirement).
				Wrapf(goGate.ErrConfiguration, "unknown requirement %q", r.Requirement)
		}
		var req policy.Requirement
		switch kind {
		case policy.KindPermitAll:
			req = policy.PermitAll()
		case policy.KindRoleAny:
			req = policy.RoleAny(r.Roles...)
		case policy.KindRoleAll:
			req = policy.RoleAll(r.Roles...)
		default:
			req = policy.Authenticated()
		}
		rules = append(rules, policy.RuleSpec{Patterns: r.Patterns, Requirement: req})
	}
	cfg.Policy.Rules = rules

	cfg.Form = goGate.FormConfig{
		LoginPagePath:      f.Form.LoginPagePath,
		LoginPath:          f.Form.LoginPath,
		UsernameField:      f.Form.UsernameField,
		PasswordField:      f.Form.PasswordField,
		RememberMeField:    f.Form.RememberMeField,
		DefaultSuccessPath: f.Form.DefaultSuccessPath,
		FailurePath:        f.Form.FailurePath,
		LogoutPath:         f.Form.LogoutPath,
		LogoutSuccessPath:  f.Form.LogoutSuccessPath,
		PermitSurfaces:     f.Form.PermitSurfaces,
	}

	sameSite, err := parseSameSite(f.Cookie.SameSite)
	if err != nil {
		return cfg, errb.Wrapf(goGate.ErrConfiguration, "%v", err)
	}
	cfg.Cookie = goGate.CookieConfig{
		SessionName: f.Cookie.SessionName,
		Path:        f.Cookie.Path,
		Domain:      f.Cookie.Domain,
		Secure:      f.Cookie.Secure,
		SameSite:    sameSite,
	}

	cfg.RememberMe = goGate.RememberMeConfig{
		Enabled:          f.RememberMe.Enabled,
		CookieName:       f.RememberMe.CookieName,
		Validity:         f.RememberMe.Validity,
		SigningKey:       []byte(f.RememberMe.SigningKey),
		KeyID:            f.RememberMe.KeyID,
		Issuer:           f.RememberMe.Issuer,
		RevokeAllOnTheft: f.RememberMe.RevokeAllOnTheft,
	}
	cfg.Session = goGate.SessionConfig{
		RedisPrefix:     f.Session.RedisPrefix,
		IdleTimeout:     f.Session.IdleTimeout,
		AbsoluteTimeout: f.Session.AbsoluteTimeout,
	}
	cfg.Throttle = goGate.ThrottleConfig{
		Enabled:     f.Throttle.Enabled,
		MaxAttempts: f.Throttle.MaxAttempts,
		Window:      f.Throttle.Window,
		PerIP:       f.Throttle.PerIP,
	}
	cfg.Timeouts.Collaborator = f.Timeouts.Collaborator
	cfg.Audit = goGate.AuditConfig{
		Enabled:    f.Audit.Enabled,
		BufferSize: f.Audit.BufferSize,
		DropIfFull: f.Audit.DropIfFull,
	}
	cfg.Metrics = goGate.MetricsConfig{
		Enabled:                 f.Metrics.Enabled,
		EnableLatencyHistograms: f.Metrics.LatencyHistograms,
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	case "default":
		return http.SameSiteDefaultMode, nil
	default:
		return 0, oops.Errorf("cookie.same_site must be lax, strict, none or default, got %q", s)
	}
}
