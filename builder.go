package goGate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	internalaudit "github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/password"
	"github.com/MrEthical07/goGate/policy"
	"github.com/MrEthical07/goGate/rememberme"
	"github.com/MrEthical07/goGate/session"
)

// Builder assembles an [Engine]. Configure it once during startup and call
// Build exactly once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	directory PrincipalDirectory
	verifier  PasswordVerifier
	auditSink AuditSink
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing the session and remember-me stores.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRules replaces the configured rule table. Order is evaluation order.
func (b *Builder) WithRules(specs ...policy.RuleSpec) *Builder {
	b.config.Policy.Rules = specs
	b.config = cloneConfig(b.config)
	return b
}

func (b *Builder) WithDirectory(d PrincipalDirectory) *Builder {
	b.directory = d
	return b
}

// WithVerifier overrides the default argon2id/bcrypt verifier.
func (b *Builder) WithVerifier(v PasswordVerifier) *Builder {
	b.verifier = v
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for session, token and audit timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, compiles the rule table and wires the
// engine. Every failure wraps [ErrConfiguration].
func (b *Builder) Build() (*Engine, error) {
	errb := oops.In("builder").Code("BUILD_FAILED")

	if b.built {
		return nil, errb.Wrapf(ErrConfiguration, "builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errb.Wrapf(ErrConfiguration, "redis client required")
	}
	if b.directory == nil {
		return nil, errb.Wrapf(ErrConfiguration, "principal directory required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- RULE TABLE --------
	table, err := CompilePolicy(cfg)
	if err != nil {
		return nil, err
	}
	for _, r := range table.Shadowed() {
		logger.Warn("access rule is unreachable; an earlier rule matches every path it does",
			"ordinal", r.Ordinal,
			"rule", r.String(),
		)
	}

	// -------- VERIFIER --------
	verifier := b.verifier
	if verifier == nil {
		argon, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, errb.Wrapf(ErrConfiguration, "password: %v", err)
		}
		bc, err := password.NewBcrypt(cfg.Password.BcryptCost)
		if err != nil {
			return nil, errb.Wrapf(ErrConfiguration, "password: %v", err)
		}
		scheme, _ := password.ParseScheme(cfg.Password.DummyScheme)
		verifier = password.NewChain(argon, bc, password.WithDummyScheme(scheme))
	}

	// -------- SESSION STORE --------
	sessions := session.NewStore(b.redis, session.Options{
		Prefix:          cfg.Session.RedisPrefix,
		IdleTimeout:     cfg.Session.IdleTimeout,
		AbsoluteTimeout: cfg.Session.AbsoluteTimeout,
		Now:             now,
	})

	engine := &Engine{
		config:    cloneConfig(cfg),
		table:     table,
		sessions:  sessions,
		directory: b.directory,
		verifier:  verifier,
		logger:    logger,
		now:       now,
		metrics:   NewMetrics(cfg.Metrics),
	}
	if dh, ok := verifier.(DummyHasher); ok {
		engine.dummyHash = dh.DummyHash()
	}

	// -------- LOGIN THROTTLE --------
	if cfg.Throttle.Enabled {
		engine.throttle = rate.New(b.redis, rate.Config{
			Prefix:      cfg.Session.RedisPrefix,
			MaxAttempts: cfg.Throttle.MaxAttempts,
			Window:      cfg.Throttle.Window,
			PerIP:       cfg.Throttle.PerIP,
		})
	}

	// -------- REMEMBER-ME --------
	if cfg.RememberMe.Enabled {
		signer, err := jwt.NewManager(jwt.Config{
			SigningMethod: jwt.MethodHS256,
			PrivateKey:    cloneBytes(cfg.RememberMe.SigningKey),
			Issuer:        cfg.RememberMe.Issuer,
			KeyID:         cfg.RememberMe.KeyID,
			Now:           now,
		})
		if err != nil {
			return nil, errb.Wrapf(ErrConfiguration, "remember-me signer: %v", err)
		}
		rm, err := rememberme.NewManager(
			rememberme.NewStore(b.redis, cfg.Session.RedisPrefix),
			signer,
			rememberme.Options{Validity: cfg.RememberMe.Validity, Now: now},
		)
		if err != nil {
			return nil, errb.Wrapf(ErrConfiguration, "remember-me: %v", err)
		}
		engine.rememberMe = rm
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Logger:     logger,
		Now:        now,
	}, b.auditSink)

	engine.wireFlows()

	b.built = true
	return engine, nil
}

// CompilePolicy compiles the rule table of cfg, prepending the login and
// logout surfaces when Form.PermitSurfaces is set.
func CompilePolicy(cfg Config) (*policy.Table, error) {
	var opts []policy.Option
	if cfg.Form.PermitSurfaces {
		opts = append(opts, policy.WithImplicitPermit(cfg.surfacePaths()...))
	}

	table, err := policy.Compile(cfg.Policy.Rules, opts...)
	if err != nil {
		code := "POLICY_INVALID"
		if errors.Is(err, policy.ErrInvalidPattern) {
			code = "POLICY_INVALID_PATTERN"
		}
		return nil, oops.In("builder").Code(code).Wrapf(ErrConfiguration, "rule table: %v", err)
	}
	return table, nil
}
