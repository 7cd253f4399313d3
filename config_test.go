package goGate

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/internal/errutil"
	"github.com/MrEthical07/goGate/policy"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.RememberMe.Validity != 1800*time.Second {
		t.Fatalf("unexpected default remember-me validity %v", cfg.RememberMe.Validity)
	}
	if cfg.Form.FailurePath != "/login?error" || cfg.Form.DefaultSuccessPath != "/index" {
		t.Fatalf("unexpected default form paths: %+v", cfg.Form)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "remember-me with key",
			mutate:    func(c *Config) { c.RememberMe.Enabled = true; c.RememberMe.SigningKey = []byte("0123456789abcdef") },
			wantValid: true,
		},
		{
			name:   "remember-me short key",
			mutate: func(c *Config) { c.RememberMe.Enabled = true; c.RememberMe.SigningKey = []byte("short") },
		},
		{
			name: "remember-me cookie clashes with session cookie",
			mutate: func(c *Config) {
				c.RememberMe.Enabled = true
				c.RememberMe.SigningKey = []byte("0123456789abcdef")
				c.RememberMe.CookieName = c.Cookie.SessionName
			},
		},
		{
			name: "remember-me zero validity",
			mutate: func(c *Config) {
				c.RememberMe.Enabled = true
				c.RememberMe.SigningKey = []byte("0123456789abcdef")
				c.RememberMe.Validity = 0
			},
		},
		{
			name:   "off-site failure redirect",
			mutate: func(c *Config) { c.Form.FailurePath = "//evil.example/login" },
		},
		{
			name:   "absolute url success redirect",
			mutate: func(c *Config) { c.Form.DefaultSuccessPath = "https://evil.example/" },
		},
		{
			name:   "relative login path",
			mutate: func(c *Config) { c.Form.LoginPath = "login" },
		},
		{
			name:   "same username and password field",
			mutate: func(c *Config) { c.Form.PasswordField = c.Form.UsernameField },
		},
		{
			name:   "login equals logout",
			mutate: func(c *Config) { c.Form.LogoutPath = c.Form.LoginPath },
		},
		{
			name:   "bad cookie name",
			mutate: func(c *Config) { c.Cookie.SessionName = "bad name" },
		},
		{
			name:   "idle longer than absolute",
			mutate: func(c *Config) { c.Session.IdleTimeout = 24 * time.Hour },
		},
		{
			name:      "no idle timeout",
			mutate:    func(c *Config) { c.Session.IdleTimeout = 0 },
			wantValid: true,
		},
		{
			name:   "zero collaborator timeout",
			mutate: func(c *Config) { c.Timeouts.Collaborator = 0 },
		},
		{
			name:   "weak argon2 memory",
			mutate: func(c *Config) { c.Password.Memory = 1024 },
		},
		{
			name:   "bcrypt cost out of range",
			mutate: func(c *Config) { c.Password.BcryptCost = 40 },
		},
		{
			name:   "audit without buffer",
			mutate: func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 },
		},
		{
			name:   "throttle without budget",
			mutate: func(c *Config) { c.Throttle.Enabled = true; c.Throttle.MaxAttempts = 0 },
		},
		{
			name:   "throttle without window",
			mutate: func(c *Config) { c.Throttle.Enabled = true; c.Throttle.Window = 0 },
		},
		{
			name:      "bcrypt dummy scheme",
			mutate:    func(c *Config) { c.Password.DummyScheme = "bcrypt" },
			wantValid: true,
		},
		{
			name:   "unknown dummy scheme",
			mutate: func(c *Config) { c.Password.DummyScheme = "scrypt" },
		},
		{
			name:      "throttle enabled with defaults",
			mutate:    func(c *Config) { c.Throttle.Enabled = true },
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantValid {
				if !errors.Is(err, ErrConfiguration) {
					t.Fatalf("expected ErrConfiguration, got %v", err)
				}
				errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
			}
		})
	}
}

func TestCompilePolicyPermitSurfaces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.Rules = canonicalRules()

	table, err := CompilePolicy(cfg)
	if err != nil {
		t.Fatalf("CompilePolicy failed: %v", err)
	}
	for _, p := range []string{"/login", "/logout"} {
		rule, decision := table.Evaluate(p, nil)
		if !rule.Implicit || decision != policy.DecisionAllow {
			t.Fatalf("%s must be implicitly permitted, got %s %v", p, rule, decision)
		}
	}

	cfg.Form.PermitSurfaces = false
	table, err = CompilePolicy(cfg)
	if err != nil {
		t.Fatalf("CompilePolicy failed: %v", err)
	}
	if _, decision := table.Evaluate("/login", nil); decision != policy.DecisionChallenge {
		t.Fatalf("without PermitSurfaces /login must fall through, got %v", decision)
	}
}

func TestCompilePolicyInvalidPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.Rules = []policy.RuleSpec{{Patterns: []string{"/a/**b"}, Requirement: policy.PermitAll()}}

	_, err := CompilePolicy(cfg)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	errutil.AssertErrorCode(t, err, "POLICY_INVALID_PATTERN")
}

func TestCloneConfigIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.Rules = canonicalRules()
	cfg.RememberMe.SigningKey = []byte("0123456789abcdef")

	cp := cloneConfig(cfg)
	cp.Policy.Rules[0].Patterns[0] = "/changed"
	cp.RememberMe.SigningKey[0] = 'X'

	if cfg.Policy.Rules[0].Patterns[0] != "/resources/**" {
		t.Fatal("rule patterns must be copied")
	}
	if cfg.RememberMe.SigningKey[0] != '0' {
		t.Fatal("signing key must be copied")
	}
}
