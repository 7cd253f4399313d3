package goGate

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	internalaudit "github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/internal/errutil"
	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/policy"
	"github.com/MrEthical07/goGate/rememberme"
	"github.com/MrEthical07/goGate/session"
)

// Engine is the access-control core: it authorizes requests against the
// rule table and owns the login, remember-me and logout lifecycle. It is
// immutable after Build and safe for concurrent use.
type Engine struct {
	config     Config
	table      *policy.Table
	sessions   *session.Store
	rememberMe *rememberme.Manager
	throttle   *rate.Limiter
	directory  PrincipalDirectory
	verifier   PasswordVerifier
	dummyHash  string
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time

	loginDeps     flows.LoginDeps
	logoutDeps    flows.LogoutDeps
	authorizeDeps flows.AuthorizeDeps
}

// Close flushes and stops the audit dispatcher. It does not close the Redis
// client, which the caller owns.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped returns how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Policy returns the compiled rule table.
func (e *Engine) Policy() *policy.Table {
	return e.table
}

// RememberMeEnabled reports whether persistent login is configured.
func (e *Engine) RememberMeEnabled() bool {
	return e != nil && e.rememberMe != nil
}

// Ping checks that the session store is reachable and returns the round
// trip time.
func (e *Engine) Ping(ctx context.Context) (time.Duration, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	ctx, cancel := e.bounded(ctx)
	defer cancel()
	d, err := e.sessions.Ping(ctx)
	if err != nil {
		return 0, oops.In("engine").Code("PING_FAILED").Wrapf(ErrSessionStoreUnavailable, "%v", err)
	}
	return d, nil
}

// Login authenticates username and secret and opens a session. Unknown
// usernames, wrong secrets and collaborator failures all return
// [ErrAuthenticationFailed]; the distinction is kept in audit events,
// metrics and logs. Login is never retried internally.
func (e *Engine) Login(ctx context.Context, username, secret string, opts LoginOptions) (*LoginResult, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	ip := opts.ClientIP
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}

	out, err := flows.RunLogin(ctx, flows.LoginInput{
		Username:   username,
		Secret:     secret,
		RememberMe: opts.RememberMe,
		DeviceID:   opts.DeviceID,
		ClientIP:   ip,
		Previous:   opts.PreviousSessionID,
	}, e.loginDeps)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		SessionID:           out.Session.ID,
		Principal:           fromFlowPrincipal(out.Principal),
		ExpiresAt:           out.Session.ExpiresAt,
		RememberMeCookie:    out.RememberMeCookie,
		RememberMeExpiresAt: out.RememberMeExpiresAt,
	}, nil
}

// Logout ends the session and revokes the remember-me series of the same
// principal and device. Logging out an unknown or already ended session is
// a no-op.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return flows.RunLogout(ctx, sessionID, e.logoutDeps)
}

// LogoutAll ends every session of principalID and revokes all of its
// remember-me series. It returns the number of sessions removed.
func (e *Engine) LogoutAll(ctx context.Context, principalID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	res, err := flows.RunLogoutAll(ctx, principalID, e.logoutDeps)
	return res.Sessions, err
}

// Resolve returns the principal of a live, authenticated session and slides
// its idle window. Absent, logged-out and expired sessions return
// [ErrSessionNotFound]; expired ones are evicted on the way.
func (e *Engine) Resolve(ctx context.Context, sessionID string) (*Principal, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	ctx, cancel := e.bounded(ctx)
	defer cancel()

	sess, err := e.sessions.Resolve(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, oops.In("engine").Code("RESOLVE_FAILED").Wrapf(ErrSessionStoreUnavailable, "%v", err)
	}

	return &Principal{
		ID:       sess.PrincipalID,
		Username: sess.Username,
		Roles:    sess.Roles,
	}, nil
}

// Authorize decides req. An anonymous caller facing a CHALLENGE is
// re-authenticated from its remember-me cookie when possible, in which case
// the result carries a new session id and the rotated cookie. The error is
// non-nil only when the session store is unavailable; the decision is then
// DENY.
func (e *Engine) Authorize(ctx context.Context, req AccessRequest) (AccessResult, error) {
	if e == nil {
		return AccessResult{Decision: policy.DecisionDeny}, ErrEngineNotReady
	}

	out, err := flows.RunAuthorize(ctx, flows.AuthorizeInput{
		Path:             req.Path,
		SessionID:        req.SessionID,
		RememberMeCookie: req.RememberMeCookie,
	}, e.authorizeDeps)

	res := AccessResult{
		Decision:            out.Decision,
		Rule:                out.Rule,
		Principal:           fromFlowPrincipal(out.Principal),
		RememberMe:          RememberMeOutcome(out.RememberMe),
		RememberMeCookie:    out.RememberMeCookie,
		RememberMeExpiresAt: out.RememberMeExpiresAt,
	}
	if out.Session != nil {
		res.SessionID = out.Session.ID
		res.SessionExpiresAt = out.Session.ExpiresAt
	}

	e.logger.DebugContext(ctx, "access decided",
		"path", req.Path,
		"decision", res.Decision.String(),
		"rule", res.Rule.String(),
		"remember_me", res.RememberMe.String(),
	)
	return res, err
}

// ForgetRememberMe revokes the series carried by a remember-me cookie. It is
// used on logout, where the session may already be gone. Invalid cookies
// are ignored.
func (e *Engine) ForgetRememberMe(ctx context.Context, cookie string) error {
	if e == nil || e.rememberMe == nil || cookie == "" {
		return nil
	}

	series, _, err := e.rememberMe.Decode(cookie)
	if err != nil {
		return nil
	}

	ctx, cancel := e.bounded(ctx)
	defer cancel()

	revoked, err := e.rememberMe.RevokeSeries(ctx, series)
	if err != nil {
		return oops.In("engine").Code("REMEMBER_ME_REVOKE").Wrapf(ErrSessionStoreUnavailable, "%v", err)
	}
	if revoked {
		e.emitAudit(ctx, flows.AuditRecord{
			Event:    auditEventRememberMeRevoked,
			Success:  true,
			Metadata: map[string]string{"series": series},
		})
	}
	return nil
}

func (e *Engine) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.config.Timeouts.Collaborator)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) log(ctx context.Context, level slog.Level, msg string, err error, args ...any) {
	errutil.Log(ctx, e.logger, level, msg, err, args...)
}

func (e *Engine) lookup(ctx context.Context, username string) (*flows.Principal, error) {
	p, err := e.directory.LookupByUsername(ctx, username)
	if err != nil || p == nil {
		return nil, err
	}
	return &flows.Principal{
		ID:             p.ID,
		Username:       p.Username,
		Roles:          append([]string(nil), p.Roles...),
		CredentialHash: p.CredentialHash,
	}, nil
}

func fromFlowPrincipal(p *flows.Principal) *Principal {
	if p == nil {
		return nil
	}
	return &Principal{
		ID:       p.ID,
		Username: p.Username,
		Roles:    p.Roles,
	}
}

func isPrincipalNotFound(err error) bool {
	return errors.Is(err, ErrPrincipalNotFound)
}

func isSessionNotFound(err error) bool {
	return errors.Is(err, session.ErrNotFound)
}
