package flows

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/goGate/policy"
	"github.com/MrEthical07/goGate/rememberme"
	"github.com/MrEthical07/goGate/session"
)

// RememberMeOutcome mirrors goGate.RememberMeOutcome and keeps its order.
type RememberMeOutcome uint8

const (
	RememberMeNotUsed RememberMeOutcome = iota
	RememberMeRotated
	RememberMeRejected
	RememberMeTheft
)

// AuthorizeInput is one request to authorize.
type AuthorizeInput struct {
	Path             string
	SessionID        string
	RememberMeCookie string
}

// AuthorizeOutput is the decision and any re-authentication side effects.
type AuthorizeOutput struct {
	Decision  policy.Decision
	Rule      policy.Rule
	Principal *Principal

	// Session is set when a remember-me cookie minted a fresh session.
	Session *session.Session

	RememberMe          RememberMeOutcome
	RememberMeCookie    string
	RememberMeExpiresAt time.Time
}

// AuthorizeMetrics carries metric IDs used by the authorize flow.
type AuthorizeMetrics struct {
	DecisionAllow      int
	DecisionDeny       int
	DecisionChallenge  int
	SessionCreated     int
	SessionStoreError  int
	RememberMeRotated  int
	RememberMeRejected int
	RememberMeTheft    int
}

// AuthorizeEvents carries audit event names used by the authorize flow.
type AuthorizeEvents struct {
	AccessDenied       string
	RememberMeLogin    string
	RememberMeRejected string
	RememberMeTheft    string
}

// AuthorizeErrors carries host-level sentinel errors used by the authorize
// flow.
type AuthorizeErrors struct {
	EngineNotReady          error
	SessionStoreUnavailable error
}

// AuthorizeDeps captures authorization dependencies.
type AuthorizeDeps struct {
	Timeout time.Duration

	Match  func(string) policy.Rule
	Decide func(policy.Rule, *policy.Subject) policy.Decision

	ResolveSession    func(context.Context, string) (*session.Session, error)
	IsSessionNotFound func(error) bool
	CreateSession     func(context.Context, *session.Session) error

	// The remember-me hooks are nil when remember-me is disabled.
	DecodeRememberMe  func(string) (string, string, error)
	ConsumeRememberMe func(ctx context.Context, series, value string) (*rememberme.Token, error)
	EncodeRememberMe  func(*rememberme.Token) (string, error)
	RevokeSeries      func(ctx context.Context, series string) (bool, error)
	// RevokeAllOnTheft, when set, is called with the principal of a stolen
	// series to revoke every other series too. EndSessionsOnTheft ends the
	// principal's sessions, including any the thief already opened.
	RevokeAllOnTheft   func(ctx context.Context, principalID string) (int, error)
	EndSessionsOnTheft func(ctx context.Context, principalID string) (int, error)

	LookupByUsername    func(context.Context, string) (*Principal, error)
	IsPrincipalNotFound func(error) bool

	Now     func() time.Time
	Observe func(time.Duration)

	Observer Observer
	Metrics  AuthorizeMetrics
	Events   AuthorizeEvents
	Errors   AuthorizeErrors
}

func (d AuthorizeDeps) rememberMeEnabled() bool {
	return d.DecodeRememberMe != nil &&
		d.ConsumeRememberMe != nil &&
		d.EncodeRememberMe != nil &&
		d.RevokeSeries != nil &&
		d.LookupByUsername != nil &&
		d.IsPrincipalNotFound != nil
}

// RunAuthorize matches the request path, resolves the caller and decides.
// A CHALLENGE for an anonymous caller consults the remember-me cookie before
// giving up. Session store failures fail closed with DENY and an error,
// except on PermitAll rules, which never depend on the caller.
func RunAuthorize(ctx context.Context, in AuthorizeInput, deps AuthorizeDeps) (AuthorizeOutput, error) {
	if deps.Match == nil || deps.Decide == nil || deps.ResolveSession == nil || deps.IsSessionNotFound == nil {
		return AuthorizeOutput{Decision: policy.DecisionDeny}, deps.Errors.EngineNotReady
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Observe != nil {
		start := deps.Now()
		defer func() { deps.Observe(deps.Now().Sub(start)) }()
	}
	obs := deps.Observer

	path := policy.NormalizePath(in.Path)
	out := AuthorizeOutput{Rule: deps.Match(path)}
	permitAll := out.Rule.Requirement.Kind == policy.KindPermitAll

	if in.SessionID != "" {
		sess, err := bounded(ctx, deps.Timeout, func(c context.Context) (*session.Session, error) {
			return deps.ResolveSession(c, in.SessionID)
		})
		switch {
		case err == nil:
			out.Principal = principalFromSession(sess)
		case deps.IsSessionNotFound(err):
		default:
			obs.inc(deps.Metrics.SessionStoreError)
			wrapped := storeFailure(ctx, obs, "AUTHORIZE_SESSION", deps.Errors.SessionStoreUnavailable, err)
			if !permitAll {
				out.Decision = policy.DecisionDeny
				obs.inc(deps.Metrics.DecisionDeny)
				return out, wrapped
			}
		}
	}

	out.Decision = deps.Decide(out.Rule, subjectOf(out.Principal))

	if out.Decision == policy.DecisionChallenge &&
		out.Principal == nil &&
		in.RememberMeCookie != "" &&
		deps.rememberMeEnabled() {
		autoLogin(ctx, in.RememberMeCookie, path, &out, deps)
		if out.Principal != nil {
			out.Decision = deps.Decide(out.Rule, subjectOf(out.Principal))
		}
	}

	switch out.Decision {
	case policy.DecisionAllow:
		obs.inc(deps.Metrics.DecisionAllow)
	case policy.DecisionChallenge:
		obs.inc(deps.Metrics.DecisionChallenge)
	default:
		obs.inc(deps.Metrics.DecisionDeny)
		rec := AuditRecord{
			Event: deps.Events.AccessDenied,
			Path:  path,
			Metadata: map[string]string{
				"rule": out.Rule.String(),
			},
		}
		if out.Principal != nil {
			rec.PrincipalID = out.Principal.ID
			rec.Username = out.Principal.Username
		}
		obs.audit(ctx, rec)
	}

	return out, nil
}

// autoLogin consumes the remember-me cookie and, on success, mints a new
// session for the bound principal. It mutates out in place.
func autoLogin(ctx context.Context, cookie, path string, out *AuthorizeOutput, deps AuthorizeDeps) {
	obs := deps.Observer

	reject := func(reason string, principalID string) {
		out.RememberMe = RememberMeRejected
		obs.inc(deps.Metrics.RememberMeRejected)
		obs.audit(ctx, AuditRecord{
			Event:       deps.Events.RememberMeRejected,
			PrincipalID: principalID,
			Path:        path,
			Reason:      reason,
		})
	}

	series, value, err := deps.DecodeRememberMe(cookie)
	if err != nil {
		reject("malformed_cookie", "")
		return
	}

	tok, err := bounded(ctx, deps.Timeout, func(c context.Context) (*rememberme.Token, error) {
		return deps.ConsumeRememberMe(c, series, value)
	})
	if err != nil {
		var theft *rememberme.TheftError
		switch {
		case errors.As(err, &theft):
			onTheft(ctx, theft, path, out, deps)
		case errors.Is(err, rememberme.ErrTheft):
			onTheft(ctx, &rememberme.TheftError{Series: series}, path, out, deps)
		case errors.Is(err, rememberme.ErrInvalid):
			reject("unknown_or_expired", "")
		default:
			// keep the cookie: it may still be valid once the store is back
			obs.inc(deps.Metrics.SessionStoreError)
			storeFailure(ctx, obs, "AUTHORIZE_REMEMBER_ME", deps.Errors.SessionStoreUnavailable, err)
		}
		return
	}

	encoded, err := deps.EncodeRememberMe(tok)
	if err != nil {
		obs.log(ctx, slog.LevelError, "remember-me cookie encode failed", err, "principal_id", tok.PrincipalID)
		revokeSeries(ctx, tok.Series, deps)
		reject("encode_failed", tok.PrincipalID)
		return
	}
	// the stored value has rotated; the caller must receive the new cookie
	// even if no session can be created below
	out.RememberMe = RememberMeRotated
	out.RememberMeCookie = encoded
	out.RememberMeExpiresAt = tok.ExpiresAt
	obs.inc(deps.Metrics.RememberMeRotated)

	p, err := bounded(ctx, deps.Timeout, func(c context.Context) (*Principal, error) {
		return deps.LookupByUsername(c, tok.Username)
	})
	if err != nil || p == nil {
		if err == nil || deps.IsPrincipalNotFound(err) {
			revokeSeries(ctx, tok.Series, deps)
			out.RememberMeCookie = ""
			out.RememberMeExpiresAt = time.Time{}
			reject("principal_not_found", tok.PrincipalID)
			return
		}
		obs.log(ctx, slog.LevelError, "remember-me principal lookup failed", err, "principal_id", tok.PrincipalID)
		return
	}
	if p.ID != tok.PrincipalID {
		// the username now belongs to someone else
		revokeSeries(ctx, tok.Series, deps)
		out.RememberMeCookie = ""
		out.RememberMeExpiresAt = time.Time{}
		reject("principal_changed", tok.PrincipalID)
		return
	}

	sess := &session.Session{
		PrincipalID: p.ID,
		Username:    p.Username,
		Roles:       append([]string(nil), p.Roles...),
		DeviceID:    tok.DeviceID,
	}
	if err := boundedErr(ctx, deps.Timeout, func(c context.Context) error {
		return deps.CreateSession(c, sess)
	}); err != nil {
		obs.inc(deps.Metrics.SessionStoreError)
		storeFailure(ctx, obs, "AUTHORIZE_SESSION_CREATE", deps.Errors.SessionStoreUnavailable, err)
		return
	}
	obs.inc(deps.Metrics.SessionCreated)

	out.Principal = p.withoutCredential()
	out.Session = sess
	obs.audit(ctx, AuditRecord{
		Event:       deps.Events.RememberMeLogin,
		Success:     true,
		PrincipalID: p.ID,
		Username:    p.Username,
		SessionID:   sess.ID,
		Path:        path,
	})
}

func onTheft(ctx context.Context, theft *rememberme.TheftError, path string, out *AuthorizeOutput, deps AuthorizeDeps) {
	obs := deps.Observer
	out.RememberMe = RememberMeTheft
	obs.inc(deps.Metrics.RememberMeTheft)

	revokedOthers := 0
	if deps.RevokeAllOnTheft != nil && theft.PrincipalID != "" {
		n, err := bounded(ctx, deps.Timeout, func(c context.Context) (int, error) {
			return deps.RevokeAllOnTheft(c, theft.PrincipalID)
		})
		if err != nil {
			obs.log(ctx, slog.LevelError, "revoking remember-me series after theft failed", err,
				"principal_id", theft.PrincipalID)
		}
		revokedOthers = n
	}
	endedSessions := 0
	if deps.EndSessionsOnTheft != nil && theft.PrincipalID != "" {
		n, err := bounded(ctx, deps.Timeout, func(c context.Context) (int, error) {
			return deps.EndSessionsOnTheft(c, theft.PrincipalID)
		})
		if err != nil {
			obs.log(ctx, slog.LevelError, "ending sessions after theft failed", err,
				"principal_id", theft.PrincipalID)
		}
		endedSessions = n
	}

	obs.log(ctx, slog.LevelWarn, "remember-me token theft detected", theft,
		"principal_id", theft.PrincipalID, "device_id", theft.DeviceID)
	obs.audit(ctx, AuditRecord{
		Event:       deps.Events.RememberMeTheft,
		PrincipalID: theft.PrincipalID,
		Username:    theft.Username,
		Path:        path,
		Reason:      "token_theft",
		Metadata: map[string]string{
			"series":         theft.Series,
			"device_id":      theft.DeviceID,
			"revoked_others": itoa(revokedOthers),
			"sessions_ended": itoa(endedSessions),
		},
	})
}

func revokeSeries(ctx context.Context, series string, deps AuthorizeDeps) {
	if _, err := bounded(ctx, deps.Timeout, func(c context.Context) (bool, error) {
		return deps.RevokeSeries(c, series)
	}); err != nil {
		deps.Observer.log(ctx, slog.LevelError, "remember-me series revoke failed", err)
	}
}

func subjectOf(p *Principal) *policy.Subject {
	if p == nil {
		return nil
	}
	return &policy.Subject{PrincipalID: p.ID, Roles: p.Roles}
}
