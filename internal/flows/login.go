package flows

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/MrEthical07/goGate/session"
)

// Login failure reasons recorded in audit events. Callers only ever see
// LoginErrors.AuthenticationFailed.
const (
	ReasonEmptyCredentials        = "empty_credentials"
	ReasonPrincipalNotFound       = "principal_not_found"
	ReasonInvalidCredentials      = "invalid_credentials"
	ReasonDirectoryUnavailable    = "directory_unavailable"
	ReasonVerifierUnavailable     = "verifier_unavailable"
	ReasonSessionStoreUnavailable = "session_store_unavailable"
	ReasonThrottled               = "throttled"
	ReasonThrottleUnavailable     = "throttle_unavailable"
)

// LoginInput is one login submission.
type LoginInput struct {
	Username   string
	Secret     string
	RememberMe bool
	DeviceID   string
	ClientIP   string
	// Previous is the session presented with the login, ended on success.
	Previous string
}

// LoginOutput is a successful login.
type LoginOutput struct {
	Session   *session.Session
	Principal *Principal

	RememberMeCookie    string
	RememberMeExpiresAt time.Time
}

// LoginMetrics carries metric IDs used by the login flow.
type LoginMetrics struct {
	LoginSuccess           int
	LoginFailure           int
	LoginCollaboratorError int
	SessionCreated         int
	RememberMeIssued       int
	LoginThrottled         int
}

// LoginEvents carries audit event names used by the login flow.
type LoginEvents struct {
	LoginSuccess     string
	LoginFailure     string
	RememberMeIssued string
	LoginThrottled   string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady          error
	AuthenticationFailed    error
	DirectoryUnavailable    error
	VerifierUnavailable     error
	SessionStoreUnavailable error
	LoginThrottled          error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Timeout time.Duration

	LookupByUsername    func(context.Context, string) (*Principal, error)
	IsPrincipalNotFound func(error) bool
	VerifyPassword      func(ctx context.Context, secret, hash string) (bool, error)
	// DummyHash is verified against for unknown usernames. Empty skips it.
	DummyHash string

	CreateSession func(context.Context, *session.Session) error
	// EndPreviousSession logs out LoginInput.Previous. It runs before the new
	// remember-me series is issued so revoking the old device series cannot
	// take the new one with it.
	EndPreviousSession func(ctx context.Context, sessionID string) error
	// IssueRememberMe is nil when remember-me is disabled.
	IssueRememberMe func(ctx context.Context, principalID, username, deviceID string) (string, time.Time, error)

	// Throttle hooks are nil when login throttling is disabled.
	CheckThrottle         func(ctx context.Context, username, ip string) error
	IsThrottled           func(error) bool
	RecordThrottleFailure func(ctx context.Context, username, ip string) error
	ResetThrottle         func(ctx context.Context, username string) error

	Observer Observer
	Metrics  LoginMetrics
	Events   LoginEvents
	Errors   LoginErrors
}

type loginFailure struct {
	reason       string
	cause        error
	collaborator bool
	principal    *Principal
}

// RunLogin authenticates username/secret and creates a session. Every
// failure returns deps.Errors.AuthenticationFailed; the real reason goes to
// audit, metrics and logs only.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*LoginOutput, error) {
	if deps.LookupByUsername == nil ||
		deps.IsPrincipalNotFound == nil ||
		deps.VerifyPassword == nil ||
		deps.CreateSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	username := strings.TrimSpace(in.Username)
	obs := deps.Observer

	fail := func(f loginFailure) (*LoginOutput, error) {
		obs.inc(deps.Metrics.LoginFailure)
		if f.collaborator {
			obs.inc(deps.Metrics.LoginCollaboratorError)
			obs.log(ctx, slog.LevelError, "login collaborator failure", f.cause, "reason", f.reason)
		} else if deps.RecordThrottleFailure != nil && username != "" {
			if err := boundedErr(ctx, deps.Timeout, func(c context.Context) error {
				return deps.RecordThrottleFailure(c, username, in.ClientIP)
			}); err != nil {
				obs.log(ctx, slog.LevelWarn, "login throttle update failed", err)
			}
		}
		rec := AuditRecord{
			Event:    deps.Events.LoginFailure,
			Username: username,
			Reason:   f.reason,
		}
		if f.principal != nil {
			rec.PrincipalID = f.principal.ID
		}
		obs.audit(ctx, rec)
		return nil, deps.Errors.AuthenticationFailed
	}

	if username == "" || in.Secret == "" {
		dummyVerify(ctx, in.Secret, deps)
		return fail(loginFailure{reason: ReasonEmptyCredentials})
	}

	if deps.CheckThrottle != nil {
		err := boundedErr(ctx, deps.Timeout, func(c context.Context) error {
			return deps.CheckThrottle(c, username, in.ClientIP)
		})
		switch {
		case err == nil:
		case deps.IsThrottled != nil && deps.IsThrottled(err):
			obs.inc(deps.Metrics.LoginThrottled)
			obs.audit(ctx, AuditRecord{
				Event:    deps.Events.LoginThrottled,
				Username: username,
				Reason:   ReasonThrottled,
			})
			return nil, deps.Errors.LoginThrottled
		default:
			// the limiter shares Redis with the session store; without it
			// no session could be created anyway
			return fail(loginFailure{
				reason:       ReasonThrottleUnavailable,
				cause:        oops.In("flows").Code("LOGIN_THROTTLE").Wrapf(deps.Errors.SessionStoreUnavailable, "%v", err),
				collaborator: true,
			})
		}
	}

	p, err := bounded(ctx, deps.Timeout, func(c context.Context) (*Principal, error) {
		return deps.LookupByUsername(c, username)
	})
	if err != nil || p == nil {
		if err == nil || deps.IsPrincipalNotFound(err) {
			dummyVerify(ctx, in.Secret, deps)
			return fail(loginFailure{reason: ReasonPrincipalNotFound})
		}
		return fail(loginFailure{
			reason:       ReasonDirectoryUnavailable,
			cause:        oops.In("flows").Code("LOGIN_DIRECTORY").Wrapf(deps.Errors.DirectoryUnavailable, "%v", err),
			collaborator: true,
		})
	}

	ok, err := bounded(ctx, deps.Timeout, func(c context.Context) (bool, error) {
		return deps.VerifyPassword(c, in.Secret, p.CredentialHash)
	})
	if err != nil {
		return fail(loginFailure{
			reason:       ReasonVerifierUnavailable,
			cause:        oops.In("flows").Code("LOGIN_VERIFIER").Wrapf(deps.Errors.VerifierUnavailable, "%v", err),
			collaborator: true,
			principal:    p,
		})
	}
	if !ok {
		return fail(loginFailure{reason: ReasonInvalidCredentials, principal: p})
	}

	if in.Previous != "" && deps.EndPreviousSession != nil {
		if err := deps.EndPreviousSession(ctx, in.Previous); err != nil {
			obs.log(ctx, slog.LevelWarn, "ending previous session failed", err, "principal_id", p.ID)
		}
	}

	sess := &session.Session{
		PrincipalID: p.ID,
		Username:    p.Username,
		Roles:       append([]string(nil), p.Roles...),
		DeviceID:    in.DeviceID,
	}
	if err := boundedErr(ctx, deps.Timeout, func(c context.Context) error {
		return deps.CreateSession(c, sess)
	}); err != nil {
		return fail(loginFailure{
			reason:       ReasonSessionStoreUnavailable,
			cause:        oops.In("flows").Code("LOGIN_SESSION").Wrapf(deps.Errors.SessionStoreUnavailable, "%v", err),
			collaborator: true,
			principal:    p,
		})
	}
	obs.inc(deps.Metrics.SessionCreated)

	if deps.ResetThrottle != nil {
		if err := boundedErr(ctx, deps.Timeout, func(c context.Context) error {
			return deps.ResetThrottle(c, username)
		}); err != nil {
			obs.log(ctx, slog.LevelWarn, "login throttle reset failed", err, "principal_id", p.ID)
		}
	}

	out := &LoginOutput{
		Session:   sess,
		Principal: p.withoutCredential(),
	}

	if in.RememberMe && deps.IssueRememberMe != nil {
		type issued struct {
			cookie    string
			expiresAt time.Time
		}
		res, err := bounded(ctx, deps.Timeout, func(c context.Context) (issued, error) {
			cookie, exp, err := deps.IssueRememberMe(c, p.ID, p.Username, in.DeviceID)
			return issued{cookie, exp}, err
		})
		if err != nil {
			// the login itself stands; the caller just gets no persistent cookie
			obs.log(ctx, slog.LevelWarn, "remember-me issue failed", err, "principal_id", p.ID)
		} else {
			out.RememberMeCookie = res.cookie
			out.RememberMeExpiresAt = res.expiresAt
			obs.inc(deps.Metrics.RememberMeIssued)
			obs.audit(ctx, AuditRecord{
				Event:       deps.Events.RememberMeIssued,
				Success:     true,
				PrincipalID: p.ID,
				Username:    p.Username,
				SessionID:   sess.ID,
			})
		}
	}

	obs.inc(deps.Metrics.LoginSuccess)
	obs.audit(ctx, AuditRecord{
		Event:       deps.Events.LoginSuccess,
		Success:     true,
		PrincipalID: p.ID,
		Username:    p.Username,
		SessionID:   sess.ID,
	})

	return out, nil
}

func dummyVerify(ctx context.Context, secret string, deps LoginDeps) {
	if deps.DummyHash == "" {
		return
	}
	_, _ = bounded(ctx, deps.Timeout, func(c context.Context) (bool, error) {
		return deps.VerifyPassword(c, secret, deps.DummyHash)
	})
}
