package flows

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/MrEthical07/goGate/session"
)

// LogoutMetrics carries metric IDs used by the logout flows.
type LogoutMetrics struct {
	Logout    int
	LogoutAll int
}

// LogoutEvents carries audit event names used by the logout flows.
type LogoutEvents struct {
	Logout    string
	LogoutAll string
}

// LogoutErrors carries host-level sentinel errors used by the logout flows.
type LogoutErrors struct {
	EngineNotReady          error
	SessionStoreUnavailable error
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Timeout time.Duration

	GetSession        func(context.Context, string) (*session.Session, error)
	IsSessionNotFound func(error) bool
	DeleteSession     func(context.Context, string) (bool, error)
	DeleteAllSessions func(context.Context, string) (int, error)

	// The remember-me hooks are nil when remember-me is disabled.
	RevokeRememberMeDevice func(ctx context.Context, principalID, deviceID string) (bool, error)
	RevokeRememberMeAll    func(ctx context.Context, principalID string) (int, error)

	Observer Observer
	Metrics  LogoutMetrics
	Events   LogoutEvents
	Errors   LogoutErrors
}

// RunLogout ends sessionID and revokes the remember-me series bound to the
// same principal and device. Unknown, expired or already logged-out sessions
// are a no-op.
func RunLogout(ctx context.Context, sessionID string, deps LogoutDeps) error {
	if deps.GetSession == nil || deps.IsSessionNotFound == nil || deps.DeleteSession == nil {
		return deps.Errors.EngineNotReady
	}
	obs := deps.Observer

	sess, err := bounded(ctx, deps.Timeout, func(c context.Context) (*session.Session, error) {
		return deps.GetSession(c, sessionID)
	})
	if err != nil {
		if deps.IsSessionNotFound(err) {
			return nil
		}
		return storeFailure(ctx, obs, "LOGOUT_SESSION", deps.Errors.SessionStoreUnavailable, err)
	}

	deleted, err := bounded(ctx, deps.Timeout, func(c context.Context) (bool, error) {
		return deps.DeleteSession(c, sessionID)
	})
	if err != nil {
		return storeFailure(ctx, obs, "LOGOUT_SESSION", deps.Errors.SessionStoreUnavailable, err)
	}

	revoked := false
	if deps.RevokeRememberMeDevice != nil {
		revoked, err = bounded(ctx, deps.Timeout, func(c context.Context) (bool, error) {
			return deps.RevokeRememberMeDevice(c, sess.PrincipalID, sess.DeviceID)
		})
		if err != nil {
			return storeFailure(ctx, obs, "LOGOUT_REMEMBER_ME", deps.Errors.SessionStoreUnavailable, err)
		}
	}

	if !deleted {
		// lost a race with a concurrent logout
		return nil
	}

	obs.inc(deps.Metrics.Logout)
	obs.audit(ctx, AuditRecord{
		Event:       deps.Events.Logout,
		Success:     true,
		PrincipalID: sess.PrincipalID,
		Username:    sess.Username,
		SessionID:   sessionID,
		Metadata: map[string]string{
			"remember_me_revoked": boolString(revoked),
		},
	})
	return nil
}

// LogoutAllResult counts what RunLogoutAll removed.
type LogoutAllResult struct {
	Sessions   int
	RememberMe int
}

// RunLogoutAll ends every session of principalID and revokes all of its
// remember-me series.
func RunLogoutAll(ctx context.Context, principalID string, deps LogoutDeps) (LogoutAllResult, error) {
	var res LogoutAllResult
	if deps.DeleteAllSessions == nil {
		return res, deps.Errors.EngineNotReady
	}
	obs := deps.Observer

	n, err := bounded(ctx, deps.Timeout, func(c context.Context) (int, error) {
		return deps.DeleteAllSessions(c, principalID)
	})
	if err != nil {
		return res, storeFailure(ctx, obs, "LOGOUT_ALL_SESSIONS", deps.Errors.SessionStoreUnavailable, err)
	}
	res.Sessions = n

	if deps.RevokeRememberMeAll != nil {
		n, err := bounded(ctx, deps.Timeout, func(c context.Context) (int, error) {
			return deps.RevokeRememberMeAll(c, principalID)
		})
		if err != nil {
			return res, storeFailure(ctx, obs, "LOGOUT_ALL_REMEMBER_ME", deps.Errors.SessionStoreUnavailable, err)
		}
		res.RememberMe = n
	}

	obs.inc(deps.Metrics.LogoutAll)
	obs.audit(ctx, AuditRecord{
		Event:       deps.Events.LogoutAll,
		Success:     true,
		PrincipalID: principalID,
		Metadata: map[string]string{
			"sessions":    itoa(res.Sessions),
			"remember_me": itoa(res.RememberMe),
		},
	})
	return res, nil
}

func storeFailure(ctx context.Context, obs Observer, code string, sentinel, err error) error {
	wrapped := oops.In("flows").Code(code).Wrapf(sentinel, "%v", err)
	obs.log(ctx, slog.LevelError, "store operation failed", wrapped)
	return wrapped
}
