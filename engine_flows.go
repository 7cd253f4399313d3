package goGate

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goGate/internal/flows"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/rememberme"
)

// wireFlows binds the engine's collaborators into the flow dependency sets.
// It runs once at the end of Build.
func (e *Engine) wireFlows() {
	timeout := e.config.Timeouts.Collaborator
	obs := e.observer()

	e.loginDeps = flows.LoginDeps{
		Timeout:             timeout,
		LookupByUsername:    e.lookup,
		IsPrincipalNotFound: isPrincipalNotFound,
		VerifyPassword:      e.verifier.Verify,
		DummyHash:           e.dummyHash,
		CreateSession:       e.sessions.Create,
		EndPreviousSession:  e.endPreviousSession,
		Observer:            obs,
		Metrics: flows.LoginMetrics{
			LoginSuccess:           int(MetricLoginSuccess),
			LoginFailure:           int(MetricLoginFailure),
			LoginCollaboratorError: int(MetricLoginCollaboratorError),
			SessionCreated:         int(MetricSessionCreated),
			RememberMeIssued:       int(MetricRememberMeIssued),
			LoginThrottled:         int(MetricLoginThrottled),
		},
		Events: flows.LoginEvents{
			LoginSuccess:     auditEventLoginSuccess,
			LoginFailure:     auditEventLoginFailure,
			RememberMeIssued: auditEventRememberMeIssued,
			LoginThrottled:   auditEventLoginThrottled,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:          ErrEngineNotReady,
			AuthenticationFailed:    ErrAuthenticationFailed,
			DirectoryUnavailable:    ErrDirectoryUnavailable,
			VerifierUnavailable:     ErrVerifierUnavailable,
			SessionStoreUnavailable: ErrSessionStoreUnavailable,
			LoginThrottled:          ErrLoginThrottled,
		},
	}
	if e.throttle != nil {
		e.loginDeps.CheckThrottle = e.throttle.Check
		e.loginDeps.IsThrottled = isThrottled
		e.loginDeps.RecordThrottleFailure = e.throttle.RecordFailure
		e.loginDeps.ResetThrottle = e.throttle.Reset
	}

	e.logoutDeps = flows.LogoutDeps{
		Timeout:           timeout,
		GetSession:        e.sessions.Get,
		IsSessionNotFound: isSessionNotFound,
		DeleteSession:     e.sessions.Delete,
		DeleteAllSessions: e.sessions.DeleteAllForPrincipal,
		Observer:          obs,
		Metrics: flows.LogoutMetrics{
			Logout:    int(MetricLogout),
			LogoutAll: int(MetricLogoutAll),
		},
		Events: flows.LogoutEvents{
			Logout:    auditEventLogout,
			LogoutAll: auditEventLogoutAll,
		},
		Errors: flows.LogoutErrors{
			EngineNotReady:          ErrEngineNotReady,
			SessionStoreUnavailable: ErrSessionStoreUnavailable,
		},
	}

	e.authorizeDeps = flows.AuthorizeDeps{
		Timeout:             timeout,
		Match:               e.table.Match,
		Decide:              e.table.Decide,
		ResolveSession:      e.sessions.Resolve,
		IsSessionNotFound:   isSessionNotFound,
		CreateSession:       e.sessions.Create,
		LookupByUsername:    e.lookup,
		IsPrincipalNotFound: isPrincipalNotFound,
		Now:                 e.now,
		Observer:            obs,
		Metrics: flows.AuthorizeMetrics{
			DecisionAllow:      int(MetricDecisionAllow),
			DecisionDeny:       int(MetricDecisionDeny),
			DecisionChallenge:  int(MetricDecisionChallenge),
			SessionCreated:     int(MetricSessionCreated),
			SessionStoreError:  int(MetricSessionStoreError),
			RememberMeRotated:  int(MetricRememberMeRotated),
			RememberMeRejected: int(MetricRememberMeRejected),
			RememberMeTheft:    int(MetricRememberMeTheft),
		},
		Events: flows.AuthorizeEvents{
			AccessDenied:       auditEventAccessDenied,
			RememberMeLogin:    auditEventRememberMeLogin,
			RememberMeRejected: auditEventRememberMeRejected,
			RememberMeTheft:    auditEventRememberMeTheft,
		},
		Errors: flows.AuthorizeErrors{
			EngineNotReady:          ErrEngineNotReady,
			SessionStoreUnavailable: ErrSessionStoreUnavailable,
		},
	}
	if e.metrics.LatencyEnabled() {
		e.authorizeDeps.Observe = e.observeLatency
	}

	if e.rememberMe == nil {
		return
	}

	rm := e.rememberMe
	e.loginDeps.IssueRememberMe = e.issueRememberMe
	e.logoutDeps.RevokeRememberMeDevice = rm.RevokeDevice
	e.logoutDeps.RevokeRememberMeAll = rm.Revoke

	e.authorizeDeps.DecodeRememberMe = rm.Decode
	e.authorizeDeps.ConsumeRememberMe = rm.Consume
	e.authorizeDeps.EncodeRememberMe = rm.Encode
	e.authorizeDeps.RevokeSeries = rm.RevokeSeries
	if e.config.RememberMe.RevokeAllOnTheft {
		e.authorizeDeps.RevokeAllOnTheft = rm.Revoke
		e.authorizeDeps.EndSessionsOnTheft = e.sessions.DeleteAllForPrincipal
	}
}

func (e *Engine) endPreviousSession(ctx context.Context, sessionID string) error {
	return flows.RunLogout(ctx, sessionID, e.logoutDeps)
}

func (e *Engine) issueRememberMe(ctx context.Context, principalID, username, deviceID string) (string, time.Time, error) {
	tok, err := e.rememberMe.Issue(ctx, rememberme.Binding{
		PrincipalID: principalID,
		Username:    username,
		DeviceID:    deviceID,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	cookie, err := e.rememberMe.Encode(tok)
	if err != nil {
		return "", time.Time{}, err
	}
	return cookie, tok.ExpiresAt, nil
}

func isThrottled(err error) bool {
	return errors.Is(err, rate.ErrRateLimited)
}
