package goGate

import (
	"context"
	"time"

	"github.com/MrEthical07/goGate/internal/flows"
)

const (
	auditEventLoginSuccess       = "login_success"
	auditEventLoginFailure       = "login_failure"
	auditEventLogout             = "logout"
	auditEventLogoutAll          = "logout_all"
	auditEventAccessDenied       = "access_denied"
	auditEventRememberMeIssued   = "remember_me_issued"
	auditEventRememberMeLogin    = "remember_me_login"
	auditEventRememberMeRejected = "remember_me_rejected"
	auditEventRememberMeTheft    = "remember_me_theft"
	auditEventRememberMeRevoked  = "remember_me_revoked"
	auditEventLoginThrottled     = "login_throttled"
)

func (e *Engine) emitAudit(ctx context.Context, rec flows.AuditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	e.audit.Emit(ctx, AuditEvent{
		EventType:   rec.Event,
		PrincipalID: rec.PrincipalID,
		Username:    rec.Username,
		SessionID:   rec.SessionID,
		IP:          clientIPFromContext(ctx),
		Path:        rec.Path,
		Success:     rec.Success,
		Error:       rec.Reason,
		Metadata:    rec.Metadata,
	})
}

func (e *Engine) observer() flows.Observer {
	return flows.Observer{
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Audit:     e.emitAudit,
		Log:       e.log,
	}
}

func (e *Engine) observeLatency(d time.Duration) {
	e.metrics.Observe(MetricAuthorizeLatency, d)
}
