package flows

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/goGate/session"
)

// Principal is the flow-local identity model.
type Principal struct {
	ID             string
	Username       string
	Roles          []string
	CredentialHash string
}

// withoutCredential returns a copy safe to hand back to callers.
func (p *Principal) withoutCredential() *Principal {
	if p == nil {
		return nil
	}
	return &Principal{
		ID:       p.ID,
		Username: p.Username,
		Roles:    append([]string(nil), p.Roles...),
	}
}

func principalFromSession(s *session.Session) *Principal {
	return &Principal{
		ID:       s.PrincipalID,
		Username: s.Username,
		Roles:    append([]string(nil), s.Roles...),
	}
}

// AuditRecord is what a flow reports; the Engine stamps time and client IP.
type AuditRecord struct {
	Event       string
	Success     bool
	PrincipalID string
	Username    string
	SessionID   string
	Path        string
	// Reason is a stable machine-readable failure reason.
	Reason   string
	Metadata map[string]string
}

// Observer bundles the side channels every flow reports to. Nil functions
// are ignored.
type Observer struct {
	MetricInc func(int)
	Audit     func(context.Context, AuditRecord)
	Log       func(ctx context.Context, level slog.Level, msg string, err error, args ...any)
}

func (o Observer) inc(id int) {
	if o.MetricInc != nil {
		o.MetricInc(id)
	}
}

func (o Observer) audit(ctx context.Context, rec AuditRecord) {
	if o.Audit != nil {
		o.Audit(ctx, rec)
	}
}

func (o Observer) log(ctx context.Context, level slog.Level, msg string, err error, args ...any) {
	if o.Log != nil {
		o.Log(ctx, level, msg, err, args...)
	}
}

// bounded runs fn under a deadline of d (no deadline when d <= 0).
func bounded[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(cctx)
}

func boundedErr(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	_, err := bounded(ctx, d, func(c context.Context) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
