package prometheus

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	goGate "github.com/MrEthical07/goGate"
)

const namespace = "gogate"

// ErrNilSource is returned when no metrics source is supplied.
var ErrNilSource = errors.New("prometheus: nil metrics source")

// Source is satisfied by *goGate.Engine.
type Source interface {
	MetricsSnapshot() goGate.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   goGate.MetricID
	desc *prometheus.Desc
}

var counterHelp = map[goGate.MetricID]string{
	goGate.MetricLoginSuccess:           "Successful logins.",
	goGate.MetricLoginFailure:           "Failed logins, whatever the reason.",
	goGate.MetricLoginCollaboratorError: "Failed logins caused by a collaborator outage.",
	goGate.MetricSessionCreated:         "Sessions created.",
	goGate.MetricSessionStoreError:      "Session store failures seen while authorizing.",
	goGate.MetricLogout:                 "Single-session logouts.",
	goGate.MetricLogoutAll:              "Logout-all operations.",
	goGate.MetricDecisionAllow:          "Requests allowed.",
	goGate.MetricDecisionDeny:           "Requests denied.",
	goGate.MetricDecisionChallenge:      "Requests challenged for authentication.",
	goGate.MetricRememberMeIssued:       "Remember-me tokens issued at login.",
	goGate.MetricRememberMeRotated:      "Remember-me tokens rotated on re-authentication.",
	goGate.MetricRememberMeRejected:     "Remember-me cookies rejected.",
	goGate.MetricRememberMeTheft:        "Remember-me token theft detections.",
}

// Collector implements prometheus.Collector over an engine snapshot.
type Collector struct {
	source       Source
	counters     []counterDef
	latency      *prometheus.Desc
	auditDropped *prometheus.Desc
	bounds       []float64
}

// NewCollector returns a collector reading from source.
func NewCollector(source Source) (*Collector, error) {
	if source == nil {
		return nil, ErrNilSource
	}

	c := &Collector{
		source: source,
		latency: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "authorize_latency_seconds"),
			"Authorize latency.", nil, nil,
		),
		auditDropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "audit_dropped_total"),
			"Audit events dropped because the buffer was full.", nil, nil,
		),
	}
	for id := goGate.MetricLoginSuccess; id < goGate.MetricAuthorizeLatency; id++ {
		c.counters = append(c.counters, counterDef{
			id: id,
			desc: prometheus.NewDesc(
				prometheus.BuildFQName(namespace, "", id.String()+"_total"),
				counterHelp[id], nil, nil,
			),
		})
	}
	for _, b := range goGate.HistogramBounds {
		c.bounds = append(c.bounds, b.Seconds())
	}
	return c, nil
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, def := range c.counters {
		ch <- def.desc
	}
	ch <- c.latency
	ch <- c.auditDropped
}

// Collect emits nothing for metrics the engine has disabled, except the
// audit drop counter which is always tracked.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.source.MetricsSnapshot()

	for _, def := range c.counters {
		v, ok := snap.Counters[def.id]
		if !ok {
			continue
		}
		ch <- prometheus.MustNewConstMetric(def.desc, prometheus.CounterValue, float64(v))
	}

	if raw, ok := snap.Histograms[goGate.MetricAuthorizeLatency]; ok {
		buckets, count := cumulative(c.bounds, raw)
		// per-request durations are not retained, so the sum is unknown
		ch <- prometheus.MustNewConstHistogram(c.latency, count, 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(c.source.AuditDropped()))
}

// cumulative turns per-bucket counts into the cumulative form Prometheus
// expects. The overflow bucket only contributes to the total count.
func cumulative(bounds []float64, raw []uint64) (map[float64]uint64, uint64) {
	out := make(map[float64]uint64, len(bounds))
	var running uint64
	for i, le := range bounds {
		if i < len(raw) {
			running += raw[i]
		}
		out[le] = running
	}
	for i := len(bounds); i < len(raw); i++ {
		running += raw[i]
	}
	return out, running
}

// Handler registers a collector for source on a fresh registry and returns
// its scrape handler.
func Handler(source Source) (http.Handler, error) {
	c, err := NewCollector(source)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
