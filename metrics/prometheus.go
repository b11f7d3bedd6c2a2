package metrics

import (
	"github.com/TimeWtr/cluster_cron"
	_const "github.com/TimeWtr/cluster_cron/const"
	"github.com/prometheus/client_golang/prometheus"
)

var _ cluster_cron.Telemetry = (*Prometheus)(nil)

// Prometheus 将调度事件转换为prometheus指标
type Prometheus struct {
	events      *prometheus.CounterVec
	invocations *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	membership  prometheus.Counter
}

func NewPrometheus(namespace string) *Prometheus {
	return &Prometheus{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_events_total",
			Help:      "Scheduler events by type and job.",
		}, []string{"event", "job"}),
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_invocations_total",
			Help:      "Completed job invocations by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_invocation_duration_seconds",
			Help:      "Job invocation duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		membership: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_unavailable_total",
			Help:      "Times the cluster view fell back to the local node.",
		}),
	}
}

// Register 注册到指定的Registerer，通常为prometheus.DefaultRegisterer
func (p *Prometheus) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{p.events, p.invocations, p.duration, p.membership} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *Prometheus) Emit(e cluster_cron.Event) {
	switch e.Type {
	case _const.EventMembershipUnavailable:
		p.membership.Inc()
		return
	case _const.EventInvocationCompleted:
		outcome := "success"
		if !e.Success {
			outcome = "failure"
		}
		p.invocations.WithLabelValues(e.Job, outcome).Inc()
		p.duration.WithLabelValues(e.Job).Observe(e.Duration.Seconds())
	}

	p.events.WithLabelValues(e.Type.String(), e.Job).Inc()
}
