// Package metrics exposes slad operational metrics to Prometheus.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sharedline/slad/internal/sla"
)

// SessionProvider exposes the live call sessions.
type SessionProvider interface {
	ActiveSessionCount() int
	Snapshots() []sla.SessionSnapshot
}

// DispositionCounter returns call record counts grouped by disposition.
type DispositionCounter interface {
	CountByDisposition(ctx context.Context) (map[string]int64, error)
}

// Collector is a prometheus.Collector that gathers slad metrics at scrape
// time.
type Collector struct {
	sessions  SessionProvider
	records   DispositionCounter
	startTime time.Time

	// Metric descriptors.
	activeSessionsDesc *prometheus.Desc
	sessionStateDesc   *prometheus.Desc
	participantsDesc   *prometheus.Desc
	callsTotalDesc     *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(sessions SessionProvider, records DispositionCounter, startTime time.Time) *Collector {
	return &Collector{
		sessions:  sessions,
		records:   records,
		startTime: startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"slad_active_sessions",
			"Number of currently live shared-line sessions",
			nil, nil,
		),
		sessionStateDesc: prometheus.NewDesc(
			"slad_session_state",
			"Per-extension session state (always 1, state in label)",
			[]string{"extension", "state"}, nil,
		),
		participantsDesc: prometheus.NewDesc(
			"slad_session_participants",
			"Tracked participant channels per live session",
			[]string{"extension"}, nil,
		),
		callsTotalDesc: prometheus.NewDesc(
			"slad_calls_total",
			"Total number of calls processed (from call records)",
			[]string{"disposition"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"slad_uptime_seconds",
			"Seconds since the slad process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.sessionStateDesc
	ch <- c.participantsDesc
	ch <- c.callsTotalDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeSessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.ActiveSessionCount()),
		)
		for _, snap := range c.sessions.Snapshots() {
			ch <- prometheus.MustNewConstMetric(
				c.sessionStateDesc, prometheus.GaugeValue, 1,
				snap.Extension, string(snap.State),
			)
			ch <- prometheus.MustNewConstMetric(
				c.participantsDesc, prometheus.GaugeValue,
				float64(snap.Participants),
				snap.Extension,
			)
		}
	}

	if c.records != nil {
		counts, err := c.records.CountByDisposition(ctx)
		if err != nil {
			slog.Error("metrics: failed to count call records", "error", err)
		} else {
			for _, disposition := range []string{"answered", "no_answer", "busy", "failed"} {
				ch <- prometheus.MustNewConstMetric(
					c.callsTotalDesc, prometheus.CounterValue,
					float64(counts[disposition]), disposition,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
