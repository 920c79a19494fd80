// Package metrics records run and step counters as Prometheus metrics and
// writes them next to the run artifacts in text exposition format.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/metalagman/bendover/internal/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// FileName is the metrics file written into the run directory.
const FileName = "metrics.prom"

// Observer is a run.Observer that counts steps and runs.
type Observer struct {
	registry     *prometheus.Registry
	steps        *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	patches      prometheus.Counter
}

var _ run.Observer = (*Observer)(nil)

// NewObserver creates an observer with a private registry.
func NewObserver() *Observer {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Observer{
		registry: reg,
		steps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bendover_steps_total",
				Help: "Steps by action kind and status",
			},
			[]string{"action_kind", "status"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bendover_step_duration_seconds",
				Help:    "Wall time of one step from prompt to decision",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"action_kind"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bendover_runs_total",
				Help: "Finished runs by status",
			},
			[]string{"status"},
		),
		patches: factory.NewCounter(prometheus.CounterOpts{
			Name: "bendover_patches_applied_total",
			Help: "Diffs applied to the host tree",
		}),
	}
}

// Registry exposes the underlying registry.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

func (o *Observer) Notify(ev run.Event) error {
	switch ev.Type {
	case run.EventStepObserved, run.EventStepFailed, run.EventStepRejected:
		kind := string(ev.ActionKind)
		if kind == "" {
			kind = "unknown"
		}
		o.steps.WithLabelValues(kind, ev.Status).Inc()
		if ev.Duration > 0 {
			o.stepDuration.WithLabelValues(kind).Observe(ev.Duration.Seconds())
		}
	case run.EventRunCompleted, run.EventRunFailed:
		o.runs.WithLabelValues(ev.Status).Inc()
	case run.EventPatchApplied:
		o.patches.Inc()
	}
	return nil
}

// WriteFile writes every gathered metric family to dir/metrics.prom.
func (o *Observer) WriteFile(dir string) error {
	families, err := o.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	path := filepath.Join(dir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", FileName, err)
	}
	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return f.Close()
}
