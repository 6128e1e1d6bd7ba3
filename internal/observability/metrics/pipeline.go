package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/docintake/internal/core/domain"
)

// PipelineMetrics counts summarization outcomes, derived tasks and watcher
// events. It satisfies ports.PipelineMetrics.
type PipelineMetrics struct {
	service string

	summariesTotal    *prometheus.CounterVec
	tasksDerivedTotal *prometheus.CounterVec
	watcherEvents     *prometheus.CounterVec
}

func newPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	summariesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "summary",
			Name:      "requests_total",
			Help:      "Summaries produced by model, fallback flag and reason.",
		},
		[]string{"service", "model", "fallback", "reason"},
	)
	tasksDerivedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tasks",
			Name:      "derived_total",
			Help:      "Tasks derived from action items by result.",
		},
		[]string{"service", "result"},
	)
	watcherEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watcher",
			Name:      "events_total",
			Help:      "Watcher events by channel and kind.",
		},
		[]string{"service", "channel", "kind"},
	)

	registerer.MustRegister(summariesTotal, tasksDerivedTotal, watcherEvents)
	return &PipelineMetrics{
		service:           service,
		summariesTotal:    summariesTotal,
		tasksDerivedTotal: tasksDerivedTotal,
		watcherEvents:     watcherEvents,
	}
}

func (m *PipelineMetrics) ObserveSummary(model string, usedFallback bool, reason string) {
	if model == "" {
		model = "unknown"
	}
	m.summariesTotal.WithLabelValues(m.service, model, strconv.FormatBool(usedFallback), reason).Inc()
}

func (m *PipelineMetrics) ObserveTasksDerived(count int, failed int) {
	if count > 0 {
		m.tasksDerivedTotal.WithLabelValues(m.service, "created").Add(float64(count))
	}
	if failed > 0 {
		m.tasksDerivedTotal.WithLabelValues(m.service, "failed").Add(float64(failed))
	}
}

func (m *PipelineMetrics) ObserveWatcherEvent(channel domain.Channel, kind domain.WatcherEventKind) {
	m.watcherEvents.WithLabelValues(m.service, string(channel), string(kind)).Inc()
}
