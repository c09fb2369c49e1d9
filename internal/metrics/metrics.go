// Package metrics exposes Prometheus instrumentation for the relay.
package metrics

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Registry bundles every metric the relay records. Each Registry owns its
// own prometheus.Registry so tests can create instances freely without
// colliding on metric names.
type Registry struct {
	reg *prometheus.Registry

	// Traffic
	MessagesReceived prometheus.Counter
	MessagesRelayed  prometheus.Counter
	CommandsTotal    *prometheus.CounterVec
	SendErrors       prometheus.Counter

	// Batcher
	BatchFlushes    prometheus.Counter
	BatchQueueDepth prometheus.Gauge

	// Persistence
	StateSaves      prometheus.Counter
	StateSaveErrors prometheus.Counter

	// Model
	UsersActive    prometheus.Gauge
	ChannelsActive prometheus.Gauge

	// Resources
	CPUUsagePercent   prometheus.Gauge
	MemoryUsedPercent prometheus.Gauge
	MemoryAllocBytes  prometheus.Gauge
	GoroutinesActive  prometheus.Gauge
}

// New builds a Registry with all metrics registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartychat_messages_received_total",
			Help: "Total number of inbound chat messages",
		}),
		MessagesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartychat_messages_relayed_total",
			Help: "Total number of lines enqueued for delivery",
		}),
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartychat_commands_total",
			Help: "Total commands dispatched by name",
		}, []string{"command"}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartychat_send_errors_total",
			Help: "Total number of failed stanza sends",
		}),
		BatchFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartychat_batch_flushes_total",
			Help: "Total number of outbound batch flushes",
		}),
		BatchQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartychat_batch_queue_depth",
			Help: "Recipients with lines currently queued",
		}),
		StateSaves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartychat_state_saves_total",
			Help: "Total number of state snapshots written",
		}),
		StateSaveErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartychat_state_save_errors_total",
			Help: "Total number of failed state snapshot writes",
		}),
		UsersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartychat_users",
			Help: "Known users",
		}),
		ChannelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartychat_channels",
			Help: "Live channels",
		}),
		CPUUsagePercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartychat_cpu_usage_percent",
			Help: "Current system CPU usage percentage",
		}),
		MemoryUsedPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartychat_memory_used_percent",
			Help: "Current system memory usage percentage",
		}),
		MemoryAllocBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartychat_memory_alloc_bytes",
			Help: "Current heap allocation in bytes",
		}),
		GoroutinesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartychat_goroutines_active",
			Help: "Current number of goroutines",
		}),
	}

	r.reg.MustRegister(
		r.MessagesReceived, r.MessagesRelayed, r.CommandsTotal, r.SendErrors,
		r.BatchFlushes, r.BatchQueueDepth,
		r.StateSaves, r.StateSaveErrors,
		r.UsersActive, r.ChannelsActive,
		r.CPUUsagePercent, r.MemoryUsedPercent, r.MemoryAllocBytes, r.GoroutinesActive,
	)
	return r
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StartSampler launches a goroutine that refreshes the resource gauges every
// interval until stop is closed.
func (r *Registry) StartSampler(interval time.Duration, stop <-chan struct{}, logger zerolog.Logger) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sample(logger)
			case <-stop:
				return
			}
		}
	}()
}

func (r *Registry) sample(logger zerolog.Logger) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		r.CPUUsagePercent.Set(percents[0])
	} else if err != nil {
		logger.Debug().Err(err).Msg("CPU sample failed")
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		r.MemoryUsedPercent.Set(vm.UsedPercent)
	} else {
		logger.Debug().Err(err).Msg("Memory sample failed")
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	r.MemoryAllocBytes.Set(float64(ms.Alloc))
	r.GoroutinesActive.Set(float64(runtime.NumGoroutine()))
}
