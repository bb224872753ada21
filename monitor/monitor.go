// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlinePlayers      prometheus.Gauge
	QueuedPlayers      prometheus.Gauge
	ActiveBattles      prometheus.Gauge
	AnswersReceived    prometheus.Counter
	MashTaps           prometheus.Counter
	BattlesFinished    *prometheus.CounterVec
	ArbitrationLatency prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		OnlinePlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Number of online players",
		}),
		QueuedPlayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queued_players",
			Help:      "Number of players waiting in matchmaking",
		}),
		ActiveBattles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_battles",
			Help:      "Number of running battles",
		}),
		AnswersReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_received_total",
			Help:      "Total number of answers submitted",
		}),
		MashTaps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mash_taps_total",
			Help:      "Total number of mash taps",
		}),
		BattlesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battles_finished_total",
			Help:      "Finished battles by end reason",
		}, []string{"reason"}),
		ArbitrationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "arbitration_latency_seconds",
			Help:      "Answer arbitration latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}

	prometheus.MustRegister(
		m.OnlinePlayers,
		m.QueuedPlayers,
		m.ActiveBattles,
		m.AnswersReceived,
		m.MashTaps,
		m.BattlesFinished,
		m.ArbitrationLatency,
	)

	return m
}

type Monitor struct {
	metrics      *Metrics
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace),
		startTime: time.Now(),
	}
}

func (m *Monitor) StartServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())

	// 添加expvar指标
	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("requests", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.requestCount
	}))

	go http.ListenAndServe(addr, nil)
}

func (m *Monitor) IncOnlinePlayers() {
	m.metrics.OnlinePlayers.Inc()
}

func (m *Monitor) DecOnlinePlayers() {
	m.metrics.OnlinePlayers.Dec()
}

func (m *Monitor) SetQueuedPlayers(count int) {
	m.metrics.QueuedPlayers.Set(float64(count))
}

func (m *Monitor) SetActiveBattles(count int) {
	m.metrics.ActiveBattles.Set(float64(count))
}

func (m *Monitor) IncAnswersReceived() {
	m.metrics.AnswersReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) IncMashTaps() {
	m.metrics.MashTaps.Inc()
}

func (m *Monitor) IncBattlesFinished(reason string) {
	m.metrics.BattlesFinished.WithLabelValues(reason).Inc()
}

func (m *Monitor) ObserveArbitrationLatency(duration time.Duration) {
	m.metrics.ArbitrationLatency.Observe(duration.Seconds())
}
