package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hnishizawa43-ctrl/eclipse-ai-y9/internal/notification"
)

const namespace = "eclipse_ai"

var (
	notificationsAddedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_added_total",
			Help:      "Total number of notifications added, partitioned by level and category.",
		},
		[]string{"level", "category"},
	)

	notificationsEvictedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_evicted_total",
			Help:      "Total number of notifications dropped because a feed reached its capacity.",
		},
	)

	notificationsReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_read_total",
			Help:      "Total number of notifications transitioned from unread to read.",
		},
	)

	notificationsClearedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_cleared_total",
			Help:      "Total number of notifications removed by clear-all.",
		},
	)

	simulationTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulation_ticks_total",
			Help:      "Total number of synthetic events emitted by the simulation engine.",
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of open notification sessions.",
		},
	)

	toastSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "toast_stream_subscribers",
			Help:      "Number of connected toast stream clients.",
		},
	)
)

// Register はコレクターをregに登録する。登録済みのものは無視する。
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		notificationsAddedTotal,
		notificationsEvictedTotal,
		notificationsReadTotal,
		notificationsClearedTotal,
		simulationTicksTotal,
		activeSessions,
		toastSubscribers,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveChange はストアの変更を集計する。
func ObserveChange(c notification.Change) {
	switch c.Kind {
	case notification.ChangeAdded:
		notificationsAddedTotal.WithLabelValues(string(c.Record.Level), string(c.Record.Category)).Inc()
		if n := len(c.Evicted); n > 0 {
			notificationsEvictedTotal.Add(float64(n))
		}
	case notification.ChangeRead:
		notificationsReadTotal.Inc()
	case notification.ChangeAllRead:
		notificationsReadTotal.Add(float64(c.Count))
	case notification.ChangeCleared:
		notificationsClearedTotal.Add(float64(c.Count))
	}
}

// ObserveSimulationTick はシミュレーションの発火を1件数える。
func ObserveSimulationTick(_ string, _ notification.Record) {
	simulationTicksTotal.Inc()
}

// Attach はセッションのストアを集計対象にし、解除されるまでアクティブとして数える。
func Attach(sess *notification.Session) func() {
	activeSessions.Inc()
	unsubscribe := sess.Store.Subscribe(ObserveChange)
	return func() {
		unsubscribe()
		activeSessions.Dec()
	}
}

// StreamOpened はトースト配信の接続を数え、切断時に呼ぶ関数を返す。
func StreamOpened() func() {
	toastSubscribers.Inc()
	return toastSubscribers.Dec
}
