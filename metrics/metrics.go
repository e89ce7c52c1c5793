package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"ariaview/types"
)

var (
	JobsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ariaview_jobs",
		Help: "Number of jobs in the published snapshot, labelled by aria2 status",
	}, []string{"status"})

	SnapshotVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ariaview_snapshot_version",
		Help: "Version of the currently published snapshot",
	})

	SnapshotPublishes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ariaview_snapshot_publishes_total",
		Help: "The number of snapshots published to viewers",
	})

	SnapshotSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ariaview_snapshot_suppressed_total",
		Help: "The number of proposed snapshots dropped because nothing changed",
	})

	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ariaview_reconcile_runs_total",
		Help: "Full reconciliation passes, labelled by result (ok, failed)",
	}, []string{"result"})

	ReconcileWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ariaview_reconcile_warnings_total",
		Help: "Records dropped or overridden during reconciliation, labelled by kind (decode, duplicate)",
	}, []string{"kind"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ariaview_notifications_total",
		Help: "aria2 notifications received, labelled by method",
	}, []string{"method"})

	ListenerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ariaview_listener_state",
		Help: "Notification listener state: 0 disconnected, 1 subscribed, 2 receiving",
	})

	ListenerResubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ariaview_listener_resubscribes_total",
		Help: "The number of times the notification listener had to resubscribe",
	})

	RPCCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ariaview_aria2_rpc_calls_total",
		Help: "aria2 JSON-RPC calls, labelled by method and result (ok, rpc_error, transport_error)",
	}, []string{"method", "result"})

	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ariaview_mutations_total",
		Help: "Viewer mutations, labelled by operation (add_uri, add_torrent, remove) and result (ok, invalid, failed)",
	}, []string{"operation", "result"})

	Viewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ariaview_viewers",
		Help: "Number of connected WebSocket viewers",
	})
)

// RecordSnapshot refreshes the per-status job gauges for a published snapshot
func RecordSnapshot(s types.Snapshot) {
	counts := s.CountByStatus()
	for _, status := range types.JobStatuses {
		JobsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	SnapshotVersion.Set(float64(s.Version))
	SnapshotPublishes.Inc()
}
