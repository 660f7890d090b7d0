package metrics

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// System metrics
	SystemMemoryUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "system_memory_bytes",
		Help: "Current system memory usage",
	})

	SystemGoroutines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "system_goroutines",
		Help: "Number of goroutines",
	})

	// Extraction metrics
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_sync_records_extracted_total",
			Help: "Records read from the source store",
		},
		[]string{"label"},
	)

	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_sync_records_skipped_total",
			Help: "Records skipped because they could not be keyed",
		},
		[]string{"label"},
	)

	ReferencesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_sync_references_dropped_total",
			Help: "Reference entries dropped because they could not be canonicalized",
		},
		[]string{"label"},
	)

	// Write metrics
	NodesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_sync_nodes_written_total",
			Help: "Nodes submitted to the target graph",
		},
		[]string{"label"},
	)

	EdgesSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_sync_edges_submitted_total",
			Help: "Edges submitted to the target graph",
		},
		[]string{"relationship_type"},
	)

	RelationshipsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "graph_sync_relationships_created_total",
			Help: "Relationships reported created by the target store",
		},
		[]string{"relationship_type"},
	)

	// Graph metrics
	GraphNodeCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graph_nodes_total",
			Help: "Total number of nodes in the graph",
		},
		[]string{"node_type"},
	)

	GraphEdgeCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "graph_edges_total",
			Help: "Total number of edges in the graph",
		},
		[]string{"edge_type"},
	)

	// Run metrics
	RunDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graph_sync_run_duration_seconds",
		Help: "Wall time of the last sync run",
	})

	RunSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graph_sync_run_success",
		Help: "1 if the last sync run completed, 0 otherwise",
	})
)

// UpdateSystemMetrics updates system-level metrics
func UpdateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	SystemMemoryUsage.Set(float64(m.Alloc))
	SystemGoroutines.Set(float64(runtime.NumGoroutine()))
}

// Push sends the default registry to a Pushgateway under job, grouped by run id
func Push(url, job, runID string) error {
	UpdateSystemMetrics()
	return push.New(url, job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("run_id", runID).
		Push()
}
