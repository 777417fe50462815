package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeAdmitted = "admitted"
	OutcomeRejected = "rejected"

	TransferComplete  = "complete"
	TransferNotFound  = "not_found"
	TransferTruncated = "truncated"
	TransferAborted   = "aborted"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repoctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "repoctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repoctl",
			Name:      "connections_total",
			Help:      "Accepted TCP connections by admission outcome.",
		},
		[]string{"outcome"},
	)
	activeClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "repoctl",
			Name:      "active_clients",
			Help:      "Clients holding an admission slot.",
		},
	)
	repositoryFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "repoctl",
			Name:      "repository_files",
			Help:      "Regular files currently offered for download.",
		},
	)
	commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repoctl",
			Name:      "commands_total",
			Help:      "Dispatched session commands.",
		},
		[]string{"command"},
	)
	transfers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "repoctl",
			Name:      "transfers_total",
			Help:      "File transfer requests by result.",
		},
		[]string{"result"},
	)
	transferBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "repoctl",
			Name:      "transfer_bytes_total",
			Help:      "File bytes streamed to clients.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			connections,
			activeClients,
			repositoryFiles,
			commands,
			transfers,
			transferBytes,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnection(outcome string) {
	RegisterMetrics()
	connections.WithLabelValues(outcome).Inc()
}

func SetActiveClients(n int) {
	RegisterMetrics()
	activeClients.Set(float64(n))
}

func SetRepositoryFiles(n int) {
	RegisterMetrics()
	repositoryFiles.Set(float64(n))
}

func RecordCommand(command string) {
	RegisterMetrics()
	commands.WithLabelValues(command).Inc()
}

func RecordTransfer(result string, bytes int64) {
	RegisterMetrics()
	transfers.WithLabelValues(result).Inc()
	if bytes > 0 {
		transferBytes.Add(float64(bytes))
	}
}
