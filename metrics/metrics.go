package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TenantOperationCounter counts administrative lifecycle operations
	TenantOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnitenant_operations_total",
			Help: "Total number of tenant lifecycle operations",
		},
		[]string{"operation", "isolation_type"},
	)

	// ActivationCounter counts tenant context activations
	ActivationCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omnitenant_activations_total",
			Help: "Total number of tenant context activations",
		},
	)

	// MigrationCounter counts per-tenant migration outcomes
	MigrationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omnitenant_migrations_total",
			Help: "Total number of tenant migrations by outcome",
		},
		[]string{"status"},
	)

	// ProvisioningFailureCounter counts failed create/drop operations
	ProvisioningFailureCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "omnitenant_provisioning_failures_total",
			Help: "Total number of failed tenant provisioning operations",
		},
	)
)

var registerOnce sync.Once

// Register registers the omnitenant metrics with the default prometheus
// registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(TenantOperationCounter)
		prometheus.MustRegister(ActivationCounter)
		prometheus.MustRegister(MigrationCounter)
		prometheus.MustRegister(ProvisioningFailureCounter)
	})
}

// RecordTenantOperation records a lifecycle operation (create, delete,
// migrate) for an isolation type.
func RecordTenantOperation(operation, isolationType string) {
	TenantOperationCounter.WithLabelValues(operation, isolationType).Inc()
}

// RecordActivation records a tenant context activation.
func RecordActivation() {
	ActivationCounter.Inc()
}

// RecordMigration records a migration outcome ("success" or "failure").
func RecordMigration(status string) {
	MigrationCounter.WithLabelValues(status).Inc()
}

// RecordProvisioningFailure records a failed create/drop operation.
func RecordProvisioningFailure() {
	ProvisioningFailureCounter.Inc()
}

// GetPrometheusHandler returns an HTTP handler for exposing Prometheus metrics
func GetPrometheusHandler() http.Handler {
	return promhttp.Handler()
}
