// Package health samples the execution host and the shared directory on a
// fixed interval, derives point-in-time snapshots and raises debounced
// anomalies for the recovery orchestrator.
package health

import (
	"context"
	"time"
)

// Status is a derived health level. Aggregation always takes the worst
// individual signal; levels are never averaged.
type Status string

const (
	StatusHealthy  Status = "HEALTHY"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
	// StatusCheckFailed means the probe itself errored. It aggregates as
	// critical but stays distinguishable from a genuinely sick host.
	StatusCheckFailed Status = "CHECK_FAILED"
)

// rank orders statuses for worst-of aggregation.
func rank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusWarning:
		return 1
	default: // critical and check_failed
		return 2
	}
}

// Category is a stable anomaly category code.
type Category string

const (
	CategoryHostUnresponsive Category = "HOST_UNRESPONSIVE"
	CategoryLowSuccessRate   Category = "LOW_SUCCESS_RATE"
	CategoryStaleData        Category = "STALE_DATA"
	CategoryCPUCritical      Category = "CPU_CRITICAL"
	CategoryMemoryCritical   Category = "MEMORY_CRITICAL"
	CategoryDiskCritical     Category = "DISK_CRITICAL"
	CategoryPermissionError  Category = "FILE_PERMISSION_ERROR"
)

// Severity of a raised anomaly.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityWarning  Severity = "Warning"
	SeverityInfo     Severity = "Info"
)

// ProbeResult is one probe's verdict within a snapshot.
type ProbeResult struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Status   Status   `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	Value    float64  `json:"value,omitempty"`
}

// Snapshot is an immutable point-in-time health sample.
type Snapshot struct {
	Taken   time.Time     `json:"taken"`
	Overall Status        `json:"overall"`
	Probes  []ProbeResult `json:"probes"`
}

// Anomaly is a sustained deviation detected by the monitor.
type Anomaly struct {
	Category Category  `json:"category"`
	Severity Severity  `json:"severity"`
	Detail   string    `json:"detail"`
	Snapshot Snapshot  `json:"snapshot"`
	RaisedAt time.Time `json:"raised_at"`
}

// Probe samples one health dimension. Check must contain its own
// failures; the monitor additionally recovers panics and downgrades them
// to CHECK_FAILED so sampling can never take the monitor down.
type Probe interface {
	Name() string
	Category() Category
	Check(ctx context.Context) ProbeResult
}
