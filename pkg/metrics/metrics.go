// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keystorage.
//
// go-keystorage is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for key storage
// operations: per-operation counters and latency histograms, hardware key
// upgrade counts, and destruction step failures.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all key storage metrics
	Namespace = "keystorage"

	// Label names
	LabelOperation = "operation"
	LabelPath      = "path"
	LabelStatus    = "status"
	LabelStep      = "step"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpStore    = "store"
	OpRetrieve = "retrieve"
	OpDestroy  = "destroy"

	// Path values distinguish the hardware-backed and software-only
	// encryption paths.
	PathHardware = "hardware"
	PathSoftware = "software"

	// Destroy step names
	StepHardwareDelete = "hardware_delete"
	StepSecdiscard     = "secdiscard"
	StepRemove         = "remove"
)

var (
	// OperationsTotal tracks the total number of key storage operations
	// by operation, encryption path and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of key storage operations by operation, path, and status",
		},
		[]string{LabelOperation, LabelPath, LabelStatus},
	)

	// OperationDuration tracks the duration of key storage operations in
	// seconds. Buckets accommodate scrypt stretching and hardware module
	// round trips.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of key storage operations in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelOperation, LabelPath},
	)

	// KeyUpgradesTotal counts hardware key blob upgrades performed by the
	// begin/upgrade/retry loop.
	KeyUpgradesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "key_upgrades_total",
			Help:      "Total number of hardware key blob upgrades",
		},
	)

	// DestroyStepFailuresTotal counts individual destruction steps that
	// failed. Destruction is best-effort, so these failures do not abort
	// the remaining steps.
	DestroyStepFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "destroy_step_failures_total",
			Help:      "Total number of failed key destruction steps",
		},
		[]string{LabelStep},
	)
)

// RecordOperation increments the operation counter with the given labels.
func RecordOperation(operation, path string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	OperationsTotal.WithLabelValues(operation, path, status).Inc()
}

// ObserveDuration records the duration of an operation. Call with the
// start time captured before the operation began.
func ObserveDuration(operation, path string, start time.Time) {
	OperationDuration.WithLabelValues(operation, path).Observe(time.Since(start).Seconds())
}

// RecordDestroyStepFailure increments the failure counter for one
// destruction step.
func RecordDestroyStepFailure(step string) {
	DestroyStepFailuresTotal.WithLabelValues(step).Inc()
}
