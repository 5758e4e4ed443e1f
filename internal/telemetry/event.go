// Package telemetry publishes run status, metric and log events.
package telemetry

import (
	"time"

	"cryptobacktester/types"
)

type EventKind string

const (
	KindStatus EventKind = "status"
	KindMetric EventKind = "metric"
	KindLog    EventKind = "log"
)

// Event is the wire form of every telemetry message. Fields not relevant to
// the kind are omitted.
type Event struct {
	Kind      EventKind       `json:"kind"`
	RunID     string          `json:"runId"`
	Timestamp time.Time       `json:"timestamp"`
	Status    types.RunStatus `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   any             `json:"payload,omitempty"`
	Name      string          `json:"name,omitempty"`
	Value     float64         `json:"value,omitempty"`
	Unit      string          `json:"unit,omitempty"`
	Level     string          `json:"level,omitempty"`
}
