// Package usage implements the Usage Aggregate (C7, spec.md §4.7):
// a scheduled per-cluster metrics scrape that emits UsageCreated events,
// and the aggregation/costing read path over the projected Usage rows.
package usage

import (
	"time"

	"github.com/google/uuid"
)

// Row is a read-model row from the usage table.
type Row struct {
	ID              uuid.UUID
	EventID         uuid.UUID
	ClusterID       string
	ResourceID      uuid.UUID
	Tier            string
	Units           int64
	IntervalSeconds int64
	CreatedAt       time.Time
}

// InsertParams are the fields projected from one UsageLine within a
// UsageCreated event.
type InsertParams struct {
	ID              uuid.UUID
	EventID         uuid.UUID
	ClusterID       string
	ResourceID      uuid.UUID
	Tier            string
	Units           int64
	IntervalSeconds int64
	CreatedAt       time.Time
}

// ReportLine is one row of spec.md §3's UsageReport aggregated view.
type ReportLine struct {
	ProjectID    uuid.UUID `json:"project_id"`
	ProjectName  string    `json:"project_name"`
	ResourceID   uuid.UUID `json:"resource_id"`
	ResourceName string    `json:"resource_name"`
	ResourceKind string    `json:"resource_kind"`
	Tier         string    `json:"tier"`
	Units        int64     `json:"units"`
	IntervalSecs int64     `json:"interval_seconds"`
	Period       string    `json:"period"` // "YYYY-MM"
	UnitsCost    float64   `json:"units_cost,omitempty"`
	MinimumCost  float64   `json:"minimum_cost,omitempty"`
	HasMinimum   bool      `json:"-"`
}
