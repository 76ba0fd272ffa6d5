// Package types defines the entity structs shared by the aggregator,
// verifier, and storage layers.
//
// Entities reference each other by integer row id only (LastRawID, UsageID,
// ...), never by embedded struct. References are resolved on demand through
// the store, which keeps the graph acyclic and the structs cheap to
// serialize.
package types

import "github.com/shopspring/decimal"

// ExistsStatus is the verification state of an InstanceExists row.
type ExistsStatus string

const (
	// StatusPending - audit record written, not yet picked up by a verifier.
	StatusPending ExistsStatus = "pending"
	// StatusVerifying - claimed by a verifier run; the claim flip guarantees
	// a row is handed to exactly one worker.
	StatusVerifying ExistsStatus = "verifying"
	// StatusVerified - matched the primary usage/delete records.
	StatusVerified ExistsStatus = "verified"
	// StatusReconciled - primary records disagreed but the reconciliation
	// table vouched for the row.
	StatusReconciled ExistsStatus = "reconciled"
	// StatusFailed - verification failed; FailReason says why.
	StatusFailed ExistsStatus = "failed"
)

// IsValid checks if the status is one of the known values.
func (s ExistsStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusVerifying, StatusVerified, StatusReconciled, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s ExistsStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusReconciled, StatusFailed:
		return true
	}
	return false
}

// RawData is one notification as it arrived, with the canonical fields the
// parser extracted. Immutable after creation; every derived row points back
// at one of these.
type RawData struct {
	ID         int64           `json:"id"`
	Deployment int64           `json:"deployment"`
	When       decimal.Decimal `json:"when"`
	Host       string          `json:"host,omitempty"`
	Service    string          `json:"service,omitempty"`
	RoutingKey string          `json:"routing_key,omitempty"`
	Event      string          `json:"event,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	InstanceID string          `json:"instance_id,omitempty"`
	JSON       string          `json:"-"` // full original envelope, replayed by the verified publisher
	State      string          `json:"state,omitempty"`
	OldTask    string          `json:"old_task,omitempty"`
}

// Lifecycle is the per-instance aggregate view: the latest state the event
// stream has shown for one instance. Exactly one row per instance_id.
type Lifecycle struct {
	ID            int64  `json:"id"`
	InstanceID    string `json:"instance_id"`
	LastRawID     *int64 `json:"last_raw_id,omitempty"`
	LastState     string `json:"last_state,omitempty"`
	LastTaskState string `json:"last_task_state,omitempty"`
}

// Timing is the start/end pair for one named event on a lifecycle,
// identified by (lifecycle_id, name). Either side may be absent when the
// stream delivered only half the pair.
type Timing struct {
	ID          int64               `json:"id"`
	LifecycleID int64               `json:"lifecycle_id"`
	Name        string              `json:"name"`
	StartRawID  *int64              `json:"start_raw_id,omitempty"`
	StartWhen   decimal.NullDecimal `json:"start_when,omitempty"`
	EndRawID    *int64              `json:"end_raw_id,omitempty"`
	EndWhen     decimal.NullDecimal `json:"end_when,omitempty"`
	Diff        decimal.NullDecimal `json:"diff,omitempty"`
}

// RequestTracker accumulates request-scoped latency from the API entry
// event to the most recent completed timing. One row per request_id.
type RequestTracker struct {
	ID           int64           `json:"id"`
	RequestID    string          `json:"request_id"`
	LifecycleID  int64           `json:"lifecycle_id"`
	Start        decimal.Decimal `json:"start"`
	LastTimingID *int64          `json:"last_timing_id,omitempty"`
	Duration     decimal.Decimal `json:"duration"`
}

// InstanceUsage is the billing-relevant identity of one launch, keyed by
// (instance_id, request_id).
type InstanceUsage struct {
	ID             int64               `json:"id"`
	InstanceID     string              `json:"instance_id"`
	RequestID      string              `json:"request_id"`
	LaunchedAt     decimal.NullDecimal `json:"launched_at,omitempty"`
	InstanceTypeID string              `json:"instance_type_id,omitempty"`
	Tenant         string              `json:"tenant,omitempty"`
	OsArchitecture string              `json:"os_architecture,omitempty"`
	OsVersion      string              `json:"os_version,omitempty"`
	OsDistro       string              `json:"os_distro,omitempty"`
	RaxOptions     string              `json:"rax_options,omitempty"`
}

// InstanceDelete records a teardown, keyed by (instance_id, deleted_at).
type InstanceDelete struct {
	ID         int64               `json:"id"`
	InstanceID string              `json:"instance_id"`
	LaunchedAt decimal.NullDecimal `json:"launched_at,omitempty"`
	DeletedAt  decimal.Decimal     `json:"deleted_at"`
}

// InstanceExists is one periodic audit record awaiting verification.
// Immutable except for Status and FailReason once written.
type InstanceExists struct {
	ID                   int64               `json:"id"`
	MessageID            string              `json:"message_id"`
	InstanceID           string              `json:"instance_id"`
	LaunchedAt           decimal.NullDecimal `json:"launched_at,omitempty"`
	DeletedAt            decimal.NullDecimal `json:"deleted_at,omitempty"`
	AuditPeriodBeginning decimal.Decimal     `json:"audit_period_beginning"`
	AuditPeriodEnding    decimal.Decimal     `json:"audit_period_ending"`
	InstanceTypeID       string              `json:"instance_type_id,omitempty"`
	UsageID              *int64              `json:"usage_id,omitempty"`
	DeleteID             *int64              `json:"delete_id,omitempty"`
	RawID                int64               `json:"raw_id"`
	Tenant               string              `json:"tenant,omitempty"`
	OsArchitecture       string              `json:"os_architecture,omitempty"`
	OsVersion            string              `json:"os_version,omitempty"`
	OsDistro             string              `json:"os_distro,omitempty"`
	RaxOptions           string              `json:"rax_options,omitempty"`
	Status               ExistsStatus        `json:"status"`
	FailReason           string              `json:"fail_reason,omitempty"`
}

// InstanceReconcile mirrors the usage+delete join keys from an out-of-band
// authoritative snapshot. The pipeline only reads these; an external
// reconciler writes them.
type InstanceReconcile struct {
	ID             int64               `json:"id"`
	InstanceID     string              `json:"instance_id"`
	LaunchedAt     decimal.Decimal     `json:"launched_at"`
	DeletedAt      decimal.NullDecimal `json:"deleted_at,omitempty"`
	InstanceTypeID string              `json:"instance_type_id,omitempty"`
	Tenant         string              `json:"tenant,omitempty"`
	OsArchitecture string              `json:"os_architecture,omitempty"`
	OsVersion      string              `json:"os_version,omitempty"`
	OsDistro       string              `json:"os_distro,omitempty"`
	RaxOptions     string              `json:"rax_options,omitempty"`
}

// DecimalRange is an inclusive-inclusive range filter on a decimal column.
type DecimalRange struct {
	Lo decimal.Decimal
	Hi decimal.Decimal
}

// UsageFilter selects InstanceUsage rows.
type UsageFilter struct {
	InstanceID    string
	RequestID     string // "" matches any
	LaunchedRange *DecimalRange
}

// DeleteFilter selects InstanceDelete rows.
type DeleteFilter struct {
	InstanceID    string
	LaunchedRange *DecimalRange
	DeletedRange  *DecimalRange
	DeletedMax    decimal.NullDecimal // deleted_at <= DeletedMax when valid
}

// ReconcileFilter selects InstanceReconcile rows.
type ReconcileFilter struct {
	InstanceID    string
	LaunchedRange *DecimalRange
	DeletedRange  *DecimalRange
	DeletedMax    decimal.NullDecimal
}
