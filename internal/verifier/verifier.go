// Package verifier cross-checks pending InstanceExists audit records against
// the usage and delete rows the aggregator derived, falling back to the
// out-of-band reconciliation table when the primary records disagree.
//
// A record that passes the primary checks becomes verified; one the
// reconciliation table vouches for becomes reconciled; everything else
// becomes failed with the reason recorded. Terminal statuses never
// transition again. One deliberately permissive case: an exists record with
// no deleted_at whose audit period ended long ago still verifies as long as
// no delete row falls inside the period — a long-lived instance is not an
// audit finding.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudtally/stacktally/internal/dectime"
	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

// Defaults for Config fields left zero.
const (
	DefaultTickTime    = 30 * time.Second
	DefaultSettleTime  = 10
	DefaultSettleUnits = "minutes"
	DefaultPoolSize    = 10
)

// Config controls the verifier's scan cadence and worker pool.
type Config struct {
	// TickTime is the sleep between pending-record scans.
	TickTime time.Duration
	// SettleTime, in SettleUnits, is how far past audit_period_ending a
	// record must be before it is considered. Late usage/delete events for
	// the period are absorbed during this grace interval.
	SettleTime  int
	SettleUnits string // seconds | minutes | hours | days
	// PoolSize is the number of concurrent verification workers.
	PoolSize int
	// BatchLimit caps how many pending records one scan claims. Zero means
	// no cap.
	BatchLimit int
}

// Publisher republishes a verified exists record downstream. The verifier
// treats publish failures as recoverable: the record stays verified and the
// notification can be re-emitted later.
type Publisher interface {
	PublishVerified(ctx context.Context, exist *types.InstanceExists) error
}

// Verifier owns the scan loop, the worker pool, and the result reaper. Safe
// to run concurrently with other verifier processes against the same store;
// the pending→verifying claim flip partitions records between them.
type Verifier struct {
	store  storage.Storage
	pub    Publisher // nil disables republishing
	cfg    Config
	settle time.Duration
	nowFn  func() time.Time // test injection

	tallies counters
}

// New validates the config and builds a verifier. pub may be nil.
func New(store storage.Storage, pub Publisher, cfg Config) (*Verifier, error) {
	if cfg.TickTime <= 0 {
		cfg.TickTime = DefaultTickTime
	}
	if cfg.SettleTime <= 0 {
		cfg.SettleTime = DefaultSettleTime
	}
	if cfg.SettleUnits == "" {
		cfg.SettleUnits = DefaultSettleUnits
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	settle, err := settleDuration(cfg.SettleTime, cfg.SettleUnits)
	if err != nil {
		return nil, err
	}
	return &Verifier{
		store:  store,
		pub:    pub,
		cfg:    cfg,
		settle: settle,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func settleDuration(n int, units string) (time.Duration, error) {
	switch units {
	case "seconds":
		return time.Duration(n) * time.Second, nil
	case "minutes":
		return time.Duration(n) * time.Minute, nil
	case "hours":
		return time.Duration(n) * time.Hour, nil
	case "days":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown settle units %q (want seconds, minutes, hours, or days)", units)
	}
}

// Result is the outcome of verifying one claimed exists record.
type Result struct {
	Exist    *types.InstanceExists
	Verified bool
	Status   types.ExistsStatus
	Err      error // operational failure while finishing the record
}

// verifyExist runs the primary checks, retries against the reconciliation
// table on a verification failure, and moves the record to its terminal
// status. It never lets an error escape: operational failures become a
// failed record plus a Result.Err for the reaper to log.
func (v *Verifier) verifyExist(ctx context.Context, exist *types.InstanceExists) Result {
	primary := v.verifyPrimary(ctx, exist)
	if primary == nil {
		return v.finish(ctx, exist, types.StatusVerified, "")
	}
	if !isVerificationFailure(primary) {
		r := v.finish(ctx, exist, types.StatusFailed, errorClass(primary))
		if r.Err == nil {
			r.Err = primary
		}
		return r
	}

	recErr := v.verifyAgainstReconciled(ctx, exist)
	var notFound *NotFoundError
	switch {
	case recErr == nil:
		// The authoritative snapshot agrees; keep the original disagreement
		// as the reason the primary path lost.
		return v.finish(ctx, exist, types.StatusReconciled, primary.Error())
	case errors.As(recErr, &notFound):
		return v.finish(ctx, exist, types.StatusFailed, primary.Error())
	case isVerificationFailure(recErr):
		return v.finish(ctx, exist, types.StatusFailed, recErr.Error())
	default:
		r := v.finish(ctx, exist, types.StatusFailed, errorClass(recErr))
		if r.Err == nil {
			r.Err = recErr
		}
		return r
	}
}

func (v *Verifier) finish(ctx context.Context, exist *types.InstanceExists, status types.ExistsStatus, reason string) Result {
	err := v.store.FinishInstanceExists(ctx, exist.ID, status, reason)
	exist.Status = status
	exist.FailReason = reason
	return Result{
		Exist:    exist,
		Verified: status == types.StatusVerified && err == nil,
		Status:   status,
		Err:      err,
	}
}

// errorClass names an operational error for the fail_reason column without
// leaking the full message into a field meant for verification verdicts.
func errorClass(err error) string {
	return fmt.Sprintf("%T", err)
}

func (v *Verifier) verifyPrimary(ctx context.Context, exist *types.InstanceExists) error {
	if !exist.LaunchedAt.Valid {
		return &VerificationError{Reason: "Exists without a launched_at"}
	}
	if err := v.verifyForLaunch(ctx, exist); err != nil {
		return err
	}
	return v.verifyForDelete(ctx, exist)
}

// existQuery renders the record's identity for error messages.
func existQuery(exist *types.InstanceExists) string {
	return fmt.Sprintf("InstanceExists(%d) instance %s", exist.ID, exist.InstanceID)
}

// verifyForLaunch resolves the usage row the exists record claims and
// compares every identity field.
func (v *Verifier) verifyForLaunch(ctx context.Context, exist *types.InstanceExists) error {
	usage, err := v.resolveUsage(ctx, exist)
	if err != nil {
		return err
	}
	return compareLaunch(exist, launchFields{
		LaunchedAt:     usage.LaunchedAt,
		InstanceTypeID: usage.InstanceTypeID,
		Tenant:         usage.Tenant,
		RaxOptions:     usage.RaxOptions,
		OsArchitecture: usage.OsArchitecture,
		OsVersion:      usage.OsVersion,
		OsDistro:       usage.OsDistro,
	})
}

func (v *Verifier) resolveUsage(ctx context.Context, exist *types.InstanceExists) (*types.InstanceUsage, error) {
	if exist.UsageID != nil {
		usage, err := v.store.GetInstanceUsage(ctx, *exist.UsageID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{Object: "InstanceUsage", Query: existQuery(exist)}
		}
		return usage, err
	}

	lo, hi := dectime.PeriodWindow(exist.LaunchedAt.Decimal)
	usages, err := v.store.FindInstanceUsages(ctx, types.UsageFilter{
		InstanceID:    exist.InstanceID,
		LaunchedRange: &types.DecimalRange{Lo: lo, Hi: hi},
	})
	if err != nil {
		return nil, err
	}
	switch len(usages) {
	case 0:
		return nil, &NotFoundError{Object: "InstanceUsage", Query: existQuery(exist)}
	case 1:
		return usages[0], nil
	default:
		return nil, &AmbiguousResultsError{Object: "InstanceUsage", Query: existQuery(exist), Count: len(usages)}
	}
}

// launchFields is the identity an exists record must agree on with whichever
// record backs it (usage or reconcile).
type launchFields struct {
	LaunchedAt     decimal.NullDecimal
	InstanceTypeID string
	Tenant         string
	RaxOptions     string
	OsArchitecture string
	OsVersion      string
	OsDistro       string
}

func compareLaunch(exist *types.InstanceExists, rec launchFields) error {
	if err := compareSecond("launched_at", exist.LaunchedAt, rec.LaunchedAt); err != nil {
		return err
	}
	fields := []struct {
		name             string
		expected, actual string
	}{
		{"instance_type_id", exist.InstanceTypeID, rec.InstanceTypeID},
		{"tenant", exist.Tenant, rec.Tenant},
		{"rax_options", exist.RaxOptions, rec.RaxOptions},
		{"os_architecture", exist.OsArchitecture, rec.OsArchitecture},
		{"os_version", exist.OsVersion, rec.OsVersion},
		{"os_distro", exist.OsDistro, rec.OsDistro},
	}
	for _, f := range fields {
		if f.expected != f.actual {
			return &FieldMismatchError{Field: f.name, Expected: f.expected, Actual: f.actual}
		}
	}
	return nil
}

// compareSecond is the drift-tolerant timestamp comparison: both values must
// name the same whole second.
func compareSecond(field string, expected, actual decimal.NullDecimal) error {
	if expected.Valid != actual.Valid ||
		(expected.Valid && !dectime.EqualSecond(expected.Decimal, actual.Decimal)) {
		return &FieldMismatchError{
			Field:    field,
			Expected: nullDecString(expected),
			Actual:   nullDecString(actual),
		}
	}
	return nil
}

func nullDecString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "None"
	}
	return dectime.Canonical(d.Decimal)
}

// verifyForDelete checks the teardown side. Three shapes: a delete bound at
// aggregation time, a deleted_at on the exists record, or no delete claimed
// at all — in which case any delete row inside the audit period means the
// exists record should have known about it.
func (v *Verifier) verifyForDelete(ctx context.Context, exist *types.InstanceExists) error {
	switch {
	case exist.DeleteID != nil:
		del, err := v.store.GetInstanceDelete(ctx, *exist.DeleteID)
		if errors.Is(err, storage.ErrNotFound) {
			return &NotFoundError{Object: "InstanceDelete", Query: existQuery(exist)}
		}
		if err != nil {
			return err
		}
		return compareDelete(exist, del)

	case exist.DeletedAt.Valid:
		launchLo, launchHi := dectime.PeriodWindow(exist.LaunchedAt.Decimal)
		delLo, delHi := dectime.PeriodWindow(exist.DeletedAt.Decimal)
		deletes, err := v.store.FindInstanceDeletes(ctx, types.DeleteFilter{
			InstanceID:    exist.InstanceID,
			LaunchedRange: &types.DecimalRange{Lo: launchLo, Hi: launchHi},
			DeletedRange:  &types.DecimalRange{Lo: delLo, Hi: delHi},
		})
		if err != nil {
			return err
		}
		if len(deletes) == 0 {
			return &NotFoundError{Object: "InstanceDelete", Query: existQuery(exist)}
		}
		return compareDelete(exist, deletes[0])

	default:
		launchLo, launchHi := dectime.PeriodWindow(exist.LaunchedAt.Decimal)
		deletes, err := v.store.FindInstanceDeletes(ctx, types.DeleteFilter{
			InstanceID:    exist.InstanceID,
			LaunchedRange: &types.DecimalRange{Lo: launchLo, Hi: launchHi},
			DeletedMax:    decimal.NewNullDecimal(exist.AuditPeriodEnding),
		})
		if err != nil {
			return err
		}
		if len(deletes) > 0 {
			return &VerificationError{Reason: "Found InstanceDeletes for non-delete exists"}
		}
		return nil
	}
}

func compareDelete(exist *types.InstanceExists, del *types.InstanceDelete) error {
	if err := compareSecond("launched_at", exist.LaunchedAt, del.LaunchedAt); err != nil {
		return err
	}
	return compareSecond("deleted_at", exist.DeletedAt, decimal.NewNullDecimal(del.DeletedAt))
}

// verifyAgainstReconciled retries the same launch and delete checks against
// the authoritative reconciliation snapshot.
func (v *Verifier) verifyAgainstReconciled(ctx context.Context, exist *types.InstanceExists) error {
	if !exist.LaunchedAt.Valid {
		return &VerificationError{Reason: "Exists without a launched_at"}
	}

	lo, hi := dectime.PeriodWindow(exist.LaunchedAt.Decimal)
	recs, err := v.store.FindInstanceReconciles(ctx, types.ReconcileFilter{
		InstanceID:    exist.InstanceID,
		LaunchedRange: &types.DecimalRange{Lo: lo, Hi: hi},
	})
	if err != nil {
		return err
	}
	switch len(recs) {
	case 0:
		return &NotFoundError{Object: "InstanceReconcile", Query: existQuery(exist)}
	case 1:
	default:
		return &AmbiguousResultsError{Object: "InstanceReconcile", Query: existQuery(exist), Count: len(recs)}
	}
	rec := recs[0]

	if err := compareLaunch(exist, launchFields{
		LaunchedAt:     decimal.NewNullDecimal(rec.LaunchedAt),
		InstanceTypeID: rec.InstanceTypeID,
		Tenant:         rec.Tenant,
		RaxOptions:     rec.RaxOptions,
		OsArchitecture: rec.OsArchitecture,
		OsVersion:      rec.OsVersion,
		OsDistro:       rec.OsDistro,
	}); err != nil {
		return err
	}

	if exist.DeletedAt.Valid {
		return compareSecond("deleted_at", exist.DeletedAt, rec.DeletedAt)
	}
	if rec.DeletedAt.Valid && rec.DeletedAt.Decimal.LessThanOrEqual(exist.AuditPeriodEnding) {
		return &VerificationError{Reason: "Found deleted InstanceReconcile for non-delete exists"}
	}
	return nil
}
