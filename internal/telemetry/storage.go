package telemetry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudtally/stacktally/internal/storage"
	"github.com/cloudtally/stacktally/internal/types"
)

const storageScopeName = "github.com/cloudtally/stacktally/storage"

// InstrumentedStorage wraps storage.Storage with OTel tracing and metrics.
// Every method gets a span and is counted in stally.storage.* metrics.
// Use WrapStorage to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStorage struct {
	inner       storage.Storage
	tracer      trace.Tracer
	ops         metric.Int64Counter
	dur         metric.Float64Histogram
	errs        metric.Int64Counter
	existsGauge metric.Int64Gauge
}

// WrapStorage returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStorage(s storage.Storage) storage.Storage {
	if !Enabled() {
		return s
	}
	m := Meter(storageScopeName)
	ops, _ := m.Int64Counter("stally.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("stally.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("stally.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	existsGauge, _ := m.Int64Gauge("stally.exists.count",
		metric.WithDescription("Current number of exists records by status (snapshot from CountExistsByStatus)"),
	)
	return &InstrumentedStorage{
		inner:       s,
		tracer:      Tracer(storageScopeName),
		ops:         ops,
		dur:         dur,
		errs:        errs,
		existsGauge: existsGauge,
	}
}

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStorage) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStorage) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// ── Raw events ──────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateRawData(ctx context.Context, raw *types.RawData) error {
	attrs := []attribute.KeyValue{
		attribute.String("stally.routing_key", raw.RoutingKey),
		attribute.Int64("stally.deployment", raw.Deployment),
	}
	ctx, span, t := s.op(ctx, "CreateRawData", attrs...)
	err := s.inner.CreateRawData(ctx, raw)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetRawData(ctx context.Context, id int64) (*types.RawData, error) {
	attrs := []attribute.KeyValue{attribute.Int64("stally.raw.id", id)}
	ctx, span, t := s.op(ctx, "GetRawData", attrs...)
	v, err := s.inner.GetRawData(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Lifecycles and timings ──────────────────────────────────────────────────

func (s *InstrumentedStorage) GetLifecycleByInstanceID(ctx context.Context, instanceID string) (*types.Lifecycle, error) {
	attrs := []attribute.KeyValue{attribute.String("stally.instance.id", instanceID)}
	ctx, span, t := s.op(ctx, "GetLifecycleByInstanceID", attrs...)
	v, err := s.inner.GetLifecycleByInstanceID(ctx, instanceID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) CreateLifecycle(ctx context.Context, lc *types.Lifecycle) error {
	attrs := []attribute.KeyValue{attribute.String("stally.instance.id", lc.InstanceID)}
	ctx, span, t := s.op(ctx, "CreateLifecycle", attrs...)
	err := s.inner.CreateLifecycle(ctx, lc)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) UpdateLifecycle(ctx context.Context, lc *types.Lifecycle) error {
	attrs := []attribute.KeyValue{attribute.String("stally.instance.id", lc.InstanceID)}
	ctx, span, t := s.op(ctx, "UpdateLifecycle", attrs...)
	err := s.inner.UpdateLifecycle(ctx, lc)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) FindTimings(ctx context.Context, lifecycleID int64, name string) ([]*types.Timing, error) {
	attrs := []attribute.KeyValue{
		attribute.Int64("stally.lifecycle.id", lifecycleID),
		attribute.String("stally.timing.name", name),
	}
	ctx, span, t := s.op(ctx, "FindTimings", attrs...)
	v, err := s.inner.FindTimings(ctx, lifecycleID, name)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) CreateTiming(ctx context.Context, tm *types.Timing) error {
	attrs := []attribute.KeyValue{attribute.String("stally.timing.name", tm.Name)}
	ctx, span, t := s.op(ctx, "CreateTiming", attrs...)
	err := s.inner.CreateTiming(ctx, tm)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) UpdateTiming(ctx context.Context, tm *types.Timing) error {
	attrs := []attribute.KeyValue{attribute.String("stally.timing.name", tm.Name)}
	ctx, span, t := s.op(ctx, "UpdateTiming", attrs...)
	err := s.inner.UpdateTiming(ctx, tm)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Request trackers ────────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateRequestTracker(ctx context.Context, rt *types.RequestTracker) error {
	attrs := []attribute.KeyValue{attribute.String("stally.request.id", rt.RequestID)}
	ctx, span, t := s.op(ctx, "CreateRequestTracker", attrs...)
	err := s.inner.CreateRequestTracker(ctx, rt)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) FindRequestTrackers(ctx context.Context, requestID string) ([]*types.RequestTracker, error) {
	attrs := []attribute.KeyValue{attribute.String("stally.request.id", requestID)}
	ctx, span, t := s.op(ctx, "FindRequestTrackers", attrs...)
	v, err := s.inner.FindRequestTrackers(ctx, requestID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) UpdateRequestTracker(ctx context.Context, rt *types.RequestTracker) error {
	attrs := []attribute.KeyValue{attribute.String("stally.request.id", rt.RequestID)}
	ctx, span, t := s.op(ctx, "UpdateRequestTracker", attrs...)
	err := s.inner.UpdateRequestTracker(ctx, rt)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ── Instance usage ──────────────────────────────────────────────────────────

func (s *InstrumentedStorage) GetInstanceUsage(ctx context.Context, id int64) (*types.InstanceUsage, error) {
	attrs := []attribute.KeyValue{attribute.Int64("stally.usage.id", id)}
	ctx, span, t := s.op(ctx, "GetInstanceUsage", attrs...)
	v, err := s.inner.GetInstanceUsage(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetOrCreateInstanceUsage(ctx context.Context, instanceID, requestID string) (*types.InstanceUsage, bool, error) {
	attrs := []attribute.KeyValue{attribute.String("stally.instance.id", instanceID)}
	ctx, span, t := s.op(ctx, "GetOrCreateInstanceUsage", attrs...)
	v, created, err := s.inner.GetOrCreateInstanceUsage(ctx, instanceID, requestID)
	if err == nil {
		span.SetAttributes(attribute.Bool("stally.created", created))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, created, err
}

func (s *InstrumentedStorage) UpdateInstanceUsage(ctx context.Context, u *types.InstanceUsage) error {
	attrs := []attribute.KeyValue{attribute.String("stally.instance.id", u.InstanceID)}
	ctx, span, t := s.op(ctx, "UpdateInstanceUsage", attrs...)
	err := s.inner.UpdateInstanceUsage(ctx, u)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) FindInstanceUsages(ctx context.Context, filter types.UsageFilter) ([]*types.InstanceUsage, error) {
	ctx, span, t := s.op(ctx, "FindInstanceUsages")
	v, err := s.inner.FindInstanceUsages(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("stally.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

// ── Instance deletes ────────────────────────────────────────────────────────

func (s *InstrumentedStorage) GetInstanceDelete(ctx context.Context, id int64) (*types.InstanceDelete, error) {
	attrs := []attribute.KeyValue{attribute.Int64("stally.delete.id", id)}
	ctx, span, t := s.op(ctx, "GetInstanceDelete", attrs...)
	v, err := s.inner.GetInstanceDelete(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) GetOrCreateInstanceDelete(ctx context.Context, instanceID string, deletedAt decimal.Decimal) (*types.InstanceDelete, bool, error) {
	attrs := []attribute.KeyValue{attribute.String("stally.instance.id", instanceID)}
	ctx, span, t := s.op(ctx, "GetOrCreateInstanceDelete", attrs...)
	v, created, err := s.inner.GetOrCreateInstanceDelete(ctx, instanceID, deletedAt)
	if err == nil {
		span.SetAttributes(attribute.Bool("stally.created", created))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, created, err
}

func (s *InstrumentedStorage) UpdateInstanceDelete(ctx context.Context, d *types.InstanceDelete) error {
	attrs := []attribute.KeyValue{attribute.String("stally.instance.id", d.InstanceID)}
	ctx, span, t := s.op(ctx, "UpdateInstanceDelete", attrs...)
	err := s.inner.UpdateInstanceDelete(ctx, d)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) FindInstanceDeletes(ctx context.Context, filter types.DeleteFilter) ([]*types.InstanceDelete, error) {
	ctx, span, t := s.op(ctx, "FindInstanceDeletes")
	v, err := s.inner.FindInstanceDeletes(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("stally.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

// ── Reconciled records ──────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateInstanceReconcile(ctx context.Context, r *types.InstanceReconcile) error {
	attrs := []attribute.KeyValue{attribute.String("stally.instance.id", r.InstanceID)}
	ctx, span, t := s.op(ctx, "CreateInstanceReconcile", attrs...)
	err := s.inner.CreateInstanceReconcile(ctx, r)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) FindInstanceReconciles(ctx context.Context, filter types.ReconcileFilter) ([]*types.InstanceReconcile, error) {
	ctx, span, t := s.op(ctx, "FindInstanceReconciles")
	v, err := s.inner.FindInstanceReconciles(ctx, filter)
	if err == nil {
		span.SetAttributes(attribute.Int("stally.result.count", len(v)))
	}
	s.done(ctx, span, t, err)
	return v, err
}

// ── Exists audit records ────────────────────────────────────────────────────

func (s *InstrumentedStorage) CreateInstanceExists(ctx context.Context, e *types.InstanceExists) error {
	attrs := []attribute.KeyValue{attribute.String("stally.instance.id", e.InstanceID)}
	ctx, span, t := s.op(ctx, "CreateInstanceExists", attrs...)
	err := s.inner.CreateInstanceExists(ctx, e)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) GetInstanceExists(ctx context.Context, id int64) (*types.InstanceExists, error) {
	attrs := []attribute.KeyValue{attribute.Int64("stally.exists.id", id)}
	ctx, span, t := s.op(ctx, "GetInstanceExists", attrs...)
	v, err := s.inner.GetInstanceExists(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) FindPendingExists(ctx context.Context, settledBefore decimal.Decimal, limit int) ([]*types.InstanceExists, error) {
	attrs := []attribute.KeyValue{attribute.Int("stally.limit", limit)}
	ctx, span, t := s.op(ctx, "FindPendingExists", attrs...)
	v, err := s.inner.FindPendingExists(ctx, settledBefore, limit)
	if err == nil {
		span.SetAttributes(attribute.Int("stally.result.count", len(v)))
	}
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStorage) ClaimInstanceExists(ctx context.Context, id int64) error {
	attrs := []attribute.KeyValue{attribute.Int64("stally.exists.id", id)}
	ctx, span, t := s.op(ctx, "ClaimInstanceExists", attrs...)
	err := s.inner.ClaimInstanceExists(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) FinishInstanceExists(ctx context.Context, id int64, status types.ExistsStatus, failReason string) error {
	attrs := []attribute.KeyValue{
		attribute.Int64("stally.exists.id", id),
		attribute.String("stally.exists.status", string(status)),
	}
	ctx, span, t := s.op(ctx, "FinishInstanceExists", attrs...)
	err := s.inner.FinishInstanceExists(ctx, id, status, failReason)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStorage) CountExistsByStatus(ctx context.Context) (map[types.ExistsStatus]int64, error) {
	ctx, span, t := s.op(ctx, "CountExistsByStatus")
	v, err := s.inner.CountExistsByStatus(ctx)
	s.done(ctx, span, t, err)
	if err == nil {
		// Record current record counts as gauge snapshots, broken down by status.
		for status, n := range v {
			s.existsGauge.Record(ctx, n,
				metric.WithAttributes(attribute.String("status", string(status))))
		}
	}
	return v, err
}

// ── Transactions ─────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	ctx, span, t := s.op(ctx, "RunInTransaction")
	err := s.inner.RunInTransaction(ctx, fn)
	s.done(ctx, span, t, err)
	return err
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

func (s *InstrumentedStorage) Close() error {
	return s.inner.Close()
}
