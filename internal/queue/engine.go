// Package queue is the appointment state machine of a clinic front desk. Every
// mutating command runs in one transaction together with its audit entry, and
// notifies connected terminals only after the transaction commits.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-queue/internal/audit"
	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/observability/metrics"
	"github.com/wolfman30/clinic-queue/internal/scheduling"
	"github.com/wolfman30/clinic-queue/internal/searchindex"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

var tracer = otel.Tracer("clinicqueue.internal.queue")

// Publisher receives notifications after their transaction committed.
type Publisher interface {
	Publish(n events.Notification) int
}

// Sealer encrypts patient profiles and prescription documents.
type Sealer interface {
	EncryptString(plaintext string) (string, error)
	DecryptString(ciphertext string) (string, error)
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(blob []byte) ([]byte, error)
}

// DocumentStore holds sealed prescription documents outside the database.
type DocumentStore interface {
	Put(ctx context.Context, key string, blob []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Config wires an Engine.
type Config struct {
	Pool      PgxPool
	Sealer    Sealer
	Keyring   *searchindex.Keyring
	Recorder  *audit.Recorder
	Checker   *scheduling.Checker
	Publisher Publisher
	Documents DocumentStore
	Metrics   *metrics.QueueMetrics
	Logger    *logging.Logger
	// DefaultLocation applies to tenants without a timezone.
	DefaultLocation *time.Location
	Now             func() time.Time
}

// Engine executes queue commands.
type Engine struct {
	pool      PgxPool
	sealer    Sealer
	keyring   *searchindex.Keyring
	recorder  *audit.Recorder
	checker   *scheduling.Checker
	publisher Publisher
	documents DocumentStore
	metrics   *metrics.QueueMetrics
	logger    *logging.Logger
	zones     *scheduling.Zones
	now       func() time.Time
}

// NewEngine validates cfg and returns an engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Pool == nil {
		return nil, errors.New("queue: pool required")
	}
	if cfg.Sealer == nil {
		return nil, errors.New("queue: sealer required")
	}
	if cfg.Keyring == nil {
		cfg.Keyring = searchindex.NewKeyring(cfg.Sealer)
	}
	if cfg.Recorder == nil {
		cfg.Recorder = audit.NewRecorder()
	}
	if cfg.Checker == nil {
		cfg.Checker = scheduling.NewChecker()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		pool:      cfg.Pool,
		sealer:    cfg.Sealer,
		keyring:   cfg.Keyring,
		recorder:  cfg.Recorder.WithClock(cfg.Now),
		checker:   cfg.Checker,
		publisher: cfg.Publisher,
		documents: cfg.Documents,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		zones:     scheduling.NewZones(cfg.DefaultLocation),
		now:       cfg.Now,
	}, nil
}

// command wraps one engine operation with tracing, metrics and error
// normalisation.
func (e *Engine) command(ctx context.Context, op string, actor tenancy.Actor, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "queue."+op, trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	started := time.Now()

	var err error
	if actor.IsZero() {
		err = invalidState(ReasonMissingActor, "Staff identity required")
	} else {
		span.SetAttributes(
			attribute.String("clinicqueue.tenant_id", actor.TenantID().String()),
			attribute.String("clinicqueue.role", string(actor.Role())),
		)
		err = fn(ctx)
	}

	outcome := "ok"
	if err != nil {
		var qe *Error
		if !errors.As(err, &qe) {
			err = infra(op, err)
		}
		outcome = string(KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		if KindOf(err) == KindInfrastructureFailure {
			e.logger.Error("queue command failed",
				"operation", op,
				"tenant_id", actor.TenantID().String(),
				"trace_id", span.SpanContext().TraceID().String(),
				"error", err,
			)
		}
	}
	e.metrics.ObserveCommand(op, outcome, time.Since(started).Seconds())
	return err
}

// inTx runs fn in a transaction. Any error from fn rolls back; the
// transaction is committed only when fn succeeds.
func (e *Engine) inTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return infra("begin transaction", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			e.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return infra("commit transaction", err)
	}
	return nil
}

func (e *Engine) publish(n events.Notification) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(n)
}

// today returns the tenant's current calendar day.
func (e *Engine) today(t tenantRow) time.Time {
	return scheduling.Today(e.now(), e.zones.Lookup(t.timezone))
}

func (e *Engine) record(ctx context.Context, q audit.Execer, entry audit.Entry) error {
	if err := e.recorder.Record(ctx, q, entry); err != nil {
		return infra("record audit entry", err)
	}
	return nil
}

// guardClinical rejects edits of cancelled or future-dated appointments.
func guardClinical(a *Appointment, today time.Time, what string) error {
	if a.Status == StatusCancelled {
		return invalidState(ReasonCancelled, fmt.Sprintf("Can't %s, Appointment is cancelled.", what))
	}
	if scheduling.IsFuture(a.Date, today) {
		return invalidState(ReasonFutureAppointment, fmt.Sprintf("Cannot %s for future appointments", what))
	}
	return nil
}
