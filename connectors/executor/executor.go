// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package executor runs validated, parameter-bound statements on pooled
// connections: single queries, transactions and batches.
package executor

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/metrics"
	"axonflow/sqlgate/connectors/pool"
	"axonflow/sqlgate/connectors/registry"
	"axonflow/sqlgate/connectors/security"
	"axonflow/sqlgate/shared/logger"
)

// Operation names used in errors, metrics and spans.
const (
	OpQuery       = "execute_query"
	OpTransaction = "execute_transaction"
	OpBatch       = "batch_execute"
)

// Execution defaults.
const (
	DefaultQueryTimeout    = 30 * time.Second
	DefaultMaxQueryTimeout = 5 * time.Minute
	DefaultMaxRows         = 10000
)

const tracerName = "axonflow/sqlgate/executor"

// Handles resolves connection ids. *registry.Registry implements it.
type Handles interface {
	Get(connectionID string) (*registry.Handle, error)
}

// Config holds execution limits and the global security policy. A
// connection's own policy can only tighten the global one.
type Config struct {
	Policy          security.Policy
	QueryTimeout    time.Duration
	MaxQueryTimeout time.Duration
	MaxRows         int
}

// DefaultConfig returns the built-in limits and policy.
func DefaultConfig() Config {
	return Config{
		Policy:          security.DefaultPolicy(),
		QueryTimeout:    DefaultQueryTimeout,
		MaxQueryTimeout: DefaultMaxQueryTimeout,
		MaxRows:         DefaultMaxRows,
	}
}

func (c Config) withDefaults() Config {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.MaxQueryTimeout <= 0 {
		c.MaxQueryTimeout = DefaultMaxQueryTimeout
	}
	if c.QueryTimeout > c.MaxQueryTimeout {
		c.QueryTimeout = c.MaxQueryTimeout
	}
	if c.MaxRows <= 0 {
		c.MaxRows = DefaultMaxRows
	}
	c.Policy = c.Policy.Normalized()
	return c
}

// Executor is safe for concurrent use.
type Executor struct {
	handles   Handles
	cfg       Config
	validator *security.Validator
	metrics   *metrics.Recorder
	tracer    trace.Tracer
	log       *logger.Logger
	newID     func() string
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger sets the executor logger.
func WithLogger(l *logger.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithTracer replaces the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithValidator replaces the default statement validator.
func WithValidator(v *security.Validator) Option {
	return func(e *Executor) { e.validator = v }
}

// WithIDGenerator replaces the query id generator.
func WithIDGenerator(f func() string) Option {
	return func(e *Executor) { e.newID = f }
}

// New creates an Executor over handles.
func New(handles Handles, cfg Config, opts ...Option) *Executor {
	e := &Executor{
		handles:   handles,
		cfg:       cfg.withDefaults(),
		validator: security.NewValidator(),
		tracer:    otel.Tracer(tracerName),
		log:       logger.New("executor"),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config { return e.cfg }

// Handle resolves a connection id, reporting NOT_FOUND under op.
func (e *Executor) Handle(connectionID, op string) (*registry.Handle, error) {
	if connectionID == "" {
		return nil, base.InvalidRequest("", op, "connection_id is required")
	}
	h, err := e.handles.Get(connectionID)
	if err != nil {
		if errors.Is(err, base.ErrNotFound) {
			return nil, base.NotFound(connectionID, op)
		}
		return nil, base.AsError(err, connectionID, op)
	}
	return h, nil
}

// PolicyFor returns the policy that applies to h: the global policy,
// tightened by the connection's own policy when it has one.
func (e *Executor) PolicyFor(h *registry.Handle) security.Policy {
	if p := h.Policy(); p != nil {
		return e.cfg.Policy.Restrict(*p)
	}
	return e.cfg.Policy
}

// Validator returns the statement validator.
func (e *Executor) Validator() *security.Validator { return e.validator }

// Observe records the outcome of an operation run outside the executor,
// such as schema inspection. Unknown connection ids are not recorded.
func (e *Executor) Observe(connectionID, op string, start time.Time, err error) {
	if connectionID == "" || errors.Is(err, base.ErrNotFound) {
		return
	}
	e.metrics.ObserveOperation(connectionID, op, e.now().Sub(start), err)
}

func (e *Executor) startSpan(ctx context.Context, op, connectionID string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("sqlgate.connection_id", connectionID),
			attribute.String("sqlgate.operation", op),
		))
}

// finish ends the span and records metrics for one operation.
func (e *Executor) finish(span trace.Span, op, connectionID string, start time.Time, err error) {
	d := e.now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(base.CodeOf(err)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	e.Observe(connectionID, op, start, err)
	if err != nil {
		e.log.Debug("Operation failed",
			logger.ConnectionID(connectionID),
			logger.Operation(op),
			logger.DurationMS(d),
			zap.String("code", string(base.CodeOf(err))))
	}
}

// acquire leases a connection, stamping pool errors with op.
func (e *Executor) acquire(ctx context.Context, h *registry.Handle, op string) (*pool.Lease, error) {
	lease, err := h.Pool().Acquire(ctx)
	if err != nil {
		be := base.AsError(err, h.ID(), op)
		out := *be
		out.Operation = op
		return nil, &out
	}
	return lease, nil
}

// classify turns a driver error into an *base.Error and marks the lease
// broken when the connection can no longer be trusted.
func (e *Executor) classify(ctx context.Context, err error, h *registry.Handle, lease *pool.Lease, op string) *base.Error {
	id := h.ID()
	if lease != nil && lease.ForciblyClosed() {
		lease.MarkBroken()
		return base.NewError(base.KindConnection, base.CodeForciblyClosed, id, op,
			"connection was closed while the operation was running", err).Retry()
	}
	var be *base.Error
	if errors.As(err, &be) {
		return be
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if lease != nil {
			lease.MarkBroken()
		}
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return base.NewError(base.KindExecution, base.CodeQueryTimeout, id, op, "statement timed out", err).Retry()
		}
		return base.NewError(base.KindPool, base.CodeCanceled, id, op, "operation canceled", err)
	}

	class := h.Dialect().ClassifyError(err)
	if (class.BadConn || errors.Is(err, sql.ErrConnDone)) && lease != nil {
		lease.MarkBroken()
	}
	msg := class.Message
	if msg == "" {
		msg = err.Error()
	}
	code := class.Code
	if code == "" {
		code = base.CodeSQLError
	}
	out := base.NewError(base.KindExecution, code, id, op, msg, err).Redacting(h.Secret())
	out.SQLState = class.SQLState
	out.Retryable = class.Retryable
	return out
}

func (e *Executor) queryID(id string) string {
	if id != "" {
		return id
	}
	return e.newID()
}

func (e *Executor) elapsedMs(start time.Time) int64 {
	return e.now().Sub(start).Milliseconds()
}
