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

package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/metrics"
	"axonflow/sqlgate/connectors/pool"
	"axonflow/sqlgate/shared/logger"
)

const (
	opAdd    = "add_connection"
	opRemove = "remove_connection"
	opTest   = "test_connection"
)

// CredentialResolver turns a secret reference into credentials.
type CredentialResolver interface {
	ResolveCredentials(ctx context.Context, ref string) (base.Credentials, error)
}

// Registry maps connection ids to pools. It is safe for concurrent use.
type Registry struct {
	dialects       map[string]base.Dialect
	resolver       CredentialResolver
	poolDefaults   base.PoolOptions
	connectTimeout time.Duration
	metrics        *metrics.Recorder
	log            *logger.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	pending map[string]struct{}
	closed  bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithDialect makes a dialect available to AddConnection.
func WithDialect(d base.Dialect) Option {
	return func(r *Registry) { r.dialects[d.Name()] = d }
}

// WithCredentialResolver resolves credentials.secret_ref values.
func WithCredentialResolver(cr CredentialResolver) Option {
	return func(r *Registry) { r.resolver = cr }
}

// WithPoolDefaults sets the pool bounds used when a config leaves them unset.
func WithPoolDefaults(o base.PoolOptions) Option {
	return func(r *Registry) { r.poolDefaults = o.WithDefaults(base.DefaultPoolOptions()) }
}

// WithConnectTimeout bounds the connectivity check made by AddConnection and
// TestConnection.
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Registry) { r.connectTimeout = d }
}

// WithMetrics attaches a metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithLogger sets the registry logger.
func WithLogger(l *logger.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		dialects:       make(map[string]base.Dialect),
		poolDefaults:   base.DefaultPoolOptions(),
		connectTimeout: base.DefaultConnectTimeout,
		log:            logger.New("registry"),
		handles:        make(map[string]*Handle),
		pending:        make(map[string]struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Dialects lists the registered dialect names.
func (r *Registry) Dialects() []string {
	names := make([]string, 0, len(r.dialects))
	for name := range r.dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddConnection validates cfg, creates its pool and pings the database.
// The id is reserved for the duration of the call, so a concurrent add of
// the same id fails with DUPLICATE_CONNECTION_ID.
func (r *Registry) AddConnection(ctx context.Context, cfg base.ConnectionConfig) error {
	cfg.Pool = cfg.Pool.WithDefaults(r.poolDefaults)
	dialect, ok := r.dialects[cfg.Dialect]
	if ok && cfg.Port == 0 {
		cfg.Port = dialect.DefaultPort()
	}
	if err := cfg.Validate(); err != nil {
		return base.NewError(base.KindConnection, base.CodeInvalidConfig, cfg.ID, opAdd, err.Error(), err)
	}
	if !ok {
		return base.NewError(base.KindConnection, base.CodeInvalidConfig, cfg.ID, opAdd,
			"unsupported dialect "+base.SanitizeLogString(cfg.Dialect), nil)
	}

	if err := r.reserve(cfg.ID); err != nil {
		return err
	}
	registered := false
	defer func() {
		if !registered {
			r.release(cfg.ID)
		}
	}()

	if cfg.Credentials.SecretRef != "" {
		creds, err := r.resolveCredentials(ctx, cfg)
		if err != nil {
			return err
		}
		cfg.Credentials = creds
	}

	h, err := r.open(ctx, cfg, dialect)
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.pending, cfg.ID)
	if r.closed {
		r.mu.Unlock()
		_, _ = h.pool.Close(ctx)
		return base.NewError(base.KindConnection, base.CodePoolClosed, cfg.ID, opAdd, "registry is closed", nil)
	}
	r.handles[cfg.ID] = h
	registered = true
	r.mu.Unlock()

	r.log.Info("Connection added",
		logger.ConnectionID(cfg.ID),
		zap.String("dialect", cfg.Dialect),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", base.SanitizeLogString(cfg.Database)),
		zap.Int("pool_min", cfg.Pool.MinSize),
		zap.Int("pool_max", cfg.Pool.MaxSize))
	return nil
}

func (r *Registry) reserve(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return base.NewError(base.KindConnection, base.CodePoolClosed, id, opAdd, "registry is closed", nil)
	}
	_, exists := r.handles[id]
	_, adding := r.pending[id]
	if exists || adding {
		return base.NewError(base.KindConnection, base.CodeDuplicateConnectionID, id, opAdd,
			"connection id is already registered", nil)
	}
	r.pending[id] = struct{}{}
	return nil
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	delete(r.pending, id)
	r.mu.Unlock()
}

func (r *Registry) resolveCredentials(ctx context.Context, cfg base.ConnectionConfig) (base.Credentials, error) {
	if r.resolver == nil {
		return base.Credentials{}, base.NewError(base.KindConnection, base.CodeInvalidConfig, cfg.ID, opAdd,
			"secret_ref is set but no secrets manager is configured", nil)
	}
	creds, err := r.resolver.ResolveCredentials(ctx, cfg.Credentials.SecretRef)
	if err != nil {
		return base.Credentials{}, base.NewError(base.KindConnection, base.CodeInvalidConfig, cfg.ID, opAdd,
			"failed to resolve credentials: "+err.Error(), err)
	}
	if creds.Username == "" {
		creds.Username = cfg.Credentials.Username
	}
	if creds.Username == "" {
		return base.Credentials{}, base.NewError(base.KindConnection, base.CodeInvalidConfig, cfg.ID, opAdd,
			"resolved credentials have no username", nil)
	}
	return creds, nil
}

// open builds the pool and starts it under the connect timeout.
func (r *Registry) open(ctx context.Context, cfg base.ConnectionConfig, dialect base.Dialect) (*Handle, error) {
	secret := cfg.Credentials.Password.Reveal()
	db, err := dialect.Open(cfg)
	if err != nil {
		return nil, base.NewError(base.KindConnection, base.CodeInvalidConfig, cfg.ID, opAdd, err.Error(), err).Redacting(secret)
	}
	db.SetMaxOpenConns(cfg.Pool.MaxSize)
	db.SetMaxIdleConns(0)

	p, err := pool.New(cfg.ID, db, cfg.Pool,
		pool.WithLogger(r.log),
		pool.WithCloseDB(),
		pool.WithSecrets(secret))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()
	if err := p.Start(checkCtx); err != nil {
		_, _ = p.Close(context.Background())
		r.log.Warn("Connection check failed", logger.ConnectionID(cfg.ID), zap.String("error", base.SafeMessage(err.Error(), secret)))
		if base.CodeOf(err) == base.CodeConnectError {
			return nil, err
		}
		return nil, base.NewError(base.KindConnection, base.CodeConnectError, cfg.ID, opAdd,
			"failed to connect: "+err.Error(), err).Redacting(secret)
	}
	return &Handle{cfg: cfg, dialect: dialect, pool: p, createdAt: time.Now()}, nil
}

// Get returns the handle of a registered connection.
func (r *Registry) Get(id string) (*Handle, error) {
	r.mu.RLock()
	h, ok := r.handles[id]
	r.mu.RUnlock()
	if !ok {
		return nil, base.NotFound(id, "")
	}
	return h, nil
}

// RemoveConnection unregisters id and drains its pool. The id is gone even
// when an error is returned; the error reports a pool that did not close
// cleanly.
func (r *Registry) RemoveConnection(ctx context.Context, id string) error {
	r.mu.Lock()
	h, ok := r.handles[id]
	delete(r.handles, id)
	r.mu.Unlock()
	if !ok {
		return base.NotFound(id, opRemove)
	}

	forced, err := h.pool.Close(ctx)
	r.metrics.Forget(id)
	fields := []zap.Field{logger.ConnectionID(id), zap.Int("forced", forced)}
	if err != nil {
		r.log.Warn("Connection removed with errors", append(fields, zap.Error(err))...)
		return base.NewError(base.KindConnection, base.CodeForciblyClosed, id, opRemove,
			"connection removed but its pool did not close cleanly", err)
	}
	r.log.Info("Connection removed", fields...)
	return nil
}

// ListConnections returns connection summaries sorted by id.
func (r *Registry) ListConnections() []base.ConnectionSummary {
	handles := r.snapshot()
	out := make([]base.ConnectionSummary, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Summary(r.metrics.QueryStats(h.ID())))
	}
	return out
}

// PoolStats returns the pool statistics of every connection.
func (r *Registry) PoolStats() map[string]base.PoolStats {
	handles := r.snapshot()
	out := make(map[string]base.PoolStats, len(handles))
	for _, h := range handles {
		out[h.ID()] = h.pool.Stats()
	}
	return out
}

func (r *Registry) snapshot() []*Handle {
	r.mu.RLock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.RUnlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i].ID() < handles[j].ID() })
	return handles
}

// QueryHistory returns the recent operations recorded for id, oldest
// first. Entries carry no statement text.
func (r *Registry) QueryHistory(id string) ([]base.QueryRecord, error) {
	if _, err := r.Get(id); err != nil {
		return nil, err
	}
	history := r.metrics.History(id)
	if history == nil {
		history = []base.QueryRecord{}
	}
	return history, nil
}

// TestConnection pings the database through the connection's pool.
func (r *Registry) TestConnection(ctx context.Context, id string) base.HealthStatus {
	status := base.HealthStatus{ConnectionID: id, CheckedAt: time.Now().UTC()}
	h, err := r.Get(id)
	if err != nil {
		status.Status = base.StatusNotFound
		status.Message = "connection not found"
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()
	start := time.Now()
	err = h.pool.Ping(ctx)
	status.LatencyMs = time.Since(start).Milliseconds()
	stats := h.pool.Stats()
	status.Pool = &stats
	if err != nil {
		status.Status = base.StatusUnhealthy
		status.Message = base.AsError(err, id, opTest).Redacting(h.Secret()).Message
		r.log.Warn("Connection health check failed", logger.ConnectionID(id), zap.String("error", status.Message))
		return status
	}
	status.Status = base.StatusHealthy
	status.Message = "connection is healthy"
	return status
}

// Close drains every pool concurrently. Adds fail afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		h := h
		g.Go(func() error {
			forced, err := h.pool.Close(gctx)
			if forced > 0 {
				r.log.Warn("Cancelled in-flight operations at shutdown", logger.ConnectionID(h.ID()), zap.Int("forced", forced))
			}
			return err
		})
	}
	err := g.Wait()
	r.log.Info("Registry closed", zap.Int("connections", len(handles)))
	return err
}
