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

// Package pool implements a bounded connection pool for one logical
// connection id.
//
// Capacity is a channel of tokens, one per connection that may exist. A
// token is held by every live connection, whether idle, leased or being
// opened, and returned when the connection is closed. Idle connections
// wait in a second channel. Both channels are sized to the pool maximum so
// sends never block, which keeps leased + idle + opening <= max at all
// times.
package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/shared/logger"
)

const opAcquire = "acquire"

// Pool owns the physical connections of one connection id. The *sql.DB it
// wraps is used only as a connection factory.
type Pool struct {
	id      string
	db      *sql.DB
	opts    base.PoolOptions
	log     *logger.Logger
	closeDB bool
	secrets []string
	every   time.Duration
	now     func() time.Time

	tokens chan struct{}
	idle   chan *idleConn
	done   chan struct{}

	kill     context.Context
	killFunc context.CancelFunc
	life     context.Context
	stop     context.CancelFunc

	mu        sync.Mutex
	leases    map[*Lease]struct{}
	opening   int
	returning int
	closed    bool
	drained   chan struct{}

	evictor sync.WaitGroup

	acquired  atomic.Uint64
	opened    atomic.Uint64
	closedN   atomic.Uint64
	discarded atomic.Uint64
	exhausted atomic.Uint64
	evicted   atomic.Uint64
}

type idleConn struct {
	conn      *sql.Conn
	idleSince time.Time
	checkedAt time.Time
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithCloseDB makes Close also close the wrapped *sql.DB.
func WithCloseDB() Option {
	return func(p *Pool) { p.closeDB = true }
}

// WithSecrets lists values to redact from connect errors.
func WithSecrets(secrets ...string) Option {
	return func(p *Pool) { p.secrets = append(p.secrets, secrets...) }
}

// WithEvictInterval overrides how often idle connections are checked.
func WithEvictInterval(d time.Duration) Option {
	return func(p *Pool) { p.every = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates a pool over db. No connection is opened until Start or the
// first Acquire.
func New(id string, db *sql.DB, opts base.PoolOptions, options ...Option) (*Pool, error) {
	opts = opts.WithDefaults(base.DefaultPoolOptions())
	if err := opts.Validate(); err != nil {
		return nil, base.NewError(base.KindConnection, base.CodeInvalidConfig, id, "create_pool", err.Error(), err)
	}
	p := &Pool{
		id:      id,
		db:      db,
		opts:    opts,
		log:     logger.Nop(),
		now:     time.Now,
		tokens:  make(chan struct{}, opts.MaxSize),
		idle:    make(chan *idleConn, opts.MaxSize),
		done:    make(chan struct{}),
		leases:  make(map[*Lease]struct{}),
		drained: make(chan struct{}),
	}
	for _, o := range options {
		o(p)
	}
	for i := 0; i < opts.MaxSize; i++ {
		p.tokens <- struct{}{}
	}
	if p.every <= 0 {
		p.every = evictInterval(opts.IdleTimeout.Std())
	}
	p.kill, p.killFunc = context.WithCancel(context.Background())
	p.life, p.stop = context.WithCancel(context.Background())
	p.log = p.log.ForConnection(id)
	return p, nil
}

func evictInterval(idle time.Duration) time.Duration {
	d := idle / 4
	if d < time.Second {
		d = time.Second
	}
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// ID returns the connection id the pool serves.
func (p *Pool) ID() string { return p.id }

// Options returns the effective pool bounds.
func (p *Pool) Options() base.PoolOptions { return p.opts }

// Start opens and pings the initial connections, at least one so that an
// unreachable database is reported immediately, then starts idle
// eviction. On error every connection opened so far is closed.
func (p *Pool) Start(ctx context.Context) error {
	want := p.opts.MinSize
	if want < 1 {
		want = 1
	}
	for i := 0; i < want; i++ {
		if err := p.grow(ctx, true); err != nil {
			p.drainIdle()
			return err
		}
	}
	p.evictor.Add(1)
	go p.evictLoop()
	p.log.Info("Connection pool started",
		zap.Int("min_size", p.opts.MinSize),
		zap.Int("max_size", p.opts.MaxSize))
	return nil
}

// grow opens one connection into the idle set if capacity allows.
func (p *Pool) grow(ctx context.Context, ping bool) error {
	select {
	case <-p.tokens:
	default:
		return nil
	}
	p.mu.Lock()
	p.opening++
	p.mu.Unlock()

	conn, err := p.connect(ctx, ping)

	p.mu.Lock()
	p.opening--
	if err != nil {
		p.mu.Unlock()
		p.tokens <- struct{}{}
		return err
	}
	if p.closed {
		p.mu.Unlock()
		p.closeConn(conn, false)
		return nil
	}
	now := p.now()
	p.idle <- &idleConn{conn: conn, idleSince: now, checkedAt: now}
	p.mu.Unlock()
	return nil
}

func (p *Pool) connect(ctx context.Context, ping bool) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err == nil && ping {
		if err = conn.PingContext(ctx); err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		p.log.Warn("Failed to open database connection", zap.String("error", base.SafeMessage(err.Error(), p.secrets...)))
		return nil, base.NewError(base.KindConnection, base.CodeConnectError, p.id, opAcquire,
			"failed to connect: "+err.Error(), err).Redacting(p.secrets...)
	}
	p.opened.Add(1)
	return conn, nil
}

// Acquire leases a connection. It prefers an idle connection, opens a new
// one while under the maximum, and otherwise waits up to the acquire
// timeout or the caller's deadline.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if p.isClosed() {
		return nil, p.closedErr()
	}
	waitCtx := ctx
	if t := p.opts.AcquireTimeout.Std(); t > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	for {
		ic, open, err := p.next(ctx, waitCtx)
		switch {
		case err != nil:
			return nil, err
		case open:
			return p.openLease(ctx)
		}
		lease, err := p.checkout(waitCtx, ic)
		if lease != nil || err != nil {
			return lease, err
		}
		if waitCtx.Err() != nil {
			return nil, p.waitErr(ctx)
		}
	}
}

// next prefers an idle connection, then free capacity (open is true and
// the caller holds a token), then waits for either.
func (p *Pool) next(ctx, waitCtx context.Context) (ic *idleConn, open bool, err error) {
	select {
	case ic = <-p.idle:
		return ic, false, nil
	default:
	}
	select {
	case <-p.tokens:
		return nil, true, nil
	default:
	}
	select {
	case ic = <-p.idle:
		return ic, false, nil
	case <-p.tokens:
		return nil, true, nil
	case <-p.done:
		return nil, false, p.closedErr()
	case <-waitCtx.Done():
		return nil, false, p.waitErr(ctx)
	}
}

// checkout validates an idle connection and leases it. It returns nil, nil
// when the connection was put back or discarded and the caller should try
// again.
func (p *Pool) checkout(ctx context.Context, ic *idleConn) (*Lease, error) {
	now := p.now()
	if iv := p.opts.ValidationInterval.Std(); iv > 0 && now.Sub(ic.checkedAt) >= iv {
		if err := ic.conn.PingContext(ctx); err != nil {
			if ctx.Err() != nil {
				p.putIdle(ic)
				return nil, nil
			}
			p.log.Debug("Discarding connection that failed validation", zap.Error(err))
			p.closeConn(ic.conn, true)
			return nil, nil
		}
		ic.checkedAt = now
	}
	return p.register(ic.conn, ic.checkedAt)
}

// openLease opens a connection for a caller that already holds a token.
// The acquire timeout bounds waiting for capacity only; the connect itself
// runs under the caller's context.
func (p *Pool) openLease(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	p.opening++
	p.mu.Unlock()

	conn, err := p.connect(ctx, false)

	p.mu.Lock()
	p.opening--
	p.mu.Unlock()
	if err != nil {
		p.tokens <- struct{}{}
		if ctx.Err() != nil {
			return nil, p.waitErr(ctx)
		}
		return nil, err
	}
	return p.register(conn, p.now())
}

func (p *Pool) register(conn *sql.Conn, checkedAt time.Time) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeConn(conn, false)
		return nil, p.closedErr()
	}
	l := &Lease{pool: p, conn: conn, checkedAt: checkedAt, acquiredAt: p.now()}
	p.leases[l] = struct{}{}
	p.mu.Unlock()
	p.acquired.Add(1)
	return l, nil
}

// waitErr maps an expired wait: a cancelled caller gets CANCELED, a
// deadline (the acquire timeout or the caller's own) gets POOL_EXHAUSTED.
func (p *Pool) waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return base.NewError(base.KindPool, base.CodeCanceled, p.id, opAcquire, "acquire canceled", ctx.Err())
	}
	p.exhausted.Add(1)
	p.log.Warn("Connection pool exhausted", zap.Int("max_size", p.opts.MaxSize))
	return base.NewError(base.KindPool, base.CodePoolExhausted, p.id, opAcquire,
		"no connection available within the acquire timeout", nil).Retry()
}

func (p *Pool) closedErr() error {
	return base.NewError(base.KindConnection, base.CodePoolClosed, p.id, opAcquire, "connection pool is closed", nil)
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// put returns a released lease to the pool.
func (p *Pool) put(l *Lease) {
	broken := l.broken.Load()
	p.mu.Lock()
	delete(p.leases, l)
	if !broken && !p.closed {
		p.idle <- &idleConn{conn: l.conn, idleSince: p.now(), checkedAt: l.checkedAt}
		p.mu.Unlock()
		return
	}
	p.returning++
	p.mu.Unlock()

	p.closeConn(l.conn, broken)

	p.mu.Lock()
	p.returning--
	p.signalDrainedLocked()
	p.mu.Unlock()
}

// signalDrainedLocked closes drained once a closed pool has no leases and
// no connection still being closed. p.mu must be held.
func (p *Pool) signalDrainedLocked() {
	if !p.closed || len(p.leases) > 0 || p.returning > 0 {
		return
	}
	select {
	case <-p.drained:
	default:
		close(p.drained)
	}
}

// putIdle puts an unused connection back, closing it if the pool closed in
// the meantime.
func (p *Pool) putIdle(ic *idleConn) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.closeConn(ic.conn, false)
		return
	}
	p.idle <- ic
	p.mu.Unlock()
}

// closeConn closes a physical connection and frees its capacity. A broken
// connection is reported to database/sql as bad so it is never reused.
func (p *Pool) closeConn(conn *sql.Conn, broken bool) {
	if broken {
		_ = conn.Raw(func(interface{}) error { return driver.ErrBadConn })
		p.discarded.Add(1)
	}
	_ = conn.Close()
	p.closedN.Add(1)
	p.tokens <- struct{}{}
}

func (p *Pool) drainIdle() int {
	n := 0
	for {
		select {
		case ic := <-p.idle:
			p.closeConn(ic.conn, false)
			n++
		default:
			return n
		}
	}
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() base.PoolStats {
	p.mu.Lock()
	leased, opening := len(p.leases), p.opening
	p.mu.Unlock()
	return base.PoolStats{
		MinSize:   p.opts.MinSize,
		MaxSize:   p.opts.MaxSize,
		Idle:      len(p.idle),
		Leased:    leased,
		Opening:   opening,
		Acquired:  p.acquired.Load(),
		Opened:    p.opened.Load(),
		Closed:    p.closedN.Load(),
		Discarded: p.discarded.Load(),
		Exhausted: p.exhausted.Load(),
		Evicted:   p.evicted.Load(),
	}
}

// Ping leases a connection and pings the database through it.
func (p *Pool) Ping(ctx context.Context) error {
	lease, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer lease.Release()
	if err := lease.Conn().PingContext(ctx); err != nil {
		lease.MarkBroken()
		return base.NewError(base.KindConnection, base.CodeConnectError, p.id, "ping",
			"ping failed: "+err.Error(), err).Redacting(p.secrets...)
	}
	lease.checkedAt = p.now()
	return nil
}

// Close stops new acquires, closes idle connections and waits for leased
// connections to come back. Leases still out after the drain timeout are
// force-cancelled; Close then waits for them until ctx is done. It reports
// how many leases had to be cancelled.
func (p *Pool) Close(ctx context.Context) (forced int, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, nil
	}
	p.closed = true
	close(p.done)
	p.stop()
	outstanding := len(p.leases) + p.returning
	p.signalDrainedLocked()
	p.mu.Unlock()

	p.evictor.Wait()
	p.drainIdle()

	if outstanding > 0 {
		p.log.Info("Waiting for leased connections to drain", zap.Int("leased", outstanding))
		timer := time.NewTimer(p.opts.DrainTimeout.Std())
		select {
		case <-p.drained:
			timer.Stop()
		case <-timer.C:
			p.mu.Lock()
			forced = len(p.leases)
			p.mu.Unlock()
			p.log.Warn("Drain timeout reached, cancelling in-flight operations", zap.Int("leased", forced))
			p.killFunc()
			select {
			case <-p.drained:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
	}
	p.killFunc()

	if p.closeDB {
		if cerr := p.db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	p.log.Info("Connection pool closed", zap.Int("forced", forced))
	return forced, err
}
