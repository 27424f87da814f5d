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

package conntest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync/atomic"
)

// ErrUnsupported is returned by fake connections for anything but ping.
var ErrUnsupported = errors.New("conntest: statements are not supported by the fake driver")

// Connector is a driver.Connector whose connections only answer pings. It
// counts physical opens and closes and can be told to fail, which is what
// pool lifecycle tests need.
type Connector struct {
	opened      atomic.Int64
	closed      atomic.Int64
	failConnect atomic.Bool
	failPing    atomic.Bool
}

var _ driver.Connector = (*Connector)(nil)

// NewConnector returns a healthy fake connector.
func NewConnector() *Connector {
	return &Connector{}
}

// DB wraps the connector in a database handle that keeps no idle
// connections of its own, the way the registry configures real handles.
func (c *Connector) DB() *sql.DB {
	db := sql.OpenDB(c)
	db.SetMaxIdleConns(0)
	return db
}

// FailConnect makes new connections fail until reset.
func (c *Connector) FailConnect(fail bool) { c.failConnect.Store(fail) }

// FailPing makes pings on every connection fail until reset.
func (c *Connector) FailPing(fail bool) { c.failPing.Store(fail) }

// Opened is the number of physical connections opened so far.
func (c *Connector) Opened() int64 { return c.opened.Load() }

// Closed is the number of physical connections closed so far.
func (c *Connector) Closed() int64 { return c.closed.Load() }

// Live is the number of physical connections currently open.
func (c *Connector) Live() int64 { return c.opened.Load() - c.closed.Load() }

func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.failConnect.Load() {
		return nil, errors.New("conntest: connection refused")
	}
	c.opened.Add(1)
	return &fakeConn{c: c}, nil
}

func (c *Connector) Driver() driver.Driver { return fakeDriver{c} }

type fakeDriver struct{ c *Connector }

func (d fakeDriver) Open(string) (driver.Conn, error) {
	return d.c.Connect(context.Background())
}

type fakeConn struct {
	c      *Connector
	closed atomic.Bool
}

var (
	_ driver.Conn      = (*fakeConn)(nil)
	_ driver.Pinger    = (*fakeConn)(nil)
	_ driver.Validator = (*fakeConn)(nil)
)

func (f *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, ErrUnsupported }

func (f *fakeConn) Begin() (driver.Tx, error) { return nil, ErrUnsupported }

func (f *fakeConn) Close() error {
	if f.closed.CompareAndSwap(false, true) {
		f.c.closed.Add(1)
	}
	return nil
}

func (f *fakeConn) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.c.failPing.Load() {
		return driver.ErrBadConn
	}
	return nil
}

func (f *fakeConn) IsValid() bool { return !f.closed.Load() }
