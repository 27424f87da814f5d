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

package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared by every component so log queries stay uniform.
const (
	KeyComponent    = "component"
	KeyInstanceID   = "instance_id"
	KeyContainer    = "container"
	KeyConnectionID = "connection_id"
	KeyRequestID    = "request_id"
	KeyOperation    = "operation"
	KeyDurationMS   = "duration_ms"
	KeyStatusCode   = "status_code"
)

var (
	baseMu sync.RWMutex
	base   = zap.NewNop()
)

// Logger is a component-scoped structured logger.
type Logger struct {
	Component  string
	InstanceID string
	Container  string

	z *zap.Logger
}

// Configure installs the process-wide zap core used by loggers created
// afterwards with New. Level is one of debug, info, warn, error; format is
// json or console.
func Configure(level, format string) error {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToLower(format) {
	case "", "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	case "console", "text":
		cfg = zap.NewDevelopmentConfig()
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}

	z, err := cfg.Build()
	if err != nil {
		return err
	}
	SetBase(z)
	return nil
}

// SetBase replaces the process-wide zap logger.
func SetBase(z *zap.Logger) {
	if z == nil {
		z = zap.NewNop()
	}
	baseMu.Lock()
	base = z
	baseMu.Unlock()
}

// Sync flushes the process-wide logger.
func Sync() {
	baseMu.RLock()
	z := base
	baseMu.RUnlock()
	_ = z.Sync()
}

// New creates a Logger for the specified component on top of the
// process-wide core.
func New(component string) *Logger {
	baseMu.RLock()
	z := base
	baseMu.RUnlock()
	return NewWithZap(component, z)
}

// NewWithZap creates a Logger for the component backed by z.
func NewWithZap(component string, z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}
	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}
	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
		z: z.With(
			zap.String(KeyComponent, component),
			zap.String(KeyInstanceID, instanceID),
			zap.String(KeyContainer, container),
		),
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{Component: "nop", z: zap.NewNop()}
}

// With returns a child logger carrying the extra fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	child := *l
	child.z = l.zap().With(fields...)
	return &child
}

// ForConnection scopes the logger to one connection id.
func (l *Logger) ForConnection(connectionID string) *Logger {
	return l.With(ConnectionID(connectionID))
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap()
}

func (l *Logger) zap() *zap.Logger {
	if l == nil || l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap().Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap().Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap().Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap().Error(msg, fields...) }

// InfoWithDuration logs an info message with a duration_ms field.
func (l *Logger) InfoWithDuration(msg string, d time.Duration, fields ...zap.Field) {
	l.zap().Info(msg, append(fields, DurationMS(d))...)
}

// ErrorWithCode logs an error with an HTTP status code.
func (l *Logger) ErrorWithCode(msg string, statusCode int, err error, fields ...zap.Field) {
	fields = append(fields, zap.Int(KeyStatusCode, statusCode))
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.zap().Error(msg, fields...)
}

// ConnectionID is the field for a logical connection id.
func ConnectionID(id string) zap.Field { return zap.String(KeyConnectionID, id) }

// RequestID is the field for a request or query correlation id.
func RequestID(id string) zap.Field { return zap.String(KeyRequestID, id) }

// Operation is the field for the tool operation name.
func Operation(name string) zap.Field { return zap.String(KeyOperation, name) }

// DurationMS renders d as fractional milliseconds.
func DurationMS(d time.Duration) zap.Field {
	return zap.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}
