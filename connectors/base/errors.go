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

package base

import (
	"context"
	"errors"
	"strings"

	"axonflow/sqlgate/connectors/security"
)

// Kind is the caller-visible error family.
type Kind string

const (
	KindValidation     Kind = "VALIDATION_ERROR"
	KindConnection     Kind = "CONNECTION_ERROR"
	KindPool           Kind = "POOL_ERROR"
	KindExecution      Kind = "EXECUTION_ERROR"
	KindRollbackFailed Kind = "ROLLBACK_FAILED"
)

// Code narrows a Kind to a specific condition.
type Code string

const (
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeDuplicateConnectionID Code = "DUPLICATE_CONNECTION_ID"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConnectError          Code = "CONNECT_ERROR"
	CodeInvalidConfig         Code = "INVALID_CONFIG"
	CodeForciblyClosed        Code = "FORCIBLY_CLOSED"
	CodePoolClosed            Code = "POOL_CLOSED"
	CodePoolExhausted         Code = "POOL_EXHAUSTED"
	CodeCanceled              Code = "CANCELED"
	CodeSQLError              Code = "SQL_ERROR"
	CodeQueryTimeout          Code = "QUERY_TIMEOUT"
	CodeCommitFailed          Code = "COMMIT_FAILED"
	CodeRollbackFailed        Code = "ROLLBACK_FAILED"
	CodeTableNotFound         Code = "TABLE_NOT_FOUND"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeUnauthorized          Code = "UNAUTHORIZED"
)

// Error is the single error type that crosses the package boundary. Its
// message is always bounded and redacted; Cause stays in-process for
// errors.As and is never serialized.
type Error struct {
	Kind         Kind   `json:"kind"`
	Code         Code   `json:"code"`
	Message      string `json:"message"`
	Retryable    bool   `json:"retryable"`
	ConnectionID string `json:"connection_id,omitempty"`
	Operation    string `json:"operation,omitempty"`
	SQLState     string `json:"sql_state,omitempty"`
	Cause        error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString("/")
	b.WriteString(string(e.Code))
	if e.ConnectionID != "" {
		b.WriteString(" [")
		b.WriteString(e.ConnectionID)
		b.WriteString("]")
	}
	if e.Operation != "" {
		b.WriteString(" ")
		b.WriteString(e.Operation)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by Code, so errors.Is(err, ErrPoolExhausted)
// works for any pool-exhausted error regardless of connection or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Kind == "" || t.Kind == e.Kind)
}

// Sentinels for errors.Is.
var (
	ErrInvalidRequest        = &Error{Code: CodeInvalidRequest}
	ErrDuplicateConnectionID = &Error{Code: CodeDuplicateConnectionID}
	ErrNotFound              = &Error{Code: CodeNotFound}
	ErrConnect               = &Error{Code: CodeConnectError}
	ErrInvalidConfig         = &Error{Code: CodeInvalidConfig}
	ErrForciblyClosed        = &Error{Code: CodeForciblyClosed}
	ErrPoolClosed            = &Error{Code: CodePoolClosed}
	ErrPoolExhausted         = &Error{Code: CodePoolExhausted}
	ErrCanceled              = &Error{Code: CodeCanceled}
	ErrSQL                   = &Error{Code: CodeSQLError}
	ErrQueryTimeout          = &Error{Code: CodeQueryTimeout}
	ErrCommitFailed          = &Error{Code: CodeCommitFailed}
	ErrRollbackFailed        = &Error{Code: CodeRollbackFailed}
	ErrTableNotFound         = &Error{Code: CodeTableNotFound}
)

// NewError creates an Error with a sanitized message.
func NewError(kind Kind, code Code, connectionID, operation, message string, cause error) *Error {
	return &Error{
		Kind:         kind,
		Code:         code,
		Message:      SafeMessage(message),
		ConnectionID: connectionID,
		Operation:    operation,
		Cause:        cause,
	}
}

// Retry marks the error retryable.
func (e *Error) Retry() *Error {
	e.Retryable = true
	return e
}

// Redacting returns a copy of e with every secret scrubbed from the message.
func (e *Error) Redacting(secrets ...string) *Error {
	out := *e
	out.Message = SafeMessage(e.Message, secrets...)
	return &out
}

// ValidationError wraps a policy rejection.
func ValidationError(connectionID, operation string, err error) *Error {
	var rej *security.RejectionError
	if errors.As(err, &rej) {
		return NewError(KindValidation, Code(rej.Reason), connectionID, operation, rej.Error(), err)
	}
	return NewError(KindValidation, CodeInvalidRequest, connectionID, operation, err.Error(), err)
}

// InvalidRequest reports a malformed caller payload.
func InvalidRequest(connectionID, operation, message string) *Error {
	return NewError(KindValidation, CodeInvalidRequest, connectionID, operation, message, nil)
}

// NotFound reports an unknown connection id.
func NotFound(connectionID, operation string) *Error {
	return NewError(KindConnection, CodeNotFound, connectionID, operation, "connection not found", nil)
}

// AsError converts any error into an *Error, keeping an existing one as is.
// Context errors map to CANCELED or QUERY_TIMEOUT.
func AsError(err error, connectionID, operation string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(KindExecution, CodeQueryTimeout, connectionID, operation, "operation timed out", err).Retry()
	case errors.Is(err, context.Canceled):
		return NewError(KindPool, CodeCanceled, connectionID, operation, "operation canceled", err)
	}
	return NewError(KindExecution, CodeSQLError, connectionID, operation, err.Error(), err)
}

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the Code of err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
