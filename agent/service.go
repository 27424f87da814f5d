// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/executor"
	"axonflow/sqlgate/connectors/registry"
	"axonflow/sqlgate/connectors/schema"
	"axonflow/sqlgate/shared/logger"
)

// Service is the operation surface behind the tool endpoint.
type Service struct {
	registry  *registry.Registry
	executor  *executor.Executor
	inspector *schema.Inspector
	limiter   RateLimiter
	log       *logger.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRateLimiter limits statement-running tools per connection.
func WithRateLimiter(l RateLimiter) ServiceOption {
	return func(s *Service) { s.limiter = l }
}

// WithServiceLogger sets the service logger.
func WithServiceLogger(l *logger.Logger) ServiceOption {
	return func(s *Service) { s.log = l }
}

// NewService wires the registry, executor and inspector together.
func NewService(reg *registry.Registry, exec *executor.Executor, insp *schema.Inspector, opts ...ServiceOption) *Service {
	s := &Service{
		registry:  reg,
		executor:  exec,
		inspector: insp,
		log:       logger.New("agent"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddConnection registers a new pool.
func (s *Service) AddConnection(ctx context.Context, cfg base.ConnectionConfig) error {
	if err := s.registry.AddConnection(ctx, cfg); err != nil {
		s.log.Warn("Add connection failed", logger.ConnectionID(base.SanitizeLogString(cfg.ID)),
			zap.String("code", string(base.CodeOf(err))))
		return err
	}
	return nil
}

// RemoveConnection drains and closes a pool.
func (s *Service) RemoveConnection(ctx context.Context, connectionID string) error {
	err := s.registry.RemoveConnection(ctx, connectionID)
	if errors.Is(err, base.ErrNotFound) {
		return err
	}
	if f, ok := s.limiter.(interface{ Forget(string) }); ok {
		f.Forget(connectionID)
	}
	return err
}

// TestConnection pings a connection. Unknown ids report not_found.
func (s *Service) TestConnection(ctx context.Context, connectionID string) base.HealthStatus {
	return s.registry.TestConnection(ctx, connectionID)
}

// ListConnections summarizes every registered connection.
// ListConnections reports each connection with the readonly flag of its
// effective policy.
func (s *Service) ListConnections() []base.ConnectionSummary {
	conns := s.registry.ListConnections()
	for i := range conns {
		if h, err := s.registry.Get(conns[i].ConnectionID); err == nil {
			conns[i].Readonly = s.executor.PolicyFor(h).ReadonlyMode
		}
	}
	return conns
}

// QueryHistory returns a connection's recent operations, oldest first.
func (s *Service) QueryHistory(connectionID string) ([]base.QueryRecord, error) {
	return s.registry.QueryHistory(connectionID)
}

func (s *Service) ExecuteQuery(ctx context.Context, req base.QueryRequest) (*base.QueryResult, error) {
	return s.executor.Execute(ctx, req)
}

// ExecuteTransaction always returns a result; err is set when the
// transaction did not commit.
func (s *Service) ExecuteTransaction(ctx context.Context, req base.TransactionRequest) (*base.TransactionResult, error) {
	return s.executor.ExecuteTransaction(ctx, req)
}

// BatchExecute always returns a result; err is set only when the batch as
// a whole failed.
func (s *Service) BatchExecute(ctx context.Context, req base.BatchRequest) (*base.BatchResult, error) {
	return s.executor.ExecuteBatch(ctx, req)
}

func (s *Service) GetTableSchema(ctx context.Context, connectionID, table, schemaName string) (*base.TableSchema, error) {
	return s.inspector.GetTableSchema(ctx, connectionID, table, schemaName)
}

func (s *Service) ListTables(ctx context.Context, connectionID, schemaName string) ([]base.TableInfo, error) {
	return s.inspector.ListTables(ctx, connectionID, schemaName)
}

func (s *Service) ListSchemas(ctx context.Context, connectionID string) ([]string, error) {
	return s.inspector.ListSchemas(ctx, connectionID)
}

func (s *Service) ExplainQuery(ctx context.Context, req schema.ExplainRequest) (*base.ExplainResult, error) {
	return s.inspector.Explain(ctx, req)
}

// PoolStats exposes pool statistics for the Prometheus collector.
func (s *Service) PoolStats() map[string]base.PoolStats {
	return s.registry.PoolStats()
}

// Close drains every pool.
func (s *Service) Close(ctx context.Context) error {
	return s.registry.Close(ctx)
}

// allow applies the rate limiter to a statement-running tool call.
func (s *Service) allow(ctx context.Context, connectionID, op string) error {
	if s.limiter == nil || connectionID == "" {
		return nil
	}
	if err := s.limiter.Allow(ctx, connectionID); err != nil {
		s.log.Warn("Rate limit exceeded", logger.ConnectionID(connectionID), logger.Operation(op))
		return base.NewError(base.KindPool, base.CodeRateLimited, connectionID, op, err.Error(), err).Retry()
	}
	return nil
}
