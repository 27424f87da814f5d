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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/executor"
	"axonflow/sqlgate/connectors/schema"
)

// Tool names.
const (
	ToolAddConnection      = "add_connection"
	ToolRemoveConnection   = "remove_connection"
	ToolTestConnection     = "test_connection"
	ToolListConnections    = "list_connections"
	ToolExecuteQuery       = executor.OpQuery
	ToolExecuteTransaction = executor.OpTransaction
	ToolBatchExecute       = executor.OpBatch
	ToolGetTableSchema     = schema.OpGetTableSchema
	ToolListTables         = schema.OpListTables
	ToolListSchemas        = schema.OpListSchemas
	ToolExplainQuery       = schema.OpExplain
)

// Tool describes one callable operation.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ConnectionArgs names a connection.
type ConnectionArgs struct {
	ConnectionID string `json:"connection_id"`
}

// TableArgs names a table, optionally in a schema other than the
// connection's default.
type TableArgs struct {
	ConnectionID string `json:"connection_id"`
	TableName    string `json:"table_name"`
	Schema       string `json:"schema,omitempty"`
}

// SchemaArgs names a schema on a connection.
type SchemaArgs struct {
	ConnectionID string `json:"connection_id"`
	Schema       string `json:"schema,omitempty"`
}

type toolFunc func(ctx context.Context, s *Service, args json.RawMessage) (interface{}, error)

type toolSpec struct {
	Tool
	call toolFunc
}

const connectionIDSchema = `{"type":"object","properties":{"connection_id":{"type":"string"}},"required":["connection_id"]}`

var tools = map[string]toolSpec{
	ToolAddConnection: {
		Tool: Tool{
			Name:        ToolAddConnection,
			Description: "Register a PostgreSQL or MySQL connection and create its pool",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"connection_id":{"type":"string"},"dialect":{"enum":["postgres","mysql"]},` +
				`"host":{"type":"string"},"port":{"type":"integer"},"database":{"type":"string"},` +
				`"credentials":{"type":"object"},"pool":{"type":"object"},"policy":{"type":"object"},` +
				`"query_timeout":{"type":["string","number"]},"options":{"type":"object"}},` +
				`"required":["connection_id","dialect","host","database","credentials"]}`),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var cfg base.ConnectionConfig
			if err := decodeArgs(raw, &cfg, ToolAddConnection); err != nil {
				return nil, err
			}
			if err := s.AddConnection(ctx, cfg); err != nil {
				return nil, err
			}
			return ConnectionArgs{ConnectionID: cfg.ID}, nil
		},
	},
	ToolRemoveConnection: {
		Tool: Tool{
			Name:        ToolRemoveConnection,
			Description: "Drain and close a connection pool",
			InputSchema: json.RawMessage(connectionIDSchema),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var args ConnectionArgs
			if err := decodeArgs(raw, &args, ToolRemoveConnection); err != nil {
				return nil, err
			}
			if err := s.RemoveConnection(ctx, args.ConnectionID); err != nil {
				return nil, err
			}
			return args, nil
		},
	},
	ToolTestConnection: {
		Tool: Tool{
			Name:        ToolTestConnection,
			Description: "Ping a connection and report its health and pool statistics",
			InputSchema: json.RawMessage(connectionIDSchema),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var args ConnectionArgs
			if err := decodeArgs(raw, &args, ToolTestConnection); err != nil {
				return nil, err
			}
			return s.TestConnection(ctx, args.ConnectionID), nil
		},
	},
	ToolListConnections: {
		Tool: Tool{
			Name:        ToolListConnections,
			Description: "List registered connections with pool and query statistics",
			InputSchema: json.RawMessage(`{"type":"object"}`),
		},
		call: func(_ context.Context, s *Service, _ json.RawMessage) (interface{}, error) {
			return s.ListConnections(), nil
		},
	},
	ToolExecuteQuery: {
		Tool: Tool{
			Name:        ToolExecuteQuery,
			Description: "Validate and run one parameterized statement",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"connection_id":{"type":"string"},"statement":{"type":"string"},` +
				`"parameters":{"type":"array"},"named_parameters":{"type":"object"},` +
				`"fetch_size":{"type":"integer"},"timeout_seconds":{"type":"integer"}},` +
				`"required":["connection_id","statement"]}`),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var req base.QueryRequest
			if err := decodeArgs(raw, &req, ToolExecuteQuery); err != nil {
				return nil, err
			}
			if err := s.allow(ctx, req.ConnectionID, ToolExecuteQuery); err != nil {
				return nil, err
			}
			res, err := s.ExecuteQuery(ctx, req)
			if err != nil {
				return nil, err
			}
			return res, nil
		},
	},
	ToolExecuteTransaction: {
		Tool: Tool{
			Name:        ToolExecuteTransaction,
			Description: "Run statements atomically on one connection; any failure rolls back",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"connection_id":{"type":"string"},"statements":{"type":"array","items":{"type":"object"}}},` +
				`"required":["connection_id","statements"]}`),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var req base.TransactionRequest
			if err := decodeArgs(raw, &req, ToolExecuteTransaction); err != nil {
				return nil, err
			}
			if err := s.allow(ctx, req.ConnectionID, ToolExecuteTransaction); err != nil {
				return nil, err
			}
			return s.ExecuteTransaction(ctx, req)
		},
	},
	ToolBatchExecute: {
		Tool: Tool{
			Name:        ToolBatchExecute,
			Description: "Run one statement template against many parameter sets",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"connection_id":{"type":"string"},"statement":{"type":"string"},` +
				`"parameter_sets":{"type":"array","items":{"type":"array"}}},` +
				`"required":["connection_id","statement","parameter_sets"]}`),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var req base.BatchRequest
			if err := decodeArgs(raw, &req, ToolBatchExecute); err != nil {
				return nil, err
			}
			if err := s.allow(ctx, req.ConnectionID, ToolBatchExecute); err != nil {
				return nil, err
			}
			return s.BatchExecute(ctx, req)
		},
	},
	ToolGetTableSchema: {
		Tool: Tool{
			Name:        ToolGetTableSchema,
			Description: "Describe a table's columns, keys, indexes and constraints",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"connection_id":{"type":"string"},"table_name":{"type":"string"},"schema":{"type":"string"}},` +
				`"required":["connection_id","table_name"]}`),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var args TableArgs
			if err := decodeArgs(raw, &args, ToolGetTableSchema); err != nil {
				return nil, err
			}
			if err := s.allow(ctx, args.ConnectionID, ToolGetTableSchema); err != nil {
				return nil, err
			}
			ts, err := s.GetTableSchema(ctx, args.ConnectionID, args.TableName, args.Schema)
			if err != nil {
				return nil, err
			}
			return ts, nil
		},
	},
	ToolListTables: {
		Tool: Tool{
			Name:        ToolListTables,
			Description: "List tables and views in a schema",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"connection_id":{"type":"string"},"schema":{"type":"string"}},"required":["connection_id"]}`),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var args SchemaArgs
			if err := decodeArgs(raw, &args, ToolListTables); err != nil {
				return nil, err
			}
			if err := s.allow(ctx, args.ConnectionID, ToolListTables); err != nil {
				return nil, err
			}
			tables, err := s.ListTables(ctx, args.ConnectionID, args.Schema)
			if err != nil {
				return nil, err
			}
			return tables, nil
		},
	},
	ToolListSchemas: {
		Tool: Tool{
			Name:        ToolListSchemas,
			Description: "List user schemas on a connection",
			InputSchema: json.RawMessage(connectionIDSchema),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var args ConnectionArgs
			if err := decodeArgs(raw, &args, ToolListSchemas); err != nil {
				return nil, err
			}
			if err := s.allow(ctx, args.ConnectionID, ToolListSchemas); err != nil {
				return nil, err
			}
			schemas, err := s.ListSchemas(ctx, args.ConnectionID)
			if err != nil {
				return nil, err
			}
			return schemas, nil
		},
	},
	ToolExplainQuery: {
		Tool: Tool{
			Name:        ToolExplainQuery,
			Description: "Return the execution plan of a statement; analyze runs it in a rolled back transaction",
			InputSchema: json.RawMessage(`{"type":"object","properties":{` +
				`"connection_id":{"type":"string"},"statement":{"type":"string"},` +
				`"parameters":{"type":"array"},"named_parameters":{"type":"object"},"analyze":{"type":"boolean"}},` +
				`"required":["connection_id","statement"]}`),
		},
		call: func(ctx context.Context, s *Service, raw json.RawMessage) (interface{}, error) {
			var req schema.ExplainRequest
			if err := decodeArgs(raw, &req, ToolExplainQuery); err != nil {
				return nil, err
			}
			if err := s.allow(ctx, req.ConnectionID, ToolExplainQuery); err != nil {
				return nil, err
			}
			res, err := s.ExplainQuery(ctx, req)
			if err != nil {
				return nil, err
			}
			return res, nil
		},
	},
}

// Tools returns the tool descriptors sorted by name.
func Tools() []Tool {
	out := make([]Tool, 0, len(tools))
	for _, entry := range tools {
		out = append(out, entry.Tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CallTool decodes args and runs the named tool. The result of
// execute_transaction and batch_execute is returned even when err is set.
func (s *Service) CallTool(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	entry, ok := tools[name]
	if !ok {
		return nil, base.InvalidRequest("", name, "unknown tool "+base.SanitizeLogString(name))
	}
	return entry.call(ctx, s, args)
}

// decodeArgs strictly decodes a tool payload. Numbers stay json.Number so
// large integers reach the driver intact.
func decodeArgs(raw json.RawMessage, v interface{}, op string) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return base.InvalidRequest("", op, "invalid arguments: "+err.Error())
	}
	if _, err := dec.Token(); err != io.EOF {
		return base.InvalidRequest("", op, "invalid arguments: trailing data")
	}
	return nil
}
