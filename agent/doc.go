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

/*
Package agent exposes the connection pool manager and the secure query
engine as a set of tools served over HTTP.

# Overview

The agent owns one connection registry. Every tool call names a
connection by its caller-assigned id; statements are validated against
the connection's security policy before a pooled connection is leased.

	Client → POST /mcp/tools/{name} → Service → Executor / Inspector → Pool → Database

# Tools

  - add_connection, remove_connection, test_connection, list_connections
  - execute_query, execute_transaction, batch_execute
  - get_table_schema, list_tables, list_schemas, explain_query

# Endpoints

  - GET  /health
  - GET  /metrics (Prometheus)
  - GET  /mcp/tools
  - POST /mcp/tools/{name}
  - GET  /mcp/connections
  - GET  /mcp/connections/{id}/health

# Authentication and Rate Limiting

When a JWT secret is configured, every /mcp route requires an HS256
bearer token. Statement-running tools are rate limited per connection,
in Redis when REDIS_URL is set and in memory otherwise.
*/
package agent
