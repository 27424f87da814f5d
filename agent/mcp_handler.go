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
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
)

const (
	// maxRequestBody bounds tool payloads; batches are the largest.
	maxRequestBody = 8 << 20

	healthCheckTimeout = 5 * time.Second
)

// ToolResponse is the envelope of every tool call.
type ToolResponse struct {
	Success bool        `json:"success"`
	Tool    string      `json:"tool"`
	Result  interface{} `json:"result,omitempty"`
	Error   *base.Error `json:"error,omitempty"`
}

// ErrorResponse is returned by non-tool routes.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   *base.Error `json:"error"`
}

// RegisterMCPHandlers registers the tool and connection routes on r.
func (s *Service) RegisterMCPHandlers(r *mux.Router) {
	r.HandleFunc("/mcp/tools", s.mcpListToolsHandler).Methods("GET")
	r.HandleFunc("/mcp/tools/{name}", s.mcpCallToolHandler).Methods("POST")
	r.HandleFunc("/mcp/connections", s.mcpListConnectionsHandler).Methods("GET")
	r.HandleFunc("/mcp/connections/{id}/health", s.mcpConnectionHealthHandler).Methods("GET")
	r.HandleFunc("/mcp/connections/{id}/history", s.mcpConnectionHistoryHandler).Methods("GET")
}

// mcpListToolsHandler lists the tool descriptors
// GET /mcp/tools
func (s *Service) mcpListToolsHandler(w http.ResponseWriter, r *http.Request) {
	list := Tools()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": list,
		"count": len(list),
	})
}

// mcpCallToolHandler runs one tool with the JSON request body as arguments
// POST /mcp/tools/{name}
func (s *Service) mcpCallToolHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := tools[name]; !ok {
		s.sendErrorResponse(w, http.StatusNotFound,
			base.InvalidRequest("", name, "unknown tool "+base.SanitizeLogString(name)))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		s.sendErrorResponse(w, http.StatusRequestEntityTooLarge,
			base.InvalidRequest("", name, "request body too large"))
		return
	}

	s.log.Debug("Tool call", zap.String("tool", name), zap.String("subject", Subject(r.Context())))
	result, err := s.CallTool(r.Context(), name, body)
	resp := ToolResponse{Success: err == nil, Tool: name, Result: result}
	status := http.StatusOK
	if err != nil {
		resp.Error = base.AsError(err, "", name)
		status = statusFor(resp.Error)
	}
	s.writeJSON(w, status, resp)
}

// mcpListConnectionsHandler lists connection summaries
// GET /mcp/connections
func (s *Service) mcpListConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	conns := s.ListConnections()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connections": conns,
		"count":       len(conns),
	})
}

// mcpConnectionHistoryHandler lists recent operations of one connection
// GET /mcp/connections/{id}/history
func (s *Service) mcpConnectionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	history, err := s.QueryHistory(id)
	if err != nil {
		e := base.AsError(err, id, "query_history")
		s.sendErrorResponse(w, statusFor(e), e)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"connection_id": id,
		"history":       history,
		"count":         len(history),
	})
}

// mcpConnectionHealthHandler pings one connection
// GET /mcp/connections/{id}/health
func (s *Service) mcpConnectionHealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := s.TestConnection(ctx, mux.Vars(r)["id"])
	code := http.StatusOK
	switch status.Status {
	case base.StatusNotFound:
		code = http.StatusNotFound
	case base.StatusUnhealthy:
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

// statusFor maps an error to its HTTP status.
func statusFor(e *base.Error) int {
	switch e.Code {
	case base.CodeNotFound, base.CodeTableNotFound:
		return http.StatusNotFound
	case base.CodeDuplicateConnectionID:
		return http.StatusConflict
	case base.CodeRateLimited:
		return http.StatusTooManyRequests
	case base.CodeInvalidRequest, base.CodeInvalidConfig:
		return http.StatusBadRequest
	case base.CodeQueryTimeout:
		return http.StatusGatewayTimeout
	case base.CodeConnectError:
		return http.StatusBadGateway
	}
	switch e.Kind {
	case base.KindValidation:
		return http.StatusForbidden
	case base.KindConnection, base.KindPool:
		return http.StatusServiceUnavailable
	case base.KindExecution:
		if e.Code == base.CodeSQLError {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func (s *Service) sendErrorResponse(w http.ResponseWriter, status int, e *base.Error) {
	s.writeJSON(w, status, ErrorResponse{Success: false, Error: e})
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Error encoding response", zap.Error(err))
	}
}
