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
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/sqlgate/connectors/config"
	"axonflow/sqlgate/shared/logger"
)

const testJWTSecret = "test-signing-secret-with-enough-length"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestNewAuthenticator_DisabledWithoutSecret(t *testing.T) {
	assert.Nil(t, NewAuthenticator("", logger.Nop()))
}

func TestAuthenticate(t *testing.T) {
	a := NewAuthenticator(testJWTSecret, logger.Nop())
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{
		Subject:   "reporting-bot",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	subject, err := a.authenticate("Bearer " + valid)
	require.NoError(t, err)
	assert.Equal(t, "reporting-bot", subject)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic " + valid},
		{"empty token", "Bearer  "},
		{"garbage", "Bearer not.a.token"},
		{"wrong secret", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("other-secret"), jwt.RegisteredClaims{Subject: "x"})},
		{"wrong algorithm", "Bearer " + signToken(t, jwt.SigningMethodHS512, []byte(testJWTSecret), jwt.RegisteredClaims{Subject: "x"})},
		{"expired", "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{
			Subject:   "x",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.authenticate(tt.header)
			assert.Error(t, err)
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	h := newTestServer(t, func(c *config.Config) { c.Server.JWTSecret = testJWTSecret }).Handler()

	rec := do(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")

	rec = do(t, h, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "metrics stay public")

	rec = do(t, h, http.MethodGet, "/mcp/tools", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	token := signToken(t, jwt.SigningMethodHS256, []byte(testJWTSecret), jwt.RegisteredClaims{Subject: "ci"})
	rec = do(t, h, http.MethodGet, "/mcp/tools", nil, http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/mcp/tools/"+ToolListConnections, "{}", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubject_EmptyWithoutAuth(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, err)
	assert.Empty(t, Subject(req.Context()))
}
