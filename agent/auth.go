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
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/shared/logger"
)

type subjectKey struct{}

// Authenticator validates HS256 bearer tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	log    *logger.Logger
}

// NewAuthenticator returns nil when secret is empty, which disables
// authentication.
func NewAuthenticator(secret string, l *logger.Logger) *Authenticator {
	if secret == "" {
		return nil
	}
	if l == nil {
		l = logger.New("auth")
	}
	return &Authenticator{secret: []byte(secret), log: l}
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, err := a.authenticate(r.Header.Get("Authorization"))
		if err != nil {
			a.log.Warn("Authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="sqlgate"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = fmt.Fprintf(w, `{"success":false,"error":{"kind":%q,"code":%q,"message":"invalid or missing bearer token","retryable":false}}`+"\n",
				base.KindValidation, base.CodeUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), subjectKey{}, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(header string) (string, error) {
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(tokenString) == "" {
		return "", fmt.Errorf("missing bearer token")
	}

	token, err := jwt.Parse(strings.TrimSpace(tokenString), func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("invalid token claims: %w", err)
	}
	return subject, nil
}

// Subject returns the authenticated token subject, or "" when
// authentication is disabled.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}
