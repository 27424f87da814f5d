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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"go.uber.org/zap"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/shared/logger"
)

// EnvRefPrefix marks a secret reference resolved from environment
// variables, e.g. "env:ORDERS_DB" reads ORDERS_DB_USERNAME and
// ORDERS_DB_PASSWORD.
const EnvRefPrefix = "env:"

// SecretsManager retrieves a secret as a flat string map.
type SecretsManager interface {
	GetSecret(ctx context.Context, ref string) (map[string]string, error)
}

// secretsAPI is the subset of the Secrets Manager client used here.
type secretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager implements SecretsManager using AWS Secrets Manager
type AWSSecretsManager struct {
	client secretsAPI
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	now    func() time.Time
	log    *logger.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *logger.Logger
}

// NewAWSSecretsManager creates a client from the default AWS credential
// chain.
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newAWSSecretsManager(secretsmanager.NewFromConfig(cfg), opts), nil
}

func newAWSSecretsManager(client secretsAPI, opts AWSSecretsManagerOptions) *AWSSecretsManager {
	l := opts.Logger
	if l == nil {
		l = logger.New("secrets_manager")
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultSecretsCacheTTL
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		now:    time.Now,
		log:    l,
	}
}

// GetSecret retrieves a secret. The value is expected to be a JSON object
// with string values; anything else is returned under the "value" key.
func (s *AWSSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[secretARN]
	s.mu.RUnlock()

	if exists && s.now().Before(entry.expiresAt) {
		s.log.Debug("Secret cache hit", zap.String("secret", maskARN(secretARN)))
		return entry.value, nil
	}

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		values = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[secretARN] = &secretCacheEntry{
		value:     values,
		expiresAt: s.now().Add(s.ttl),
	}
	s.mu.Unlock()

	s.log.Info("Retrieved secret", zap.String("secret", maskARN(secretARN)))
	return values, nil
}

// InvalidateSecret removes a secret from the cache
func (s *AWSSecretsManager) InvalidateSecret(secretARN string) {
	s.mu.Lock()
	delete(s.cache, secretARN)
	s.mu.Unlock()
}

// InvalidateAll clears the entire secret cache
func (s *AWSSecretsManager) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*secretCacheEntry)
	s.mu.Unlock()
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// EnvSecretsManager reads credentials from PREFIX_USERNAME and
// PREFIX_PASSWORD.
type EnvSecretsManager struct {
	lookup func(string) (string, bool)
}

// NewEnvSecretsManager reads from the process environment.
func NewEnvSecretsManager() *EnvSecretsManager {
	return &EnvSecretsManager{lookup: os.LookupEnv}
}

// GetSecret accepts "env:PREFIX" or a bare prefix.
func (s *EnvSecretsManager) GetSecret(_ context.Context, ref string) (map[string]string, error) {
	prefix := strings.TrimPrefix(ref, EnvRefPrefix)
	if prefix == "" {
		return nil, fmt.Errorf("empty environment secret reference")
	}

	values := make(map[string]string)
	for _, field := range []string{"USERNAME", "PASSWORD"} {
		if v, ok := s.lookup(prefix + "_" + field); ok && v != "" {
			values[strings.ToLower(field)] = v
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no credentials found for prefix %s", prefix)
	}
	return values, nil
}

// CredentialResolver routes secret references to a secrets manager:
// "env:" references go to the environment, everything else to the
// primary manager.
type CredentialResolver struct {
	env     SecretsManager
	primary SecretsManager
}

// NewCredentialResolver returns a resolver. primary may be nil when only
// environment references are in use.
func NewCredentialResolver(primary SecretsManager) *CredentialResolver {
	return &CredentialResolver{env: NewEnvSecretsManager(), primary: primary}
}

// NewSecretsManager builds the manager named by cfg.Provider. It returns
// nil for no provider.
func NewSecretsManager(ctx context.Context, cfg SecretsConfig) (SecretsManager, error) {
	switch strings.ToLower(cfg.Provider) {
	case SecretsProviderNone:
		return nil, nil
	case SecretsProviderEnv:
		return NewEnvSecretsManager(), nil
	case SecretsProviderAWS:
		return NewAWSSecretsManager(ctx, AWSSecretsManagerOptions{
			Region:   cfg.Region,
			CacheTTL: cfg.CacheTTL.Std(),
		})
	default:
		return nil, fmt.Errorf("unknown secrets provider %q", cfg.Provider)
	}
}

// ResolveCredentials fetches ref and reads its username and password
// keys. A secret holding only a bare value is taken as the password.
func (r *CredentialResolver) ResolveCredentials(ctx context.Context, ref string) (base.Credentials, error) {
	manager := r.primary
	if strings.HasPrefix(ref, EnvRefPrefix) {
		manager = r.env
	}
	if manager == nil {
		return base.Credentials{}, fmt.Errorf("no secrets manager configured for %s", maskARN(ref))
	}

	values, err := manager.GetSecret(ctx, ref)
	if err != nil {
		return base.Credentials{}, err
	}
	password, ok := values["password"]
	if !ok {
		password, ok = values["value"]
	}
	if !ok || password == "" {
		return base.Credentials{}, fmt.Errorf("secret %s has no password", maskARN(ref))
	}
	return base.Credentials{
		Username: values["username"],
		Password: base.Secret(password),
	}, nil
}
