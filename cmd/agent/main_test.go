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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	t.Setenv("SQLGATE_CONFIG", "")
	t.Setenv("SECURITY_READONLY", "")

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr bool
	}{
		{"select allowed", []string{"validate", "SELECT id FROM orders WHERE id = $1"}, "ALLOWED", false},
		{"mysql backticks", []string{"validate", "--dialect", "mysql", "SELECT `id` FROM `orders`"}, "ALLOWED", false},
		{"drop rejected", []string{"validate", "DROP TABLE orders"}, "REJECTED statement rejected (OPERATION_NOT_ALLOWED)", true},
		{"stacked rejected", []string{"validate", "SELECT 1; DELETE FROM orders"}, "REJECTED", true},
		{"unknown dialect", []string{"validate", "--dialect", "oracle", "SELECT 1"}, "unsupported dialect", true},
		{"missing statement", []string{"validate"}, "accepts 1 arg", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCmd(t, tt.args...)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestValidateCommand_ReadonlyFromConfig(t *testing.T) {
	t.Setenv("SECURITY_READONLY", "")
	path := filepath.Join(t.TempDir(), "sqlgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("security:\n  readonly_mode: true\n"), 0o600))

	out, err := runCmd(t, "validate", "--config", path, "UPDATE orders SET status = 'x' WHERE id = 1")
	assert.Error(t, err)
	assert.Contains(t, out, "READONLY_VIOLATION")

	out, err = runCmd(t, "validate", "--config", path, "SELECT 1")
	assert.NoError(t, err)
	assert.Contains(t, out, "ALLOWED")
}

func TestVersionFlag(t *testing.T) {
	out, err := runCmd(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
