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

package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/sqlgate/connectors/base"
)

func TestAsInt64(t *testing.T) {
	tests := []struct {
		in   interface{}
		want *int64
	}{
		{nil, nil},
		{int64(4), ptr(4)},
		{int32(5), ptr(5)},
		{uint64(6), ptr(6)},
		{float64(7), ptr(7)},
		{"8", ptr(8)},
		{[]byte(" 9 "), ptr(9)},
		{"x", nil},
		{true, nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, asInt64(tt.in), "%#v", tt.in)
	}
}

func ptr(n int64) *int64 { return &n }

func TestAsBool(t *testing.T) {
	for _, v := range []interface{}{true, "YES", "t", "1", []byte("true"), int64(1)} {
		assert.True(t, asBool(v), "%#v", v)
	}
	for _, v := range []interface{}{false, nil, "NO", "f", "0", int64(0), "maybe"} {
		assert.False(t, asBool(v), "%#v", v)
	}
}

func TestParseIndexes_GroupsColumns(t *testing.T) {
	rows := [][]interface{}{
		{"b_idx", "x", false, false, ""},
		{"a_pk", "id", true, true, ""},
		{"b_idx", "y", false, false, ""},
	}
	idx := parseIndexes(rows)
	require.Len(t, idx, 2)
	assert.Equal(t, "b_idx", idx[0].Name)
	assert.Equal(t, []string{"x", "y"}, idx[0].Columns)
	assert.True(t, idx[1].Primary)
}

func TestPrimaryKeys_FallsBackToIndex(t *testing.T) {
	indexes := []base.IndexInfo{{Name: "PRIMARY", Columns: []string{"a", "b"}, Primary: true}}
	assert.Equal(t, []string{"a", "b"}, primaryKeys(nil, indexes))

	constraints := []base.ConstraintInfo{
		{Name: "pk", Type: "PRIMARY KEY", Column: "b"},
		{Name: "pk", Type: "PRIMARY KEY", Column: "a"},
		{Name: "fk", Type: "FOREIGN KEY", Column: "c"},
	}
	assert.Equal(t, []string{"b", "a"}, primaryKeys(constraints, indexes))
	assert.Empty(t, primaryKeys(nil, nil))
}

func TestTextAndJSONPlans(t *testing.T) {
	res := &base.QueryResult{
		Columns: []base.Column{{Name: "id"}, {Name: "detail"}},
		Rows: []map[string]interface{}{
			{"id": int64(2), "detail": "SCAN orders"},
			{"id": int64(3), "detail": "-> Filter\n   -> Table scan\n"},
		},
	}
	assert.Equal(t, []string{"SCAN orders", "-> Filter", "   -> Table scan"}, textPlan(res))

	_, ok := jsonPlan(res)
	assert.False(t, ok)

	res = &base.QueryResult{
		Columns: []base.Column{{Name: "EXPLAIN"}},
		Rows:    []map[string]interface{}{{"EXPLAIN": json.RawMessage(`{"query_block":{}}`)}},
	}
	plan, ok := jsonPlan(res)
	require.True(t, ok)
	assert.JSONEq(t, `{"query_block":{}}`, string(plan))
}
