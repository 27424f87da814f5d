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
	"fmt"
	"math"
	"strconv"
	"strings"

	"axonflow/sqlgate/connectors/base"
)

// cells returns result rows as positional slices in column order.
func cells(res *base.QueryResult) [][]interface{} {
	out := make([][]interface{}, 0, len(res.Rows))
	for _, row := range res.Rows {
		vals := make([]interface{}, len(res.Columns))
		for i, c := range res.Columns {
			vals[i] = row[c.Name]
		}
		out = append(out, vals)
	}
	return out
}

func parseColumns(rows [][]interface{}) []base.ColumnInfo {
	out := make([]base.ColumnInfo, 0, len(rows))
	for _, r := range rows {
		col := base.ColumnInfo{
			Name:      asString(r[0]),
			DataType:  asString(r[2]),
			Nullable:  asBool(r[3]),
			MaxLength: asInt64(r[5]),
			Precision: asInt64(r[6]),
			Scale:     asInt64(r[7]),
			Comment:   asString(r[8]),
		}
		if n := asInt64(r[1]); n != nil {
			col.OrdinalPosition = int(*n)
		}
		if r[4] != nil {
			def := asString(r[4])
			col.Default = &def
		}
		out = append(out, col)
	}
	return out
}

// parseIndexes folds one-row-per-column index listings into indexes,
// keeping first-seen order.
func parseIndexes(rows [][]interface{}) []base.IndexInfo {
	out := []base.IndexInfo{}
	pos := map[string]int{}
	for _, r := range rows {
		name := asString(r[0])
		i, ok := pos[name]
		if !ok {
			i = len(out)
			pos[name] = i
			out = append(out, base.IndexInfo{
				Name:       name,
				Columns:    []string{},
				Unique:     asBool(r[2]),
				Primary:    asBool(r[3]),
				Definition: asString(r[4]),
			})
		}
		if col := asString(r[1]); col != "" {
			out[i].Columns = append(out[i].Columns, col)
		}
	}
	return out
}

func parseConstraints(rows [][]interface{}) []base.ConstraintInfo {
	out := make([]base.ConstraintInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, base.ConstraintInfo{
			Name:          asString(r[0]),
			Type:          strings.ToUpper(asString(r[1])),
			Column:        asString(r[2]),
			ForeignTable:  asString(r[3]),
			ForeignColumn: asString(r[4]),
		})
	}
	return out
}

// primaryKeys lists primary key columns in key order, from the constraint
// listing or, failing that, from the primary index.
func primaryKeys(constraints []base.ConstraintInfo, indexes []base.IndexInfo) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, c := range constraints {
		if c.Type == "PRIMARY KEY" && c.Column != "" && !seen[c.Column] {
			seen[c.Column] = true
			out = append(out, c.Column)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, idx := range indexes {
		if idx.Primary {
			return append(out, idx.Columns...)
		}
	}
	return out
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.RawMessage:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// asInt64 reads catalog numbers, which drivers return as integers, floats
// or text. nil and unparsable values give nil.
func asInt64(v interface{}) *int64 {
	var n int64
	switch t := v.(type) {
	case int64:
		n = t
	case int32:
		n = int64(t)
	case int:
		n = int64(t)
	case uint64:
		if t > math.MaxInt64 {
			return nil
		}
		n = int64(t)
	case float64:
		n = int64(t)
	case float32:
		n = int64(t)
	case string, []byte:
		parsed, err := strconv.ParseInt(strings.TrimSpace(asString(t)), 10, 64)
		if err != nil {
			return nil
		}
		n = parsed
	default:
		return nil
	}
	return &n
}

func asBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case nil:
		return false
	case string, []byte:
		switch strings.ToUpper(strings.TrimSpace(asString(t))) {
		case "YES", "Y", "TRUE", "T", "1":
			return true
		}
		return false
	default:
		n := asInt64(t)
		return n != nil && *n != 0
	}
}
