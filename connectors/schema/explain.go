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
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/executor"
)

// ExplainRequest asks for the plan of one statement.
type ExplainRequest struct {
	ConnectionID    string                 `json:"connection_id"`
	Statement       string                 `json:"statement"`
	Parameters      []interface{}          `json:"parameters,omitempty"`
	NamedParameters map[string]interface{} `json:"named_parameters,omitempty"`
	// Analyze executes the statement to collect actual timings. It always
	// runs in a transaction that is rolled back.
	Analyze bool `json:"analyze,omitempty"`
}

// Explain returns the execution plan of req.Statement. The verb allow-list
// applies only when the statement is executed (Analyze).
func (i *Inspector) Explain(ctx context.Context, req ExplainRequest) (res *base.ExplainResult, err error) {
	ctx, done := i.observe(ctx, OpExplain, req.ConnectionID)
	defer func() { done(err) }()
	start := i.now()

	h, err := i.exec.Handle(req.ConnectionID, OpExplain)
	if err != nil {
		return nil, err
	}
	d := h.Dialect()
	v, policy := i.exec.Validator(), i.exec.PolicyFor(h)
	verr := v.ValidateExplainTarget(req.Statement, policy, d.Syntax(), req.Analyze)
	if verr == nil && req.Analyze {
		verr = v.Validate(req.Statement, policy, d.Syntax())
	}
	if verr != nil {
		return nil, base.ValidationError(h.ID(), OpExplain, verr)
	}

	stmt, args, err := i.exec.Bind(h, OpExplain, req.Statement, req.Parameters, req.NamedParameters)
	if err != nil {
		return nil, err
	}
	wrapped, format := d.ExplainStatement(stmt, req.Analyze)

	out, err := i.exec.QueryTrusted(ctx, executor.TrustedQuery{
		ConnectionID:  h.ID(),
		Operation:     OpExplain,
		Statement:     wrapped,
		Args:          args,
		RollbackAfter: req.Analyze,
	})
	if err != nil {
		return nil, err
	}

	res = &base.ExplainResult{Format: format, Analyzed: req.Analyze}
	if format == base.ExplainJSON {
		if plan, ok := jsonPlan(out); ok {
			res.Plan = plan
		} else {
			res.Format = base.ExplainText
			res.Lines = textPlan(out)
		}
	} else {
		res.Lines = textPlan(out)
	}
	res.ExecutionTimeMs = i.now().Sub(start).Milliseconds()
	return res, nil
}

// jsonPlan reads a JSON plan from the first cell of the result.
func jsonPlan(out *base.QueryResult) (json.RawMessage, bool) {
	rows := cells(out)
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, false
	}
	var raw []byte
	switch v := rows[0][0].(type) {
	case json.RawMessage:
		raw = v
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return nil, false
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') || !json.Valid(trimmed) {
		return nil, false
	}
	return json.RawMessage(trimmed), true
}

// textPlan takes the last column of every row, splitting multi-line cells.
func textPlan(out *base.QueryResult) []string {
	lines := []string{}
	for _, r := range cells(out) {
		if len(r) == 0 {
			continue
		}
		for _, l := range strings.Split(asString(r[len(r)-1]), "\n") {
			if strings.TrimSpace(l) != "" {
				lines = append(lines, l)
			}
		}
	}
	return lines
}
