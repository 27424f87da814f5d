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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"axonflow/sqlgate/agent"
	"axonflow/sqlgate/connectors/base"
	"axonflow/sqlgate/connectors/config"
	"axonflow/sqlgate/connectors/mysql"
	"axonflow/sqlgate/connectors/postgres"
	"axonflow/sqlgate/connectors/security"
	"axonflow/sqlgate/shared/logger"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agent",
		Short:        "SQL gateway agent",
		Long:         `agent manages pooled PostgreSQL and MySQL connections and runs validated, parameterized statements on behalf of tool callers.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent HTTP server",
		Long: `Run the agent HTTP server until SIGINT or SIGTERM.

Pre-declared connections from the config file are added in the background
with exponential backoff.

Examples:
  agent serve --config /etc/sqlgate/sqlgate.yaml
  SERVER_ADDR=:9090 agent serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := agent.NewServer(ctx, cfg)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", os.Getenv("SQLGATE_CONFIG"), "Path to the YAML config file")
	return cmd
}

func validateCmd() *cobra.Command {
	var (
		dialectName string
		configPath  string
	)

	cmd := &cobra.Command{
		Use:   "validate [statement]",
		Short: "Check a statement against the security policy without running it",
		Long: `Check a statement against the configured security policy offline.

The command exits non-zero when the statement is rejected.

Examples:
  agent validate --dialect postgres "SELECT * FROM orders"
  SECURITY_READONLY=true agent validate --dialect mysql "DELETE FROM t"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var dialect base.Dialect
			switch dialectName {
			case postgres.Name:
				dialect = postgres.New()
			case mysql.Name:
				dialect = mysql.New()
			default:
				return fmt.Errorf("unsupported dialect %q", dialectName)
			}

			err = security.NewValidator().Validate(args[0], cfg.Security.Normalized(), dialect.Syntax())
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "REJECTED %s\n", err)
				return fmt.Errorf("statement rejected")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ALLOWED")
			return nil
		},
	}

	cmd.Flags().StringVar(&dialectName, "dialect", postgres.Name, "SQL dialect: postgres or mysql")
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("SQLGATE_CONFIG"), "Path to the YAML config file")
	return cmd
}
