// Package cli provides agentctl, the operator command line for the
// auto-reply service.
package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/suPer8Hu/autoreply-agent/internal/app"
	"github.com/suPer8Hu/autoreply-agent/internal/config"
	"github.com/suPer8Hu/autoreply-agent/internal/logx"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	verbose bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Operate the Facebook and Instagram auto-reply agent",
	Long: `agentctl manages the auto-reply agent's database from the command line.

It reads the same environment (and .env file) as the server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		env := cfg.Environment()
		if !verbose && !env.IsProduction() {
			env = config.Production
		}
		logx.Init(env)
		return nil
	},
}

// openApp builds the application without the HTTP surface and refuses to run
// degraded.
func openApp(ctx context.Context) (*app.App, error) {
	a, err := app.New(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return nil, err
	}
	if a.Degraded() {
		_ = a.Close()
		return nil, app.ErrDegraded
	}
	return a, nil
}

// Execute runs the root command; ctx is cancelled on SIGINT/SIGTERM by main.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(previewCmd)
}
