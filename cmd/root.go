// Package cmd is the CLI entrypoint (6): one positional argument selects
// the mode ("bot" or "gateway", default "bot"); everything else is
// configured via the environment variables named in §6.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/goclaw/internal/tracing"
)

// Version is set at build time via -ldflags "-X .../cmd.Version=v1.0.0".
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "goclaw [bot|gateway]",
	Short: "goclaw — autonomous coding-agent runtime",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode := "bot"
		if len(args) == 1 {
			mode = args[0]
		}
		switch mode {
		case "bot":
			return runBot(cmd.Context())
		case "gateway":
			return runGateway(cmd.Context())
		default:
			return fmt.Errorf("unknown mode %q (expected \"bot\" or \"gateway\")", mode)
		}
	},
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("goclaw %s\n", Version)
		},
	})
}

// Execute runs the root cobra command. Exit codes per §6: 0 clean
// shutdown, 1 missing required env or fatal protocol parse error.
func Execute() {
	ctx := context.Background()
	shutdownTracing, err := tracing.Init(ctx, "goclaw")
	if err != nil {
		fmt.Fprintln(os.Stderr, "goclaw: tracing init:", err)
		os.Exit(1)
	}
	defer shutdownTracing(ctx)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "goclaw:", err)
		os.Exit(1)
	}
}
