package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/rustic-rs/rustic-sub001/internal/errors"
)

func init() {
	// silence the library's own log output; GOMAXPROCS still gets set.
	_, _ = maxprocs.Set()
}

var cmdRoot = &cobra.Command{
	Use:   "rustic-sub001",
	Short: "Deduplicating, encrypted backup",
	Long: `
rustic-sub001 backs up files into a deduplicating, encrypted, content-addressed
repository and restores them again.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmdRoot.AddCommand(
		newInitCommand(),
		newBackupCommand(),
		newSnapshotsCommand(),
		newCheckCommand(),
		newPruneCommand(),
		newForgetCommand(),
	)

	if err := cmdRoot.ExecuteContext(ctx); err != nil {
		if code, ok := exitCode(err); ok {
			os.Exit(code)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// exitCode maps a handful of well-known errors to the stable exit codes
// scripts driving this binary can rely on.
func exitCode(err error) (int, bool) {
	switch {
	case errors.Is(err, errNoRepository):
		return 10, true
	case errors.Is(err, errWrongPassword):
		return 12, true
	default:
		return 0, false
	}
}
