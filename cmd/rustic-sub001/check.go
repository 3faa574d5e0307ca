package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustic-rs/rustic-sub001/internal/checker"
)

type checkOptions struct {
	global   globalOptions
	ReadData bool
}

func newCheckCommand() *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check [flags]",
		Short: "Check the repository for errors",
		Long: `
The "check" command verifies that every pack the index references actually
exists in the backend with the expected size, that every snapshot's tree is
fully reachable, and (with --read-data) that every blob's bytes really
decrypt to what the index claims.
`,
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), opts)
		},
	}
	opts.global.addFlags(cmd.Flags())
	cmd.Flags().BoolVar(&opts.ReadData, "read-data", false, "read and verify every pack's data (expensive)")
	return cmd
}

func runCheck(ctx context.Context, opts checkOptions) error {
	repo, err := opts.global.open(ctx)
	if err != nil {
		return err
	}

	c := checker.New(repo.Backend(), repo.Store(), repo.Cache(), repo.Key(), repo.Index(), repo.Packs(), checker.Options{
		ReadData: opts.ReadData,
	})

	var failed bool
	report := func(errs []error) {
		for _, e := range errs {
			failed = true
			fmt.Fprintf(os.Stderr, "error: %v\n", e)
		}
	}

	report(c.CheckPacks(ctx))

	sns, err := repo.Snapshots(ctx)
	if err != nil {
		return err
	}
	refs := make([]checker.SnapshotRef, 0, len(sns))
	for _, sn := range sns {
		refs = append(refs, checker.SnapshotRef{ID: *sn.ID(), Tree: sn.Tree})
	}
	report(c.CheckStructure(ctx, refs, repo))

	if repo.Cache() != nil {
		report(c.CheckCache(ctx))
	}
	if hc := repo.HotCold(); hc != nil {
		report(checker.CheckHotCold(ctx, hc))
	}

	if opts.ReadData {
		report(c.ReadData(ctx))
	}

	if failed {
		return fmt.Errorf("check found errors")
	}
	fmt.Fprintln(os.Stdout, "no errors found")
	return nil
}
