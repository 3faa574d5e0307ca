package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustic-rs/rustic-sub001/internal/errors"
)

// forgetOptions only implements a --keep-last retention policy; the
// teacher's full keep-hourly/daily/weekly/monthly/yearly/tag/within
// policy engine is out of scope here.
type forgetOptions struct {
	global               globalOptions
	Host                 string
	Tags                 []string
	KeepLast             int
	UnsafeAllowRemoveAll bool
	DryRun               bool
	Prune                bool
}

func newForgetCommand() *cobra.Command {
	var opts forgetOptions

	cmd := &cobra.Command{
		Use:   "forget [flags]",
		Short: "Remove snapshots according to a retention policy",
		Long: `
The "forget" command removes snapshots. Without any retention flags it
removes nothing. This build supports only --keep-last; run "prune"
afterwards (or pass --prune) to actually reclaim the space.
`,
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runForget(cmd.Context(), opts)
		},
	}
	opts.global.addFlags(cmd.Flags())
	f := cmd.Flags()
	f.StringVarP(&opts.Host, "host", "H", "", "only consider snapshots for this `hostname`")
	f.StringSliceVar(&opts.Tags, "tag", nil, "only consider snapshots with this `tag` (can be given multiple times)")
	f.IntVarP(&opts.KeepLast, "keep-last", "l", 0, "keep the last `n` matching snapshots (0: keep all)")
	f.BoolVar(&opts.UnsafeAllowRemoveAll, "unsafe-allow-remove-all", false, "allow removing every matching snapshot")
	f.BoolVarP(&opts.DryRun, "dry-run", "n", false, "do not delete anything, just print what would be done")
	f.BoolVar(&opts.Prune, "prune", false, "automatically run prune if snapshots have been removed")
	return cmd
}

func runForget(ctx context.Context, opts forgetOptions) error {
	repo, err := opts.global.open(ctx)
	if err != nil {
		return err
	}

	sns, err := repo.Snapshots(ctx)
	if err != nil {
		return err
	}

	var matched []int
	for i, sn := range sns {
		if opts.Host != "" && sn.Hostname != opts.Host {
			continue
		}
		if len(opts.Tags) > 0 && !sn.HasTags(opts.Tags) {
			continue
		}
		matched = append(matched, i)
	}

	if opts.KeepLast <= 0 {
		fmt.Fprintln(os.Stdout, "no retention policy given, nothing to do")
		return nil
	}
	if opts.KeepLast >= len(matched) {
		fmt.Fprintln(os.Stdout, "nothing to remove")
		return nil
	}

	toRemove := matched[:len(matched)-opts.KeepLast]
	if len(toRemove) == len(sns) && !opts.UnsafeAllowRemoveAll {
		return errors.Fatal("refusing to remove every snapshot in the repository, pass --unsafe-allow-remove-all")
	}

	for _, i := range toRemove {
		sn := sns[i]
		fmt.Fprintf(os.Stdout, "%v snapshot %v\n", map[bool]string{true: "would remove", false: "removing"}[opts.DryRun], sn.ID().Str())
		if opts.DryRun {
			continue
		}
		if err := repo.DeleteSnapshot(ctx, *sn.ID()); err != nil {
			return errors.Wrapf(err, "remove snapshot %v", sn.ID())
		}
	}

	if opts.Prune && len(toRemove) > 0 {
		fmt.Fprintln(os.Stdout, "running prune")
		return runPrune(ctx, pruneOptions{global: opts.global, DryRun: opts.DryRun})
	}
	return nil
}
