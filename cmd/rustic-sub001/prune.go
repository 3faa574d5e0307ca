package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/prune"
)

type pruneOptions struct {
	global            globalOptions
	DryRun            bool
	MaxUnused         string
	MaxRepackSize     string
	RepackSmall       bool
	DeleteGracePeriod time.Duration
}

func newPruneCommand() *cobra.Command {
	var opts pruneOptions

	cmd := &cobra.Command{
		Use:   "prune [flags]",
		Short: "Remove unreferenced data and repack partially-used packs",
		Args:  cobra.NoArgs,
		Long: `
The "prune" command reclaims space: it classifies every pack as kept,
repacked or removed based on how much of it live snapshots still reference,
then carries that plan out.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(cmd.Context(), opts)
		},
	}
	opts.global.addFlags(cmd.Flags())
	f := cmd.Flags()
	f.BoolVarP(&opts.DryRun, "dry-run", "n", false, "only print the plan, do not modify the repository")
	f.StringVar(&opts.MaxUnused, "max-unused", "", "tolerate this `fraction` of unused data per pack before repacking it (default: the repository config's tolerance percent, or 30%)")
	f.StringVar(&opts.MaxRepackSize, "max-repack-size", "", "maximum `size` to repack in a single run (allowed suffixes: k/K, m/M, g/G, t/T)")
	f.BoolVar(&opts.RepackSmall, "repack-small", false, "also repack packs below the target pack size")
	f.DurationVar(&opts.DeleteGracePeriod, "delete-grace-period", 24*time.Hour, "how long to hold a fully-unused pack before actually removing it")
	return cmd
}

func runPrune(ctx context.Context, opts pruneOptions) error {
	repo, err := opts.global.open(ctx)
	if err != nil {
		return err
	}

	maxUnused := opts.MaxUnused
	if maxUnused == "" {
		if minPercent, _ := repo.Config().PacksizeTolerancePercent(); minPercent > 0 {
			maxUnused = fmt.Sprintf("%d%%", minPercent)
		} else {
			maxUnused = "30%"
		}
	}
	keepThreshold, err := parsePercent(maxUnused)
	if err != nil {
		return err
	}
	var maxRepackBytes uint64
	if opts.MaxRepackSize != "" {
		maxRepackBytes, err = humanize.ParseBytes(opts.MaxRepackSize)
		if err != nil {
			return errors.Wrapf(err, "invalid --max-repack-size %q", opts.MaxRepackSize)
		}
	}

	sns, err := repo.Snapshots(ctx)
	if err != nil {
		return err
	}
	refs := make([]prune.SnapshotRef, 0, len(sns))
	for _, sn := range sns {
		refs = append(refs, prune.SnapshotRef{ID: *sn.ID(), Tree: sn.Tree})
	}

	planOpts := prune.Options{
		KeepThreshold:     keepThreshold,
		DeleteGracePeriod: opts.DeleteGracePeriod,
		MaxRepackBytes:    maxRepackBytes,
	}
	if opts.RepackSmall {
		planOpts.RepackSmallBelow = 1
	}

	plan, err := prune.PlanPrune(ctx, planOpts, repo.Packs(), repo.PacksToDelete(), refs, repo)
	if err != nil {
		return errors.Wrap(err, "plan prune")
	}

	fmt.Fprintf(os.Stdout, "used: %v, unused: %v, to repack: %v, to remove: %v\n",
		humanize.Bytes(plan.Stats.Used), humanize.Bytes(plan.Stats.Unused),
		humanize.Bytes(plan.Stats.Repack), humanize.Bytes(plan.Stats.Remove))

	if opts.DryRun {
		return nil
	}

	result, err := prune.Execute(ctx, plan, repo.Store(), repo.Backend(), repo.Key(), repo.Config(), repo.IndexIDs())
	if err != nil {
		return errors.Wrap(err, "execute prune")
	}
	fmt.Fprintf(os.Stdout, "wrote index %v, repacked %d packs, removed %d packs\n",
		result.NewIndex.Str(), result.PacksRepacked, result.PacksRemoved)
	return nil
}

func parsePercent(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	trimmed := s
	var pct bool
	if len(s) > 0 && s[len(s)-1] == '%' {
		trimmed = s[:len(s)-1]
		pct = true
	}
	var f float64
	if _, err := fmt.Sscanf(trimmed, "%g", &f); err != nil {
		return 0, errors.Wrapf(err, "invalid --max-unused %q", s)
	}
	if pct {
		f /= 100
	}
	return f, nil
}
