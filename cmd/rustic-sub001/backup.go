package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rustic-rs/rustic-sub001/internal/archiver"
	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/backendstack"
	"github.com/rustic-rs/rustic-sub001/internal/data"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/ids"
	"github.com/rustic-rs/rustic-sub001/internal/index"
	"github.com/rustic-rs/rustic-sub001/internal/pack"
	"github.com/rustic-rs/rustic-sub001/internal/repository"
)

type backupOptions struct {
	global            globalOptions
	Host              string
	Tags              []string
	Parent            string
	ExcludeLargerThan int64
	OneFileSystem     bool
	DryRun            bool
}

func newBackupCommand() *cobra.Command {
	var opts backupOptions

	cmd := &cobra.Command{
		Use:               "backup [flags] FILE/DIR [FILE/DIR ...]",
		Short:             "Create a new snapshot of files or directories",
		Args:              cobra.MinimumNArgs(1),
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd.Context(), opts, args)
		},
	}
	opts.global.addFlags(cmd.Flags())
	f := cmd.Flags()
	f.StringVarP(&opts.Host, "host", "H", "", "set the `hostname` for the snapshot manually")
	f.StringSliceVar(&opts.Tags, "tag", nil, "add a `tag` to the new snapshot (can be given multiple times)")
	f.StringVar(&opts.Parent, "parent", "", "use this parent `snapshot` instead of the latest matching one")
	f.Int64Var(&opts.ExcludeLargerThan, "exclude-larger-than", 0, "skip files larger than `bytes` (0: no limit)")
	f.BoolVarP(&opts.OneFileSystem, "one-file-system", "x", false, "don't cross filesystem boundaries")
	f.BoolVarP(&opts.DryRun, "dry-run", "n", false, "simulate the backup, do not write anything to the repository")
	return cmd
}

func runBackup(ctx context.Context, opts backupOptions, targets []string) error {
	repo, err := opts.global.open(ctx)
	if err != nil {
		return err
	}

	hostname := opts.Host
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	parentID, parentTree, err := resolveParent(ctx, repo, opts, targets, hostname)
	if err != nil {
		return err
	}

	// In dry-run mode, wrap both the raw backend (what Packer writes packs
	// through) and the encrypted store (what the indexer and snapshot write
	// through) so nothing actually lands in the repository.
	be := repo.Backend()
	store := repo.Store()
	if opts.DryRun {
		be = backend.NewDryRun(be)
		store = backendstack.NewDryRun(store, true)
	}

	indexer := index.NewLiveIndexer(store)
	dataPacker, err := pack.NewPacker(be, repo.Key(), repo.Compress(), data.DataBlob, pack.SizeParamsFromConfig(repo.Config(), data.DataBlob), repo, indexer)
	if err != nil {
		return errors.Wrap(err, "NewPacker(data)")
	}
	treePacker, err := pack.NewPacker(be, repo.Key(), repo.Compress(), data.TreeBlob, pack.SizeParamsFromConfig(repo.Config(), data.TreeBlob), repo, indexer)
	if err != nil {
		return errors.Wrap(err, "NewPacker(tree)")
	}

	var rejects []archiver.RejectFunc
	if opts.ExcludeLargerThan > 0 {
		rejects = append(rejects, archiver.RejectBySize(opts.ExcludeLargerThan))
	}
	if opts.OneFileSystem {
		fsReject, err := archiver.RejectByDevice(targets)
		if err != nil {
			return err
		}
		rejects = append(rejects, fsReject)
	}

	pipeline := archiver.New(repo, archiver.Packers{Data: dataPacker, Tree: treePacker}, store, archiver.Options{
		Polynomial: repo.Config().ChunkerPolynomial,
		Hostname:   hostname,
		SelectFunc: archiver.CombineRejects(rejects...),
	})

	start := time.Now()
	sn, snID, err := pipeline.Backup(ctx, targets, opts.Tags, parentID, parentTree)
	if err != nil {
		return errors.Wrap(err, "backup")
	}
	if err := indexer.Finalize(ctx); err != nil {
		return errors.Wrap(err, "finalize index")
	}

	fmt.Fprintf(os.Stdout, "snapshot %v saved in %v\n", snID.Str(), time.Since(start).Round(time.Second))
	if sn.Summary != nil {
		fmt.Fprintf(os.Stdout, "files: %d new, %d changed, %d unmodified\n",
			sn.Summary.FilesNew, sn.Summary.FilesChanged, sn.Summary.FilesUnmodified)
		fmt.Fprintf(os.Stdout, "added: %v\n", humanize.Bytes(sn.Summary.DataAdded+sn.Summary.TreeDataAdded))
	}
	return nil
}

// resolveParent picks the snapshot a backup run should diff against: the
// one named by --parent if given (resolved against the full snapshot list
// since it may be a short id prefix), otherwise the latest snapshot
// matching the same targets and hostname. It returns nil, nil, nil if
// there is nothing to diff against.
func resolveParent(ctx context.Context, repo *repository.Repository, opts backupOptions, targets []string, hostname string) (*ids.ID, *ids.ID, error) {
	if opts.Parent != "" {
		sns, err := repo.Snapshots(ctx)
		if err != nil {
			return nil, nil, err
		}
		for _, sn := range sns {
			if sn.ID().HasPrefix(opts.Parent) {
				return sn.ID(), sn.Tree, nil
			}
		}
		return nil, nil, errors.Errorf("no snapshot found for prefix %q", opts.Parent)
	}

	sn, err := repo.LatestSnapshot(ctx, targets, hostname)
	if err != nil || sn == nil {
		return nil, nil, err
	}
	return sn.ID(), sn.Tree, nil
}
