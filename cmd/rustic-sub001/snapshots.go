package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type snapshotsOptions struct {
	global globalOptions
	Host   string
	Tags   []string
}

func newSnapshotsCommand() *cobra.Command {
	var opts snapshotsOptions

	cmd := &cobra.Command{
		Use:               "snapshots [flags]",
		Short:             "List all snapshots",
		Args:              cobra.NoArgs,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshots(cmd.Context(), opts)
		},
	}
	opts.global.addFlags(cmd.Flags())
	f := cmd.Flags()
	f.StringVarP(&opts.Host, "host", "H", "", "only show snapshots for this `hostname`")
	f.StringSliceVar(&opts.Tags, "tag", nil, "only show snapshots with this `tag` (can be given multiple times)")
	return cmd
}

func runSnapshots(ctx context.Context, opts snapshotsOptions) error {
	repo, err := opts.global.open(ctx)
	if err != nil {
		return err
	}

	sns, err := repo.Snapshots(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tHOST\tTAGS\tPATHS")
	for _, sn := range sns {
		if opts.Host != "" && sn.Hostname != opts.Host {
			continue
		}
		if len(opts.Tags) > 0 && !sn.HasTags(opts.Tags) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			sn.ID().Str(),
			sn.Time.Format("2006-01-02 15:04:05"),
			sn.Hostname,
			strings.Join(sn.Tags, ","),
			strings.Join(sn.Paths, ", "),
		)
	}
	return w.Flush()
}
