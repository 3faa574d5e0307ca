package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rustic-rs/rustic-sub001/internal/chunker"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/repository"
)

type initOptions struct {
	global globalOptions
}

func newInitCommand() *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new repository",
		Long: `
The "init" command creates a new, empty repository at the given location and
protects it with the chosen password.
`,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return errors.Fatal("init takes no arguments")
			}
			return runInit(cmd.Context(), opts)
		},
	}
	opts.global.addFlags(cmd.Flags())
	return cmd
}

func runInit(ctx context.Context, opts initOptions) error {
	if opts.global.Repo == "" {
		return errors.Wrap(errNoRepository, "no repository location given, use --repo")
	}
	be, err := repository.OpenLocation(opts.global.Repo)
	if err != nil {
		return err
	}
	hot, err := opts.global.openHot()
	if err != nil {
		return err
	}

	password, err := newPasswordWithConfirmation(&opts.global)
	if err != nil {
		return err
	}

	repo, err := repository.Create(ctx, hot, be, password, chunker.Pol(0), opts.global.CacheDir)
	if err != nil {
		return errors.Wrap(err, "create repository")
	}

	fmt.Fprintf(os.Stdout, "created repository %v at %v\n", repo.Config().ID, be.Location())
	return nil
}

// newPasswordWithConfirmation resolves a password the same way open() does,
// except when falling back to an interactive prompt, where it asks twice
// and requires the two entries to match.
func newPasswordWithConfirmation(o *globalOptions) (string, error) {
	if o.PasswordFile != "" || o.PasswordCommand != "" || os.Getenv("RUSTIC_SUB001_PASSWORD") != "" {
		return o.password()
	}
	pw1, err := readPasswordFromTerminal("enter password for new repository: ")
	if err != nil {
		return "", err
	}
	pw2, err := readPasswordFromTerminal("enter password again: ")
	if err != nil {
		return "", err
	}
	if pw1 != pw2 {
		return "", errors.Fatal("passwords do not match")
	}
	return pw1, nil
}
