package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/rustic-rs/rustic-sub001/internal/backend"
	"github.com/rustic-rs/rustic-sub001/internal/errors"
	"github.com/rustic-rs/rustic-sub001/internal/repository"
)

var errNoRepository = errors.New("repository does not exist")
var errWrongPassword = errors.New("wrong password")

// globalOptions holds the flags every subcommand shares: where the
// repository lives and how to unlock it.
type globalOptions struct {
	Repo            string
	RepoHot         string
	PasswordFile    string
	PasswordCommand string
	CacheDir        string
	NoCache         bool
	Quiet           bool
	Verbose         bool
}

func (o *globalOptions) addFlags(f *pflag.FlagSet) {
	f.StringVarP(&o.Repo, "repo", "r", os.Getenv("RUSTIC_SUB001_REPOSITORY"), "`repository` to back up to or restore from")
	f.StringVar(&o.RepoHot, "repo-hot", os.Getenv("RUSTIC_SUB001_REPOSITORY_HOT"), "optional hot-tier `repository` location for a hot/cold split")
	f.StringVar(&o.PasswordFile, "password-file", os.Getenv("RUSTIC_SUB001_PASSWORD_FILE"), "`file` to read the repository password from")
	f.StringVar(&o.PasswordCommand, "password-command", os.Getenv("RUSTIC_SUB001_PASSWORD_COMMAND"), "shell `command` to obtain the repository password from")
	f.StringVar(&o.CacheDir, "cache-dir", "", "`directory` for the local metadata cache (default: no cache)")
	f.BoolVar(&o.NoCache, "no-cache", false, "do not use a local cache")
	f.BoolVarP(&o.Quiet, "quiet", "q", false, "only print warnings and errors")
	f.BoolVarP(&o.Verbose, "verbose", "v", false, "print more detail about what is being done")
}

// open unlocks the repository named by Repo with the resolved password.
func (o *globalOptions) open(ctx context.Context) (*repository.Repository, error) {
	if o.Repo == "" {
		return nil, errors.Wrap(errNoRepository, "no repository location given, use --repo or $RUSTIC_SUB001_REPOSITORY")
	}
	be, err := repository.OpenLocation(o.Repo)
	if err != nil {
		return nil, err
	}
	hot, err := o.openHot()
	if err != nil {
		return nil, err
	}
	password, err := o.password()
	if err != nil {
		return nil, err
	}
	cacheDir := o.CacheDir
	if o.NoCache {
		cacheDir = ""
	}
	repo, err := repository.Open(ctx, hot, be, password, cacheDir)
	if err != nil {
		return nil, errors.Wrap(errWrongPassword, err.Error())
	}
	return repo, nil
}

// openHot opens the optional hot-tier backend named by RepoHot, returning
// nil if none was given.
func (o *globalOptions) openHot() (backend.Backend, error) {
	if o.RepoHot == "" {
		return nil, nil
	}
	return repository.OpenLocation(o.RepoHot)
}

// password resolves the repository password from a command, a file, the
// environment or an interactive prompt, in that order.
func (o *globalOptions) password() (string, error) {
	if o.PasswordCommand != "" {
		args, err := backend.SplitShellStrings(o.PasswordCommand)
		if err != nil {
			return "", err
		}
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Stderr = os.Stderr
		output, err := cmd.Output()
		if err != nil {
			return "", errors.Wrap(err, "password-command")
		}
		return strings.TrimSpace(string(output)), nil
	}
	if o.PasswordFile != "" {
		body, err := os.ReadFile(o.PasswordFile)
		if err != nil {
			return "", errors.Wrapf(err, "read password file %v", o.PasswordFile)
		}
		return strings.TrimSpace(string(body)), nil
	}
	if pw := os.Getenv("RUSTIC_SUB001_PASSWORD"); pw != "" {
		return pw, nil
	}
	return readPasswordFromTerminal("enter repository password: ")
}

func readPasswordFromTerminal(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", errors.Wrap(err, "read password")
		}
		return string(pw), nil
	}
	sc := bufio.NewScanner(os.Stdin)
	sc.Scan()
	return sc.Text(), errors.Wrap(sc.Err(), "read password")
}
