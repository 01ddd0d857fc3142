package main

import (
	"context"
	"database/sql"
	"io"
	"strings"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/trezcool/goose"
	"golang.org/x/term"

	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	gooseRunFunc     = goose.RunFS       // mockable

	errPasswordRequired = errors.New("a password is required")
)

type commandLine struct {
	conf   *core.Config
	logger core.Logger
	stdin  int
	out    io.Writer

	// connect sets svcs up on first use; nil when svcs are provided.
	connect func(ctx context.Context) (*di.Services, error)
	svcs    *di.Services
	// openDB opens the database without migrating it.
	openDB func(ctx context.Context) (*sql.DB, func() error, error)
}

func (cli *commandLine) services(ctx context.Context) (*di.Services, error) {
	if cli.svcs == nil {
		svcs, err := cli.connect(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "connecting")
		}
		cli.svcs = svcs
	}
	return cli.svcs, nil
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         cli.conf.AppName + " administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)
	root.AddCommand(
		cli.migrateCmd(),
		cli.addUserCmd(),
		cli.resetPasswordCmd(),
		cli.generateInvoicesCmd(),
		cli.applyCreditsCmd(),
	)
	return root
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword(cmd *cobra.Command, prompt string) (string, error) {
	cmd.Print(prompt)
	pwd, err := readPasswordFunc(cli.stdin)
	cmd.Println()
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	if len(pwd) == 0 {
		return "", errPasswordRequired
	}
	return string(pwd), nil
}

// describeError spells validation errors out field by field.
func describeError(err error, translator ut.Translator) error {
	fields, msg, ok := core.FieldMessages(err, translator)
	if !ok {
		return err
	}
	if fields == nil {
		return errors.New("invalid input: " + msg)
	}
	return errors.New("invalid input:\n  " + strings.Join(core.FormatFieldMessages(fields), "\n  "))
}

func stdinFd() int {
	return int(syscall.Stdin) //nolint:unconvert
}
