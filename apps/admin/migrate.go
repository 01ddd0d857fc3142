package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	appfs "github.com/trezcool/cadenza/fs"
)

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose command (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix) on the embedded migrations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := cli.openDB(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "opening database")
			}
			defer func() { _ = closeDB() }()

			return gooseRunFunc(args[0], db, appfs.FS, "migrations", args[1:]...)
		},
	}
}
