// Command admin runs one-off administration tasks: migrations, staff accounts & billing runs.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/storage/database"
	logsvc "github.com/trezcool/cadenza/services/logger"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(os.Stderr, conf)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var repos di.Repositories
	cli := commandLine{
		conf:   conf,
		logger: logger,
		stdin:  stdinFd(),
		out:    os.Stdout,
		connect: func(ctx context.Context) (*di.Services, error) {
			var err error
			if repos, err = di.OpenRepositories(ctx, conf); err != nil {
				return nil, err
			}
			// the cache only serves the API's hot path
			return di.NewServices(conf, logger, di.NewMailService(conf, logger), repos, nil), nil
		},
		openDB: func(ctx context.Context) (*sql.DB, func() error, error) {
			if err := database.CreateIfNotExist(ctx, conf); err != nil {
				return nil, nil, err
			}
			db, err := database.Open(ctx, conf)
			if err != nil {
				return nil, nil, err
			}
			return db.DB.DB, db.Close, nil
		},
	}

	err := cli.run(ctx, os.Args[1:])
	if cerr := repos.Close(); cerr != nil {
		logger.Error("closing repositories", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
