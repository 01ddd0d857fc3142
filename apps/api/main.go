package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof" // /debug/pprof
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	echoapi "github.com/trezcool/cadenza/apps/api/echo"
	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core"
	appfs "github.com/trezcool/cadenza/fs"
	logsvc "github.com/trezcool/cadenza/services/logger"
	"github.com/trezcool/cadenza/services/scheduler"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(os.Stdout, conf)

	if err := run(conf, logger); err != nil {
		logger.Fatal(fmt.Sprintf("api: %v", err), err)
	}
}

func run(conf *core.Config, logger *logsvc.RollbarLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// =========================================================================
	// Set up Dependencies

	core.ParseEmailTemplates(appfs.FS, false, logger)

	repos, err := di.OpenRepositories(ctx, conf)
	if err != nil {
		return errors.Wrap(err, "setting up database")
	}
	defer func() {
		if err := repos.Close(); err != nil {
			logger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}()

	cache, closeCache, err := di.NewPricingCache(ctx, conf)
	if err != nil {
		return errors.Wrap(err, "setting up pricing cache")
	}
	defer func() {
		if err := closeCache(); err != nil {
			logger.Error(fmt.Sprintf("closing pricing cache: %v", err), err)
		}
	}()

	svcs := di.NewServices(conf, logger, di.NewMailService(conf, logger), repos, cache)

	var sched *scheduler.Scheduler
	if conf.Scheduler.Enabled {
		if sched, err = scheduler.New(conf.Scheduler, svcs.Invoices, svcs.Ledger, logger); err != nil {
			return errors.Wrap(err, "setting up scheduler")
		}
	}

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Services

	g, ctx := errgroup.WithContext(ctx)

	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	debugSrv := &http.Server{Addr: conf.Server.DebugHost, Handler: http.DefaultServeMux}
	g.Go(func() error {
		if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
		return nil
	})

	server := echoapi.NewServer(&echoapi.Options{
		Address:  conf.Server.Address,
		Shutdown: stop,
		Services: svcs,
	})
	g.Go(server.Start)

	if sched != nil {
		sched.Start()
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()
			return errors.Wrap(sched.Stop(sctx), "stopping scheduler")
		})
	}

	// =========================================================================
	// Shutdown

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Start shutdown...")

		// give outstanding requests a deadline for completion
		sctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()
		_ = debugSrv.Shutdown(sctx)

		if err := server.Shutdown(sctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)
			if err = server.Close(); err != nil {
				return errors.Wrap(err, "could not force stop server")
			}
		}
		return nil
	})

	return g.Wait()
}
