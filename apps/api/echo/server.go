// Package echoapi serves the back office REST API with echo.
package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/apps/di"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool
		// Shutdown is called when a request hits an error the app cannot recover from.
		Shutdown func()
		Services *di.Services
	}

	Server interface {
		http.Handler
		// Start blocks until the server is shut down; it returns nil after a graceful Shutdown.
		Start() error
		Shutdown(context.Context) error
		Close() error
	}

	server struct {
		opts   *Options
		app    *echo.Echo
		logins *ipRateLimiter
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	conf := opts.Services.Conf
	s := &server{
		opts:   opts,
		app:    echo.New(),
		logins: newIPRateLimiter(conf.Server.LoginRateLimit, conf.Server.LoginRateBurst),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	svcs := s.opts.Services
	conf := svcs.Conf

	s.app.HideBanner = true
	s.app.Server.ReadTimeout = conf.Server.ReadTimeout
	s.app.Server.WriteTimeout = conf.Server.WriteTimeout

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(svcs.Logger, svcs.Translator, s.opts.Shutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", s.home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(jwtConfig(conf))

	registerUserAPI(v1, jwt, s.logins, svcs)
	registerStudentAPI(v1, jwt, svcs)
	registerTeacherAPI(v1, jwt, svcs)
	registerCourseAPI(v1, jwt, svcs)
	registerEnrollmentAPI(v1, jwt, svcs)
	registerAbsenceAPI(v1, jwt, svcs)
	registerBillingAPI(v1, jwt, svcs)
}

func (s *server) Start() error {
	if err := s.app.Start(s.opts.Address); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "starting server")
	}
	return nil
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *server) home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+s.opts.Services.Conf.AppName+" API!")
}
