package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/billing"
	"github.com/trezcool/nyumba/core/document"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/maintenance"
	"github.com/trezcool/nyumba/core/notification"
	"github.com/trezcool/nyumba/core/property"
	"github.com/trezcool/nyumba/core/user"
)

type ServerDeps struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator

	UserSvc         user.Service
	PropertySvc     property.Service
	LeaseSvc        lease.Service
	BillingSvc      billing.Service
	MaintenanceSvc  maintenance.Service
	NotificationSvc notification.Service
	DocumentSvc     document.Service
}

// isSet fails on a nil interface or a nil pointer-like value. Struct values, such as a value-type logger, are set.
func isSet(v interface{}, name string) vala.Checker {
	return func() (bool, string) {
		msg := "Parameter was nil: " + name
		if v == nil {
			return false, msg
		}
		switch rv := reflect.ValueOf(v); rv.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			return !rv.IsNil(), msg
		}
		return true, msg
	}
}

func (deps ServerDeps) check() error {
	return vala.BeginValidation().Validate(
		isSet(deps.Conf, "Conf"),
		isSet(deps.Logger, "Logger"),
		isSet(deps.Validate, "Validate"),
		isSet(deps.Translator, "Translator"),
		isSet(deps.UserSvc, "UserSvc"),
		isSet(deps.PropertySvc, "PropertySvc"),
		isSet(deps.LeaseSvc, "LeaseSvc"),
		isSet(deps.BillingSvc, "BillingSvc"),
		isSet(deps.MaintenanceSvc, "MaintenanceSvc"),
		isSet(deps.NotificationSvc, "NotificationSvc"),
		isSet(deps.DocumentSvc, "DocumentSvc"),
	).Check()
}

type Server struct {
	deps     ServerDeps
	app      *echo.Echo
	auth     *authenticator
	metrics  *metricsCollector
	registry *prometheus.Registry
	errors   chan error
	shutdown chan os.Signal
}

func NewServer(deps ServerDeps) *Server {
	if err := deps.check(); err != nil {
		panic(err)
	}
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		auth:     newAuthenticator(deps.Conf, deps.UserSvc),
		metrics:  newMetricsCollector(),
		registry: prometheus.NewRegistry(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(s.metrics.middleware(s.deps.Translator))

	s.registry.MustRegister(s.metrics)

	s.app.GET("/", home)
	s.app.GET("/metrics", s.metricsHandler())

	g := s.app.Group("/api")
	authed := s.auth.middleware()

	registerUserAPI(g, authed, s.auth, s.deps)
	registerPropertyAPI(g, authed, s.deps)
	registerLeaseAPI(g, authed, s.deps)
	registerBillingAPI(g, authed, s.deps)
	registerMaintenanceAPI(g, authed, s.deps)
	registerNotificationAPI(g, authed, s.auth.queryMiddleware(), s.metrics, s.deps)
	registerDocumentAPI(g, authed, s.deps)
}

func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address()); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

// Errors receives the error that stopped the server.
func (s *Server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal receives OS interrupts and internal shutdown requests.
func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Nyumba API!")
}
