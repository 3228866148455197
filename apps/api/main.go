package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/juju/clock"

	echoapi "github.com/trezcool/nyumba/apps/api/echo"
	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/billing"
	"github.com/trezcool/nyumba/core/document"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/maintenance"
	"github.com/trezcool/nyumba/core/notification"
	"github.com/trezcool/nyumba/core/property"
	"github.com/trezcool/nyumba/core/user"
	emailsvc "github.com/trezcool/nyumba/services/email"
	logsvc "github.com/trezcool/nyumba/services/logger"
	"github.com/trezcool/nyumba/storage/database"
	sqlxrepos "github.com/trezcool/nyumba/storage/database/sqlx"
	localstore "github.com/trezcool/nyumba/storage/documents/local"
	s3store "github.com/trezcool/nyumba/storage/documents/s3"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	defer logger.Wait()

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Fatal("Failed to close", err)
		}
	}()

	// set up repos
	usrRepo := sqlxrepos.NewUserRepository(db)
	propRepo := sqlxrepos.NewPropertyRepository(db)
	leaseRepo := sqlxrepos.NewLeaseRepository(db)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	hub := notification.NewHub()
	defer hub.Close()

	usrSvc := user.NewService(db, usrRepo, mailSvc, conf)
	noteSvc := notification.NewService(sqlxrepos.NewNotificationRepository(db), usrSvc, mailSvc, hub, logger, conf)
	propSvc := property.NewService(propRepo, usrSvc)
	leaseSvc := lease.NewService(db, leaseRepo, propRepo, propSvc, usrSvc, noteSvc, conf)

	policy, err := billing.NewPolicy(conf.Billing)
	if err != nil {
		logger.Fatal(fmt.Sprintf("invalid billing policy: %v", err), err)
	}
	billSvc := billing.NewService(
		db, sqlxrepos.NewBillingRepository(db), leaseSvc, propSvc, usrSvc, noteSvc, billing.NewEngine(policy), conf,
	)
	maintSvc := maintenance.NewService(sqlxrepos.NewMaintenanceRepository(db), leaseSvc, noteSvc)

	store, err := newBlobStore(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up document store: %v", err), err)
	}
	docSvc := document.NewService(sqlxrepos.NewDocumentRepository(db), store, leaseSvc, maintSvc, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start Background Jobs

	jobsCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	go noteSvc.RunOutbox(jobsCtx, clock.WallClock, conf.Outbox.ReplayInterval)
	go runJobs(jobsCtx, clock.WallClock, conf.Server.JobsInterval, logger, []job{
		{name: "activate started leases", run: func(ctx context.Context) (int64, error) {
			n, err := leaseSvc.ActivateStarted(ctx, core.NowFunc())
			return int64(n), err
		}},
		{name: "expire ended leases", run: func(ctx context.Context) (int64, error) {
			n, err := leaseSvc.ExpireEnded(ctx, core.NowFunc())
			return int64(n), err
		}},
		{name: "purge revoked tokens", run: usrSvc.PurgeRevokedTokens},
	})

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:            conf,
			Logger:          logger,
			Validate:        validate,
			Translator:      translator,
			UserSvc:         usrSvc,
			PropertySvc:     propSvc,
			LeaseSvc:        leaseSvc,
			BillingSvc:      billSvc,
			MaintenanceSvc:  maintSvc,
			NotificationSvc: noteSvc,
			DocumentSvc:     docSvc,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stopJobs()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// live notification streams never finish on their own
		hub.Close()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db, database.Dialect(conf.Database.Engine)); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlx.NewDb(db, conf.Database.Engine), nil
}

func newBlobStore(conf *core.Config) (document.BlobStore, error) {
	if conf.Documents.Backend == "s3" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s3store.New(ctx, conf.Documents)
	}
	return localstore.New(conf.Documents.LocalDir)
}

type job struct {
	name string
	run  func(ctx context.Context) (int64, error)
}

// runJobs runs the jobs once at start, then every interval until ctx is done.
func runJobs(ctx context.Context, clk clock.Clock, interval time.Duration, logger core.Logger, jobs []job) {
	if interval <= 0 {
		return
	}
	for {
		for _, j := range jobs {
			n, err := j.run(ctx)
			switch {
			case err != nil:
				logger.Error(fmt.Sprintf("%s: %v", j.name, err), err)
			case n > 0:
				logger.Info(fmt.Sprintf("%s: %d done", j.name, n))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-clk.After(interval):
		}
	}
}
