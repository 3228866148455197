package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/billing"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/notification"
	"github.com/trezcool/nyumba/core/property"
	"github.com/trezcool/nyumba/core/user"
	emailsvc "github.com/trezcool/nyumba/services/email"
	logsvc "github.com/trezcool/nyumba/services/logger"
	"github.com/trezcool/nyumba/storage/database"
	sqlxrepos "github.com/trezcool/nyumba/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	os.Exit(run(conf, logger))
}

func run(conf *core.Config, logger *logsvc.RollbarLogger) int {
	defer logger.Wait()

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Error(fmt.Sprintf("setting up database: %v", err), err)
		return 1
	}
	sqlDB, err := database.Open(conf)
	if err != nil {
		logger.Error(fmt.Sprintf("opening database: %v", err), err)
		return 1
	}
	db := sqlx.NewDb(sqlDB, conf.Database.Engine)
	defer db.Close()

	// set up services
	mailSvc := emailsvc.NewConsoleService(conf, logger)
	if !conf.Debug {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	core.ParseEmailTemplates(conf, logger)

	usrRepo := sqlxrepos.NewUserRepository(db)
	propRepo := sqlxrepos.NewPropertyRepository(db)
	hub := notification.NewHub()
	defer hub.Close()

	usrSvc := user.NewService(db, usrRepo, mailSvc, conf)
	noteSvc := notification.NewService(sqlxrepos.NewNotificationRepository(db), usrSvc, mailSvc, hub, logger, conf)
	propSvc := property.NewService(propRepo, usrSvc)
	leaseSvc := lease.NewService(db, sqlxrepos.NewLeaseRepository(db), propRepo, propSvc, usrSvc, noteSvc, conf)
	policy, err := billing.NewPolicy(conf.Billing)
	if err != nil {
		logger.Error(fmt.Sprintf("invalid billing policy: %v", err), err)
		return 1
	}
	billSvc := billing.NewService(
		db, sqlxrepos.NewBillingRepository(db), leaseSvc, propSvc, usrSvc, noteSvc, billing.NewEngine(policy), conf,
	)

	// start CLI
	cli := commandLine{
		db:      db,
		usrRepo: usrRepo,
		billSvc: billSvc,
		logger:  logger,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		return 1
	}
	return 0
}
