package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/billing"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/notification"
	"github.com/trezcool/nyumba/core/property"
	"github.com/trezcool/nyumba/core/user"
	emailsvc "github.com/trezcool/nyumba/services/email"
	sqlxrepos "github.com/trezcool/nyumba/storage/database/sqlx"
	testutil "github.com/trezcool/nyumba/tests"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type cliFixture struct {
	*commandLine
	propRepo  property.Repository
	leaseRepo lease.Repository
	billRepo  billing.Repository
}

func setup(t *testing.T) cliFixture {
	t.Helper()

	conf := testutil.Config()
	logger := nopLogger{}
	core.ParseEmailTemplates(conf, logger)

	// set up DB & repos
	db := testutil.OpenDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	propRepo := sqlxrepos.NewPropertyRepository(db)
	leaseRepo := sqlxrepos.NewLeaseRepository(db)
	billRepo := sqlxrepos.NewBillingRepository(db)

	// set up services
	hub := notification.NewHub()
	t.Cleanup(hub.Close)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewServiceMock(db, usrRepo, mailSvc, conf)
	noteSvc := notification.NewServiceMock(sqlxrepos.NewNotificationRepository(db), usrSvc, mailSvc, hub, logger, conf)
	propSvc := property.NewService(propRepo, usrSvc)
	leaseSvc := lease.NewService(db, leaseRepo, propRepo, propSvc, usrSvc, noteSvc, conf)
	policy, err := billing.NewPolicy(conf.Billing)
	require.NoError(t, err)
	billSvc := billing.NewService(db, billRepo, leaseSvc, propSvc, usrSvc, noteSvc, billing.NewEngine(policy), conf)

	// start CLI
	return cliFixture{
		commandLine: &commandLine{
			db:      db,
			usrRepo: usrRepo,
			billSvc: billSvc,
			logger:  logger,
		},
		propRepo:  propRepo,
		leaseRepo: leaseRepo,
		billRepo:  billRepo,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	var gotDialect, gotCommand string
	var gotArgs []string
	migrateFunc = func(_ context.Context, _ *sql.DB, dialect, command string, args ...string) error {
		gotDialect, gotCommand, gotArgs = dialect, command, args
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "lease_renewals", "sql"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	require.NoError(t, cli.run([]string{"admin", "migrate", "create", "lease_renewals", "sql"}))
	assert.Equal(t, "sqlite3", gotDialect)
	assert.Equal(t, "create", gotCommand)
	assert.Equal(t, []string{"lease_renewals", "sql"}, gotArgs)
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	testutil.CreateTenant(t, cli.usrRepo, "Tina")

	mockPassword("")
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-username", "larry"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "larry", "-email", "larry@nyumba.test"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	mockPassword("s3cr3t!pass")
	tests = []cliTest{
		{name: "unknown role", args: []string{"adduser", "-username", "larry", "-email", "larry@nyumba.test", "-role", "janitor"}, wantErr: errUnknownRole},
		{name: "email taken", args: []string{"adduser", "-username", "larry", "-email", "tina@nyumba.test"}, wantErr: user.ErrEmailExists},
		{name: "create", args: []string{"adduser", "-username", " Larry ", "-email", "LARRY@nyumba.test", "-name", "Larry L.", "-role", "landlord"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	larry, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: "larry"})
	require.NoError(t, err)
	assert.Equal(t, "larry@nyumba.test", larry.Email)
	assert.Equal(t, "Larry L.", larry.Name)
	assert.Equal(t, user.LandlordRoles, larry.Roles)
	assert.True(t, larry.IsActive)
	assert.NoError(t, larry.CheckPassword("s3cr3t!pass"))

	t.Run("update existing", func(t *testing.T) {
		mockPassword("n3w!pass")
		require.NoError(t, cli.run([]string{"admin", "adduser", "-username", "larry", "-email", "larry@nyumba.test"}))

		usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{ID: larry.ID})
		require.NoError(t, err)
		assert.Equal(t, user.AdminRoles, usr.Roles) // admin by default
		assert.Equal(t, "Larry L.", usr.Name)
		assert.NoError(t, usr.CheckPassword("n3w!pass"))
	})

	t.Run("create tenant", func(t *testing.T) {
		mockPassword("t3n@nt")
		require.NoError(t, cli.run([]string{"admin", "adduser", "-username", "terry", "-email", "terry@nyumba.test", "-role", "Tenant"}))

		usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{Username: "terry"})
		require.NoError(t, err)
		assert.Equal(t, user.TenantRoles, usr.Roles)
		assert.True(t, usr.IsTenant())
		assert.False(t, usr.IsAdmin())
	})
}

func Test_rolesOf(t *testing.T) {
	tests := []struct {
		role      string
		wantRoles []string
		wantErr   error
	}{
		{role: "admin", wantRoles: user.AdminRoles},
		{role: "landlord", wantRoles: user.LandlordRoles},
		{role: " TENANT ", wantRoles: user.TenantRoles},
		{role: user.RoleAdmin, wantErr: errUnknownRole},
		{role: "", wantErr: errUnknownRole},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.role, func(t *testing.T) {
			roles, err := rolesOf(tt.role)
			assert.Equal(t, tt.wantErr, err)
			assert.Equal(t, tt.wantRoles, roles)
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, cli.usrRepo, "User", "awe", "awe@nyumba.test", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		tt := tt
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			if err == nil {
				refreshedUsr, err := cli.usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
				if err != nil {
					t.Fatalf("GetUser() failed, %v", err)
				}
				if bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash) {
					t.Error("failed to update new password")
				}
				if e, ok := tt.extra.(extra); ok {
					assert.NoError(t, refreshedUsr.CheckPassword(e.pwd))
				}
			} else if err != tt.wantErr {
				t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func Test_commandLine_billing(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()

	larry := testutil.CreateLandlord(t, cli.usrRepo, "Larry")
	tina := testutil.CreateTenant(t, cli.usrRepo, "Tina")
	acacia := testutil.CreateProperty(t, cli.propRepo, larry.ID, "Acacia")
	a1 := testutil.CreateUnit(t, cli.propRepo, acacia, "A1", 1000)
	now := time.Now().UTC()
	firstOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	testutil.CreateLease(t, cli.leaseRepo, cli.propRepo, a1, tina.ID, firstOfMonth.AddDate(0, -3, 0))
	month := firstOfMonth.AddDate(0, -2, 0)

	bills := func() []billing.Bill {
		t.Helper()
		bills, err := cli.billRepo.QueryBills(ctx, &billing.QueryFilter{}, nil)
		require.NoError(t, err)
		return bills
	}

	tests := []cliTest{
		{name: "bad month", args: []string{"generatebills", "-month", "lol"}, wantErr: errHelp},
		{name: "generate", args: []string{"generatebills", "-month", month.Format("2006-01")}},
		{name: "generate again", args: []string{"generatebills", "-month", month.Format("2006-01")}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	got := bills()
	require.Len(t, got, 1)
	assert.Equal(t, tina.ID, got[0].TenantID)
	assert.True(t, got[0].PeriodStart.Equal(month))
	assert.False(t, got[0].HasLateFee())

	require.NoError(t, cli.run([]string{"admin", "applylatefees"}))
	got = bills()
	require.Len(t, got, 1)
	assert.True(t, got[0].HasLateFee())
	assert.True(t, got[0].Total.Equal(decimal.NewFromInt(1050)), got[0].Total.String())

	// one fee per bill
	require.NoError(t, cli.run([]string{"admin", "applylatefees"}))
	assert.True(t, bills()[0].Total.Equal(decimal.NewFromInt(1050)))
}
