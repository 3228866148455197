package billing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
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

type fixture struct {
	svc         billing.Service
	billRepo    billing.Repository
	larry, tina user.User
	admin       user.User
	tinaLease   lease.Lease
	month       time.Time // a past month the lease is active during
	ctx         context.Context
}

func setup(t *testing.T) *fixture {
	t.Helper()

	conf := testutil.Config()
	logger := nopLogger{}
	core.ParseEmailTemplates(conf, logger)

	db := testutil.OpenDB(t)
	usrRepo := sqlxrepos.NewUserRepository(db)
	propRepo := sqlxrepos.NewPropertyRepository(db)
	leaseRepo := sqlxrepos.NewLeaseRepository(db)
	billRepo := sqlxrepos.NewBillingRepository(db)

	hub := notification.NewHub()
	t.Cleanup(hub.Close)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	usrSvc := user.NewServiceMock(db, usrRepo, mailSvc, conf)
	noteSvc := notification.NewServiceMock(sqlxrepos.NewNotificationRepository(db), usrSvc, mailSvc, hub, logger, conf)
	propSvc := property.NewService(propRepo, usrSvc)
	leaseSvc := lease.NewService(db, leaseRepo, propRepo, propSvc, usrSvc, noteSvc, conf)
	policy, err := billing.NewPolicy(conf.Billing)
	require.NoError(t, err)

	now := time.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	fx := &fixture{
		svc:      billing.NewService(db, billRepo, leaseSvc, propSvc, usrSvc, noteSvc, billing.NewEngine(policy), conf),
		billRepo: billRepo,
		admin:    testutil.CreateUser(t, usrRepo, "Admin", "admin", "admin@nyumba.test", "", user.AdminRoles, true),
		larry:    testutil.CreateLandlord(t, usrRepo, "Larry"),
		tina:     testutil.CreateTenant(t, usrRepo, "Tina"),
		month:    thisMonth.AddDate(0, -2, 0),
		ctx:      context.Background(),
	}
	acacia := testutil.CreateProperty(t, propRepo, fx.larry.ID, "Acacia")
	a1 := testutil.CreateUnit(t, propRepo, acacia, "A1", 1000)
	fx.tinaLease = testutil.CreateLease(t, leaseRepo, propRepo, a1, fx.tina.ID, thisMonth.AddDate(0, -3, 0))
	return fx
}

func (fx *fixture) generate(t *testing.T, month time.Time) billing.Bill {
	t.Helper()
	bills, err := fx.svc.GenerateMonthly(fx.ctx, month)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	return bills[0]
}

func (fx *fixture) pay(b billing.Bill, amount int64) (billing.Bill, error) {
	b, _, err := fx.svc.RecordPayment(fx.ctx, fx.larry, b, billing.NewPayment{
		Amount: decimal.NewFromInt(amount),
		Method: billing.MethodCash,
	})
	return b, err
}

func validationErr(t *testing.T, err error) error {
	t.Helper()
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr), "want a validation error, got %v", err)
	return verr.Err
}

func TestService_GenerateMonthly(t *testing.T) {
	fx := setup(t)
	next := fx.month.AddDate(0, 1, 0)

	t.Run("an existing bill in the window blocks the run", func(t *testing.T) {
		_, err := fx.svc.Create(fx.ctx, fx.larry, billing.NewBill{
			LeaseID:     fx.tinaLease.ID,
			PeriodStart: next.AddDate(0, 0, 9),
			PeriodEnd:   next.AddDate(0, 1, 0),
			DueDate:     next.AddDate(0, 0, 19),
			Items:       []billing.NewLineItem{{Kind: billing.ItemUtility, Description: "Water", Amount: decimal.NewFromInt(40)}},
		})
		require.NoError(t, err)

		bills, err := fx.svc.GenerateMonthly(fx.ctx, next)
		require.NoError(t, err)
		assert.Empty(t, bills)
	})

	t.Run("concurrent runs bill once", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = fx.svc.GenerateMonthly(fx.ctx, fx.month)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			assert.NoError(t, err)
		}

		start, end := billing.MonthWindow(fx.month)
		bills, err := fx.billRepo.QueryBills(fx.ctx, &billing.QueryFilter{PeriodFrom: start, PeriodTo: end}, nil)
		require.NoError(t, err)
		assert.Len(t, bills, 1)
	})
}

func TestService_Query_reconciledStatus(t *testing.T) {
	fx := setup(t)
	future := time.Now().UTC().AddDate(0, 1, 0)
	b := fx.generate(t, future)
	require.Equal(t, billing.StatusPending, b.Status)

	query := func(statuses ...string) []billing.Bill {
		bills, err := fx.svc.Query(fx.ctx, fx.larry, &billing.QueryFilter{Statuses: statuses}, nil)
		require.NoError(t, err)
		return bills
	}
	assert.Len(t, query(billing.StatusPending), 1)

	// the stored status stays pending while the due date passes
	core.NowFunc = func() time.Time { return b.DueDate.AddDate(0, 0, 1) }
	t.Cleanup(func() { core.NowFunc = time.Now })

	assert.Empty(t, query(billing.StatusPending))
	overdue := query(billing.StatusOverdue)
	require.Len(t, overdue, 1)
	assert.Equal(t, b.ID, overdue[0].ID)
	assert.Equal(t, billing.StatusOverdue, overdue[0].Status)
	assert.Len(t, query(billing.StatusPending, billing.StatusOverdue), 1)
	assert.Len(t, query(), 1)
}

func TestService_updatesUseCommittedState(t *testing.T) {
	fx := setup(t)
	stale := fx.generate(t, fx.month)

	t.Run("payments add up", func(t *testing.T) {
		_, err := fx.pay(stale, 400)
		require.NoError(t, err)

		b, err := fx.pay(stale, 700)
		assert.Equal(t, billing.ErrPaymentExceeds.Error()+" (600.00)", validationErr(t, err).Error())

		b, err = fx.pay(stale, 600)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(1000).Equal(b.AmountPaid), b.AmountPaid.String())
		assert.Equal(t, billing.StatusPaid, b.Status)

		_, err = fx.pay(stale, 1)
		assert.Equal(t, billing.ErrNothingToPay, validationErr(t, err))
	})

	t.Run("cancel sees the payments", func(t *testing.T) {
		_, err := fx.svc.Cancel(fx.ctx, fx.larry, stale)
		assert.Equal(t, billing.ErrBillHasPayments, validationErr(t, err))
	})

	t.Run("items keep the payments", func(t *testing.T) {
		b, err := fx.svc.AddItem(fx.ctx, fx.larry, stale, billing.NewLineItem{
			Kind: billing.ItemUtility, Description: "Water", Amount: decimal.NewFromInt(35),
		})
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(1000).Equal(b.AmountPaid))
		assert.True(t, decimal.NewFromInt(1035).Equal(b.Total))
		assert.Equal(t, billing.StatusOverdue, b.Status)
	})

	t.Run("late fees keep the payments", func(t *testing.T) {
		n, err := fx.svc.ApplyLateFees(fx.ctx, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		b, err := fx.svc.Get(fx.ctx, fx.larry, stale.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(1000).Equal(b.AmountPaid))
		assert.True(t, decimal.NewFromInt(1085).Equal(b.Total), b.Total.String())
	})
}

func TestService_RecordPayment_concurrent(t *testing.T) {
	fx := setup(t)
	stale := fx.generate(t, fx.month)

	const workers = 6
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = fx.pay(stale, 200)
		}(i)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			assert.Equal(t, billing.ErrNothingToPay, validationErr(t, err))
		}
	}
	assert.Equal(t, 1, failed, "the 6th payment exceeds the bill")

	b, err := fx.svc.Get(fx.ctx, fx.larry, stale.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(b.AmountPaid), b.AmountPaid.String())
	assert.Equal(t, billing.StatusPaid, b.Status)

	payments, err := fx.svc.Payments(fx.ctx, fx.admin, &billing.PaymentFilter{BillID: stale.ID})
	require.NoError(t, err)
	assert.Len(t, payments, 5)
}
