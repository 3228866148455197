package tests

import (
	"bytes"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/nyumba/apps/api/echo"
	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/billing"
	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/user"
	testutil "github.com/trezcool/nyumba/tests"
)

type billingFixture struct {
	app                 *testApp
	admin, larry, lucy  user.User
	tina, tom           user.User
	tinaLease, tomLease lease.Lease
	month               time.Time // a past month both leases are active during
}

func newBillingFixture(t *testing.T) *billingFixture {
	app := setup(t)
	now := time.Now().UTC()
	thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	fx := &billingFixture{
		app:   app,
		admin: testutil.CreateUser(t, app.usrRepo, "Admin", "admin", "admin@nyumba.test", "", user.AdminRoles, true),
		larry: testutil.CreateLandlord(t, app.usrRepo, "Larry"),
		lucy:  testutil.CreateLandlord(t, app.usrRepo, "Lucy"),
		tina:  testutil.CreateTenant(t, app.usrRepo, "Tina"),
		tom:   testutil.CreateTenant(t, app.usrRepo, "Tom"),
		month: thisMonth.AddDate(0, -2, 0),
	}
	acacia := testutil.CreateProperty(t, app.propRepo, fx.larry.ID, "Acacia")
	cedar := testutil.CreateProperty(t, app.propRepo, fx.lucy.ID, "Cedar")
	a1 := testutil.CreateUnit(t, app.propRepo, acacia, "A1", 1000)
	c1 := testutil.CreateUnit(t, app.propRepo, cedar, "C1", 800)
	start := thisMonth.AddDate(0, -3, 0)
	fx.tinaLease = testutil.CreateLease(t, app.leaseRepo, app.propRepo, a1, fx.tina.ID, start)
	fx.tomLease = testutil.CreateLease(t, app.leaseRepo, app.propRepo, c1, fx.tom.ID, start)
	return fx
}

func (fx *billingFixture) generate(t *testing.T) []billing.Bill {
	t.Helper()
	rec := fx.app.do(http.MethodPost, "/api/bills/generate", fx.app.token(t, fx.admin),
		marchallObj(t, echoapi.GenerateBillsRequest{Month: fx.month.Format("2006-01")}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var bills []billing.Bill
	unmarchall(t, rec, &bills)
	return bills
}

func billOf(t *testing.T, bills []billing.Bill, tenantID string) billing.Bill {
	t.Helper()
	for _, b := range bills {
		if b.TenantID == tenantID {
			return b
		}
	}
	t.Fatalf("no bill for tenant %s", tenantID)
	return billing.Bill{}
}

func Test_billingApi_generate(t *testing.T) {
	fx := newBillingFixture(t)
	app := fx.app

	runHTTPTests(t, app, []httpTest{
		{
			name: "admins only", method: http.MethodPost, path: "/api/bills/generate", token: app.token(t, fx.larry),
			body: marchallObj(t, echoapi.GenerateBillsRequest{}), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "bad month", method: http.MethodPost, path: "/api/bills/generate", token: app.token(t, fx.admin),
			body: marchallObj(t, echoapi.GenerateBillsRequest{Month: "last month"}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"month": "invalid month, use YYYY-MM"}),
		},
	})

	bills := fx.generate(t)
	require.Len(t, bills, 2)

	b := billOf(t, bills, fx.tina.ID)
	assert.Equal(t, billing.SourceMonthly, b.Source)
	assert.Equal(t, fx.tinaLease.ID, b.LeaseID.String)
	assert.Equal(t, fx.larry.ID, b.LandlordID)
	assert.True(t, b.PeriodStart.Equal(fx.month))
	assert.True(t, b.PeriodEnd.Equal(fx.month.AddDate(0, 1, 0)))
	assert.True(t, b.DueDate.Equal(fx.month.AddDate(0, 0, 4)), "due on the 5th")
	assert.True(t, b.Total.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, billing.StatusOverdue, b.Status)
	require.Len(t, b.Items, 1)
	assert.Equal(t, billing.ItemRent, b.Items[0].Kind)

	t.Run("idempotent", func(t *testing.T) {
		assert.Empty(t, fx.generate(t))
	})

	t.Run("tenants are notified", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/notifications?kind=bill", app.token(t, fx.tom))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, objectIDs(t, rec), 1)
	})
}

func Test_billingApi_queryAndReport(t *testing.T) {
	fx := newBillingFixture(t)
	app := fx.app
	bills := fx.generate(t)
	tinaBill := billOf(t, bills, fx.tina.ID)
	tomBill := billOf(t, bills, fx.tom.ID)

	queries := []struct {
		name    string
		token   string
		path    string
		wantIDs []string
	}{
		{name: "admin sees all", token: app.token(t, fx.admin), path: "/api/bills", wantIDs: []string{tinaBill.ID, tomBill.ID}},
		{name: "landlord sees own", token: app.token(t, fx.larry), path: "/api/bills", wantIDs: []string{tinaBill.ID}},
		{name: "tenant sees own", token: app.token(t, fx.tom), path: "/api/bills", wantIDs: []string{tomBill.ID}},
		{name: "status filter", token: app.token(t, fx.admin), path: "/api/bills?status=" + billing.StatusPaid, wantIDs: []string{}},
		{
			name: "period filter", token: app.token(t, fx.admin), wantIDs: []string{},
			path: "/api/bills?period_from=" + fx.month.AddDate(0, 1, 0).Format("2006-01-02"),
		},
	}
	for _, tt := range queries {
		t.Run(tt.name, func(t *testing.T) {
			rec := app.do(http.MethodGet, tt.path, tt.token)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.ElementsMatch(t, tt.wantIDs, objectIDs(t, rec))
		})
	}

	runHTTPTests(t, app, []httpTest{
		{name: "tenant retrieves own", method: http.MethodGet, path: "/api/bills/" + tinaBill.ID, token: app.token(t, fx.tina)},
		{
			name: "other tenant", method: http.MethodGet, path: "/api/bills/" + tinaBill.ID, token: app.token(t, fx.tom),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "bill not found"}),
		},
		{
			name: "tenants have no report", method: http.MethodGet, path: "/api/bills/report", token: app.token(t, fx.tina),
			wantCode: http.StatusForbidden,
		},
		{
			name: "bad report month", method: http.MethodGet, path: "/api/bills/report?month=soon", token: app.token(t, fx.larry),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"month": "invalid month, use YYYY-MM"}),
		},
	})

	t.Run("report", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/bills/report?month="+fx.month.Format("2006-01"), app.token(t, fx.larry))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var rep billing.Report
		unmarchall(t, rec, &rep)
		assert.True(t, rep.Month.Equal(fx.month))
		require.Len(t, rep.Rows, 1)
		assert.Equal(t, tinaBill.ID, rep.Rows[0].BillID)
		assert.Equal(t, "Tina", rep.Rows[0].TenantName)
		assert.Equal(t, 1, rep.Totals.Bills)
		assert.True(t, rep.Totals.Balance.Equal(decimal.NewFromInt(1000)))
	})

	t.Run("report spreadsheet", func(t *testing.T) {
		month := fx.month.Format("2006-01")
		rec := app.do(http.MethodGet, "/api/bills/report?format=xlsx&month="+month, app.token(t, fx.admin))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "billing-"+month+".xlsx")
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")), "xlsx is a zip archive")
	})

	t.Run("stats", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/api/bills/stats", app.token(t, fx.larry))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var st billing.Stats
		unmarchall(t, rec, &st)
		assert.Equal(t, 1, st.TotalUnits)
		assert.Equal(t, 1, st.OccupiedUnits)
		assert.True(t, st.OccupancyRate.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, 1, st.ActiveLeases)
		assert.Equal(t, 1, st.BillCount)
		assert.Equal(t, 1, st.OverdueCount)
		assert.True(t, st.Outstanding.Equal(decimal.NewFromInt(1000)))
	})
}

func Test_billingApi_statusFilterAfterDueDate(t *testing.T) {
	fx := newBillingFixture(t)
	app := fx.app
	fx.month = time.Now().UTC().AddDate(0, 1, 0)
	bills := fx.generate(t)
	require.Len(t, bills, 2)
	for _, b := range bills {
		require.Equal(t, billing.StatusPending, b.Status)
	}

	adminToken := app.token(t, fx.admin)

	// stored statuses stay pending once the due date passes
	due := bills[0].DueDate
	core.NowFunc = func() time.Time { return due.AddDate(0, 0, 1) }
	t.Cleanup(func() { core.NowFunc = time.Now })
	tests := []struct {
		status  string
		wantLen int
	}{
		{status: billing.StatusPending, wantLen: 0},
		{status: billing.StatusOverdue, wantLen: 2},
		{status: billing.StatusPending + "&status=" + billing.StatusOverdue, wantLen: 2},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			rec := app.do(http.MethodGet, "/api/bills?status="+tt.status, adminToken)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var got []billing.Bill
			unmarchall(t, rec, &got)
			require.Len(t, got, tt.wantLen)
			for _, b := range got {
				assert.Equal(t, billing.StatusOverdue, b.Status)
			}
		})
	}
}

func Test_billingApi_payments(t *testing.T) {
	fx := newBillingFixture(t)
	app := fx.app
	bills := fx.generate(t)
	tinaBill := billOf(t, bills, fx.tina.ID)
	tomBill := billOf(t, bills, fx.tom.ID)
	payPath := "/api/bills/" + tinaBill.ID + "/payments"
	larryToken := app.token(t, fx.larry)

	pay := func(amount int64) []byte {
		return marchallObj(t, billing.NewPayment{Amount: decimal.NewFromInt(amount), Method: billing.MethodMobileMoney, Reference: "MPESA-1"})
	}

	runHTTPTests(t, app, []httpTest{
		{
			name: "tenants cannot record", method: http.MethodPost, path: payPath, token: app.token(t, fx.tina), body: pay(100),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "other landlord", method: http.MethodPost, path: payPath, token: app.token(t, fx.lucy), body: pay(100),
			wantCode: http.StatusNotFound,
		},
		{
			name: "invalid method", method: http.MethodPost, path: payPath, token: larryToken, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, billing.NewPayment{Amount: decimal.NewFromInt(100), Method: "iou"}),
			wantData: marchallObj(t, map[string]string{"method": "method must be one of [cash bank_transfer card mobile_money check]"}),
		},
		{
			name: "zero amount", method: http.MethodPost, path: payPath, token: larryToken, body: pay(0),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"amount": "amount must be greater than 0"}),
		},
		{
			name: "fraction of a cent", method: http.MethodPost, path: payPath, token: larryToken, wantCode: http.StatusBadRequest,
			body:     marchallObj(t, billing.NewPayment{Amount: decimal.RequireFromString("100.005"), Method: billing.MethodCash}),
			wantData: marchallObj(t, map[string]string{"amount": "amount cannot have more than 2 decimal places"}),
		},
		{
			name: "overpayment", method: http.MethodPost, path: payPath, token: larryToken, body: pay(1500),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"amount": "amount exceeds the bill balance (1000.00)"}),
		},
	})

	t.Run("partial then full", func(t *testing.T) {
		rec := app.do(http.MethodPost, payPath, larryToken, pay(400))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var resp echoapi.PaymentResponse
		unmarchall(t, rec, &resp)
		assert.True(t, resp.Bill.AmountPaid.Equal(decimal.NewFromInt(400)))
		assert.Equal(t, billing.StatusOverdue, resp.Bill.Status, "still past due")
		assert.Equal(t, fx.larry.ID, resp.Payment.RecordedBy)
		assert.Equal(t, fx.tina.ID, resp.Payment.TenantID)

		rec = app.do(http.MethodPost, payPath, larryToken, pay(600))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		unmarchall(t, rec, &resp)
		assert.Equal(t, billing.StatusPaid, resp.Bill.Status)
		assert.True(t, resp.Bill.PaidAt.Valid)
		assert.True(t, resp.Bill.Balance().IsZero())

		rec = app.do(http.MethodPost, payPath, larryToken, pay(1))
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: billing.ErrNothingToPay.Error()})}, rec)
	})

	t.Run("listing", func(t *testing.T) {
		for _, tt := range []struct {
			token string
			path  string
			want  int
		}{
			{token: larryToken, path: "/api/payments", want: 2},
			{token: app.token(t, fx.tina), path: "/api/payments", want: 2},
			{token: app.token(t, fx.tom), path: "/api/payments", want: 0},
			{token: app.token(t, fx.lucy), path: "/api/payments", want: 0},
			{token: app.token(t, fx.tina), path: payPath, want: 2},
			{token: app.token(t, fx.admin), path: "/api/payments?bill_id=" + tomBill.ID, want: 0},
		} {
			rec := app.do(http.MethodGet, tt.path, tt.token)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Len(t, objectIDs(t, rec), tt.want, tt.path)
		}
	})

	t.Run("cancel", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/api/bills/"+tinaBill.ID+"/cancel", larryToken)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: billing.ErrBillHasPayments.Error()})}, rec)

		lucyToken := app.token(t, fx.lucy)
		cancelPath := "/api/bills/" + tomBill.ID + "/cancel"
		rec = app.do(http.MethodPost, cancelPath, lucyToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var b billing.Bill
		unmarchall(t, rec, &b)
		assert.Equal(t, billing.StatusCancelled, b.Status)

		rec = app.do(http.MethodPost, cancelPath, lucyToken)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: billing.ErrBillCancelled.Error()})}, rec)

		rec = app.do(http.MethodPost, "/api/bills/"+tomBill.ID+"/payments", lucyToken, pay(100))
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: billing.ErrBillCancelled.Error()})}, rec)
	})
}

func Test_billingApi_createAndLateFees(t *testing.T) {
	fx := newBillingFixture(t)
	app := fx.app
	larryToken := app.token(t, fx.larry)
	bills := fx.generate(t)
	tinaBill := billOf(t, bills, fx.tina.ID)

	t.Run("late fees", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/api/bills/late-fees", larryToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		adminToken := app.token(t, fx.admin)
		rec = app.do(http.MethodPost, "/api/bills/late-fees", adminToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.LateFeesResponse{Charged: 2})}, rec)

		// one late fee per bill
		rec = app.do(http.MethodPost, "/api/bills/late-fees", adminToken)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.LateFeesResponse{Charged: 0})}, rec)

		rec = app.do(http.MethodGet, "/api/bills/"+tinaBill.ID, larryToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var b billing.Bill
		unmarchall(t, rec, &b)
		assert.True(t, b.Total.Equal(decimal.NewFromInt(1050)))
		assert.True(t, b.LateFees().Equal(decimal.NewFromInt(50)))

		rec = app.do(http.MethodPost, "/api/bills/"+tinaBill.ID+"/items", larryToken, marchallObj(t, billing.NewLineItem{
			Kind: billing.ItemLateFee, Amount: decimal.NewFromInt(10),
		}))
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"kind": "bill already has a late fee"})}, rec)
	})

	t.Run("add item", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/api/bills/"+tinaBill.ID+"/items", larryToken, marchallObj(t, billing.NewLineItem{
			Kind: billing.ItemUtility, Description: "  Water  ", Amount: decimal.RequireFromString("35.50"),
		}))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var b billing.Bill
		unmarchall(t, rec, &b)
		require.Len(t, b.Items, 3)
		assert.Equal(t, "Water", b.Items[2].Description)
		assert.True(t, b.Total.Equal(decimal.RequireFromString("1085.50")))
	})

	newBill := func(leaseID string, items ...billing.NewLineItem) []byte {
		start := fx.month.AddDate(0, 1, 0)
		return marchallObj(t, billing.NewBill{
			LeaseID: leaseID, PeriodStart: start, PeriodEnd: start.AddDate(0, 1, 0), Items: items,
		})
	}
	deposit := billing.NewLineItem{Kind: billing.ItemDeposit, Description: "Deposit top-up", Amount: decimal.NewFromInt(300)}

	runHTTPTests(t, app, []httpTest{
		{
			name: "items required", method: http.MethodPost, path: "/api/bills", token: larryToken, body: newBill(fx.tinaLease.ID),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"items": "this field is required"}),
		},
		{
			name: "other landlord's lease", method: http.MethodPost, path: "/api/bills", token: larryToken, body: newBill(fx.tomLease.ID, deposit),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"lease_id": "lease not found"}),
		},
		{
			name: "tenants cannot create", method: http.MethodPost, path: "/api/bills", token: app.token(t, fx.tina), body: newBill(fx.tinaLease.ID, deposit),
			wantCode: http.StatusForbidden,
		},
	})

	t.Run("manual bill", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/api/bills", larryToken, newBill(fx.tinaLease.ID, deposit))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var b billing.Bill
		unmarchall(t, rec, &b)
		assert.Equal(t, billing.SourceManual, b.Source)
		assert.Equal(t, fx.tina.ID, b.TenantID)
		assert.True(t, b.Total.Equal(decimal.NewFromInt(300)))
		assert.True(t, b.DueDate.Equal(fx.month.AddDate(0, 1, 4)))

		// tina already has a bill starting that month, so only tom gets a rent bill
		rec = app.do(http.MethodPost, "/api/bills/generate", app.token(t, fx.admin),
			marchallObj(t, echoapi.GenerateBillsRequest{Month: fx.month.AddDate(0, 1, 0).Format("2006-01")}))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var generated []billing.Bill
		unmarchall(t, rec, &generated)
		require.Len(t, generated, 1)
		assert.Equal(t, fx.tom.ID, generated[0].TenantID)
	})
}
