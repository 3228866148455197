package echoapi

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/billing"
	"github.com/trezcool/nyumba/core/user"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var errBillNotFoundInCtx = errors.New("bill object not found in echo.Context")

type billingApi struct {
	svc      billing.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerBillingAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := billingApi{
		svc:      deps.BillingSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}
	managers := rolesMiddleware(user.RoleAdmin, user.RoleLandlord)

	bg := g.Group("/bills", authed)
	bg.GET("", api.query)
	bg.POST("", api.create, managers)
	bg.GET("/stats", api.stats, managers)
	bg.GET("/report", api.report, managers)
	bg.POST("/generate", api.generate, adminMiddleware())
	bg.POST("/late-fees", api.applyLateFees, adminMiddleware())

	dg := bg.Group("/:id", objectMiddleware(api.get))
	dg.GET("", api.retrieve)
	dg.POST("/items", api.addItem, managers)
	dg.POST("/cancel", api.cancel, managers)
	dg.GET("/payments", api.billPayments)
	dg.POST("/payments", api.recordPayment, managers)

	g.GET("/payments", api.payments, authed)
}

func (api *billingApi) get(ctx echo.Context, id string) (interface{}, error) {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return nil, errors.Wrap(err, "getting context user")
	}
	return api.svc.Get(ctx.Request().Context(), actor, id)
}

func (api *billingApi) create(ctx echo.Context) error {
	var data billing.NewBill
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBill")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	b, err := api.svc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating bill")
	}
	return ctx.JSON(http.StatusCreated, b)
}

func (api *billingApi) query(ctx echo.Context) error {
	filter := new(billing.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []billing.Bill{})
	}
	dates := DateParams{
		"due_from":    &filter.DueFrom,
		"due_to":      &filter.DueTo,
		"period_from": &filter.PeriodFrom,
		"period_to":   &filter.PeriodTo,
	}
	if err := dates.Bind(ctx); err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	bills, err := api.svc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying bills")
	}
	if bills == nil {
		bills = []billing.Bill{}
	}
	return ctx.JSON(http.StatusOK, bills)
}

func (api *billingApi) retrieve(ctx echo.Context) error {
	b, ok := ctx.Get(contextObjectKey).(billing.Bill)
	if !ok {
		return errors.Wrap(errBillNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *billingApi) addItem(ctx echo.Context) error {
	b, ok := ctx.Get(contextObjectKey).(billing.Bill)
	if !ok {
		return errors.Wrap(errBillNotFoundInCtx, "retrieving object from context")
	}

	var data billing.NewLineItem
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLineItem")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	b, err = api.svc.AddItem(ctx.Request().Context(), actor, b, data)
	if err != nil {
		return errors.Wrap(err, "adding line item")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *billingApi) cancel(ctx echo.Context) error {
	b, ok := ctx.Get(contextObjectKey).(billing.Bill)
	if !ok {
		return errors.Wrap(errBillNotFoundInCtx, "retrieving object from context")
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	b, err = api.svc.Cancel(ctx.Request().Context(), actor, b)
	if err != nil {
		return errors.Wrap(err, "cancelling bill")
	}
	return ctx.JSON(http.StatusOK, b)
}

func (api *billingApi) recordPayment(ctx echo.Context) error {
	b, ok := ctx.Get(contextObjectKey).(billing.Bill)
	if !ok {
		return errors.Wrap(errBillNotFoundInCtx, "retrieving object from context")
	}

	var data billing.NewPayment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	b, p, err := api.svc.RecordPayment(ctx.Request().Context(), actor, b, data)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return ctx.JSON(http.StatusCreated, PaymentResponse{Bill: b, Payment: p})
}

func (api *billingApi) billPayments(ctx echo.Context) error {
	b, ok := ctx.Get(contextObjectKey).(billing.Bill)
	if !ok {
		return errors.Wrap(errBillNotFoundInCtx, "retrieving object from context")
	}
	return api.listPayments(ctx, &billing.PaymentFilter{BillID: b.ID})
}

func (api *billingApi) payments(ctx echo.Context) error {
	filter := new(billing.PaymentFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []billing.Payment{})
	}
	dates := DateParams{"paid_from": &filter.PaidFrom, "paid_to": &filter.PaidTo}
	if err := dates.Bind(ctx); err != nil {
		return err
	}
	return api.listPayments(ctx, filter)
}

func (api *billingApi) listPayments(ctx echo.Context, filter *billing.PaymentFilter) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	payments, err := api.svc.Payments(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying payments")
	}
	if payments == nil {
		payments = []billing.Payment{}
	}
	return ctx.JSON(http.StatusOK, payments)
}

func (api *billingApi) stats(ctx echo.Context) error {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	stats, err := api.svc.Dashboard(ctx.Request().Context(), actor)
	if err != nil {
		return errors.Wrap(err, "computing stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

// report renders the monthly report as JSON, or as a spreadsheet with `?format=xlsx`.
func (api *billingApi) report(ctx echo.Context) error {
	month, err := monthParam(ctx, "month")
	if err != nil {
		return err
	}
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	if strings.EqualFold(ctx.QueryParam("format"), "xlsx") {
		resp := ctx.Response()
		resp.Header().Set(echo.HeaderContentType, xlsxContentType)
		resp.Header().Set(echo.HeaderContentDisposition,
			fmt.Sprintf("attachment; filename=%q", "billing-"+month.Format("2006-01")+".xlsx"))
		resp.WriteHeader(http.StatusOK)
		return errors.Wrap(api.svc.ExportReport(ctx.Request().Context(), actor, month, resp), "exporting report")
	}

	report, err := api.svc.Report(ctx.Request().Context(), actor, month)
	if err != nil {
		return errors.Wrap(err, "building report")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *billingApi) generate(ctx echo.Context) error {
	var data GenerateBillsRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GenerateBillsRequest")
	}
	month := core.NowFunc().UTC()
	if data.Month != "" {
		t, ok := parseDate(data.Month)
		if !ok {
			return core.NewFieldError("month", "invalid month, use YYYY-MM")
		}
		month = t
	}

	bills, err := api.svc.GenerateMonthly(ctx.Request().Context(), month)
	if err != nil {
		return errors.Wrap(err, "generating monthly bills")
	}
	if bills == nil {
		bills = []billing.Bill{}
	}
	return ctx.JSON(http.StatusCreated, bills)
}

func (api *billingApi) applyLateFees(ctx echo.Context) error {
	n, err := api.svc.ApplyLateFees(ctx.Request().Context(), core.NowFunc())
	if err != nil {
		return errors.Wrap(err, "applying late fees")
	}
	return ctx.JSON(http.StatusOK, LateFeesResponse{Charged: n})
}

type (
	PaymentResponse struct {
		Bill    billing.Bill    `json:"bill"`
		Payment billing.Payment `json:"payment"`
	}

	GenerateBillsRequest struct {
		Month string `json:"month"` // YYYY-MM; the current month when empty
	}

	LateFeesResponse struct {
		Charged int `json:"charged"`
	}
)
