package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core/lease"
	"github.com/trezcool/nyumba/core/user"
)

var errLeaseNotFoundInCtx = errors.New("lease object not found in echo.Context")

type leaseApi struct {
	svc      lease.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerLeaseAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := leaseApi{
		svc:      deps.LeaseSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}
	managers := rolesMiddleware(user.RoleAdmin, user.RoleLandlord)

	lg := g.Group("/leases", authed)
	lg.GET("", api.query)
	lg.POST("", api.create, managers)

	dg := lg.Group("/:id", objectMiddleware(api.get))
	dg.GET("", api.retrieve)
	dg.POST("/terminate", api.terminate, managers)
}

func (api *leaseApi) get(ctx echo.Context, id string) (interface{}, error) {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return nil, errors.Wrap(err, "getting context user")
	}
	return api.svc.Get(ctx.Request().Context(), actor, id)
}

func (api *leaseApi) create(ctx echo.Context) error {
	var data lease.NewLease
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewLease")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	l, err := api.svc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating lease")
	}
	return ctx.JSON(http.StatusCreated, l)
}

func (api *leaseApi) query(ctx echo.Context) error {
	filter := new(lease.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []lease.Lease{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	leases, err := api.svc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying leases")
	}
	if leases == nil {
		leases = []lease.Lease{}
	}
	return ctx.JSON(http.StatusOK, leases)
}

func (api *leaseApi) retrieve(ctx echo.Context) error {
	l, ok := ctx.Get(contextObjectKey).(lease.Lease)
	if !ok {
		return errors.Wrap(errLeaseNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, l)
}

func (api *leaseApi) terminate(ctx echo.Context) error {
	l, ok := ctx.Get(contextObjectKey).(lease.Lease)
	if !ok {
		return errors.Wrap(errLeaseNotFoundInCtx, "retrieving object from context")
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	l, err = api.svc.Terminate(ctx.Request().Context(), actor, l)
	if err != nil {
		return errors.Wrap(err, "terminating lease")
	}
	return ctx.JSON(http.StatusOK, l)
}
