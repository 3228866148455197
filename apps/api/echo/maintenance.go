package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core/maintenance"
	"github.com/trezcool/nyumba/core/user"
)

var errRequestNotFoundInCtx = errors.New("maintenance request object not found in echo.Context")

type maintenanceApi struct {
	svc      maintenance.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerMaintenanceAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := maintenanceApi{
		svc:      deps.MaintenanceSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	mg := g.Group("/maintenance", authed)
	mg.GET("", api.query)
	mg.POST("", api.open, rolesMiddleware(user.RoleTenant))

	dg := mg.Group("/:id", objectMiddleware(api.get))
	dg.GET("", api.retrieve)
	dg.PUT("/status", api.updateStatus)
}

func (api *maintenanceApi) get(ctx echo.Context, id string) (interface{}, error) {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return nil, errors.Wrap(err, "getting context user")
	}
	return api.svc.Get(ctx.Request().Context(), actor, id)
}

func (api *maintenanceApi) open(ctx echo.Context) error {
	var data maintenance.NewRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	r, err := api.svc.Open(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "opening maintenance request")
	}
	return ctx.JSON(http.StatusCreated, r)
}

func (api *maintenanceApi) query(ctx echo.Context) error {
	filter := new(maintenance.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []maintenance.Request{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	reqs, err := api.svc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying maintenance requests")
	}
	if reqs == nil {
		reqs = []maintenance.Request{}
	}
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *maintenanceApi) retrieve(ctx echo.Context) error {
	r, ok := ctx.Get(contextObjectKey).(maintenance.Request)
	if !ok {
		return errors.Wrap(errRequestNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *maintenanceApi) updateStatus(ctx echo.Context) error {
	r, ok := ctx.Get(contextObjectKey).(maintenance.Request)
	if !ok {
		return errors.Wrap(errRequestNotFoundInCtx, "retrieving object from context")
	}

	var data maintenance.UpdateStatus
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStatus")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	r, err = api.svc.UpdateStatus(ctx.Request().Context(), actor, r, data.Status)
	if err != nil {
		return errors.Wrap(err, "updating maintenance request status")
	}
	return ctx.JSON(http.StatusOK, r)
}
