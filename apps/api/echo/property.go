package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core/property"
	"github.com/trezcool/nyumba/core/user"
)

var (
	errPropNotFoundInCtx = errors.New("property object not found in echo.Context")
	errUnitNotFoundInCtx = errors.New("unit object not found in echo.Context")
)

type propertyApi struct {
	svc      property.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerPropertyAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := propertyApi{
		svc:      deps.PropertySvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}
	managers := rolesMiddleware(user.RoleAdmin, user.RoleLandlord)

	pg := g.Group("/properties", authed)
	pg.GET("", api.query)
	pg.POST("", api.create, managers)

	dg := pg.Group("/:id", objectMiddleware(api.getProperty))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, managers)
	dg.DELETE("", api.destroy, managers)
	dg.GET("/units", api.queryPropertyUnits)
	dg.POST("/units", api.createUnit, managers)

	ug := g.Group("/units", authed)
	ug.GET("", api.queryUnits)

	udg := ug.Group("/:id", objectMiddleware(api.getUnit))
	udg.GET("", api.retrieveUnit)
	udg.PUT("", api.updateUnit, managers)
	udg.DELETE("", api.destroyUnit, managers)
}

func (api *propertyApi) getProperty(ctx echo.Context, id string) (interface{}, error) {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return nil, errors.Wrap(err, "getting context user")
	}
	return api.svc.Get(ctx.Request().Context(), actor, id)
}

func (api *propertyApi) getUnit(ctx echo.Context, id string) (interface{}, error) {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return nil, errors.Wrap(err, "getting context user")
	}
	return api.svc.GetUnit(ctx.Request().Context(), actor, id)
}

// Properties

func (api *propertyApi) create(ctx echo.Context) error {
	var data property.NewProperty
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewProperty")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	p, err := api.svc.Create(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "creating property")
	}
	return ctx.JSON(http.StatusCreated, p)
}

func (api *propertyApi) query(ctx echo.Context) error {
	filter := new(property.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []property.Property{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	props, err := api.svc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying properties")
	}
	if props == nil {
		props = []property.Property{}
	}
	return ctx.JSON(http.StatusOK, props)
}

func (api *propertyApi) retrieve(ctx echo.Context) error {
	p, ok := ctx.Get(contextObjectKey).(property.Property)
	if !ok {
		return errors.Wrap(errPropNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *propertyApi) update(ctx echo.Context) error {
	p, ok := ctx.Get(contextObjectKey).(property.Property)
	if !ok {
		return errors.Wrap(errPropNotFoundInCtx, "retrieving object from context")
	}

	var data property.UpdateProperty
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateProperty")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	p, err = api.svc.Update(ctx.Request().Context(), actor, p, data)
	if err != nil {
		return errors.Wrap(err, "updating property")
	}
	return ctx.JSON(http.StatusOK, p)
}

func (api *propertyApi) destroy(ctx echo.Context) error {
	p, ok := ctx.Get(contextObjectKey).(property.Property)
	if !ok {
		return errors.Wrap(errPropNotFoundInCtx, "retrieving object from context")
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.Delete(ctx.Request().Context(), actor, p); err != nil {
		return errors.Wrap(err, "deleting property")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Units

func (api *propertyApi) createUnit(ctx echo.Context) error {
	p, ok := ctx.Get(contextObjectKey).(property.Property)
	if !ok {
		return errors.Wrap(errPropNotFoundInCtx, "retrieving object from context")
	}

	var data property.NewUnit
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUnit")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	u, err := api.svc.CreateUnit(ctx.Request().Context(), actor, p, data)
	if err != nil {
		return errors.Wrap(err, "creating unit")
	}
	return ctx.JSON(http.StatusCreated, u)
}

func (api *propertyApi) queryPropertyUnits(ctx echo.Context) error {
	p, ok := ctx.Get(contextObjectKey).(property.Property)
	if !ok {
		return errors.Wrap(errPropNotFoundInCtx, "retrieving object from context")
	}
	return api.listUnits(ctx, func(filter *property.UnitFilter) { filter.PropertyID = p.ID })
}

func (api *propertyApi) queryUnits(ctx echo.Context) error {
	return api.listUnits(ctx, nil)
}

func (api *propertyApi) listUnits(ctx echo.Context, scope func(*property.UnitFilter)) error {
	filter := new(property.UnitFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []property.Unit{})
	}
	if scope != nil {
		scope(filter)
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	units, err := api.svc.QueryUnits(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying units")
	}
	if units == nil {
		units = []property.Unit{}
	}
	return ctx.JSON(http.StatusOK, units)
}

func (api *propertyApi) retrieveUnit(ctx echo.Context) error {
	u, ok := ctx.Get(contextObjectKey).(property.Unit)
	if !ok {
		return errors.Wrap(errUnitNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, u)
}

func (api *propertyApi) updateUnit(ctx echo.Context) error {
	u, ok := ctx.Get(contextObjectKey).(property.Unit)
	if !ok {
		return errors.Wrap(errUnitNotFoundInCtx, "retrieving object from context")
	}

	var data property.UpdateUnit
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUnit")
	}
	if err := data.Validate(api.validate, u); err != nil {
		return err
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	u, err = api.svc.UpdateUnit(ctx.Request().Context(), actor, u, data)
	if err != nil {
		return errors.Wrap(err, "updating unit")
	}
	return ctx.JSON(http.StatusOK, u)
}

func (api *propertyApi) destroyUnit(ctx echo.Context) error {
	u, ok := ctx.Get(contextObjectKey).(property.Unit)
	if !ok {
		return errors.Wrap(errUnitNotFoundInCtx, "retrieving object from context")
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.DeleteUnit(ctx.Request().Context(), actor, u); err != nil {
		return errors.Wrap(err, "deleting unit")
	}
	return ctx.NoContent(http.StatusNoContent)
}
