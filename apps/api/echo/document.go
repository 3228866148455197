package echoapi

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/nyumba/core"
	"github.com/trezcool/nyumba/core/document"
	"github.com/trezcool/nyumba/core/user"
)

const uploadField = "file"

var errDocNotFoundInCtx = errors.New("document object not found in echo.Context")

type documentApi struct {
	svc      document.Service
	usrSvc   user.Service
	validate *validator.Validate
}

func registerDocumentAPI(g *echo.Group, authed echo.MiddlewareFunc, deps ServerDeps) {
	api := documentApi{
		svc:      deps.DocumentSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	dg := g.Group("/documents", authed)
	dg.GET("", api.query)
	dg.POST("", api.upload, middleware.BodyLimit(deps.Conf.Server.MaxUploadSize))

	og := dg.Group("/:id", objectMiddleware(api.get))
	og.GET("", api.retrieve)
	og.GET("/download", api.download)
	og.DELETE("", api.destroy)
}

func (api *documentApi) get(ctx echo.Context, id string) (interface{}, error) {
	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return nil, errors.Wrap(err, "getting context user")
	}
	return api.svc.Get(ctx.Request().Context(), actor, id)
}

// upload stores the multipart `file`, optionally attached with the `lease_id` or `maintenance_id` form values.
func (api *documentApi) upload(ctx echo.Context) error {
	var data document.NewDocument
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewDocument")
	}
	fh, err := ctx.FormFile(uploadField)
	if err != nil {
		return core.NewFieldError(uploadField, "a file is required")
	}
	data.Name = fh.Filename
	data.ContentType = fh.Header.Get(echo.HeaderContentType)
	data.Size = fh.Size
	if err = api.validate.Struct(&data); err != nil {
		return err
	}

	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	doc, err := api.svc.Upload(ctx.Request().Context(), actor, data, f)
	if err != nil {
		return errors.Wrap(err, "uploading document")
	}
	return ctx.JSON(http.StatusCreated, doc)
}

func (api *documentApi) query(ctx echo.Context) error {
	filter := new(document.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []document.Document{})
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	docs, err := api.svc.Query(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying documents")
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return ctx.JSON(http.StatusOK, docs)
}

func (api *documentApi) retrieve(ctx echo.Context) error {
	doc, ok := ctx.Get(contextObjectKey).(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, doc)
}

// download redirects to the store's signed URL when it has one, and streams the content otherwise.
func (api *documentApi) download(ctx echo.Context) error {
	doc, ok := ctx.Get(contextObjectKey).(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	dl, err := api.svc.Open(ctx.Request().Context(), actor, doc)
	if err != nil {
		return errors.Wrap(err, "opening document")
	}
	if dl.URL != "" {
		return ctx.Redirect(http.StatusFound, dl.URL)
	}
	defer dl.Body.Close()

	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Name))
	return ctx.Stream(http.StatusOK, doc.ContentType, dl.Body)
}

func (api *documentApi) destroy(ctx echo.Context) error {
	doc, ok := ctx.Get(contextObjectKey).(document.Document)
	if !ok {
		return errors.Wrap(errDocNotFoundInCtx, "retrieving object from context")
	}

	actor, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if err = api.svc.Delete(ctx.Request().Context(), actor, doc); err != nil {
		return errors.Wrap(err, "deleting document")
	}
	return ctx.NoContent(http.StatusNoContent)
}
