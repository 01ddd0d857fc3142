package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core/absence"
	"github.com/trezcool/cadenza/core/user"
)

type absenceApi struct {
	svc      *absence.Service
	validate *validator.Validate
}

func registerAbsenceAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *di.Services) {
	api := absenceApi{svc: svcs.Absences, validate: svcs.Validate}

	ag := g.Group("/absences", jwt, roleMiddleware(user.RoleOffice, user.RoleTeacher))
	ag.POST("", api.create)
	ag.GET("", api.query)

	dg := ag.Group("/:id", objectMiddleware(api.svc.Get))
	dg.GET("", api.retrieve)
	dg.DELETE("", api.destroy, roleMiddleware(user.RoleOffice))
}

func (api *absenceApi) create(ctx echo.Context) error {
	var data absence.NewAbsence
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAbsence")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	abs, err := api.svc.Record(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "recording absence")
	}
	return ctx.JSON(http.StatusCreated, abs)
}

func (api *absenceApi) query(ctx echo.Context) error {
	filter := new(absence.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []absence.Absence{})
	}
	filter.Clean()

	abss, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying absences")
	}
	if abss == nil {
		abss = []absence.Absence{}
	}
	return ctx.JSON(http.StatusOK, abss)
}

func (api *absenceApi) retrieve(ctx echo.Context) error {
	abs, err := contextObject[absence.Absence](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, abs)
}

// destroy deletes the absence & reverses its credit.
func (api *absenceApi) destroy(ctx echo.Context) error {
	abs, err := contextObject[absence.Absence](ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), abs.ID); err != nil {
		return errors.Wrap(err, "deleting absence")
	}
	return ctx.NoContent(http.StatusNoContent)
}
