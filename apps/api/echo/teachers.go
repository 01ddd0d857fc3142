package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core/teacher"
	"github.com/trezcool/cadenza/core/user"
)

type teacherApi struct {
	svc      *teacher.Service
	validate *validator.Validate
}

func registerTeacherAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *di.Services) {
	api := teacherApi{svc: svcs.Teachers, validate: svcs.Validate}
	office := roleMiddleware(user.RoleOffice)

	tg := g.Group("/teachers", jwt, roleMiddleware(user.RoleOffice, user.RoleTeacher))
	tg.POST("", api.create, office)
	tg.GET("", api.query)

	dg := tg.Group("/:id", objectMiddleware(api.svc.Get))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, office)
	dg.DELETE("", api.deactivate, office)
}

func (api *teacherApi) create(ctx echo.Context) error {
	var data teacher.NewTeacher
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTeacher")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tchr, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating teacher")
	}
	return ctx.JSON(http.StatusCreated, tchr)
}

func (api *teacherApi) query(ctx echo.Context) error {
	filter := new(teacher.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []teacher.Teacher{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	teachers, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying teachers")
	}
	if teachers == nil {
		teachers = []teacher.Teacher{}
	}
	return ctx.JSON(http.StatusOK, teachers)
}

func (api *teacherApi) retrieve(ctx echo.Context) error {
	tchr, err := contextObject[teacher.Teacher](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, tchr)
}

func (api *teacherApi) update(ctx echo.Context) error {
	tchr, err := contextObject[teacher.Teacher](ctx)
	if err != nil {
		return err
	}

	var data teacher.UpdateTeacher
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTeacher")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	tchr, err = api.svc.Update(ctx.Request().Context(), tchr, data)
	if err != nil {
		return errors.Wrap(err, "updating teacher")
	}
	return ctx.JSON(http.StatusOK, tchr)
}

func (api *teacherApi) deactivate(ctx echo.Context) error {
	tchr, err := contextObject[teacher.Teacher](ctx)
	if err != nil {
		return err
	}
	if _, err = api.svc.Deactivate(ctx.Request().Context(), tchr); err != nil {
		return errors.Wrap(err, "deactivating teacher")
	}
	return ctx.NoContent(http.StatusNoContent)
}
