package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/pricing"
	"github.com/trezcool/cadenza/core/user"
)

// maxLessonsRange bounds /courses/:id/lessons queries.
const maxLessonsRange = 366

var errLessonsRange = errors.New("the date range must be within a year, starting on `from`")

type courseApi struct {
	svc      *course.Service
	pricing  *pricing.Service
	validate *validator.Validate
}

func registerCourseAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *di.Services) {
	api := courseApi{svc: svcs.Courses, pricing: svcs.Pricing, validate: svcs.Validate}
	office := roleMiddleware(user.RoleOffice)
	staff := roleMiddleware(user.RoleOffice, user.RoleTeacher)

	tg := g.Group("/course-types", jwt, staff)
	tg.POST("", api.createType, office)
	tg.GET("", api.queryTypes)

	tdg := tg.Group("/:id", objectMiddleware(api.svc.GetCourseType))
	tdg.GET("", api.retrieveType)
	tdg.PUT("", api.updateType, office)
	tdg.GET("/pricing", api.pricingHistory)
	tdg.POST("/pricing", api.createVersion, office)
	tdg.GET("/pricing/current", api.currentPricing)
	tdg.GET("/pricing/at", api.pricingAt)

	cg := g.Group("/courses", jwt, staff)
	cg.POST("", api.create, office)
	cg.GET("", api.query)

	cdg := cg.Group("/:id", objectMiddleware(api.svc.Get))
	cdg.GET("", api.retrieve)
	cdg.PUT("", api.update, office)
	cdg.DELETE("", api.deactivate, office)
	cdg.GET("/lessons", api.lessons)
}

// Course types

func (api *courseApi) createType(ctx echo.Context) error {
	var data course.NewCourseType
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourseType")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ct, err := api.svc.CreateCourseType(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating course type")
	}
	return ctx.JSON(http.StatusCreated, ct)
}

func (api *courseApi) queryTypes(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	cts, err := api.svc.QueryCourseTypes(ctx.Request().Context(), ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying course types")
	}
	if cts == nil {
		cts = []course.CourseType{}
	}
	return ctx.JSON(http.StatusOK, cts)
}

func (api *courseApi) retrieveType(ctx echo.Context) error {
	ct, err := contextObject[course.CourseType](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ct)
}

func (api *courseApi) updateType(ctx echo.Context) error {
	ct, err := contextObject[course.CourseType](ctx)
	if err != nil {
		return err
	}

	var data course.UpdateCourseType
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourseType")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	ct, err = api.svc.UpdateCourseType(ctx.Request().Context(), ct, data)
	if err != nil {
		return errors.Wrap(err, "updating course type")
	}
	return ctx.JSON(http.StatusOK, ct)
}

// Pricing

func (api *courseApi) pricingHistory(ctx echo.Context) error {
	ct, err := contextObject[course.CourseType](ctx)
	if err != nil {
		return err
	}

	versions, err := api.pricing.History(ctx.Request().Context(), ct.ID)
	if err != nil {
		return errors.Wrap(err, "querying pricing history")
	}
	if versions == nil {
		versions = []pricing.Version{}
	}
	return ctx.JSON(http.StatusOK, versions)
}

func (api *courseApi) createVersion(ctx echo.Context) error {
	ct, err := contextObject[course.CourseType](ctx)
	if err != nil {
		return err
	}

	var data pricing.NewVersion
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewVersion")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	v, err := api.pricing.CreateVersion(ctx.Request().Context(), ct.ID, data)
	if err != nil {
		return errors.Wrap(err, "creating pricing version")
	}
	return ctx.JSON(http.StatusCreated, v)
}

func (api *courseApi) currentPricing(ctx echo.Context) error {
	ct, err := contextObject[course.CourseType](ctx)
	if err != nil {
		return err
	}

	v, err := api.pricing.Current(ctx.Request().Context(), ct.ID)
	if err != nil {
		return errors.Wrap(err, "getting current pricing")
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *courseApi) pricingAt(ctx echo.Context) error {
	ct, err := contextObject[course.CourseType](ctx)
	if err != nil {
		return err
	}
	date, err := requiredQueryDate(ctx, "date")
	if err != nil {
		return err
	}

	v, err := api.pricing.PriceAt(ctx.Request().Context(), ct.ID, date)
	if err != nil {
		return errors.Wrapf(err, "getting pricing at %s", date)
	}
	return ctx.JSON(http.StatusOK, v)
}

// Courses

func (api *courseApi) create(ctx echo.Context) error {
	var data course.NewCourse
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewCourse")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	crs, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating course")
	}
	return ctx.JSON(http.StatusCreated, crs)
}

func (api *courseApi) query(ctx echo.Context) error {
	filter := new(course.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []course.Course{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	courses, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying courses")
	}
	if courses == nil {
		courses = []course.Course{}
	}
	return ctx.JSON(http.StatusOK, courses)
}

func (api *courseApi) retrieve(ctx echo.Context) error {
	crs, err := contextObject[course.Course](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, crs)
}

func (api *courseApi) update(ctx echo.Context) error {
	crs, err := contextObject[course.Course](ctx)
	if err != nil {
		return err
	}

	var data course.UpdateCourse
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateCourse")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	crs, err = api.svc.Update(ctx.Request().Context(), crs, data)
	if err != nil {
		return errors.Wrap(err, "updating course")
	}
	return ctx.JSON(http.StatusOK, crs)
}

func (api *courseApi) deactivate(ctx echo.Context) error {
	crs, err := contextObject[course.Course](ctx)
	if err != nil {
		return err
	}
	if _, err = api.svc.Deactivate(ctx.Request().Context(), crs); err != nil {
		return errors.Wrap(err, "deactivating course")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *courseApi) lessons(ctx echo.Context) error {
	crs, err := contextObject[course.Course](ctx)
	if err != nil {
		return err
	}
	from, err := requiredQueryDate(ctx, "from")
	if err != nil {
		return err
	}
	to, err := requiredQueryDate(ctx, "to")
	if err != nil {
		return err
	}
	if to.Before(from) || to.After(from.AddDays(maxLessonsRange)) {
		return core.NewFieldError("to", errLessonsRange)
	}

	dates := crs.Lessons(from, to)
	if dates == nil {
		dates = []core.Date{}
	}
	return ctx.JSON(http.StatusOK, dates)
}
