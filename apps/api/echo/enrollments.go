package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/pricing"
	"github.com/trezcool/cadenza/core/schedule"
	"github.com/trezcool/cadenza/core/student"
	"github.com/trezcool/cadenza/core/user"
)

type enrollmentApi struct {
	svc      *enrollment.Service
	students *student.Service
	courses  *course.Service
	pricing  *pricing.EnrollmentPricing
	validate *validator.Validate
}

func registerEnrollmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *di.Services) {
	api := enrollmentApi{
		svc:      svcs.Enrollments,
		students: svcs.Students,
		courses:  svcs.Courses,
		pricing:  svcs.EnrollmentPricing,
		validate: svcs.Validate,
	}

	eg := g.Group("/enrollments", jwt, roleMiddleware(user.RoleOffice))
	eg.POST("", api.create)
	eg.GET("", api.query)
	eg.GET("/conflicts", api.conflicts)

	dg := eg.Group("/:id", objectMiddleware(func(ctx context.Context, id string) (enrollment.Enrollment, error) {
		return api.svc.Get(ctx, id)
	}))
	dg.GET("", api.retrieve)
	dg.PATCH("", api.update)
	dg.POST("/end", api.end)
	dg.GET("/quote", api.quote)
}

func (api *enrollmentApi) create(ctx echo.Context) error {
	var data enrollment.NewEnrollment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEnrollment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	enr, err := api.svc.Enroll(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "enrolling")
	}
	return ctx.JSON(http.StatusCreated, enr)
}

func (api *enrollmentApi) query(ctx echo.Context) error {
	filter := new(enrollment.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []enrollment.Enrollment{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	enrs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrs == nil {
		enrs = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrs)
}

// ConflictsRequest asks which active enrollments would clash with enrolling a student in a course.
type ConflictsRequest struct {
	StudentID string    `json:"student_id" query:"student_id" validate:"required,uuid"`
	CourseID  string    `json:"course_id" query:"course_id" validate:"required,uuid"`
	StartDate core.Date `json:"start_date" query:"start_date"` // defaults to today
}

func (cr *ConflictsRequest) Validate(validate *validator.Validate) error {
	cr.StudentID = core.CleanString(cr.StudentID)
	cr.CourseID = core.CleanString(cr.CourseID)
	if cr.StartDate.IsZero() {
		cr.StartDate = core.Today()
	}
	return validate.Struct(cr)
}

func (api *enrollmentApi) conflicts(ctx echo.Context) error {
	var data ConflictsRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ConflictsRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	conflicts, err := api.svc.CheckConflicts(ctx.Request().Context(), data.StudentID, data.CourseID, data.StartDate)
	if err != nil {
		return errors.Wrap(err, "checking conflicts")
	}
	if conflicts == nil {
		conflicts = []schedule.Conflict{}
	}
	return ctx.JSON(http.StatusOK, conflicts)
}

func (api *enrollmentApi) retrieve(ctx echo.Context) error {
	enr, err := contextObject[enrollment.Enrollment](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *enrollmentApi) update(ctx echo.Context) error {
	enr, err := contextObject[enrollment.Enrollment](ctx)
	if err != nil {
		return err
	}

	var data enrollment.UpdateEnrollment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateEnrollment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	enr, err = api.svc.Update(ctx.Request().Context(), enr, data)
	if err != nil {
		return errors.Wrap(err, "updating enrollment")
	}
	return ctx.JSON(http.StatusOK, enr)
}

func (api *enrollmentApi) end(ctx echo.Context) error {
	enr, err := contextObject[enrollment.Enrollment](ctx)
	if err != nil {
		return err
	}

	var data enrollment.EndEnrollment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EndEnrollment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	enr, err = api.svc.End(ctx.Request().Context(), enr, data.EndDate)
	if err != nil {
		return errors.Wrap(err, "ending enrollment")
	}
	return ctx.JSON(http.StatusOK, enr)
}

// quote prices one lesson of the enrollment on `?date=` (today by default).
func (api *enrollmentApi) quote(ctx echo.Context) error {
	enr, err := contextObject[enrollment.Enrollment](ctx)
	if err != nil {
		return err
	}
	date, err := queryDate(ctx, "date")
	if err != nil {
		return err
	}
	if !date.Valid {
		date = core.NullDateFrom(core.Today())
	}

	reqCtx := ctx.Request().Context()
	st, err := api.students.Get(reqCtx, enr.StudentID)
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	crs, err := api.courses.Get(reqCtx, enr.CourseID)
	if err != nil {
		return errors.Wrap(err, "getting course")
	}

	q, err := api.pricing.Quote(reqCtx, enr, st, crs.CourseTypeID, date.Date)
	if err != nil {
		return errors.Wrap(err, "quoting lesson price")
	}
	return ctx.JSON(http.StatusOK, q)
}
