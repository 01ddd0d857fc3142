package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core/billing"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/student"
	"github.com/trezcool/cadenza/core/user"
)

type studentApi struct {
	svc          *student.Service
	enrollments  *enrollment.Service
	ledger       *billing.LedgerService
	transactions *billing.TransactionService
	validate     *validator.Validate
}

func registerStudentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *di.Services) {
	api := studentApi{
		svc:          svcs.Students,
		enrollments:  svcs.Enrollments,
		ledger:       svcs.Ledger,
		transactions: svcs.Transactions,
		validate:     svcs.Validate,
	}

	sg := g.Group("/students", jwt, roleMiddleware(user.RoleOffice))
	sg.POST("", api.create)
	sg.GET("", api.query)

	dg := sg.Group("/:id", objectMiddleware(api.svc.Get))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.deactivate)
	dg.GET("/enrollments", api.queryEnrollments)
	dg.GET("/ledger", api.queryLedger)
	dg.GET("/balance", api.balance)
	dg.GET("/transactions", api.statement)
	dg.POST("/apply-credits", api.applyCredits)
}

func (api *studentApi) create(ctx echo.Context) error {
	var data student.NewStudent
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewStudent")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	st, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *studentApi) query(ctx echo.Context) error {
	filter := new(student.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []student.Student{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	students, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	st, err := contextObject[student.Student](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *studentApi) update(ctx echo.Context) error {
	st, err := contextObject[student.Student](ctx)
	if err != nil {
		return err
	}

	var data student.UpdateStudent
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStudent")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	st, err = api.svc.Update(ctx.Request().Context(), st, data)
	if err != nil {
		return errors.Wrap(err, "updating student")
	}
	return ctx.JSON(http.StatusOK, st)
}

// deactivate keeps the student's history: students are never deleted.
func (api *studentApi) deactivate(ctx echo.Context) error {
	st, err := contextObject[student.Student](ctx)
	if err != nil {
		return err
	}
	if _, err = api.svc.Deactivate(ctx.Request().Context(), st); err != nil {
		return errors.Wrap(err, "deactivating student")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *studentApi) queryEnrollments(ctx echo.Context) error {
	st, err := contextObject[student.Student](ctx)
	if err != nil {
		return err
	}

	filter := new(enrollment.QueryFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []enrollment.Enrollment{})
	}
	filter.Clean()
	filter.StudentID = st.ID
	ordering := new(Ordering)
	ordering.Bind(ctx)

	enrs, err := api.enrollments.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying enrollments")
	}
	if enrs == nil {
		enrs = []enrollment.Enrollment{}
	}
	return ctx.JSON(http.StatusOK, enrs)
}

func (api *studentApi) queryLedger(ctx echo.Context) error {
	st, err := contextObject[student.Student](ctx)
	if err != nil {
		return err
	}

	filter := new(billing.EntryFilter)
	if err = ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []billing.Entry{})
	}
	filter.Clean()
	filter.StudentID = st.ID

	entries, err := api.ledger.Entries(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying ledger entries")
	}
	if entries == nil {
		entries = []billing.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *studentApi) balance(ctx echo.Context) error {
	st, err := contextObject[student.Student](ctx)
	if err != nil {
		return err
	}

	bal, err := api.ledger.Balance(ctx.Request().Context(), st.ID)
	if err != nil {
		return errors.Wrap(err, "computing balance")
	}
	return ctx.JSON(http.StatusOK, bal)
}

func (api *studentApi) statement(ctx echo.Context) error {
	st, err := contextObject[student.Student](ctx)
	if err != nil {
		return err
	}
	from, err := queryDate(ctx, "from")
	if err != nil {
		return err
	}
	to, err := queryDate(ctx, "to")
	if err != nil {
		return err
	}

	stmt, err := api.transactions.Statement(ctx.Request().Context(), st.ID, from, to)
	if err != nil {
		return errors.Wrap(err, "building statement")
	}
	return ctx.JSON(http.StatusOK, stmt)
}

func (api *studentApi) applyCredits(ctx echo.Context) error {
	st, err := contextObject[student.Student](ctx)
	if err != nil {
		return err
	}

	apps, err := api.ledger.ApplyOutstanding(ctx.Request().Context(), st.ID)
	if err != nil {
		return errors.Wrap(err, "applying outstanding entries")
	}
	if apps == nil {
		apps = []billing.Application{}
	}
	return ctx.JSON(http.StatusOK, apps)
}
