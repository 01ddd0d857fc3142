package echoapi

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/apps/di"
	"github.com/trezcool/cadenza/core/billing"
	"github.com/trezcool/cadenza/core/user"
)

type billingApi struct {
	invoices *billing.InvoiceService
	ledger   *billing.LedgerService
	validate *validator.Validate
}

func registerBillingAPI(g *echo.Group, jwt echo.MiddlewareFunc, svcs *di.Services) {
	api := billingApi{invoices: svcs.Invoices, ledger: svcs.Ledger, validate: svcs.Validate}
	office := roleMiddleware(user.RoleOffice)

	ig := g.Group("/invoices", jwt, office)
	ig.POST("/generate", api.generate)
	ig.GET("", api.queryInvoices)

	idg := ig.Group("/:id", objectMiddleware(api.invoices.Get))
	idg.GET("", api.retrieveInvoice)
	idg.POST("/issue", api.issue)
	idg.POST("/cancel", api.cancel)
	idg.POST("/payments", api.recordPayment)
	idg.GET("/applications", api.invoiceApplications)

	lg := g.Group("/ledger", jwt, office)
	lg.POST("/entries", api.addEntry)
	lg.GET("/entries", api.queryEntries)

	edg := lg.Group("/entries/:id", objectMiddleware(func(ctx context.Context, id string) (billing.Entry, error) {
		return api.ledger.GetEntry(ctx, id)
	}))
	edg.GET("", api.retrieveEntry)
	edg.POST("/apply", api.applyEntry)
	edg.POST("/decouple", api.decoupleEntry)
	edg.POST("/reverse", api.reverseEntry)

	lg.POST("/applications/:id/reverse", api.reverseApplication)
}

// Invoices

func (api *billingApi) generate(ctx echo.Context) error {
	var data billing.GenerateRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GenerateRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.invoices.Generate(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "generating invoices")
	}
	if res.Invoices == nil {
		res.Invoices = []billing.Invoice{}
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *billingApi) queryInvoices(ctx echo.Context) error {
	filter := new(billing.InvoiceFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []billing.Invoice{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	invs, err := api.invoices.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying invoices")
	}
	if invs == nil {
		invs = []billing.Invoice{}
	}
	return ctx.JSON(http.StatusOK, invs)
}

func (api *billingApi) retrieveInvoice(ctx echo.Context) error {
	inv, err := contextObject[billing.Invoice](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *billingApi) issue(ctx echo.Context) error {
	inv, err := contextObject[billing.Invoice](ctx)
	if err != nil {
		return err
	}

	inv, err = api.invoices.Issue(ctx.Request().Context(), inv.ID)
	if err != nil {
		return errors.Wrap(err, "issuing invoice")
	}
	return ctx.JSON(http.StatusOK, inv)
}

func (api *billingApi) cancel(ctx echo.Context) error {
	inv, err := contextObject[billing.Invoice](ctx)
	if err != nil {
		return err
	}

	inv, err = api.invoices.Cancel(ctx.Request().Context(), inv.ID)
	if err != nil {
		return errors.Wrap(err, "cancelling invoice")
	}
	return ctx.JSON(http.StatusOK, inv)
}

type PaymentResponse struct {
	Invoice billing.Invoice `json:"invoice"`
	Entry   billing.Entry   `json:"entry"`
}

func (api *billingApi) recordPayment(ctx echo.Context) error {
	inv, err := contextObject[billing.Invoice](ctx)
	if err != nil {
		return err
	}

	var data billing.NewPayment
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPayment")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	inv, entry, err := api.invoices.RecordPayment(ctx.Request().Context(), inv.ID, data)
	if err != nil {
		return errors.Wrap(err, "recording payment")
	}
	return ctx.JSON(http.StatusCreated, PaymentResponse{Invoice: inv, Entry: entry})
}

func (api *billingApi) invoiceApplications(ctx echo.Context) error {
	inv, err := contextObject[billing.Invoice](ctx)
	if err != nil {
		return err
	}

	apps, err := api.ledger.Applications(ctx.Request().Context(), inv.ID)
	if err != nil {
		return errors.Wrap(err, "querying applications")
	}
	if apps == nil {
		apps = []billing.Application{}
	}
	return ctx.JSON(http.StatusOK, apps)
}

// Ledger

func (api *billingApi) addEntry(ctx echo.Context) error {
	var data billing.NewEntry
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewEntry")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	entry, err := api.ledger.AddEntry(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "adding ledger entry")
	}
	return ctx.JSON(http.StatusCreated, entry)
}

func (api *billingApi) queryEntries(ctx echo.Context) error {
	filter := new(billing.EntryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []billing.Entry{})
	}
	filter.Clean()

	entries, err := api.ledger.Entries(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying ledger entries")
	}
	if entries == nil {
		entries = []billing.Entry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *billingApi) retrieveEntry(ctx echo.Context) error {
	entry, err := contextObject[billing.Entry](ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, entry)
}

func (api *billingApi) applyEntry(ctx echo.Context) error {
	entry, err := contextObject[billing.Entry](ctx)
	if err != nil {
		return err
	}

	var data billing.ApplyEntryRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ApplyEntryRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	app, err := api.ledger.ApplyEntry(ctx.Request().Context(), entry.ID, data)
	if err != nil {
		return errors.Wrap(err, "applying ledger entry")
	}
	return ctx.JSON(http.StatusCreated, app)
}

func (api *billingApi) decoupleEntry(ctx echo.Context) error {
	entry, err := contextObject[billing.Entry](ctx)
	if err != nil {
		return err
	}

	apps, err := api.ledger.DecoupleEntry(ctx.Request().Context(), entry.ID)
	if err != nil {
		return errors.Wrap(err, "decoupling ledger entry")
	}
	if apps == nil {
		apps = []billing.Application{}
	}
	return ctx.JSON(http.StatusOK, apps)
}

func (api *billingApi) reverseEntry(ctx echo.Context) error {
	entry, err := contextObject[billing.Entry](ctx)
	if err != nil {
		return err
	}

	var data billing.ReverseEntryRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReverseEntryRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	correction, err := api.ledger.ReverseEntry(ctx.Request().Context(), entry.ID, data.Reason)
	if err != nil {
		return errors.Wrap(err, "reversing ledger entry")
	}
	return ctx.JSON(http.StatusCreated, correction)
}

func (api *billingApi) reverseApplication(ctx echo.Context) error {
	app, err := api.ledger.ReverseApplication(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "reversing application")
	}
	return ctx.JSON(http.StatusOK, app)
}
