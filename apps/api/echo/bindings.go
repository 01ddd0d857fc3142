package echoapi

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/core"
)

const orderingParam = "ordering"

var errRequiredParam = errors.New("this query parameter is required")

// Ordering binds `?ordering=field,-field` to DB orderings; a leading "-" sorts descending.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// queryDate parses an optional `YYYY-MM-DD` query param.
func queryDate(ctx echo.Context, name string) (core.NullDate, error) {
	var date core.NullDate
	if val := ctx.QueryParam(name); val != "" {
		if err := date.UnmarshalParam(val); err != nil {
			return date, core.NewFieldError(name, err)
		}
	}
	return date, nil
}

// requiredQueryDate parses a mandatory `YYYY-MM-DD` query param.
func requiredQueryDate(ctx echo.Context, name string) (core.Date, error) {
	date, err := queryDate(ctx, name)
	if err != nil {
		return core.Date{}, err
	}
	if !date.Valid {
		return core.Date{}, core.NewFieldError(name, errRequiredParam)
	}
	return date.Date, nil
}
