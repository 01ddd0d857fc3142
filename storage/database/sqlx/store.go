// Package sqlxrepos implements the repositories on postgres, with sqlx.
package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/cadenza/core"
)

type store struct {
	db *sqlx.DB
}

// ext returns the caller's transaction when there is one, the pool otherwise.
func (s store) ext(exec []core.DBExecutor) sqlx.ExtContext {
	if len(exec) == 0 || exec[0] == nil {
		return s.db
	}
	ext, ok := exec[0].(sqlx.ExtContext)
	if !ok {
		panic(fmt.Sprintf("sqlxrepos: %T is not a sqlx executor", exec[0]))
	}
	return ext
}

func (s store) get(ctx context.Context, exec []core.DBExecutor, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, s.ext(exec), dest, sqlx.Rebind(sqlx.DOLLAR, query), args...)
}

func (s store) selectAll(ctx context.Context, exec []core.DBExecutor, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, s.ext(exec), dest, sqlx.Rebind(sqlx.DOLLAR, query), args...)
}

func (s store) exec(ctx context.Context, exec []core.DBExecutor, query string, args ...interface{}) (sql.Result, error) {
	return s.ext(exec).ExecContext(ctx, sqlx.Rebind(sqlx.DOLLAR, query), args...)
}

func (s store) namedExec(ctx context.Context, exec []core.DBExecutor, query string, arg interface{}) (sql.Result, error) {
	return sqlx.NamedExecContext(ctx, s.ext(exec), query, arg)
}

// updated returns notFound when res affected no row.
func updated(res sql.Result, err error, notFound error, msg string) error {
	if err != nil {
		return errors.Wrap(err, msg)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// trapNoRows maps "no rows" errors to notFound.
func trapNoRows(err error, notFound error, msg string) error {
	if err == sql.ErrNoRows {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// conds gathers the conditions of a WHERE clause, with `?` placeholders.
type conds struct {
	clauses []string
	args    []interface{}
}

func (c *conds) add(clause string, args ...interface{}) {
	c.clauses = append(c.clauses, "("+clause+")")
	c.args = append(c.args, args...)
}

func (c conds) String() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

// orderBy renders orderings already cleaned by the services, or fallback.
func orderBy(ordering []core.DBOrdering, fallback string) string {
	if len(ordering) == 0 {
		return " ORDER BY " + fallback
	}
	orderList := make([]string, 0, len(ordering))
	for _, ord := range ordering {
		orderList = append(orderList, ord.String())
	}
	return " ORDER BY " + strings.Join(orderList, ", ")
}

func likeArg(search string) string {
	r := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	return "%" + r.Replace(search) + "%"
}
