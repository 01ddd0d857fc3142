package core

import (
	"context"
	"database/sql"
)

type (
	// DBExecutor is satisfied by both a DB handle and a transaction.
	DBExecutor interface {
		Exec(query string, args ...interface{}) (sql.Result, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		Query(query string, args ...interface{}) (*sql.Rows, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRow(query string, args ...interface{}) *sql.Row
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	// Transactor runs fn inside a single database transaction.
	// The transaction is committed if fn returns nil, rolled back otherwise.
	// exec must be passed down to repository calls made within fn.
	Transactor interface {
		InTx(ctx context.Context, fn func(exec DBExecutor) error) error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// CleanOrdering drops orderings on fields that are not in allowed (as keys),
// and maps the remaining ones to their column names (as values).
func CleanOrdering(ordering []DBOrdering, allowed map[string]string) []DBOrdering {
	cleaned := make([]DBOrdering, 0, len(ordering))
	for _, ord := range ordering {
		if col, ok := allowed[ord.Field]; ok {
			cleaned = append(cleaned, DBOrdering{Field: col, Ascending: ord.Ascending})
		}
	}
	return cleaned
}

// RunInTx runs fn with the caller's executor when one is provided (the caller already opened a
// transaction), or inside a new transaction otherwise.
func RunInTx(ctx context.Context, db Transactor, exec []DBExecutor, fn func(exec DBExecutor) error) error {
	if len(exec) > 0 && exec[0] != nil {
		return fn(exec[0])
	}
	return db.InTx(ctx, fn)
}
