// Package inmemdb is a memory backed store, used by tests & local development (database.engine=memory).
// transactions are serialized; a failed transaction restores the rows it wrote.
package inmemdb

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/absence"
	"github.com/trezcool/cadenza/core/billing"
	"github.com/trezcool/cadenza/core/course"
	"github.com/trezcool/cadenza/core/enrollment"
	"github.com/trezcool/cadenza/core/pricing"
	"github.com/trezcool/cadenza/core/student"
	"github.com/trezcool/cadenza/core/teacher"
	"github.com/trezcool/cadenza/core/user"
)

type (
	row[T any] struct {
		seq int
		val T
	}

	// table keeps rows by ID, remembering their insertion order.
	table[T any] struct {
		rows map[string]row[T]
		seq  int
	}
)

func newTable[T any]() *table[T] {
	return &table[T]{rows: make(map[string]row[T])}
}

func (t *table[T]) insert(j *journal, id string, val T) {
	remember(j, t, id)
	t.seq++
	t.rows[id] = row[T]{seq: t.seq, val: val}
}

func (t *table[T]) get(id string) (T, bool) {
	r, ok := t.rows[id]
	return r.val, ok
}

func (t *table[T]) update(j *journal, id string, val T) bool {
	r, ok := t.rows[id]
	if ok {
		remember(j, t, id)
		r.val = val
		t.rows[id] = r
	}
	return ok
}

func (t *table[T]) delete(j *journal, id string) bool {
	_, ok := t.rows[id]
	if ok {
		remember(j, t, id)
		delete(t.rows, id)
	}
	return ok
}

// remember saves row id of t as it is before being written.
func remember[T any](j *journal, t *table[T], id string) {
	if j == nil {
		return
	}
	r, existed := t.rows[id]
	j.undo = append(j.undo, func() { t.restore(id, r, existed) })
}

// restore puts back the row as it was, or removes it if it did not exist.
func (t *table[T]) restore(id string, r row[T], existed bool) {
	if existed {
		t.rows[id] = r
	} else {
		delete(t.rows, id)
	}
}

// all returns the rows in insertion order.
func (t *table[T]) all() []T {
	rows := make([]row[T], 0, len(t.rows))
	for _, r := range t.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	vals := make([]T, len(rows))
	for i, r := range rows {
		vals[i] = r.val
	}
	return vals
}

func (t *table[T]) filter(keep func(T) bool) []T {
	vals := t.all()
	kept := vals[:0]
	for _, v := range vals {
		if keep(v) {
			kept = append(kept, v)
		}
	}
	return kept
}

// journal records how to undo the writes of the running transaction.
// a nil journal records nothing.
type journal struct {
	undo []func()
}

type tables struct {
	users        *table[user.User]
	teachers     *table[teacher.Teacher]
	students     *table[student.Student]
	courseTypes  *table[course.CourseType]
	courses      *table[course.Course]
	versions     *table[pricing.Version]
	enrollments  *table[enrollment.Enrollment]
	invoices     *table[billing.Invoice]
	entries      *table[billing.Entry]
	applications *table[billing.Application]
	absences     *table[absence.Absence]
}

type DB struct {
	mu   sync.RWMutex // guards tables & tx
	txMu sync.Mutex   // held by the running transaction
	tx   *journal
	tables
}

func NewDB() *DB {
	return &DB{tables: tables{
		users:        newTable[user.User](),
		teachers:     newTable[teacher.Teacher](),
		students:     newTable[student.Student](),
		courseTypes:  newTable[course.CourseType](),
		courses:      newTable[course.Course](),
		versions:     newTable[pricing.Version](),
		enrollments:  newTable[enrollment.Enrollment](),
		invoices:     newTable[billing.Invoice](),
		entries:      newTable[billing.Entry](),
		applications: newTable[billing.Application](),
		absences:     newTable[absence.Absence](),
	}}
}

// txExecutor marks repository calls made within a transaction. it runs no SQL.
type txExecutor struct {
	core.DBExecutor
}

// InTx runs fn alone; if fn fails, the rows it wrote are restored.
// only writes made with the transaction's executor are undone.
func (db *DB) InTx(ctx context.Context, fn func(exec core.DBExecutor) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	db.tx = new(journal)
	db.mu.Unlock()

	err := fn(txExecutor{})

	db.mu.Lock()
	defer db.mu.Unlock()
	if err != nil {
		for i := len(db.tx.undo) - 1; i >= 0; i-- {
			db.tx.undo[i]()
		}
	}
	db.tx = nil
	return err
}

// journal returns the running transaction's journal when exec belongs to it.
// callers hold mu.
func (db *DB) journal(exec []core.DBExecutor) *journal {
	if len(exec) == 0 {
		return nil
	}
	if _, ok := exec[0].(txExecutor); !ok {
		return nil
	}
	return db.tx
}

// Ordering

type comparer[T any] func(a, b T) int

// sortRows sorts rows stably by ordering, or by fallback when ordering is empty.
func sortRows[T any](rows []T, ordering []core.DBOrdering, columns map[string]comparer[T], fallback ...core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = fallback
	}
	if len(ordering) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, ord := range ordering {
			cmp, ok := columns[ord.Field]
			if !ok {
				continue
			}
			c := cmp(rows[i], rows[j])
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return false
	})
}

func cmpString(a, b string) int { return strings.Compare(strings.ToLower(a), strings.ToLower(b)) }

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func cmpTime(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	}
	return 0
}

func cmpDate(a, b core.Date) int { return cmpTime(a.Time, b.Time) }

// cmpNullDate sorts invalid dates last, like postgres sorts NULLs.
func cmpNullDate(a, b core.NullDate) int {
	switch {
	case !a.Valid && !b.Valid:
		return 0
	case !a.Valid:
		return 1
	case !b.Valid:
		return -1
	}
	return cmpDate(a.Date, b.Date)
}

func cmpDecimal(a, b decimal.Decimal) int { return a.Cmp(b) }

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
