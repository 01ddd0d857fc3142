package billing

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/trezcool/cadenza/core"
	"github.com/trezcool/cadenza/core/student"
)

// TransactionService builds students' statements: their invoices & ledger entries on one timeline.
type TransactionService struct {
	repo     Repository
	students student.Repository
}

func NewTransactionService(repo Repository, students student.Repository) *TransactionService {
	return &TransactionService{repo: repo, students: students}
}

// Statement returns the student's timeline over [from, to] (open bounds when invalid), with a running balance.
// items before `from` make up the opening balance.
func (svc *TransactionService) Statement(ctx context.Context, studentID string, from, to core.NullDate) (Statement, error) {
	if _, err := svc.students.GetStudent(ctx, studentID); err != nil {
		return Statement{}, err
	}
	items, err := svc.repo.StatementItems(ctx, studentID)
	if err != nil {
		return Statement{}, err
	}

	stmt := Statement{
		StudentID:      studentID,
		From:           from,
		To:             to,
		OpeningBalance: decimal.Zero,
		Items:          make([]StatementItem, 0, len(items)),
	}
	running := decimal.Zero
	for _, item := range items {
		if from.Valid && item.Date.Before(from.Date) {
			stmt.OpeningBalance = stmt.OpeningBalance.Add(item.Amount)
			running = stmt.OpeningBalance
			continue
		}
		if to.Valid && item.Date.After(to.Date) {
			break
		}
		running = running.Add(item.Amount)
		item.Balance = running
		stmt.Items = append(stmt.Items, item)
	}
	stmt.ClosingBalance = running
	return stmt, nil
}
