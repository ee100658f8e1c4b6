package budget

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/bidroom-backend/pkg/db/models"
)

var hundred = decimal.NewFromInt(100)

// Reconciliation is spend against a baseline, recomputed from source rows.
type Reconciliation struct {
	TotalBudget decimal.Decimal `json:"totalBudget"`
	TotalSpent  decimal.Decimal `json:"totalSpent"`
	Remaining   decimal.Decimal `json:"remaining"`
	OverSpent   bool            `json:"overSpent"`
	PercentUsed int64           `json:"percentUsed"`
}

// Reconcile sums expenses against baseline. A zero baseline means no budget
// has been fixed yet: percentUsed stays 0 and overspend is never signalled.
func Reconcile(baseline decimal.Decimal, expenses []models.Expense) Reconciliation {
	spent := decimal.Zero
	for _, expense := range expenses {
		spent = spent.Add(expense.ExpenseAmount)
	}

	result := Reconciliation{
		TotalBudget: baseline,
		TotalSpent:  spent,
		Remaining:   baseline.Sub(spent),
	}
	if baseline.IsZero() {
		return result
	}
	result.OverSpent = spent.GreaterThan(baseline)
	result.PercentUsed = spent.Div(baseline).Mul(hundred).Round(0).IntPart()
	return result
}
