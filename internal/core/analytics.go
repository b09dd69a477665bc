package core

import (
	"sort"
	"time"
)

// MonthlyWindow is the number of calendar months covered by the monthly
// totals, ending at the current month.
const MonthlyWindow = 6

// RecentLimit is the number of entries in the recent-transactions list.
const RecentLimit = 5

// CategoryAmount is an amount aggregated by category name. Percent is the
// share of the expense total; it is 0 when the total itself is 0, never NaN.
type CategoryAmount struct {
	Name    string  `json:"name"`
	Amount  Money   `json:"amount"`
	Percent float64 `json:"percent"`
}

// MonthlyTotal is the expense/addition breakdown for one calendar month.
type MonthlyTotal struct {
	Month     string `json:"month"` // YYYY-MM
	Expenses  Money  `json:"expenses"`
	Additions Money  `json:"additions"`
}

// Analytics is the derived summary of a group's ledger. It has no lifecycle
// of its own: compute on demand, display, discard.
type Analytics struct {
	TotalExpenses      Money            `json:"totalExpenses"`
	TotalAdditions     Money            `json:"totalAdditions"`
	NetBalance         Money            `json:"netBalance"`
	ExpensesByCategory []CategoryAmount `json:"expensesByCategory"`
	ExpensesByMember   map[string]Money `json:"expensesByMember"`
	AdditionsByMember  map[string]Money `json:"additionsByMember"`
	MonthlyTotals      []MonthlyTotal   `json:"monthlyTotals"`
	RecentTransactions []Transaction    `json:"recentTransactions"`
}

// ComputeAnalytics aggregates a group's transaction list. now anchors the
// monthly window: the 6 calendar months ending at now's month, oldest first.
// Transactions dated outside the window are excluded from the monthly totals
// but still counted in the running totals.
func ComputeAnalytics(g Group, now time.Time) Analytics {
	a := Analytics{
		ExpensesByMember:  make(map[string]Money, len(g.Members)),
		AdditionsByMember: make(map[string]Money, len(g.Members)),
		MonthlyTotals:     make([]MonthlyTotal, 0, MonthlyWindow),
	}

	// Every current member appears, even with no transactions.
	for _, m := range g.Members {
		a.ExpensesByMember[m] = Money{}
		a.AdditionsByMember[m] = Money{}
	}

	monthPos := make(map[string]int, MonthlyWindow)
	for i := MonthlyWindow - 1; i >= 0; i-- {
		m := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -i, 0)
		key := m.Format("2006-01")
		monthPos[key] = len(a.MonthlyTotals)
		a.MonthlyTotals = append(a.MonthlyTotals, MonthlyTotal{Month: key})
	}

	byCategory := map[string]Money{}
	for _, tx := range g.Expenses {
		// Bucket in UTC, the zone the window keys are built in.
		month := tx.Date.UTC().Format("2006-01")
		pos, inWindow := monthPos[month]

		if tx.Type == Expense {
			a.TotalExpenses = a.TotalExpenses.Add(tx.Amount)
			a.ExpensesByMember[tx.PaidBy] = a.ExpensesByMember[tx.PaidBy].Add(tx.Amount)
			byCategory[tx.Category] = byCategory[tx.Category].Add(tx.Amount)
			if inWindow {
				a.MonthlyTotals[pos].Expenses = a.MonthlyTotals[pos].Expenses.Add(tx.Amount)
			}
		} else {
			a.TotalAdditions = a.TotalAdditions.Add(tx.Amount)
			a.AdditionsByMember[tx.PaidBy] = a.AdditionsByMember[tx.PaidBy].Add(tx.Amount)
			if inWindow {
				a.MonthlyTotals[pos].Additions = a.MonthlyTotals[pos].Additions.Add(tx.Amount)
			}
		}
	}
	a.NetBalance = a.TotalAdditions.Sub(a.TotalExpenses)

	a.ExpensesByCategory = make([]CategoryAmount, 0, len(byCategory))
	for name, amount := range byCategory {
		var pct float64
		if a.TotalExpenses.Cents > 0 {
			pct = float64(amount.Cents) * 100 / float64(a.TotalExpenses.Cents)
		}
		a.ExpensesByCategory = append(a.ExpensesByCategory, CategoryAmount{
			Name:    name,
			Amount:  amount,
			Percent: pct,
		})
	}
	sort.Slice(a.ExpensesByCategory, func(i, j int) bool {
		ci, cj := a.ExpensesByCategory[i], a.ExpensesByCategory[j]
		if ci.Amount.Cents != cj.Amount.Cents {
			return ci.Amount.Cents > cj.Amount.Cents
		}
		return ci.Name < cj.Name
	})

	a.RecentTransactions = recentTransactions(g.Expenses, RecentLimit)
	return a
}

// recentTransactions returns the n most recent entries by date, newest
// first, without mutating the input.
func recentTransactions(txs []Transaction, n int) []Transaction {
	sorted := append([]Transaction(nil), txs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}
