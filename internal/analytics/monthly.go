// Package analytics computes monthly aggregates over the transaction
// ledger: overviews, category and merchant breakdowns, and trends.
package analytics

import (
	"context"
	"sort"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
	"github.com/ledgerhound/ledgerhound/internal/service"
)

const topMerchantLimit = 10

// uncategorizedKey labels spend with no category in breakdowns.
const uncategorizedKey = "uncategorized"

// CategoryTotal is one category's share of a month's expenses.
type CategoryTotal struct {
	CategoryID   string  `json:"categoryId"`
	CategoryName string  `json:"categoryName"`
	Amount       int64   `json:"amount"`
	Percentage   float64 `json:"percentage"`
	Count        int     `json:"count"`
}

// MerchantTotal is one merchant's expense total for a month.
type MerchantTotal struct {
	Merchant string `json:"merchant"`
	Amount   int64  `json:"amount"`
	Count    int    `json:"count"`
}

// DailyTotal is one day's activity. Every day of the month appears, zeros
// included.
type DailyTotal struct {
	Date     string `json:"date"`
	Income   int64  `json:"income"`
	Expenses int64  `json:"expenses"`
	Net      int64  `json:"net"`
	Count    int    `json:"count"`
}

// MonthlyOverview is the aggregate for one calendar month. Expense amounts
// are reported as positive magnitudes.
type MonthlyOverview struct {
	Year                int             `json:"year"`
	Month               int             `json:"month"`
	Income              int64           `json:"income"`
	Expenses            int64           `json:"expenses"`
	Net                 int64           `json:"net"`
	TransactionCount    int             `json:"transactionCount"`
	CategorizedCount    int             `json:"categorizedCount"`
	UncategorizedCount  int             `json:"uncategorizedCount"`
	ManualOverrideCount int             `json:"manualOverrideCount"`
	Categories          []CategoryTotal `json:"categories"`
	TopMerchants        []MerchantTotal `json:"topMerchants"`
	Daily               []DailyTotal    `json:"daily"`
}

// TrendPoint is one month in a spending trend. Each change percent compares
// against the previous month and is nil when that month's base is zero.
type TrendPoint struct {
	Year                  int      `json:"year"`
	Month                 int      `json:"month"`
	Income                int64    `json:"income"`
	Expenses              int64    `json:"expenses"`
	Net                   int64    `json:"net"`
	IncomeChangePercent   *float64 `json:"incomeChangePercent,omitempty"`
	ExpensesChangePercent *float64 `json:"expensesChangePercent,omitempty"`
	NetChangePercent      *float64 `json:"netChangePercent,omitempty"`
}

// AccountSummary is one account's ledger footprint.
type AccountSummary struct {
	Account          model.Account `json:"account"`
	TransactionCount int           `json:"transactionCount"`
}

// Aggregator computes analytics over the store.
type Aggregator struct {
	store service.Storage
}

// NewAggregator creates an aggregator.
func NewAggregator(store service.Storage) *Aggregator {
	return &Aggregator{store: store}
}

// Overview computes the full monthly aggregate in one pass over the
// month's transactions. Split parents never contribute; their children do.
func (a *Aggregator) Overview(ctx context.Context, ownerID string, year, month int) (*MonthlyOverview, error) {
	if month < 1 || month > 12 {
		return nil, common.Validationf("month must be between 1 and 12")
	}
	if year < 1970 || year > 9999 {
		return nil, common.Validationf("year %d out of range", year)
	}

	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)

	txns, err := a.store.ListTransactionsByPeriod(ctx, ownerID, start, end)
	if err != nil {
		return nil, err
	}

	categories, err := a.store.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	categoryNames := make(map[string]string, len(categories))
	for _, c := range categories {
		categoryNames[c.ID] = c.Name
	}

	overview := &MonthlyOverview{
		Year:             year,
		Month:            month,
		TransactionCount: len(txns),
	}

	daysInMonth := start.AddDate(0, 1, -1).Day()
	daily := make([]DailyTotal, daysInMonth)
	for i := range daily {
		daily[i].Date = time.Date(year, time.Month(month), i+1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
	}

	categoryTotals := make(map[string]*CategoryTotal)
	merchantTotals := make(map[string]*MerchantTotal)

	for _, txn := range txns {
		day := txn.PostedAt.UTC().Day() - 1
		if day < 0 || day >= daysInMonth {
			continue
		}

		if txn.CategoryID != nil {
			overview.CategorizedCount++
		} else {
			overview.UncategorizedCount++
		}
		if txn.ManualOverride {
			overview.ManualOverrideCount++
		}
		daily[day].Count++

		if txn.Amount > 0 {
			overview.Income += txn.Amount
			daily[day].Income += txn.Amount
			daily[day].Net += txn.Amount
			continue
		}

		expense := -txn.Amount
		overview.Expenses += expense
		daily[day].Expenses += expense
		daily[day].Net -= expense

		key := uncategorizedKey
		name := "Uncategorized"
		if txn.CategoryID != nil {
			key = *txn.CategoryID
			if n, ok := categoryNames[key]; ok {
				name = n
			} else {
				name = key
			}
		}
		ct, ok := categoryTotals[key]
		if !ok {
			ct = &CategoryTotal{CategoryID: key, CategoryName: name}
			categoryTotals[key] = ct
		}
		ct.Amount += expense
		ct.Count++

		if txn.MerchantNormalized != "" {
			mt, ok := merchantTotals[txn.MerchantNormalized]
			if !ok {
				mt = &MerchantTotal{Merchant: txn.MerchantNormalized}
				merchantTotals[txn.MerchantNormalized] = mt
			}
			mt.Amount += expense
			mt.Count++
		}
	}

	overview.Net = overview.Income - overview.Expenses
	overview.Daily = daily
	overview.Categories = rankCategories(categoryTotals, overview.Expenses)
	overview.TopMerchants = rankMerchants(merchantTotals)
	return overview, nil
}

// Trend computes a month-over-month spending trend ending at the given
// month, covering the requested number of months.
func (a *Aggregator) Trend(ctx context.Context, ownerID string, year, month, months int) ([]TrendPoint, error) {
	if months < 1 || months > 24 {
		return nil, common.Validationf("months must be between 1 and 24")
	}

	points := make([]TrendPoint, 0, months)
	cursor := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	for i := 0; i < months; i++ {
		start := cursor.AddDate(0, i, 0)
		end := start.AddDate(0, 1, 0).Add(-time.Nanosecond)

		txns, err := a.store.ListTransactionsByPeriod(ctx, ownerID, start, end)
		if err != nil {
			return nil, err
		}

		point := TrendPoint{Year: start.Year(), Month: int(start.Month())}
		for _, txn := range txns {
			if txn.Amount > 0 {
				point.Income += txn.Amount
			} else {
				point.Expenses += -txn.Amount
			}
		}
		point.Net = point.Income - point.Expenses

		if i > 0 {
			prev := points[i-1]
			point.IncomeChangePercent = changePercent(point.Income, prev.Income)
			point.ExpensesChangePercent = changePercent(point.Expenses, prev.Expenses)
			point.NetChangePercent = changePercent(point.Net, prev.Net)
		}
		points = append(points, point)
	}
	return points, nil
}

// Accounts summarizes every account's transaction count.
func (a *Aggregator) Accounts(ctx context.Context, ownerID string) ([]AccountSummary, error) {
	accounts, err := a.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	summaries := make([]AccountSummary, 0, len(accounts))
	for _, account := range accounts {
		count, err := a.store.CountTransactionsByAccount(ctx, ownerID, account.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, AccountSummary{
			Account:          account,
			TransactionCount: count,
		})
	}
	return summaries, nil
}

// changePercent compares a value against the prior month's base. A zero
// base yields nil; a negative base (net) is compared by magnitude so the
// sign of the change still reads as improvement or decline.
func changePercent(current, previous int64) *float64 {
	if previous == 0 {
		return nil
	}
	base := previous
	if base < 0 {
		base = -base
	}
	change := (float64(current) - float64(previous)) / float64(base) * 100
	return &change
}

func rankCategories(totals map[string]*CategoryTotal, totalExpenses int64) []CategoryTotal {
	out := make([]CategoryTotal, 0, len(totals))
	for _, ct := range totals {
		if totalExpenses > 0 {
			ct.Percentage = float64(ct.Amount) / float64(totalExpenses) * 100
		}
		out = append(out, *ct)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out
}

func rankMerchants(totals map[string]*MerchantTotal) []MerchantTotal {
	out := make([]MerchantTotal, 0, len(totals))
	for _, mt := range totals {
		out = append(out, *mt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Merchant < out[j].Merchant
	})
	if len(out) > topMerchantLimit {
		out = out[:topMerchantLimit]
	}
	return out
}
