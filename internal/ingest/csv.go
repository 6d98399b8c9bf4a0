// Package ingest implements document ingestion: the deterministic CSV
// parser, merchant normalization, and the import pipeline that ties
// parsing, deduplication, and categorization together.
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerhound/ledgerhound/internal/common"
	"github.com/ledgerhound/ledgerhound/internal/model"
)

// Header aliases recognized by the CSV parser, all compared lowercased.
var (
	dateHeaders        = []string{"date", "posted date", "transaction date", "posting date"}
	amountHeaders      = []string{"amount", "transaction amount"}
	debitHeaders       = []string{"debit", "withdrawal", "withdrawals"}
	creditHeaders      = []string{"credit", "deposit", "deposits"}
	descriptionHeaders = []string{"description", "merchant", "name", "transaction description", "memo"}
)

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"2006/01/02",
	"Jan 2, 2006",
	"02 Jan 2006",
}

// ParseCSV deterministically extracts transactions from CSV content. Rows
// with an unparseable date or a zero amount are skipped, not fatal; a file
// that yields no usable rows at all is a parse failure.
func ParseCSV(content []byte) (*model.ParseResult, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read CSV header: %v", common.ErrParseFailure, err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	result := &model.ParseResult{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			slog.Warn("Skipping malformed CSV row", "line", line, "error", err)
			continue
		}

		txn, ok := parseRow(record, cols)
		if !ok {
			continue
		}
		result.Transactions = append(result.Transactions, txn)
	}

	if len(result.Transactions) == 0 {
		return nil, fmt.Errorf("%w: CSV yielded no usable rows", common.ErrParseFailure)
	}
	return result, nil
}

// columnMap holds resolved header positions. amount is -1 when the file
// uses a debit/credit column pair instead.
type columnMap struct {
	date        int
	amount      int
	debit       int
	credit      int
	description int
}

func mapColumns(header []string) (columnMap, error) {
	cols := columnMap{date: -1, amount: -1, debit: -1, credit: -1, description: -1}

	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		switch {
		case cols.date == -1 && contains(dateHeaders, name):
			cols.date = i
		case cols.amount == -1 && contains(amountHeaders, name):
			cols.amount = i
		case cols.debit == -1 && contains(debitHeaders, name):
			cols.debit = i
		case cols.credit == -1 && contains(creditHeaders, name):
			cols.credit = i
		case cols.description == -1 && contains(descriptionHeaders, name):
			cols.description = i
		}
	}

	if cols.date == -1 {
		return cols, fmt.Errorf("%w: no date column found", common.ErrParseFailure)
	}
	if cols.description == -1 {
		return cols, fmt.Errorf("%w: no description column found", common.ErrParseFailure)
	}
	if cols.amount == -1 && cols.debit == -1 && cols.credit == -1 {
		return cols, fmt.Errorf("%w: no amount column found", common.ErrParseFailure)
	}
	return cols, nil
}

func parseRow(record []string, cols columnMap) (model.ParsedTransaction, bool) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	postedAt, err := parseDate(field(cols.date))
	if err != nil {
		return model.ParsedTransaction{}, false
	}

	var amount int64
	if cols.amount >= 0 && field(cols.amount) != "" {
		amount, err = ParseAmount(field(cols.amount))
		if err != nil {
			return model.ParsedTransaction{}, false
		}
	} else {
		// Debit/credit pair: credits are income, debits expenses.
		var debit, credit int64
		if v := field(cols.debit); v != "" {
			if debit, err = ParseAmount(v); err != nil {
				return model.ParsedTransaction{}, false
			}
		}
		if v := field(cols.credit); v != "" {
			if credit, err = ParseAmount(v); err != nil {
				return model.ParsedTransaction{}, false
			}
		}
		amount = credit - abs(debit)
	}
	if amount == 0 {
		return model.ParsedTransaction{}, false
	}

	description := field(cols.description)
	if description == "" {
		return model.ParsedTransaction{}, false
	}

	return model.ParsedTransaction{
		PostedAt:    postedAt,
		Amount:      amount,
		Description: description,
		MerchantRaw: description,
	}, true
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

// ParseAmount converts a textual amount into signed integer minor units.
// Currency symbols and thousands separators are stripped; parenthesized
// amounts are negative.
func ParseAmount(value string) (int64, error) {
	s := strings.TrimSpace(value)
	negative := false

	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, "$", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		negative = !negative
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac := s, "0"
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	switch len(frac) {
	case 0:
		frac = "00"
	case 1:
		frac += "0"
	case 2:
	default:
		frac = frac[:2]
	}

	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q", value)
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable amount %q", value)
	}

	amount := dollars*100 + cents
	if negative {
		amount = -amount
	}
	return amount, nil
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
