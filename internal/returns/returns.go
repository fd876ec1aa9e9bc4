// Package returns validates return requests against a completed sale and
// prices the refund at the sale's original unit prices.
package returns

import (
	"fmt"
	"sort"
	"strings"

	"kasirinaja/settlement/internal/domain"
)

var validConditions = map[string]struct{}{
	domain.ConditionResellable: {},
	domain.ConditionDamaged:    {},
	domain.ConditionDefective:  {},
}

// NormalizeRefundMethod defaults to cash and accepts cash or store credit.
func NormalizeRefundMethod(method string) (string, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	switch method {
	case "":
		return domain.TenderCash, nil
	case domain.TenderCash, domain.RefundStoreCredit:
		return method, nil
	default:
		return "", fmt.Errorf("%w: unsupported refund method %q", domain.ErrInvalidRequest, method)
	}
}

type aggregate struct {
	qty       int
	condition string
}

// Plan checks reqs against sale given the quantities already returned per line
// number. Requests for the same line are summed before checking. It returns the
// priced return lines in line order and the refund total.
func Plan(sale domain.CompletedSale, returned map[int]int, reqs []domain.ReturnLineRequest) ([]domain.ReturnLine, int64, error) {
	if len(reqs) == 0 {
		return nil, 0, fmt.Errorf("%w: no return lines", domain.ErrInvalidRequest)
	}

	sold := make(map[int]domain.SaleLine, len(sale.Lines))
	for _, line := range sale.Lines {
		sold[line.LineNo] = line
	}

	byLine := make(map[int]aggregate, len(reqs))
	for _, req := range reqs {
		if req.Qty <= 0 {
			return nil, 0, fmt.Errorf("%w: line %d quantity must be positive", domain.ErrOverReturn, req.LineNo)
		}
		if _, ok := sold[req.LineNo]; !ok {
			return nil, 0, fmt.Errorf("%w: sale has no line %d", domain.ErrInvalidRequest, req.LineNo)
		}
		condition := strings.ToLower(strings.TrimSpace(req.Condition))
		if condition == "" {
			condition = domain.ConditionResellable
		}
		if _, ok := validConditions[condition]; !ok {
			return nil, 0, fmt.Errorf("%w: unknown condition %q", domain.ErrInvalidRequest, req.Condition)
		}
		current := byLine[req.LineNo]
		current.qty += req.Qty
		if current.condition == "" || current.condition == domain.ConditionResellable {
			current.condition = condition
		}
		byLine[req.LineNo] = current
	}

	lineNos := make([]int, 0, len(byLine))
	for lineNo := range byLine {
		lineNos = append(lineNos, lineNo)
	}
	sort.Ints(lineNos)

	lines := make([]domain.ReturnLine, 0, len(lineNos))
	total := int64(0)
	for _, lineNo := range lineNos {
		agg := byLine[lineNo]
		original := sold[lineNo]
		if returned[lineNo]+agg.qty > original.Qty {
			return nil, 0, fmt.Errorf("%w: line %d sold %d, returned %d, requested %d",
				domain.ErrOverReturn, lineNo, original.Qty, returned[lineNo], agg.qty)
		}
		refund := original.UnitPriceCents * int64(agg.qty)
		lines = append(lines, domain.ReturnLine{
			LineNo:         lineNo,
			SKU:            original.SKU,
			Qty:            agg.qty,
			UnitPriceCents: original.UnitPriceCents,
			Condition:      agg.condition,
			RefundCents:    refund,
		})
		total += refund
	}
	return lines, total, nil
}

// Returned sums the quantities per line number across prior return records.
func Returned(records []domain.ReturnRecord) map[int]int {
	out := make(map[int]int)
	for _, record := range records {
		for _, line := range record.Lines {
			out[line.LineNo] += line.Qty
		}
	}
	return out
}

// Recheck verifies that lines, added to what prior records already returned,
// stay within the quantities sold. Stores call it under the sale's lock.
func Recheck(sale domain.CompletedSale, prior []domain.ReturnRecord, lines []domain.ReturnLine) error {
	sold := make(map[int]int, len(sale.Lines))
	for _, line := range sale.Lines {
		sold[line.LineNo] = line.Qty
	}
	returned := Returned(prior)
	for _, line := range lines {
		if line.Qty <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", domain.ErrOverReturn, line.LineNo)
		}
		returned[line.LineNo] += line.Qty
		if returned[line.LineNo] > sold[line.LineNo] {
			return fmt.Errorf("%w: line %d", domain.ErrOverReturn, line.LineNo)
		}
	}
	return nil
}
