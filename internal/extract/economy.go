package extract

import (
	"strconv"
	"strings"

	"git.home.luguber.info/inful/statewatch/internal/scan"
)

// trackedResources are the flows worth diffing. Everything else in the budget
// is ignored.
var trackedResources = []string{
	"energy", "minerals", "food", "alloys", "consumer_goods", "unity", "influence",
}

const budgetBlockMax = 500_000

// economyNets computes net monthly flow per tracked resource from the current
// month's budget: the income total minus the expense total, each summed
// across every budget category. A missing budget yields nil, not zeros.
func (e *Extractor) economyNets(playerBlock string) map[string]float64 {
	budget, ok := scan.NestedBlock(playerBlock, "budget", budgetBlockMax)
	if !ok {
		return nil
	}
	window := playerBlock[budget.Start:budget.End]
	month, ok := scan.NestedBlock(window, "current_month", budgetBlockMax)
	if ok {
		window = window[month.Start:month.End]
	}
	income, okIncome := scan.NestedBlock(window, "income", budgetBlockMax)
	expenses, okExpenses := scan.NestedBlock(window, "expenses", budgetBlockMax)
	if !okIncome && !okExpenses {
		return nil
	}

	nets := make(map[string]float64, len(trackedResources))
	for _, res := range trackedResources {
		var net float64
		found := false
		if okIncome {
			if v, ok := sumResource(window[income.Start:income.End], res); ok {
				net += v
				found = true
			}
		}
		if okExpenses {
			if v, ok := sumResource(window[expenses.Start:expenses.End], res); ok {
				net -= v
				found = true
			}
		}
		if found {
			nets[res] = net
		}
	}
	if len(nets) == 0 {
		return nil
	}
	return nets
}

// sumResource adds up every `name=N` occurrence in a budget window. Budget
// sections repeat the resource key once per category.
func sumResource(window, name string) (float64, bool) {
	var total float64
	found := false
	needle := name + "="
	pos := 0
	for {
		idx := strings.Index(window[pos:], needle)
		if idx < 0 {
			break
		}
		abs := pos + idx
		pos = abs + len(needle)
		if abs > 0 && !isResourceBoundary(window[abs-1]) {
			continue
		}
		end := pos
		for end < len(window) && isNumberByte(window[end]) {
			end++
		}
		if end == pos {
			continue
		}
		v, err := strconv.ParseFloat(window[pos:end], 64)
		if err != nil {
			continue
		}
		total += v
		found = true
	}
	return total, found
}

func isResourceBoundary(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '{', '}':
		return true
	}
	return false
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '.' || c == '-'
}
