// Package report renders deal ladders and deal history for the terminal.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/dcaladder/internal/domain"
	"github.com/vadiminshakov/dcaladder/internal/services/ladder"
)

// InsufficientFunds is printed when the quote balance cannot cover every rung.
const InsufficientFunds = "Your wallet does not have enough funds for all DCA orders!"

var (
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}
	warning   = lipgloss.AdaptiveColor{Light: "#D7263D", Dark: "#FF5F87"}

	titleStyle = lipgloss.NewStyle().
			Foreground(highlight).
			Bold(true).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	warningStyle = lipgloss.NewStyle().
			Foreground(warning).
			Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(highlight)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

// Ladder renders every rung of a deal plan followed by its summary.
func Ladder(title string, orders []domain.OrderPlan) string {
	t := newTable("#", "Type", "Price", "Quantity", "Amount", "Total qty", "Total amount", "Average", "Target", "Drop %", "Filled")

	if len(orders) > 0 {
		first := orders[0].Price
		for _, o := range orders {
			filled := ""
			if o.Filled {
				filled = "yes"
			}
			t.Row(
				strconv.Itoa(o.OrderNo),
				string(o.Kind),
				o.Price.String(),
				o.Quantity.String(),
				o.Amount.String(),
				o.QuantitySum.String(),
				o.AmountSum.String(),
				o.Average.String(),
				o.Target.String(),
				ladder.Deviation(first, o.Price).StringFixed(2),
				filled,
			)
		}
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(t.String())
	b.WriteString("\n")
	b.WriteString(Summary(ladder.Summarize(orders)))

	return b.String()
}

// Summary renders the aggregate figures of a ladder.
func Summary(s ladder.Summary) string {
	return fmt.Sprintf("Orders: %d  First price: %s  Lowest price: %s  Max funds: %s  Max deviation: %s%%",
		s.Orders, s.FirstPrice, s.LowestPrice, s.MaxFunds, s.MaxDeviationPercent.StringFixed(2))
}

// FundsWarning returns the insufficient funds warning when balance does not
// cover maxFunds, otherwise an empty string.
func FundsWarning(balance, maxFunds decimal.Decimal) string {
	if balance.GreaterThanOrEqual(maxFunds) {
		return ""
	}

	return warningStyle.Render(InsufficientFunds) +
		fmt.Sprintf(" (balance %s, required %s)", balance, maxFunds)
}

// History renders closed deals and the total profit.
func History(rows []domain.DealSummary) string {
	t := newTable("Deal", "Bot", "Pair", "Opened", "Closed", "Safety orders", "Profit %", "Profit")

	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Profit)
		t.Row(
			r.DealID,
			r.BotName,
			r.Pair,
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.ClosedAt.Format("2006-01-02 15:04"),
			fmt.Sprintf("%d/%d", r.SafetyOrdersUsed, r.SafetyOrdersMax),
			r.ProfitPercent.StringFixed(2),
			r.Profit.StringFixed(2),
		)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Deals history"))
	b.WriteString("\n")
	b.WriteString(t.String())
	b.WriteString("\n")
	fmt.Fprintf(&b, "Closed deals: %d  Total profit: %s", len(rows), total.StringFixed(2))

	return b.String()
}
