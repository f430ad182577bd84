package portfolio

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"portfolio-bot/internal/fetcher"
)

// DateLayout is the day format used in reports and snapshot keys.
const DateLayout = "02-01-2006"

// Whole-unit formatters: no decimals, space as thousands separator.
var (
	usdFormatter = money.NewFormatter(0, ".", " ", "$", "$1")
	rubFormatter = money.NewFormatter(0, ".", " ", "₽", "$1")
)

// FormatAmount renders d as a whole amount with grouping and currency symbol,
// e.g. "$12 345" or "₽1 234 567". Halves round to even.
func FormatAmount(d decimal.Decimal, cur fetcher.Currency) string {
	units := d.RoundBank(0).IntPart()
	if cur == fetcher.RUB {
		return rubFormatter.Format(units)
	}
	return usdFormatter.Format(units)
}

type section struct {
	category fetcher.Category
	title    string
	total    string
	// alwaysTotal prints the subtotal even for a single source.
	alwaysTotal bool
}

var sections = []section{
	{category: fetcher.CategoryBank, title: "RUB", total: "Total bank"},
	{category: fetcher.CategoryCrypto, title: "CRYPTO USD", total: "Total crypto", alwaysTotal: true},
	{category: fetcher.CategoryStocks, title: "STOCKS USD", total: "Total stocks"},
}

// FormatMessage renders the Telegram HTML report for summary. It performs no
// I/O; the same summary and date always produce the same text.
func FormatMessage(summary Summary, date time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "💵 <b>Portfolio summary %s</b>\n", date.Format(DateLayout))

	for _, sec := range sections {
		lines := make([]string, 0)
		count := 0
		for _, r := range summary.Readings {
			if r.Source.Category != sec.category {
				continue
			}
			count++
			lines = append(lines, readingLine(r))
		}
		if count == 0 {
			continue
		}

		b.WriteString("\n")
		fmt.Fprintf(&b, "<b>%s</b>\n", sec.title)
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
		if count > 1 || sec.alwaysTotal {
			fmt.Fprintf(&b, "%s: %s\n", sec.total, sectionTotal(summary, sec.category))
		}
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "TOTAL (USD): %s\n", code(FormatAmount(summary.TotalUSD, fetcher.USD)))
	fmt.Fprintf(&b, "TOTAL (RUB): %s\n", code(FormatAmount(summary.TotalRUB, fetcher.RUB)))

	rateLine := fmt.Sprintf("USD/RUB: %s", code(summary.Rate.StringFixed(2)))
	if summary.RateFallback {
		rateLine += " (fallback rate, bank data unavailable)"
	}
	b.WriteString(rateLine)

	return b.String()
}

func readingLine(r Reading) string {
	var line string
	if r.Source.Kind == fetcher.DualCurrency {
		line = fmt.Sprintf("%s: %s or %s",
			html.EscapeString(r.Source.Label),
			code(FormatAmount(r.Amount, fetcher.RUB)),
			code(FormatAmount(r.USD, fetcher.USD)))
	} else {
		line = fmt.Sprintf("%s: %s",
			html.EscapeString(r.Source.Label),
			code(FormatAmount(r.Amount, fetcher.USD)))
	}
	if r.Failed() {
		line += fmt.Sprintf(" (ERROR: %s)", html.EscapeString(r.Err))
	}
	return line
}

func sectionTotal(summary Summary, c fetcher.Category) string {
	switch c {
	case fetcher.CategoryBank:
		return code(FormatAmount(summary.BankRUB, fetcher.RUB)) + " or " + code(FormatAmount(summary.BankUSD, fetcher.USD))
	case fetcher.CategoryStocks:
		return code(FormatAmount(summary.StocksUSD, fetcher.USD))
	default:
		return code(FormatAmount(summary.CryptoUSD, fetcher.USD))
	}
}

func code(s string) string {
	return "<code>" + s + "</code>"
}
