package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"portfolio-bot/internal/fetcher"
	"portfolio-bot/internal/portfolio"
)

// History prints the most recent daily snapshots, newest first.
func (a *App) History(ctx context.Context, out io.Writer, opts HistoryOptions) error {
	limit := opts.Limit
	if limit <= 0 {
		limit = a.Config.History.Days
	}

	history, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	snaps := history.Recent(ctx, limit)
	if len(snaps) == 0 {
		fmt.Fprintln(out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tUSD\tRUB")
	for _, snap := range snaps {
		fmt.Fprintf(writer, "%s\t%s\t%s\n",
			snap.Key(),
			portfolio.FormatAmount(snap.USD, fetcher.USD),
			portfolio.FormatAmount(snap.RUB, fetcher.RUB),
		)
	}
	return writer.Flush()
}
