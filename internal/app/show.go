package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints the latest rate snapshots and recent monetary actions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	snaps, err := store.LatestSnapshots(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(os.Stdout, "no rate snapshots found")
	} else {
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "Currency\tTarget\tMarket\tDeviation%\tSource\tObserved (UTC)")
		for _, snap := range snaps {
			fmt.Fprintf(
				writer,
				"%s\t%s\t%s\t%s\t%s\t%s\n",
				snap.Currency,
				formatDecimal(snap.TargetRate, 6),
				formatDecimal(snap.MarketRate, 6),
				formatDecimal(snap.DeviationPct, 4),
				snap.FeedSource,
				snap.ObservedAt.UTC().Format(time.RFC3339),
			)
		}
		writer.Flush()
	}

	actions, err := store.ListRecentActions(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		fmt.Fprintln(os.Stdout, "no monetary actions found")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Executed (UTC)\tCurrency\tAction\tAmount\tTrigger\tTarget\tTransaction\tReason")
	for _, action := range actions {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			action.ExecutedAt.UTC().Format(time.RFC3339),
			action.Currency,
			action.ActionType,
			formatDecimal(action.Amount, 8),
			formatDecimal(action.TriggerRate, 6),
			formatDecimal(action.TargetRate, 6),
			action.TransactionID,
			sanitizeInline(action.Reason),
		)
	}
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
