package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints the mint set and the most recent swap events.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	mints, err := store.ListMints(ctx)
	if err != nil {
		return err
	}
	if len(mints) == 0 {
		fmt.Fprintln(os.Stdout, "no mints registered")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tURL\tState\tBalance\tDonations\tDeficit\tMints\tMelts\tErrors\tUpdated (UTC)")
	for _, m := range mints {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			m.ID,
			m.URL,
			m.State,
			m.Balance,
			m.SumDonations,
			m.Deficit(),
			m.NMints,
			m.NMelts,
			m.NErrors,
			m.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	writer.Flush()

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	events, err := store.ListSwapEvents(ctx, 0, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "\nno swaps recorded")
		return nil
	}

	fmt.Fprintln(os.Stdout)
	writer = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tFrom\tTo\tAmount\tFee\tDuration\tState\tError")
	for _, ev := range events {
		errMsg := ""
		if ev.Error != nil {
			errMsg = sanitizeInline(*ev.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			ev.CreatedAt.UTC().Format(time.RFC3339),
			ev.FromURL,
			ev.ToURL,
			ev.Amount,
			ev.Fee,
			(time.Duration(ev.TimeTaken) * time.Millisecond).String(),
			ev.State,
			errMsg,
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
