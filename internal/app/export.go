package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"mint-auditor/internal/storage"
)

// Export renders swap history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	events, err := store.ListSwapEventsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no swaps found for export window")
		return nil
	}

	downsampled := downsampleEvents(events, opts.MaxPoints)
	a.Logger.Info().Int("total", len(events)).Int("exported", len(downsampled)).Msg("exporting swaps")

	if opts.CSVPath != "" {
		if err := writeSwapsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSwapsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEvents(events []storage.SwapEvent, max int) []storage.SwapEvent {
	if max <= 0 || len(events) <= max {
		return events
	}

	result := make([]storage.SwapEvent, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeSwapsCSV(path string, events []storage.SwapEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "from_url", "to_url", "amount", "fee", "time_taken_ms", "state", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, ev := range events {
		errMsg := ""
		if ev.Error != nil {
			errMsg = *ev.Error
		}
		record := []string{
			ev.CreatedAt.UTC().Format(time.RFC3339),
			ev.FromURL,
			ev.ToURL,
			formatInt(ev.Amount),
			formatInt(ev.Fee),
			formatInt(ev.TimeTaken),
			string(ev.State),
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSwapsPNG(path string, events []storage.SwapEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(events))
	amounts := make([]float64, len(events))
	fees := make([]float64, len(events))

	for i, ev := range events {
		x[i] = ev.CreatedAt
		amounts[i] = float64(ev.Amount)
		fees[i] = float64(ev.Fee)
	}

	satFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Amount (sat)",
			ValueFormatter: satFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Fee (sat)",
			ValueFormatter: satFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Amount",
				XValues: x,
				YValues: amounts,
			},
			chart.TimeSeries{
				Name:    "Fee",
				XValues: x,
				YValues: fees,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
