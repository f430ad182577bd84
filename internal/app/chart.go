package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"portfolio-bot/internal/chart"
	"portfolio-bot/internal/service"
)

// Chart renders the stored history as a PNG file.
func (a *App) Chart(ctx context.Context, opts ChartOptions) error {
	if opts.PNGPath == "" {
		return errors.New("--png must be provided")
	}
	days := opts.Days
	if days <= 0 {
		days = a.Config.History.Days
	}

	history, closeHistory, err := a.openHistory()
	if err != nil {
		return err
	}
	defer closeHistory()

	snaps := history.Recent(ctx, days)
	img, err := chart.Build(service.ChartEntries(snaps), a.chartOptions())
	if err != nil {
		return err
	}

	if err := ensureDir(opts.PNGPath); err != nil {
		return err
	}
	if err := os.WriteFile(opts.PNGPath, img, 0o644); err != nil {
		return err
	}

	a.Logger.Info().Int("snapshots", len(snaps)).Str("path", opts.PNGPath).Msg("chart written")
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
