package chart

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	gochart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"portfolio-bot/internal/fetcher"
	"portfolio-bot/internal/portfolio"
)

// ErrNoEntries is returned when there is nothing to plot.
var ErrNoEntries = errors.New("chart: no history entries to plot")

const (
	defaultWidth  = 1080
	defaultHeight = 480
)

var (
	lineColor  = drawing.ColorFromHex("4A90D9")
	labelColor = drawing.ColorFromHex("333333")
)

// Entry is one daily point of portfolio history.
type Entry struct {
	Date time.Time
	USD  decimal.Decimal
	RUB  decimal.Decimal
}

// Options controls the rendered image size in pixels.
type Options struct {
	Width  int
	Height int
}

// Downsample orders entries chronologically and, when there are more than
// three, keeps every second point. The most recent entry is always the last
// point of the result; 10 entries yield 5 points.
func Downsample(entries []Entry) []Entry {
	chrono := append([]Entry(nil), entries...)
	sort.SliceStable(chrono, func(i, j int) bool {
		return chrono[i].Date.Before(chrono[j].Date)
	})
	if len(chrono) <= 3 {
		return chrono
	}

	sampled := make([]Entry, 0, (len(chrono)+1)/2)
	for i := 0; i < len(chrono); i += 2 {
		sampled = append(sampled, chrono[i])
	}
	if (len(chrono)-1)%2 != 0 {
		sampled[len(sampled)-1] = chrono[len(chrono)-1]
	}
	return sampled
}

// Build renders the USD history of entries as a PNG. Entries may be in any
// order. It returns ErrNoEntries for empty input.
func Build(entries []Entry, opts Options) ([]byte, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = defaultHeight
	}

	points := Downsample(entries)

	x := make([]time.Time, len(points))
	y := make([]float64, len(points))
	labels := make([]gochart.Value2, len(points))
	for i, p := range points {
		x[i] = p.Date
		y[i] = p.USD.InexactFloat64()
		labels[i] = gochart.Value2{
			XValue: gochart.TimeToFloat64(p.Date),
			YValue: y[i],
			Label:  portfolio.FormatAmount(p.USD, fetcher.USD),
		}
	}

	graph := gochart.Chart{
		Title:  fmt.Sprintf("Portfolio (USD), last %d days", len(entries)),
		Width:  opts.Width,
		Height: opts.Height,
		Background: gochart.Style{
			Padding: gochart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: gochart.XAxis{
			Name:           "Date",
			ValueFormatter: dayFormatter,
			Range:          xRange(x),
		},
		YAxis: gochart.YAxis{
			Name:           "USD",
			ValueFormatter: usdFormatter,
			Range:          yRange(y),
			GridMajorStyle: gochart.Style{
				StrokeColor:     drawing.ColorFromHex("CCCCCC"),
				StrokeWidth:     1,
				StrokeDashArray: []float64{4, 4},
			},
		},
		Series: []gochart.Series{
			gochart.TimeSeries{
				Name: "Portfolio USD",
				Style: gochart.Style{
					StrokeColor: lineColor,
					StrokeWidth: 2,
					DotColor:    drawing.ColorWhite,
					DotWidth:    4,
				},
				XValues: x,
				YValues: y,
			},
			gochart.AnnotationSeries{
				Style: gochart.Style{
					FontSize:    7,
					FontColor:   labelColor,
					StrokeColor: lineColor,
					FillColor:   drawing.ColorWhite,
				},
				Annotations: labels,
			},
		},
	}

	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

func dayFormatter(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format("02 Jan")
	case float64:
		return gochart.TimeFromFloat64(t).Format("02 Jan")
	default:
		return ""
	}
}

func usdFormatter(v interface{}) string {
	if f, ok := v.(float64); ok {
		return portfolio.FormatAmount(decimal.NewFromFloat(f), fetcher.USD)
	}
	return ""
}

// xRange pads a single day so the axis has non-zero width.
func xRange(x []time.Time) *gochart.ContinuousRange {
	lo, hi := x[0], x[len(x)-1]
	if !hi.After(lo) {
		lo = lo.Add(-12 * time.Hour)
		hi = hi.Add(12 * time.Hour)
	}
	return &gochart.ContinuousRange{
		Min: gochart.TimeToFloat64(lo),
		Max: gochart.TimeToFloat64(hi),
	}
}

// yRange leaves headroom for the point labels and pads a flat series.
func yRange(y []float64) *gochart.ContinuousRange {
	lo, hi := y[0], y[0]
	for _, v := range y[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	pad := (hi - lo) * 0.15
	if pad == 0 {
		pad = hi * 0.05
		if pad <= 0 {
			pad = 1
		}
	}
	return &gochart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}
