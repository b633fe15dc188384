package analyzer

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"smtm/internal/trader"
)

const (
	colorEquity = "#4caf50"
	colorCash   = "#2196f3"
)

// RenderEquityChart writes an HTML line chart of equity and cash per cycle.
func RenderEquityChart(w io.Writer, title string, budget int64, results []trader.TradeResult) error {
	if len(results) == 0 {
		return fmt.Errorf("no trading results to chart")
	}
	xAxis := make([]string, 0, len(results)+1)
	equity := make([]opts.LineData, 0, len(results)+1)
	cash := make([]opts.LineData, 0, len(results)+1)

	curve := EquityCurve(budget, results)
	xAxis = append(xAxis, "start")
	equity = append(equity, opts.LineData{Value: curve[0]})
	cash = append(cash, opts.LineData{Value: budget})
	for i, r := range results {
		label := fmt.Sprintf("#%d", r.Tick)
		if !r.Timestamp.IsZero() {
			label = r.Timestamp.UTC().Format("01-02 15:04")
		}
		xAxis = append(xAxis, label)
		equity = append(equity, opts.LineData{Value: curve[i+1]})
		cash = append(cash, opts.LineData{Value: r.Balance})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: types.ThemeWesteros, Width: "1200px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("budget %d KRW, %d cycles", budget, len(results))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetXAxis(xAxis).
		AddSeries("equity", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2})).
		AddSeries("cash", cash, charts.WithLineStyleOpts(opts.LineStyle{Color: colorCash, Width: 1}))
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	return line.Render(w)
}
