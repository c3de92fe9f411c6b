package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/safety.scanner/internal/httputil"
	"github.com/banshee-data/safety.scanner/internal/scanner"
)

// scanPoints converts the echoes of scan to cartesian coordinates in meters.
// Beams without an echo are skipped. maxAbs is the largest coordinate
// magnitude seen.
func scanPoints(scan scanner.LaserScan) (xys plotter.XYs, maxAbs float64) {
	xys = make(plotter.XYs, 0, len(scan.Ranges))
	for i, r := range scan.Ranges {
		if math.IsInf(r, 0) || math.IsNaN(r) {
			continue
		}
		theta := scan.AngleAt(i).Radians()
		x, y := r*math.Cos(theta), r*math.Sin(theta)
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(x), math.Abs(y)))
		xys = append(xys, plotter.XY{X: x, Y: y})
	}
	return xys, maxAbs
}

// handleScanChart renders the latest scan as an HTML scatter chart.
func (ws *WebServer) handleScanChart(w http.ResponseWriter, r *http.Request) {
	scan, ok := ws.Latest()
	if !ok {
		httputil.NotFound(w, "no scan received yet")
		return
	}

	xys, maxAbs := scanPoints(scan)
	data := make([]opts.ScatterData, 0, len(xys))
	for i, p := range xys {
		var intensity float64
		if i < len(scan.Intensities) {
			intensity = scan.Intensities[i]
		}
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, intensity}})
	}

	// Add a small padding so points at the edges are visible
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Laser scan", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Latest scan",
			Subtitle: fmt.Sprintf("scan=%d range=%v..%v echoes=%d/%d", scan.ScanCounter, scan.AngleMin, scan.AngleMax, len(xys), len(scan.Ranges)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("echoes", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleScanPlot renders the latest scan as a PNG.
func (ws *WebServer) handleScanPlot(w http.ResponseWriter, r *http.Request) {
	scan, ok := ws.Latest()
	if !ok {
		httputil.NotFound(w, "no scan received yet")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Scan %d", scan.ScanCounter)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	xys, maxAbs := scanPoints(scan)
	if len(xys) > 0 {
		pts, err := plotter.NewScatter(xys)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
			return
		}
		pts.GlyphStyle.Color = color.RGBA{R: 31, G: 158, B: 137, A: 255}
		pts.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(pts)
	}
	pad := math.Max(maxAbs*1.05, 1)
	p.X.Min, p.X.Max = -pad, pad
	p.Y.Min, p.Y.Max = -pad, pad

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = wt.WriteTo(w)
}
