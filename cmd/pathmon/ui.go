package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/pathmon/pathmon/monitor"
	"github.com/pathmon/pathmon/trace"
)

const (
	redrawInterval = 250 * time.Millisecond

	// columns reserved for the "you" node in the minimap
	deviceWidth = 8
	// columns reserved for the y axis labels in the chart
	chartGutter = 9
)

var palette = []tcell.Color{
	tcell.ColorAqua,
	tcell.ColorYellow,
	tcell.ColorLime,
	tcell.ColorFuchsia,
	tcell.ColorSilver,
	tcell.ColorTeal,
	tcell.ColorOlive,
	tcell.ColorMaroon,
}

func rowColor(i int) tcell.Color {
	return palette[i%len(palette)]
}

type userInterface struct {
	app     *tview.Application
	root    *tview.Flex
	header  *tview.TextView
	chart   *tview.Box
	minimap *tview.Box

	targets []*monitor.Target
	rows    []*monitor.Endpoint
	names   *nameCache
	gateway net.IP
}

func buildUI(mon *monitor.Monitor, names *nameCache, gw net.IP) *userInterface {
	ui := &userInterface{
		app:     tview.NewApplication(),
		header:  tview.NewTextView().SetDynamicColors(true),
		chart:   tview.NewBox(),
		minimap: tview.NewBox(),
		targets: mon.Targets(),
		names:   names,
		gateway: gw,
	}

	for _, t := range ui.targets {
		ui.rows = append(ui.rows, t.Self())
		ui.rows = append(ui.rows, t.Hops()...)
	}

	ui.chart.SetDrawFunc(ui.drawChart)
	ui.minimap.SetBorder(true).SetTitle(" path (press [q] to exit) ")
	ui.minimap.SetDrawFunc(ui.drawMinimap)

	ui.root = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.header, len(ui.rows), 0, false).
		AddItem(ui.chart, 0, 1, false).
		AddItem(ui.minimap, 2+3*len(ui.targets), 0, false)

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			ui.app.Stop()
			return nil
		case tcell.KeyRune:
			if event.Rune() == 'q' {
				ui.app.Stop()
				return nil
			}
		}
		return event
	})

	ui.updateHeader()
	return ui
}

func (ui *userInterface) Run(ctx context.Context) error {
	go ui.refresh(ctx)
	ui.app.SetRoot(ui.root, true).SetFocus(ui.root)
	return ui.app.Run()
}

func (ui *userInterface) refresh(ctx context.Context) {
	tick := time.NewTicker(redrawInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			ui.app.QueueUpdateDraw(ui.updateHeader)
		}
	}
}

func (ui *userInterface) updateHeader() {
	ui.header.Clear()

	row := 0
	for _, t := range ui.targets {
		ui.writeStatsLine(row, t.Display, t.Self())
		row++
		for _, hop := range t.Hops() {
			ui.writeStatsLine(row, ui.hopTitle(hop), hop)
			row++
		}
	}
}

func (ui *userInterface) hopTitle(e *monitor.Endpoint) string {
	title := fmt.Sprintf("  hop%d ", e.Ordinal())
	switch e.State() {
	case trace.Unknown:
		return title + "?"
	case trace.Unreached:
		return title + "-"
	}

	addr := e.Addr()
	title += addr.IP.String()
	if name := ui.names.lookup(addr.IP); name != "" {
		title += " (" + name + ")"
	}
	return title
}

func (ui *userInterface) writeStatsLine(row int, title string, e *monitor.Endpoint) {
	fmt.Fprintf(ui.header, "[#%06x]%-36s", rowColor(row).Hex(), title)

	stats := e.Buffer().Stats()
	if stats == nil {
		fmt.Fprint(ui.header, " n/a\n")
		return
	}

	fmt.Fprintf(ui.header, " sent %-5d loss %5.1f%%  last %-9s best %-9s worst %-9s mean %-9s stddev %s\n",
		stats.PacketsSent, stats.Loss()*100,
		ts(stats.Last), ts(stats.Best), ts(stats.Worst), ts(stats.Mean), ts(stats.StdDev))
}

// drawChart plots one dot per sample, newest at the right edge. All
// endpoints share a scale so their heights are comparable.
func (ui *userInterface) drawChart(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
	if width <= chartGutter+2 || height < 3 {
		return x, y, width, height
	}

	plotX := x + chartGutter
	plotW := width - chartGutter

	// floored so an idle line does not zoom into noise
	maxRTT := 20 * time.Millisecond
	windows := make([][]monitor.Sample, len(ui.rows))
	for i, e := range ui.rows {
		w := e.Buffer().Window()
		if len(w) > plotW {
			w = w[len(w)-plotW:]
		}
		windows[i] = w
		for _, s := range w {
			if s.RTT > maxRTT {
				maxRTT = s.RTT
			}
		}
	}

	axis := tcell.StyleDefault.Foreground(tcell.ColorGray)
	drawString(screen, x, y, fmt.Sprintf("%8s", ts(maxRTT)), axis)
	drawString(screen, x, y+(height-1)/2, fmt.Sprintf("%8s", ts(maxRTT/2)), axis)
	drawString(screen, x, y+height-1, fmt.Sprintf("%8s", "0"), axis)

	lostStyle := tcell.StyleDefault.Foreground(tcell.ColorRed)
	for i, w := range windows {
		style := tcell.StyleDefault.Foreground(rowColor(i))

		for j, s := range w {
			col := plotX + plotW - len(w) + j
			level := int(int64(height-1) * int64(s.RTT) / int64(maxRTT))
			if level > height-1 {
				level = height - 1
			}
			row := y + height - 1 - level

			if s.Lost {
				screen.SetContent(col, row, '!', nil, lostStyle)
			} else {
				screen.SetContent(col, row, '•', nil, style)
			}
		}
	}

	return x, y, width, height
}

// drawMinimap renders one three-line path per target: latency deltas
// above, the colored path bar in the middle, hop labels below.
func (ui *userInterface) drawMinimap(screen tcell.Screen, x, y, width, height int) (int, int, int, int) {
	ix, iy, iw, ih := x+1, y+1, width-2, height-2
	if iw < deviceWidth+16 || ih < 3 {
		return x, y, width, height
	}

	for i, t := range ui.targets {
		rowY := iy + i*3
		if rowY+2 > iy+ih-1 {
			break
		}
		ui.drawPath(screen, t, ix, rowY, iw)
	}

	return x, y, width, height
}

func (ui *userInterface) drawPath(screen tcell.Screen, t *monitor.Target, x, y, w int) {
	segments := monitor.Estimate(t)
	chunk := (w - deviceWidth) / len(segments)
	if chunk < 8 {
		return
	}

	dim := tcell.StyleDefault.Foreground(tcell.ColorGray)
	screen.SetContent(x, y+1, '●', nil, tcell.StyleDefault)
	for c := x + 1; c < x+deviceWidth; c++ {
		screen.SetContent(c, y+1, '─', nil, dim)
	}
	drawString(screen, x, y+2, "you", dim)

	for i, seg := range segments {
		startX := x + deviceWidth + i*chunk
		style := severityStyle(seg)

		bar := '━'
		if !seg.Known {
			bar = '╌'
		}
		for c := startX; c < startX+chunk-1; c++ {
			screen.SetContent(c, y+1, bar, nil, style)
		}
		screen.SetContent(startX+chunk-1, y+1, '●', nil, style)

		delta := "?"
		if seg.Known {
			delta = "+" + ts(seg.Delta)
		}
		drawCentered(screen, startX, y, chunk, delta, style)
		drawCentered(screen, startX, y+2, chunk, ui.segmentLabel(t, seg), dim)
	}
}

func (ui *userInterface) segmentLabel(t *monitor.Target, seg monitor.Segment) string {
	if seg.Final {
		return t.Host
	}
	if seg.Addr == nil {
		return "?"
	}
	if ui.gateway != nil && ui.gateway.Equal(seg.Addr.IP) {
		return "home gateway"
	}
	if name := ui.names.lookup(seg.Addr.IP); name != "" {
		return name
	}
	return seg.Addr.IP.String()
}

// severityStyle grades a segment by how much latency it adds.
func severityStyle(seg monitor.Segment) tcell.Style {
	if !seg.Known {
		return tcell.StyleDefault.Foreground(tcell.ColorGray)
	}
	switch {
	case seg.Delta <= 30*time.Millisecond:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case seg.Delta <= 60*time.Millisecond:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow)
	case seg.Delta <= 90*time.Millisecond:
		return tcell.StyleDefault.Foreground(tcell.ColorOrange)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorRed)
	}
}

func drawString(screen tcell.Screen, x, y int, s string, style tcell.Style) {
	for i, r := range []rune(s) {
		screen.SetContent(x+i, y, r, nil, style)
	}
}

func drawCentered(screen tcell.Screen, x, y, w int, s string, style tcell.Style) {
	r := []rune(s)
	if len(r) > w-1 {
		r = r[:w-1]
	}
	drawString(screen, x+(w-len(r))/2, y, string(r), style)
}

const tsDividend = float64(time.Millisecond) / float64(time.Nanosecond)

func ts(dur time.Duration) string {
	if 10*time.Microsecond < dur && dur < time.Second {
		return fmt.Sprintf("%0.2fms", float64(dur.Nanoseconds())/tsDividend)
	}
	return dur.String()
}
