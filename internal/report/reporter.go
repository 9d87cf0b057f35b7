// Package report implements the Reporter (§4.12): a purely presentational
// renderer over a completed run's Result and grouped output, with no
// feedback into control flow.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/jross/cumin-go/internal/handler"
	"github.com/jross/cumin-go/internal/hostset"
	"github.com/jross/cumin-go/internal/transport"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#1a7f37", Dark: "#56d364"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#bf8700", Dark: "#f9e71e"}
	colorError   = lipgloss.AdaptiveColor{Light: "#cf222e", Dark: "#f85149"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#656d76", Dark: "#8b949e"}

	styleHeader  = lipgloss.NewStyle().Bold(true).Foreground(colorMuted)
	styleSuccess = lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	styleFail    = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	styleWarn    = lipgloss.NewStyle().Foreground(colorWarning)
)

// Reporter renders a run's grouped output and summary to an io.Writer.
type Reporter struct {
	w       io.Writer
	NoColor bool
}

// New returns a Reporter writing to w.
func New(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

func (r *Reporter) style(s lipgloss.Style, text string) string {
	if r.NoColor {
		return text
	}
	return s.Render(text)
}

// RenderOutputs emits one block per distinct output buffer, listing the
// hosts that produced it via the HostSet compact range syntax.
func (r *Reporter) RenderOutputs(groups []transport.OutputGroup) {
	sorted := append([]transport.OutputGroup{}, groups...)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Join(sorted[i].Hosts, ",") < strings.Join(sorted[j].Hosts, ",")
	})
	for _, g := range sorted {
		hs := hostset.New(g.Hosts...)
		fmt.Fprintln(r.w, r.style(styleHeader, "----- "+hs.String()+" -----"))
		fmt.Fprintln(r.w, string(g.Output))
	}
}

// RenderSummary emits the per-command failure summary and, when the run
// spanned more than one command, an overall per-host success summary.
func (r *Reporter) RenderSummary(res handler.Result, multiCommand bool) {
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, r.style(styleHeader, "===== SUMMARY ====="))

	cmds := make([]string, 0, len(res.FailedNodes))
	for cmd := range res.FailedNodes {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)
	for _, cmd := range cmds {
		hosts := res.FailedNodes[cmd]
		sort.Strings(hosts)
		hs := hostset.New(hosts...)
		fmt.Fprintf(r.w, "%s %s (%d): %s\n", r.style(styleFail, "FAIL"), cmd, len(hosts), hs.String())
	}

	if multiCommand {
		fmt.Fprintf(r.w, "%d/%d (%.0f%%) hosts succeeded all commands\n",
			res.Success, res.Total, res.Ratio()*100)
	}
	if res.Timeout > 0 {
		fmt.Fprintln(r.w, r.style(styleWarn, fmt.Sprintf("%d host(s) timed out", res.Timeout)))
	}
}

// RenderHistory draws an asciigraph line plot of success ratios, one point
// per entry of ratios (most recent last), as percentages. The CLI does not
// call it.
func (r *Reporter) RenderHistory(ratios []float64) {
	if len(ratios) == 0 {
		return
	}
	pct := make([]float64, len(ratios))
	for i, v := range ratios {
		pct[i] = v * 100
	}
	graph := asciigraph.Plot(pct,
		asciigraph.Height(8),
		asciigraph.Caption("success ratio % across recent runs"),
	)
	fmt.Fprintln(r.w, graph)
}
