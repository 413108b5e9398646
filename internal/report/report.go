// Package report renders incentive evaluations for the console.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dayuer/agentbus/internal/agent"
)

// Renderer formats evaluations for one output stream. Colour is used only
// when the stream is a terminal.
type Renderer struct {
	w       io.Writer
	title   lipgloss.Style
	section lipgloss.Style
	id      lipgloss.Style
	good    lipgloss.Style
	muted   lipgloss.Style
}

// New creates a renderer writing to w.
func New(w io.Writer) *Renderer {
	r := lipgloss.NewRenderer(w)
	return &Renderer{
		w:       w,
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		section: r.NewStyle().Bold(true).Underline(true),
		id:      r.NewStyle().Foreground(lipgloss.Color("14")),
		good:    r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

// Write renders ev to the output stream.
func (r *Renderer) Write(ev agent.Evaluation) error {
	_, err := io.WriteString(r.w, r.Render(ev))
	return err
}

// Render returns ev as styled text.
func (r *Renderer) Render(ev agent.Evaluation) string {
	var b strings.Builder

	header := fmt.Sprintf("Incentive report · %d consumers", ev.Consumers)
	if ev.ContextID != "" {
		header += " · context " + ev.ContextID
	}
	b.WriteString(r.title.Render(header))
	b.WriteString("\n")
	if ev.State != nil {
		b.WriteString(r.muted.Render(fmt.Sprintf("load %.2f kW · generation %.2f kW · surplus %.2f kW",
			num(ev.State["total_load_kw"]), num(ev.State["total_gen_kw"]), num(ev.State["surplus_kw"]))))
		b.WriteString("\n")
	}

	b.WriteString("\n" + r.section.Render("Incentive Results") + "\n")
	if len(ev.Results) == 0 {
		b.WriteString(r.muted.Render("No consumers met eligibility criteria.") + "\n")
	}
	for _, res := range ev.Results {
		fmt.Fprintf(&b, "Consumer %s => discount %s (avg %.2f kWh)\n",
			r.id.Render(res.ConsumerID), r.good.Render(fmt.Sprintf("%d%%", percent(res.Discount))), res.AvgKwh)
	}

	if len(ev.Recommendations) > 0 {
		b.WriteString("\n" + r.section.Render("Recommendations (sample)") + "\n")
	}
	for _, rec := range ev.Recommendations {
		actions := strings.Join(rec.Actions, ", ")
		if actions == "" {
			actions = r.muted.Render("no changes suggested")
		}
		fmt.Fprintf(&b, "%s: %s\n", r.id.Render(rec.ConsumerID), actions)
	}
	return b.String()
}

func percent(discount float64) int {
	return int(discount*100 + 0.5)
}

func num(v any) float64 {
	f, _ := v.(float64)
	return f
}
