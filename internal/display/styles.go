package display

import "github.com/charmbracelet/lipgloss"

var (
	colorStep  = lipgloss.Color("37")  // cyan
	colorOK    = lipgloss.Color("114") // soft green
	colorWarn  = lipgloss.Color("214") // orange
	colorError = lipgloss.Color("196") // red
	colorDim   = lipgloss.Color("242") // gray
)

type styles struct {
	bold  lipgloss.Style
	dim   lipgloss.Style
	step  lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	err   lipgloss.Style
	title lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		bold:  r.NewStyle().Bold(true),
		dim:   r.NewStyle().Foreground(colorDim),
		step:  r.NewStyle().Foreground(colorStep).Bold(true),
		ok:    r.NewStyle().Foreground(colorOK),
		warn:  r.NewStyle().Foreground(colorWarn),
		err:   r.NewStyle().Foreground(colorError).Bold(true),
		title: r.NewStyle().Foreground(colorStep).Bold(true),
	}
}
