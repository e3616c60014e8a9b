// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"
	"time"

	"bandcast/internal/analysis"
	"bandcast/internal/client"
	"bandcast/internal/protocol"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	barLow  = lipgloss.Color("#25A065")
	barHigh = lipgloss.Color("#E8C547")

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C6C6C"))
)

// FrameMsg carries one live frame from the feed.
type FrameMsg client.Frame

// StatsMsg carries one reporting window of receive statistics.
type StatsMsg client.Stats

// DoneMsg reports that the feed ended. Err is nil when it was cancelled.
type DoneMsg struct{ Err error }

// MonitorModel draws one horizontal bar per band, scaled from the floor of
// -60 dB up to 0 dB, with the LED level a hardware display would light.
type MonitorModel struct {
	addr   string
	cfg    protocol.ServerConfig
	bar    progress.Model
	values []float64
	frames uint64
	last   time.Time
	stats  client.Stats
	done   bool
	err    error
}

// NewMonitorModel creates a monitor for a feed at addr with the given
// handshake.
func NewMonitorModel(addr string, cfg protocol.ServerConfig) MonitorModel {
	values := make([]float64, cfg.BandCount)
	for i := range values {
		values[i] = analysis.FloorDB
	}
	return MonitorModel{
		addr: addr,
		cfg:  cfg,
		bar: progress.New(
			progress.WithGradient(string(barLow), string(barHigh)),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		values: values,
	}
}

// Init initializes the Bubble Tea model
func (m MonitorModel) Init() tea.Cmd {
	return nil
}

// Update handles input and feed messages
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(min(msg.Width-30, 60), 10)

	case FrameMsg:
		copy(m.values, msg.Values)
		m.frames++
		m.last = time.Now()

	case StatsMsg:
		m.stats = client.Stats(msg)

	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, tea.Quit

	case tea.KeyMsg:
		if key.Matches(msg, key.NewBinding(key.WithKeys("q", "ctrl+c", "esc"))) {
			return m, tea.Quit
		}
	}
	return m, nil
}

// View renders the UI
func (m MonitorModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("bandcast " + m.addr))
	sb.WriteString("  ")
	sb.WriteString(infoStyle.Render(m.cfg.String()))
	sb.WriteString("\n\n")

	for i, db := range m.values {
		level := analysis.Level(db)
		led := dimStyle.Render(" -")
		if level >= 0 {
			led = highlightStyle.Render(fmt.Sprintf("%2d", level))
		}
		fmt.Fprintf(&sb, "%3d %s %7.1f dB %s\n", i, m.bar.ViewAs(Fraction(db)), db, led)
	}

	sb.WriteString("\n")
	sb.WriteString(infoStyle.Render(fmt.Sprintf("frames %d  period %s  received %d  skipped %d",
		m.frames, m.stats.AveragePeriod.Round(time.Millisecond), m.stats.Received, m.stats.Skipped)))
	sb.WriteString("\n")

	switch {
	case m.err != nil:
		sb.WriteString(fmt.Sprintf("\nError: %v\n", m.err))
	case m.done:
		sb.WriteString("\nFeed closed.\n")
	default:
		sb.WriteString(dimStyle.Render("q: Quit"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Values returns the most recent loudness per band.
func (m MonitorModel) Values() []float64 { return m.values }

// Fraction maps a loudness value onto [0, 1] for a bar, with the floor at 0.
func Fraction(db float64) float64 {
	f := (db - analysis.FloorDB) / -analysis.FloorDB
	return min(max(f, 0), 1)
}

// Program wraps a running monitor so the feed goroutine can push frames.
type Program struct {
	p *tea.Program
}

// NewMonitor creates the monitor program. Call Run to take over the
// terminal, and OnFrame, OnStats and Done from the goroutine reading the
// feed.
func NewMonitor(addr string, cfg protocol.ServerConfig, opts ...tea.ProgramOption) *Program {
	return &Program{p: tea.NewProgram(NewMonitorModel(addr, cfg), opts...)}
}

// Run blocks until the user quits or Done is called.
func (p *Program) Run() error {
	_, err := p.p.Run()
	return err
}

// OnFrame forwards f to the monitor. It matches client.Client.Run's
// callback.
func (p *Program) OnFrame(f client.Frame) { p.p.Send(FrameMsg(f)) }

// OnStats forwards s to the monitor.
func (p *Program) OnStats(s client.Stats) { p.p.Send(StatsMsg(s)) }

// Done tells the monitor the feed ended and makes Run return.
func (p *Program) Done(err error) { p.p.Send(DoneMsg{Err: err}) }
