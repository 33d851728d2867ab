// Package watch is an interactive terminal peer for a running device. It
// connects to the stream port, shows incoming predictions and lets the
// operator send drowsiness statuses to exercise the alarm.
package watch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/drowsiwatch/internal/protocol"
	"github.com/muurk/drowsiwatch/internal/ui"
)

const dialTimeout = 5 * time.Second

// Message types
type predictionMsg struct{ prediction protocol.Prediction }
type decodeErrMsg struct{ err error }
type disconnectedMsg struct{ err error }
type sentMsg struct{ status string }
type sendErrMsg struct{ err error }

type keyMap struct {
	Normal     key.Binding
	Unhealthy  key.Binding
	MicroSleep key.Binding
	Quit       key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Normal, k.Unhealthy, k.MicroSleep, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Normal, k.Unhealthy, k.MicroSleep, k.Quit}}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Normal: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "send Normal"),
		),
		Unhealthy: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "send Unhealthy"),
		),
		MicroSleep: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "send MicroSleep"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Foreground(ui.PrimaryColor).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(ui.TextColor).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(ui.MutedColor)
	alertStyle  = lipgloss.NewStyle().Foreground(ui.ErrorColor).Bold(true)
	normalStyle = lipgloss.NewStyle().Foreground(ui.SuccessColor).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(ui.ErrorColor)
)

// Model is the watch screen.
type Model struct {
	addr   string
	conn   net.Conn
	reader *bufio.Reader

	last     *protocol.Prediction
	counts   map[string]int
	total    int
	sent     string
	sentAt   time.Time
	badLines int
	err      error
	closed   bool

	bar   progress.Model
	help  help.Model
	keys  keyMap
	width int
}

// NewModel wraps an established connection to the device at addr.
func NewModel(addr string, conn net.Conn) Model {
	return Model{
		addr:   addr,
		conn:   conn,
		reader: bufio.NewReader(conn),
		counts: make(map[string]int),
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
		),
		help:  help.New(),
		keys:  defaultKeyMap(),
		width: ui.GetTerminalWidth(),
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return readPrediction(m.reader)
}

// readPrediction blocks for the next line from the device.
func readPrediction(r *bufio.Reader) tea.Cmd {
	return func() tea.Msg {
		line, err := r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return disconnectedMsg{}
			}
			return disconnectedMsg{err: err}
		}
		p, err := protocol.DecodePrediction(line[:len(line)-1])
		if err != nil {
			return decodeErrMsg{err: err}
		}
		return predictionMsg{prediction: p}
	}
}

func sendStatus(conn net.Conn, status string) tea.Cmd {
	return func() tea.Msg {
		_ = conn.SetWriteDeadline(time.Now().Add(dialTimeout))
		if _, err := conn.Write(protocol.EncodeStatus(status)); err != nil {
			return sendErrMsg{err: err}
		}
		return sentMsg{status: status}
	}
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(20, min(msg.Width-30, 60))
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case m.closed:
			return m, nil
		case key.Matches(msg, m.keys.Normal):
			return m, sendStatus(m.conn, protocol.StatusNormal)
		case key.Matches(msg, m.keys.Unhealthy):
			return m, sendStatus(m.conn, protocol.StatusUnhealthy)
		case key.Matches(msg, m.keys.MicroSleep):
			return m, sendStatus(m.conn, protocol.StatusMicroSleep)
		}
		return m, nil

	case predictionMsg:
		p := msg.prediction
		m.last = &p
		m.counts[p.Label]++
		m.total++
		return m, readPrediction(m.reader)

	case decodeErrMsg:
		m.badLines++
		return m, readPrediction(m.reader)

	case disconnectedMsg:
		m.closed = true
		m.err = msg.err
		return m, nil

	case sentMsg:
		m.sent = msg.status
		m.sentAt = time.Now()
		m.err = nil
		return m, nil

	case sendErrMsg:
		m.err = msg.err
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("drowsiwatch ─ "+m.addr) + "\n\n")

	if m.last == nil {
		b.WriteString(mutedStyle.Render("Waiting for predictions...") + "\n")
	} else {
		b.WriteString(labelStyle.Render(m.last.Label) + "  ")
		b.WriteString(m.bar.ViewAs(m.last.Confidence) + "\n")
	}
	b.WriteString("\n")

	if m.total > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%d predictions", m.total)) + "\n")
		for _, label := range sortedLabels(m.counts) {
			b.WriteString(fmt.Sprintf("  %-16s %d\n", label, m.counts[label]))
		}
		b.WriteString("\n")
	}
	if m.badLines > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("%d undecodable lines", m.badLines)) + "\n")
	}

	if m.sent != "" {
		style := normalStyle
		if protocol.IsAlertStatus(protocol.InboundMessage{DrowsinessStatus: &m.sent}) {
			style = alertStyle
		}
		b.WriteString("Last sent: " + style.Render(m.sent) + mutedStyle.Render(" at "+m.sentAt.Format("15:04:05")) + "\n")
	}

	if m.closed {
		msg := "Device closed the connection"
		if m.err != nil {
			msg += ": " + m.err.Error()
		}
		b.WriteString(errorStyle.Render(msg) + "\n")
	} else if m.err != nil {
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n")
	}

	b.WriteString("\n" + m.help.View(m.keys) + "\n")
	return b.String()
}

func sortedLabels(counts map[string]int) []string {
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Run connects to addr and runs the watch screen until the operator quits
// or ctx is cancelled.
func Run(ctx context.Context, addr string) error {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	p := tea.NewProgram(NewModel(addr, conn), tea.WithContext(ctx), tea.WithAltScreen())
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
