package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Field is one key/value line in a header or result box. A slice keeps
// the order stable, which a map would not.
type Field struct {
	Key   string
	Value string
}

// Printer writes rendered components to a writer.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, fields []Field) {
	p.Println(RenderHeader(title, command, fields, p.width))
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, fields []Field) {
	p.Println(RenderResult(SuccessMarker+"  "+title, SuccessTitleStyle, SuccessColor, fields, p.width))
}

// PrintWarning prints a warning result box
func (p *Printer) PrintWarning(title string, fields []Field) {
	p.Println(RenderResult(WarningMarker+"  "+title, WarningTitleStyle, WarningColor, fields, p.width))
}

// PrintError prints an error box with troubleshooting tips
func (p *Printer) PrintError(title string, err error, tips []string) {
	p.Println(RenderErrorBox(title, err, tips, p.width))
}

// RenderHeader renders a command header box
func RenderHeader(title, command string, fields []Field, width int) string {
	lines := []string{
		HeaderTitleStyle.Render(strings.ToUpper(title)),
		HeaderCommandStyle.Render(command),
	}
	if len(fields) > 0 {
		dividerWidth := width - 6
		if dividerWidth < 10 {
			dividerWidth = 10
		}
		lines = append(lines, lipgloss.NewStyle().Foreground(PrimaryColor).Render(strings.Repeat("─", dividerWidth)))
		lines = append(lines, renderFields(fields)...)
	}
	return HeaderBorderStyle(width).Render(strings.Join(lines, "\n"))
}

// RenderResult renders a bordered box with a title and fields.
func RenderResult(title string, titleStyle lipgloss.Style, color lipgloss.Color, fields []Field, width int) string {
	lines := []string{"", titleStyle.Render(title), ""}
	if len(fields) > 0 {
		lines = append(lines, renderFields(fields)...)
		lines = append(lines, "")
	}
	return ResultBoxStyle(width, color).Render(strings.Join(lines, "\n"))
}

// RenderErrorBox renders an error result box with troubleshooting
func RenderErrorBox(title string, err error, tips []string, width int) string {
	lines := []string{"", ErrorTitleStyle.Render(FailureMarker + "  FAILED  ─  " + title), ""}

	if err != nil {
		lines = append(lines, ErrorMessageStyle.Render("Error: "+err.Error()), "")
	}

	if len(tips) > 0 {
		lines = append(lines, HintStyle.Bold(true).Render("Troubleshooting:"))
		for _, tip := range tips {
			lines = append(lines, HintStyle.Render("  • "+tip))
		}
		lines = append(lines, "")
	}

	return ResultBoxStyle(width, ErrorColor).Render(strings.Join(lines, "\n"))
}

func renderFields(fields []Field) []string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, KeyStyle.Render(f.Key+":")+" "+ValueStyle.Render(f.Value))
	}
	return lines
}
