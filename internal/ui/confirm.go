package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Confirm shows a warning box and asks the operator to type the given
// word to proceed. Anything else, including end of input, declines.
func (p *Printer) Confirm(title string, warnings []string, word string, in io.Reader) bool {
	lines := []string{"", WarningTitleStyle.Render(fmt.Sprintf("%s  WARNING  ─  %s", WarningMarker, title)), ""}
	for _, w := range warnings {
		lines = append(lines, ValueStyle.Render("• "+w))
	}
	lines = append(lines, "")
	p.Println(ResultBoxStyle(p.width, WarningColor).Render(strings.Join(lines, "\n")))

	prompt := lipgloss.NewStyle().Foreground(WarningColor).Bold(true)
	_, _ = fmt.Fprint(p.out, prompt.Render(fmt.Sprintf("To proceed, type %q and press Enter: ", word)))

	input, err := bufio.NewReader(in).ReadString('\n')
	p.Println("")
	if err != nil && input == "" {
		return false
	}
	if strings.TrimSpace(input) == word {
		return true
	}

	p.Println(HintStyle.Render("  Operation cancelled."))
	return false
}
