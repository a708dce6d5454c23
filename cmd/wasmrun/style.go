package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// colored reports whether output to f should be styled, honoring --color.
func colored(f *os.File) bool {
	mode, _ := rootCmd.PersistentFlags().GetString("color")
	switch mode {
	case "on":
		return true
	case "off":
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// styled returns s, or a plain style when f is not colored.
func styled(f *os.File, s lipgloss.Style) lipgloss.Style {
	if colored(f) {
		return s
	}
	return lipgloss.NewStyle()
}

func errorStyle(f *os.File) lipgloss.Style { return styled(f, errStyle) }
