// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	titleStyle   lipgloss.Style
	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	errorStyle   lipgloss.Style
	warningStyle lipgloss.Style
	boxStyle     lipgloss.Style
)

// setupStyles builds the terminal styles, optionally without color
func setupStyles(noColor bool) {
	if noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
}

func init() {
	setupStyles(false)
}
