// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Printer renders command results. Colors follow the capabilities of
// the writer it was created for.
type Printer struct {
	out io.Writer

	heading lipgloss.Style
	success lipgloss.Style
	failure lipgloss.Style
	label   lipgloss.Style
	notice  lipgloss.Style
	box     lipgloss.Style
}

// NewPrinter creates a Printer writing to out.
func NewPrinter(out io.Writer) *Printer {
	renderer := lipgloss.NewRenderer(out)
	return &Printer{
		out:     out,
		heading: renderer.NewStyle().Bold(true),
		success: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		failure: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		label:   renderer.NewStyle().Faint(true),
		notice:  renderer.NewStyle().Foreground(lipgloss.Color("3")),
		box: renderer.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1),
	}
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.success.Render(fmt.Sprintf(format, args...)))
}

// Failure prints a failure line.
func (p *Printer) Failure(format string, args ...any) {
	fmt.Fprintln(p.out, p.failure.Render(fmt.Sprintf(format, args...)))
}

// Notice prints an informational line.
func (p *Printer) Notice(format string, args ...any) {
	fmt.Fprintln(p.out, p.notice.Render(fmt.Sprintf(format, args...)))
}

// Field is one labelled value of a Card.
type Field struct {
	Label string
	Value string
}

// Card prints a titled box of labelled values. Fields with an empty
// value are skipped.
func (p *Printer) Card(title string, fields ...Field) {
	width := 0
	for _, field := range fields {
		if field.Value != "" {
			width = max(width, lipgloss.Width(field.Label))
		}
	}
	var body strings.Builder
	body.WriteString(p.heading.Render(title))
	for _, field := range fields {
		if field.Value == "" {
			continue
		}
		padding := strings.Repeat(" ", width-lipgloss.Width(field.Label))
		fmt.Fprintf(&body, "\n%s%s  %s", p.label.Render(field.Label), padding, field.Value)
	}
	fmt.Fprintln(p.out, p.box.Render(body.String()))
}

// Table prints rows under bold headers with columns aligned by display
// width.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, header := range headers {
		widths[i] = lipgloss.Width(header)
	}
	for _, row := range rows {
		for i := range min(len(row), len(widths)) {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		var builder strings.Builder
		for i, width := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			padded := cell + strings.Repeat(" ", width-lipgloss.Width(cell))
			if style != nil {
				padded = style.Render(padded)
			}
			if i > 0 {
				builder.WriteString("   ")
			}
			builder.WriteString(padded)
		}
		return strings.TrimRight(builder.String(), " ")
	}

	fmt.Fprintln(p.out, line(headers, &p.heading))
	for _, row := range rows {
		fmt.Fprintln(p.out, line(row, nil))
	}
}
