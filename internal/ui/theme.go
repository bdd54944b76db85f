package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type palette struct {
	text, textSecondary, textTertiary lipgloss.Color
	primary, primaryLight             lipgloss.Color
	completed                         lipgloss.Color
	border                            lipgloss.Color
	success, danger, info             lipgloss.Color
}

var palettes = map[string]palette{
	"light": {
		text:          "#1F2937",
		textSecondary: "#6B7280",
		textTertiary:  "#9CA3AF",
		primary:       "#6366F1",
		primaryLight:  "#818CF8",
		completed:     "#9CA3AF",
		border:        "#E5E7EB",
		success:       "#059669",
		danger:        "#DC2626",
		info:          "#2563EB",
	},
	"dark": {
		text:          "#F9FAFB",
		textSecondary: "#D1D5DB",
		textTertiary:  "#9CA3AF",
		primary:       "#818CF8",
		primaryLight:  "#A5B4FC",
		completed:     "#6B7280",
		border:        "#4B5563",
		success:       "#34D399",
		danger:        "#F87171",
		info:          "#60A5FA",
	},
}

type styles struct {
	name      string
	title     lipgloss.Style
	stats     lipgloss.Style
	tabOn     lipgloss.Style
	tabOff    lipgloss.Style
	item      lipgloss.Style
	selected  lipgloss.Style
	done      lipgloss.Style
	meta      lipgloss.Style
	help      lipgloss.Style
	banner    lipgloss.Style
	panel     lipgloss.Style
	label     lipgloss.Style
	noticeBox lipgloss.Style
	success   lipgloss.Style
	danger    lipgloss.Style
	info      lipgloss.Style
}

func newStyles(name string) styles {
	name = strings.ToLower(name)
	p, ok := palettes[name]
	if !ok {
		name = "dark"
		p = palettes[name]
	}
	return styles{
		name:      name,
		title:     lipgloss.NewStyle().Bold(true).Foreground(p.primary),
		stats:     lipgloss.NewStyle().Foreground(p.textSecondary),
		tabOn:     lipgloss.NewStyle().Bold(true).Underline(true).Foreground(p.primary),
		tabOff:    lipgloss.NewStyle().Foreground(p.textTertiary),
		item:      lipgloss.NewStyle().Foreground(p.text),
		selected:  lipgloss.NewStyle().Bold(true).Foreground(p.primaryLight),
		done:      lipgloss.NewStyle().Strikethrough(true).Foreground(p.completed),
		meta:      lipgloss.NewStyle().Foreground(p.textTertiary),
		help:      lipgloss.NewStyle().Foreground(p.textTertiary),
		banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(p.danger).Padding(0, 1),
		panel:     lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(p.border).Padding(0, 1),
		label:     lipgloss.NewStyle().Width(12).Foreground(p.textSecondary),
		noticeBox: lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).PaddingLeft(1),
		success:   lipgloss.NewStyle().Foreground(p.success),
		danger:    lipgloss.NewStyle().Foreground(p.danger),
		info:      lipgloss.NewStyle().Foreground(p.info),
	}
}

func (s styles) next() styles {
	if s.name == "dark" {
		return newStyles("light")
	}
	return newStyles("dark")
}
