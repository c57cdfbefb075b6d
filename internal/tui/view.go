package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/BTreeMap/CoachPipe/internal/models"
)

// maxCards is how many transcript cards fit on screen.
const maxCards = 6

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		MarginBottom(1)

	statusStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	bannerStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("0")).
		Background(lipgloss.Color("214")).
		Padding(0, 1)

	coachStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("39")).
		Padding(0, 1)

	highPriorityStyle = coachStyle.
		BorderForeground(lipgloss.Color("196"))

	systemStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Italic(true)

	selectedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("86")).
		Bold(true)

	inputStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("86")).
		Padding(0, 1)

	safetyStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	helpStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		MarginTop(1)
)

// View renders the screen.
func (m *Model) View() string {
	parts := []string{titleStyle.Render("CoachPipe - today")}

	mode := string(m.snap.Mode)
	if m.snap.Pinned {
		mode += " (using mock until mode change, Ctrl+L retry live)"
	}
	status := fmt.Sprintf("mode: %s  state: %s", mode, m.snap.State)
	parts = append(parts, statusStyle.Render(status))

	if m.snap.Banner != "" {
		parts = append(parts, bannerStyle.Render(m.snap.Banner))
	}
	parts = append(parts, "")

	cards := m.snap.Cards
	if len(cards) > maxCards {
		cards = cards[len(cards)-maxCards:]
	}
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	for _, c := range cards {
		parts = append(parts, renderCard(c, width))
	}

	if s := m.snap.Safety; s.InjuryRisk || s.NeedsMedicalCaution {
		line := "Take care: this plan is adjusted for your safety"
		if len(s.Contraindications) > 0 {
			line += " (" + strings.Join(s.Contraindications, ", ") + ")"
		}
		parts = append(parts, safetyStyle.Render(line))
	}

	if m.snap.Loading {
		parts = append(parts, statusStyle.Render("Coach is thinking..."))
	} else if w := m.renderWidget(); w != "" {
		parts = append(parts, w)
	}

	if len(m.actions) > 0 {
		parts = append(parts, "", statusStyle.Render("actions:"))
		for _, a := range m.actions {
			parts = append(parts, statusStyle.Render("  • "+a))
		}
	}

	if m.snap.Error != "" {
		parts = append(parts, errorStyle.Render("Error: "+m.snap.Error))
	}
	if m.err != "" {
		parts = append(parts, errorStyle.Render(m.err))
	}

	parts = append(parts, helpStyle.Render(m.help()))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderCard(c models.Card, width int) string {
	if c.Role == models.CardRoleSystem {
		return systemStyle.Render("· " + c.Text)
	}
	style := coachStyle
	if c.Priority == models.PriorityHigh {
		style = highPriorityStyle
	}
	return style.Width(width).Render(c.Text)
}

func (m *Model) renderWidget() string {
	switch w := m.snap.ActiveWidget.(type) {
	case *models.ButtonsWidget:
		items := []string{w.Title}
		for i, opt := range w.Options {
			if i == m.cursor {
				items = append(items, selectedStyle.Render("> "+opt.Label))
			} else {
				items = append(items, "  "+opt.Label)
			}
		}
		return strings.Join(items, "\n")
	case *models.SliderWidget:
		return fmt.Sprintf("%s\n%s  %s %s  %s",
			w.Title,
			formatNumber(w.Min),
			selectedStyle.Render("◀ "+formatNumber(m.slider)+" ▶"),
			w.Unit,
			formatNumber(w.Max))
	case *models.NumberWidget:
		label := w.Title
		if w.Unit != nil {
			label += " (" + *w.Unit + ")"
		}
		return label + "\n" + inputStyle.Render(m.input+"█")
	case *models.DateTimeWidget:
		hint := "2006-01-02T15:04:05Z"
		switch w.Mode {
		case "date":
			hint = "YYYY-MM-DD"
		case "time":
			hint = "HH:MM"
		}
		return fmt.Sprintf("%s [%s]\n%s", w.Title, hint, inputStyle.Render(m.input+"█"))
	default:
		return ""
	}
}

func (m *Model) help() string {
	switch m.snap.ActiveWidget.(type) {
	case *models.ButtonsWidget:
		return "↑/↓ choose, Enter answer, Ctrl+R restart, Ctrl+T toggle live/mock, Esc quit"
	case *models.SliderWidget:
		return "←/→ adjust, Enter answer, Ctrl+R restart, Ctrl+T toggle live/mock, Esc quit"
	case *models.NumberWidget, *models.DateTimeWidget:
		return "type a value, Enter answer, Ctrl+R restart, Ctrl+T toggle live/mock, Esc quit"
	default:
		return "Enter or Ctrl+R new check-in, Ctrl+T toggle live/mock, Esc quit"
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
