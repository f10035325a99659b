package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"mentor-chat/internal/models"
	"mentor-chat/internal/surfaces"
)

type contactItem struct {
	contact surfaces.Contact
	role    models.Role
}

// counterpartLabel names a user on the other side of role's conversations.
func counterpartLabel(role models.Role, id int) string {
	if role.Counterpart() == models.RoleMentor {
		return fmt.Sprintf("Mentor #%d", id)
	}
	return fmt.Sprintf("Student #%d", id)
}

func (i contactItem) Title() string {
	title := counterpartLabel(i.role, i.contact.ID)
	if i.contact.Unread > 0 {
		title += " " + badgeStyle.Render(fmt.Sprintf("%d", i.contact.Unread))
	}
	return title
}

func (i contactItem) Description() string {
	switch {
	case i.contact.Active:
		return "conversation open"
	case i.contact.Unread == 1:
		return "1 unread message"
	case i.contact.Unread > 1:
		return fmt.Sprintf("%d unread messages", i.contact.Unread)
	default:
		return "no unread messages"
	}
}

func (i contactItem) FilterValue() string {
	return counterpartLabel(i.role, i.contact.ID)
}

func newRosterList(title string) list.Model {
	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(lipgloss.Color("5")).
		Bold(true)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(lipgloss.Color("8"))

	l := list.New([]list.Item{}, delegate, 80, 20)
	l.Title = title
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(false)
	return l
}

func contactItems(contacts []surfaces.Contact, role models.Role) []list.Item {
	items := make([]list.Item, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, contactItem{contact: c, role: role})
	}
	return items
}

func (m Model) updateRoster(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.roster.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.roster, cmd = m.roster.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "enter":
		item, ok := m.roster.SelectedItem().(contactItem)
		if !ok {
			return m, nil
		}
		return m.open(item.contact.ID)
	case "n":
		if m.surface.Kind() != surfaces.KindChat {
			return m, nil
		}
		m.mode = modePrompt
		m.prompt.Reset()
		m.prompt.Focus()
		return m, nil
	case "r":
		return m, m.loadUnreadCmd()
	}

	var cmd tea.Cmd
	m.roster, cmd = m.roster.Update(msg)
	return m, cmd
}
