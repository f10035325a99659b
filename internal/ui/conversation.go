package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"mentor-chat/internal/models"
	"mentor-chat/internal/session"
)

// renderMessages lays out msgs as chat bubbles, the local user's on the right.
func renderMessages(msgs []models.Message, me models.CurrentUser, width int) string {
	if width <= 0 {
		width = 80
	}
	wrapWidth := width - 10
	if wrapWidth < 10 {
		wrapWidth = 10
	}
	right := lipgloss.NewStyle().Align(lipgloss.Right).Width(width)

	var content strings.Builder
	for i, message := range msgs {
		if i > 0 {
			content.WriteString("\n")
		}
		timestamp := message.Timestamp.Local().Format("Jan 2 15:04")
		text := wordwrap.String(message.Content, wrapWidth)

		if message.SenderID == me.ID && message.SenderType == me.Role {
			header := messageHeaderStyle.Render(fmt.Sprintf("You • %s", timestamp))
			content.WriteString(right.Render(header) + "\n")
			content.WriteString(right.Render(messageFromMeStyle.Render(text)) + "\n")
			continue
		}

		sender := counterpartLabel(me.Role, message.SenderID)
		content.WriteString(messageHeaderStyle.Render(fmt.Sprintf("%s • %s", sender, timestamp)) + "\n")
		content.WriteString(messageFromOtherStyle.Render(text) + "\n")
	}
	return content.String()
}

func (m Model) updateConversation(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeRoster
		m.composer.Blur()
		m.sendErr = nil
		m.messages = nil
		return m, m.closeCmd()
	case "enter":
		if m.sending {
			return m, nil
		}
		text := m.composer.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.sending = true
		m.sendErr = nil
		return m, tea.Batch(m.spinner.Tick, m.sendCmd(text))
	case "ctrl+r":
		if m.surface.State() == session.Closed {
			return m.open(m.surface.Counterpart())
		}
		return m, m.reconcileCmd()
	case "pgup", "pgdown", "ctrl+u", "ctrl+d":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd
}

func (m Model) conversationView() string {
	counterpart := m.surface.Counterpart()
	title := titleStyle.Render(fmt.Sprintf("💬 %s", counterpartLabel(m.surface.User().Role, counterpart)))

	status := helpStyle.Render("○ history only")
	if m.surface.Live() {
		status = liveStyle.Render("● live")
	}
	s := title + "  " + status + "\n"

	switch {
	case m.opening || m.surface.State() == session.Loading:
		s += fmt.Sprintf("\n  %s Loading messages...\n", m.spinner.View())
	case len(m.messages) == 0:
		s += normalStyle.Render("  No messages in this conversation yet.") + "\n"
	default:
		s += m.viewport.View() + "\n"
	}

	if m.sendErr != nil {
		s += errorStyle.Render(fmt.Sprintf("Message not sent: %v", m.sendErr)) + "\n"
	}
	if m.sending {
		s += fmt.Sprintf("  %s Sending...\n", m.spinner.View())
	}

	s += "\n" + inputStyle.Render("Message:") + "\n"
	s += m.composer.View() + "\n"
	s += helpStyle.Render(fmt.Sprintf("enter: send • alt+enter: newline • pgup/pgdn: scroll • ctrl+r: refresh • esc: back • %d%%",
		int(m.viewport.ScrollPercent()*100)))
	return s
}
