// Package ui is the terminal front end: a roster of counterparts with unread
// badges and a conversation view bound to one surface.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"mentor-chat/internal/models"
	"mentor-chat/internal/surfaces"
)

// Events wakes the program when the surface or the unread counts change.
// Notify never blocks; bursts collapse into one refresh.
type Events struct {
	ch chan struct{}
}

func NewEvents() *Events {
	return &Events{ch: make(chan struct{}, 1)}
}

func (e *Events) Notify() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

func (e *Events) wait() tea.Cmd {
	return func() tea.Msg {
		<-e.ch
		return refreshMsg{}
	}
}

type Options struct {
	Context           context.Context
	RequestTimeout    time.Duration
	ReconcileInterval time.Duration
}

type mode int

const (
	modeRoster mode = iota
	modePrompt
	modeConversation
)

type (
	refreshMsg      struct{}
	unreadLoadedMsg struct{ err error }
	openedMsg       struct {
		counterpart int
		err         error
	}
	sentMsg struct {
		text string
		err  error
	}
	closedMsg        struct{}
	reconcileTickMsg struct{}
	reconciledMsg    struct {
		added int
		err   error
	}
)

type Model struct {
	surface *surfaces.Surface
	events  *Events
	opts    Options

	mode     mode
	roster   list.Model
	viewport viewport.Model
	composer textarea.Model
	prompt   textinput.Model
	spinner  spinner.Model

	messages []models.Message
	opening  bool
	sending  bool
	sendErr  error
	notice   string
	width    int
	height   int
}

func surfaceTitle(kind surfaces.Kind) string {
	switch kind {
	case surfaces.KindMenteeMessaging:
		return "Mentees"
	case surfaces.KindMentorMessaging:
		return "Mentors"
	default:
		return "Chats"
	}
}

// New builds the program model. events must be the notifier wired into the
// surface and tracker.
func New(surface *surfaces.Surface, events *Events, opts Options) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = statusStyle

	vp := viewport.New(80, 20)

	ta := textarea.New()
	ta.Placeholder = "Type your message..."
	ta.CharLimit = 2000
	ta.SetHeight(3)
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter"))

	ti := textinput.New()
	ti.Placeholder = "user id"
	ti.CharLimit = 12
	ti.Prompt = "Open conversation with: "

	m := Model{
		surface:  surface,
		events:   events,
		opts:     opts,
		roster:   newRosterList(surfaceTitle(surface.Kind())),
		viewport: vp,
		composer: ta,
		prompt:   ti,
		spinner:  s,
		width:    80,
		height:   30,
	}
	m.sync()
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.events.wait(), m.loadUnreadCmd()}
	if tick := m.tickCmd(); tick != nil {
		cmds = append(cmds, tick)
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case refreshMsg:
		m.sync()
		return m, m.events.wait()

	case unreadLoadedMsg:
		if msg.err != nil {
			m.notice = "Some unread counts could not be loaded."
		}
		m.sync()
		return m, nil

	case openedMsg:
		m.opening = false
		if msg.err != nil {
			m.mode = modeRoster
			m.composer.Blur()
			m.notice = msg.err.Error()
		}
		m.sync()
		m.viewport.GotoBottom()
		return m, nil

	case sentMsg:
		m.sending = false
		if msg.err != nil {
			m.sendErr = msg.err
			return m, nil
		}
		if m.composer.Value() == msg.text {
			m.composer.Reset()
		}
		m.sync()
		m.viewport.GotoBottom()
		return m, nil

	case closedMsg:
		m.sync()
		return m, nil

	case reconcileTickMsg:
		return m, tea.Batch(m.reconcileCmd(), m.tickCmd())

	case reconciledMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("Refresh failed: %v", msg.err)
		}
		m.sync()
		return m, nil

	case spinner.TickMsg:
		if m.opening || m.sending {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.notice = ""
		switch m.mode {
		case modeConversation:
			return m.updateConversation(msg)
		case modePrompt:
			return m.updatePrompt(msg)
		default:
			return m.updateRoster(msg)
		}
	}

	return m, nil
}

func (m Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeRoster
		m.prompt.Blur()
		return m, nil
	case "enter":
		id, err := strconv.Atoi(strings.TrimSpace(m.prompt.Value()))
		if err != nil || id <= 0 {
			m.notice = "Enter a numeric user id."
			return m, nil
		}
		m.prompt.Blur()
		return m.open(id)
	}
	var cmd tea.Cmd
	m.prompt, cmd = m.prompt.Update(msg)
	return m, cmd
}

func (m Model) open(counterpart int) (tea.Model, tea.Cmd) {
	m.mode = modeConversation
	m.opening = true
	m.sendErr = nil
	m.messages = nil
	m.viewport.SetContent("")
	m.composer.Focus()
	return m, tea.Batch(m.spinner.Tick, m.openCmd(counterpart), textarea.Blink)
}

func (m *Model) resize() {
	m.roster.SetSize(m.width-2, m.height-4)
	m.composer.SetWidth(m.width - 4)

	// title, status, composer label, composer, help
	chrome := 10
	m.viewport.Width = m.width - 4
	m.viewport.Height = m.height - chrome
	if m.viewport.Height < 3 {
		m.viewport.Height = 3
	}
	m.viewport.SetContent(renderMessages(m.messages, m.surface.User(), m.viewport.Width))
}

// sync pulls the surface's current snapshot.
func (m *Model) sync() {
	atBottom := m.viewport.AtBottom()
	m.messages = m.surface.Messages()
	m.viewport.SetContent(renderMessages(m.messages, m.surface.User(), m.viewport.Width))
	if atBottom {
		m.viewport.GotoBottom()
	}
	m.roster.SetItems(contactItems(m.surface.Roster(), m.surface.User().Role))
}

func (m Model) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(m.opts.Context, m.opts.RequestTimeout)
}

func (m Model) loadUnreadCmd() tea.Cmd {
	surface := m.surface
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		return unreadLoadedMsg{err: surface.LoadUnread(ctx)}
	}
}

func (m Model) openCmd(counterpart int) tea.Cmd {
	surface := m.surface
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		return openedMsg{counterpart: counterpart, err: surface.OpenConversation(ctx, counterpart)}
	}
}

func (m Model) sendCmd(text string) tea.Cmd {
	surface := m.surface
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		return sentMsg{text: text, err: surface.SendMessage(ctx, text)}
	}
}

func (m Model) closeCmd() tea.Cmd {
	surface := m.surface
	return func() tea.Msg {
		surface.CloseConversation()
		return closedMsg{}
	}
}

func (m Model) reconcileCmd() tea.Cmd {
	surface := m.surface
	return func() tea.Msg {
		ctx, cancel := m.requestContext()
		defer cancel()
		added, err := surface.Reconcile(ctx)
		if err == nil {
			err = surface.LoadUnread(ctx)
		}
		return reconciledMsg{added: added, err: err}
	}
}

func (m Model) tickCmd() tea.Cmd {
	if m.opts.ReconcileInterval <= 0 {
		return nil
	}
	return tea.Tick(m.opts.ReconcileInterval, func(time.Time) tea.Msg {
		return reconcileTickMsg{}
	})
}

func (m Model) View() string {
	var s string
	switch m.mode {
	case modeConversation:
		s = m.conversationView()
	case modePrompt:
		s = titleStyle.Render("💬 New conversation") + "\n" + m.prompt.View() + "\n\n" +
			helpStyle.Render("enter: open • esc: cancel")
	default:
		s = m.rosterView()
	}
	if m.notice != "" {
		s += "\n" + errorStyle.Render(m.notice)
	}
	return s
}

func (m Model) rosterView() string {
	header := fmt.Sprintf("%s • %s", counterpartLabel(m.surface.User().Role.Counterpart(), m.surface.User().ID), surfaceTitle(m.surface.Kind()))
	if total := m.surface.TotalUnread(); total > 0 {
		header += " " + badgeStyle.Render(fmt.Sprintf("%d unread", total))
	}
	s := statusStyle.Render(header) + "\n" + m.roster.View() + "\n"

	help := "↑↓/jk: navigate • enter: open • /: filter • r: refresh unread • q: quit"
	if m.surface.Kind() == surfaces.KindChat {
		help = "↑↓/jk: navigate • enter: open • n: new conversation • /: filter • r: refresh unread • q: quit"
	}
	return s + helpStyle.Render(help)
}
