// Package ui is the terminal chat client: a bubbletea program rendering a
// relay session and sending the input line as chat messages.
package ui

import (
	"fmt"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-relay/pkg/chat"
	"github.com/go-go-golems/chat-relay/pkg/client"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFDF5")).Background(lipgloss.Color("62")).Padding(0, 1)
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)
)

// Sender is the outbound half of a relay connection.
type Sender interface {
	Send(text string) error
}

// EventMsg wraps a relay event for the bubbletea loop.
type EventMsg client.Event

// DisconnectedMsg is delivered once when the event stream ends.
type DisconnectedMsg struct{ Err error }

type copiedMsg struct{ err error }

type sendErrMsg struct{ err error }

// Model renders one session.
type Model struct {
	sender Sender
	events <-chan tea.Msg
	title  string

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	messages      []chat.Message
	typing        string
	lastAssistant string
	status        string
	disconnected  bool

	markdown bool
}

type Option func(*Model)

// WithPlainText disables markdown rendering of assistant replies.
func WithPlainText() Option {
	return func(m *Model) { m.markdown = false }
}

func NewModel(sender Sender, events <-chan tea.Msg, title string, opts ...Option) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message and press enter"
	ti.Prompt = "> "
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		sender:   sender,
		events:   events,
		title:    title,
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		markdown: true,
	}
	for _, o := range opts {
		o(&m)
	}
	return m
}

// Pump reads events from c until it fails and forwards them as tea messages.
func Pump(c *client.Client) <-chan tea.Msg {
	out := make(chan tea.Msg, 16)
	go func() {
		defer close(out)
		for {
			ev, err := c.ReadEvent(0)
			if err != nil {
				out <- DisconnectedMsg{Err: err}
				return
			}
			out <- EventMsg(ev)
		}
	}()
	return out
}

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return DisconnectedMsg{}
		}
		return msg
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.events))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.refresh()

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+y":
			if m.lastAssistant != "" {
				text := m.lastAssistant
				cmds = append(cmds, func() tea.Msg { return copiedMsg{err: clipboard.WriteAll(text)} })
			}
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if text != "" && !m.disconnected && m.sender != nil {
				sender := m.sender
				cmds = append(cmds, func() tea.Msg {
					if err := sender.Send(text); err != nil {
						return sendErrMsg{err: err}
					}
					return nil
				})
			}
		}

	case EventMsg:
		cmds = append(cmds, m.handleEvent(client.Event(msg)), waitForEvent(m.events))

	case DisconnectedMsg:
		m.disconnected = true
		m.typing = ""
		m.status = "disconnected"
		if msg.Err != nil {
			log.Debug().Err(msg.Err).Msg("relay connection closed")
		}

	case copiedMsg:
		if msg.err != nil {
			m.status = "copy failed: " + msg.err.Error()
		} else {
			m.status = "copied last reply"
		}

	case sendErrMsg:
		m.status = "send failed: " + msg.err.Error()

	case spinner.TickMsg:
		if m.typing != "" {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleEvent(ev client.Event) tea.Cmd {
	switch ev.Name {
	case chat.EventConnected:
		if ev.Connected != nil {
			m.status = ev.Connected.Status
		}
	case chat.EventChatHistory:
		if ev.History != nil {
			m.messages = append([]chat.Message(nil), ev.History.Messages...)
			m.trackLastAssistant()
			m.refresh()
		}
	case chat.EventNewMessage:
		if ev.Message != nil {
			m.messages = append(m.messages, *ev.Message)
			m.trackLastAssistant()
			m.refresh()
		}
	case chat.EventTyping:
		if ev.Typing != nil {
			wasTyping := m.typing != ""
			m.typing = ev.Typing.User
			if !wasTyping {
				return m.spinner.Tick
			}
		}
	case chat.EventStopTyping:
		m.typing = ""
	}
	return nil
}

func (m *Model) trackLastAssistant() {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if m.messages[i].Role == chat.RoleAssistant {
			m.lastAssistant = m.messages[i].Text
			return
		}
	}
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m Model) renderMessages() string {
	var b strings.Builder
	for _, msg := range m.messages {
		ts := msg.Timestamp.Local().Format("15:04")
		switch msg.Role {
		case chat.RoleAssistant:
			b.WriteString(assistantStyle.Render(msg.User))
			b.WriteString(statusStyle.Render(" " + ts))
			b.WriteString("\n")
			body := msg.Text
			if msg.Error {
				body = errorStyle.Render(body)
			} else if m.markdown {
				if out, err := glamour.Render(body, "dark"); err == nil {
					body = strings.TrimSpace(out)
				}
			}
			b.WriteString(body)
		default:
			b.WriteString(userStyle.Render(msg.User))
			b.WriteString(statusStyle.Render(" " + ts))
			b.WriteString("\n")
			b.WriteString(msg.Text)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m Model) View() string {
	header := titleStyle.Render(m.title)
	line := statusStyle.Render(m.status)
	if m.typing != "" {
		line = fmt.Sprintf("%s %s", spinnerStyle.Render(m.spinner.View()), statusStyle.Render(m.typing+" is typing..."))
	}
	return strings.Join([]string{header, m.viewport.View(), line, m.input.View()}, "\n")
}

// Messages returns the messages currently shown.
func (m Model) Messages() []chat.Message { return append([]chat.Message(nil), m.messages...) }

// Typing returns who is typing, or "".
func (m Model) Typing() string { return m.typing }
