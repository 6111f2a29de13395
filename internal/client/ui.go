package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/groupchat/internal/directory"
	"github.com/Tyrowin/groupchat/internal/protocol"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	ownStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#808080")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#505050"))
)

// Model is the bubbletea model for one chat connection.
type Model struct {
	network   *Network
	directory directory.Directory
	viewport  viewport.Model
	textInput textinput.Model
	lines     []line
	ready     bool

	phase Phase
	self  int32
	err   error
}

// NewModel builds the UI for an established connection. dir resolves ids
// in events to names.
func NewModel(network *Network, dir directory.Directory) Model {
	ti := textinput.New()
	ti.Placeholder = "Enter your name..."
	ti.Focus()
	ti.CharLimit = 1024
	ti.Width = 20

	return Model{
		network:   network,
		directory: dir,
		textInput: ti,
		phase:     PhaseLogin,
		self:      -1,
		lines: []line{{
			kind: lineNotice,
			text: "Connected. Log in with your name.",
		}},
	}
}

// Err is the error that ended the session, if any.
func (m Model) Err() error {
	return m.err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.network.WaitForFrame)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			content := m.textInput.Value()
			m.textInput.SetValue("")
			return m.submit(content)
		}

	case tea.WindowSizeMsg:
		footerHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - footerHeight
		}
		m.textInput.Width = msg.Width
		m.refresh()

	case frameMsg:
		m = m.receive(msg.msg)
		if m.phase == PhaseClosed {
			return m, tea.Quit
		}
		return m, m.network.WaitForFrame

	case disconnectedMsg:
		m.phase = PhaseClosed
		m.appendLine(line{kind: lineNotice, text: "Server closed the connection."})
		return m, tea.Quit

	case errMsg:
		m.err = msg
		m.phase = PhaseClosed
		return m, tea.Quit
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

// submit handles one entered line.
func (m Model) submit(content string) (tea.Model, tea.Cmd) {
	out, err := parseInput(m.phase, content)
	if errors.Is(err, ErrEmptyInput) {
		return m, nil
	}
	if err != nil {
		m.appendLine(line{kind: lineError, text: err.Error()})
		return m, nil
	}

	if ends(out) {
		m.phase = PhaseClosed
		return m, tea.Sequence(m.network.Send(out), tea.Quit)
	}
	// A decision spends the invitation; accepting completes on our own
	// AcceptBroadcast.
	if _, ok := out.(protocol.GroupDecision); ok {
		m.phase = PhaseWaiting
		m.textInput.Placeholder = "Waiting for an invitation..."
	}
	return m, m.network.Send(out)
}

// receive applies one server message to the model.
func (m Model) receive(msg protocol.Message) Model {
	switch msg := msg.(type) {
	case protocol.LoginResult:
		if !msg.OK {
			m.appendLine(line{kind: lineError, text: "Login failed, try again."})
			return m
		}
		m.self = msg.ID
		if msg.Member {
			m.phase = PhaseActive
			m.textInput.Placeholder = "Type a message, /invite <name>, /leave or /exit"
			m.appendLine(line{kind: lineNotice, text: fmt.Sprintf("Logged in as %s; you are in the group.", m.name(int(msg.ID)))})
		} else {
			m.phase = PhaseWaiting
			m.textInput.Placeholder = "Waiting for an invitation..."
			m.appendLine(line{kind: lineNotice, text: fmt.Sprintf("Logged in as %s; waiting for an invitation.", m.name(int(msg.ID)))})
		}

	case protocol.GroupInviteNotice:
		// Invitations are irrelevant once in the group.
		if m.phase != PhaseWaiting && m.phase != PhaseDeciding {
			return m
		}
		m.phase = PhaseDeciding
		m.textInput.Placeholder = "/accept or /reject"
		m.appendLine(line{kind: lineNotice, text: "You have been invited to the group. /accept or /reject?"})

	case protocol.ServerEvent:
		if msg.Sub == protocol.EventAcceptBroadcast && msg.From == m.self {
			m.phase = PhaseActive
			m.textInput.Placeholder = "Type a message, /invite <name>, /leave or /exit"
		}
		m.appendLine(formatEvent(msg, m.self, m.name))

	case protocol.CommandRejected:
		m.appendLine(formatRejection(msg))

	default:
		m.appendLine(line{kind: lineError, text: fmt.Sprintf("unexpected %s from server", msg.Kind())})
	}
	return m
}

func (m Model) name(id int) string {
	if m.directory == nil {
		return fmt.Sprintf("#%d", id)
	}
	return m.directory.Name(id)
}

func (m *Model) appendLine(l line) {
	m.lines = append(m.lines, l)
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	rendered := make([]string, len(m.lines))
	for i, l := range m.lines {
		rendered[i] = render(l)
	}
	m.viewport.SetContent(strings.Join(rendered, "\n"))
	m.viewport.GotoBottom()
}

func render(l line) string {
	switch l.kind {
	case lineOwnChat:
		return ownStyle.Render(l.text)
	case lineNotice:
		return noticeStyle.Render(l.text)
	case lineError:
		return errorStyle.Render(l.text)
	}
	return l.text
}

func (m Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s",
		m.viewport.View(),
		statusStyle.Render(strings.Repeat("─", m.viewport.Width)),
		m.textInput.View(),
	)
}
