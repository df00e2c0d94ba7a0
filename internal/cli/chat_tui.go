package cli

import (
	"context"
	"errors"
	"flag"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vidsight/internal/chat"
	"vidsight/internal/library"
	"vidsight/internal/model"
	"vidsight/internal/streamtrack"
)

var (
	tuiTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tuiErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	tuiOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	tuiPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	tuiSelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("230")).Background(lipgloss.Color("62")).Bold(true)
	tuiUserStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	tuiBotStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
)

type chatUpdatedMsg struct{}

type sideUpdatedMsg struct{}

type chatAnsweredMsg struct{ err error }

// chatClosedMsg is sent by an embedded chat when the user leaves it.
type chatClosedMsg struct{}

// waitFor turns one receive on ch into msg.
func waitFor(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		<-ch
		return msg
	}
}

type chatModel struct {
	ctx     context.Context
	title   string
	session *chat.Session
	ask     func(ctx context.Context, question string) (model.ChatMessage, error)
	// side renders the panel above the conversation; changes signals that
	// it should be redrawn.
	side     func() []string
	changes  <-chan struct{}
	embedded bool

	input  textinput.Model
	view   viewport.Model
	width  int
	height int
	status string
}

func newChatModel(ctx context.Context, title string, session *chat.Session) chatModel {
	in := textinput.New()
	in.Placeholder = "Ask a question about the content..."
	in.Prompt = "> "
	in.CharLimit = 2000
	in.Focus()
	m := chatModel{
		ctx:     ctx,
		title:   title,
		session: session,
		ask:     session.Ask,
		input:   in,
		view:    viewport.New(80, 12),
		width:   80,
		height:  24,
	}
	m.refresh()
	return m
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listen(), waitFor(m.changes, sideUpdatedMsg{}))
}

func (m chatModel) listen() tea.Cmd {
	return waitFor(m.session.Updates(), chatUpdatedMsg{})
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refresh()
		return m, nil
	case chatUpdatedMsg:
		m.refresh()
		return m, m.listen()
	case sideUpdatedMsg:
		m.layout()
		return m, waitFor(m.changes, sideUpdatedMsg{})
	case chatAnsweredMsg:
		switch {
		case msg.err == nil, errors.Is(msg.err, chat.ErrSuperseded):
			m.status = ""
		default:
			m.status = "error: " + msg.err.Error()
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		if m.embedded {
			return m, func() tea.Msg { return chatClosedMsg{} }
		}
		return m, tea.Quit
	case "enter":
		q := strings.TrimSpace(m.input.Value())
		if q == "" {
			return m, nil
		}
		m.input.Reset()
		m.status = ""
		ask, ctx := m.ask, m.ctx
		return m, func() tea.Msg {
			_, err := ask(ctx, q)
			return chatAnsweredMsg{err: err}
		}
	case "pgup", "up":
		m.view.ScrollUp(3)
		return m, nil
	case "pgdown", "down":
		m.view.ScrollDown(3)
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// layout sizes the conversation pane to what the side panel leaves.
func (m *chatModel) layout() {
	used := 6
	if m.side != nil {
		used += len(m.side()) + 2
	}
	h := m.height - used
	if h < 3 {
		h = 3
	}
	w := m.width - 2
	if w < 20 {
		w = 20
	}
	m.view.Width = w
	m.view.Height = h
	m.input.Width = w - 4
}

func (m *chatModel) refresh() {
	m.view.SetContent(renderMessages(m.session.Messages(), m.view.Width))
	m.view.GotoBottom()
}

func renderMessages(msgs []model.ChatMessage, width int) string {
	if width < 20 {
		width = 20
	}
	wrap := lipgloss.NewStyle().Width(width)
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		label := tuiBotStyle.Render("AI")
		if msg.Sender == model.SenderUser {
			label = tuiUserStyle.Render("You")
		}
		b.WriteString(wrap.Render(label + ": " + msg.Text))
		b.WriteString("\n")
	}
	return b.String()
}

func (m chatModel) View() string {
	var b strings.Builder
	b.WriteString(tuiTitleStyle.Render(m.title))
	b.WriteString("\n")
	if m.side != nil {
		b.WriteString(tuiPanelStyle.Render(strings.Join(m.side(), "\n")))
		b.WriteString("\n")
	}
	b.WriteString(m.view.View())
	b.WriteString("\n")
	switch {
	case m.session.Pending() > 0:
		b.WriteString(tuiMutedStyle.Render("thinking..."))
	case m.status != "":
		b.WriteString(tuiErrorStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	leave := "quit"
	if m.embedded {
		leave = "back"
	}
	b.WriteString(tuiMutedStyle.Render("enter ask | up/down scroll | esc " + leave + " | ctrl+c quit"))
	return b.String()
}

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	common := addCommonFlags(fs)
	videoID := fs.String("video", "", "chat about an uploaded video")
	streamID := fs.String("stream", "", "chat about a registered stream")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	video, stream := strings.TrimSpace(*videoID), strings.TrimSpace(*streamID)
	if (video == "") == (stream == "") {
		return errors.New("exactly one of --video or --stream is required")
	}
	if !stdinIsTTY() {
		return errors.New("chat requires an interactive terminal (TTY)")
	}

	a, err := openApp(common, true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx, cancel := signalContext()
	defer cancel()

	var m chatModel
	if video != "" {
		lib := library.New(library.Options{Backend: a.client, Logger: a.log.Named("library"), Observer: a.metrics})
		if _, err := lib.Open(ctx, video); err != nil {
			return err
		}
		m = newChatModel(ctx, "Video "+video, lib.Chat())
		m.side = func() []string {
			d, ok := lib.Detail()
			if !ok {
				return []string{"video closed"}
			}
			return videoDetailLines(d, 3)
		}
	} else {
		tr := a.streamTracker()
		defer tr.Close()
		if _, err := tr.OpenDetail(ctx, stream); err != nil {
			return err
		}
		m = newChatModel(ctx, "Stream "+stream, tr.Chat())
		m.side = func() []string {
			d, ok := tr.Detail()
			if !ok {
				return []string{"stream closed"}
			}
			return streamDetailLines(d, 5)
		}
		m.changes = tr.Updates()
	}
	m.layout()
	m.refresh()
	return runProgram(m)
}

func runProgram(m tea.Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "tty") {
			return errors.New("this command requires an interactive terminal (TTY)")
		}
		return err
	}
	return nil
}

// streamTracker builds a tracker on the app's scheduler and config.
func (a *app) streamTracker() *streamtrack.Tracker {
	return streamtrack.New(streamtrack.Options{
		Backend:        a.client,
		Scheduler:      a.sched,
		StatusInterval: a.cfg.Poll.StreamStatus,
		LogsInterval:   a.cfg.Poll.StreamLogs,
		Logger:         a.log.Named("streams"),
		Observer:       a.metrics,
	})
}
