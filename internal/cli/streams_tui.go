package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"vidsight/internal/model"
	"vidsight/internal/streamtrack"
)

type streamsMode int

const (
	streamsModeBrowse streamsMode = iota
	streamsModeDeleteConfirm
	streamsModeDetail
)

type streamsChangedMsg struct{}

type streamsActionMsg struct {
	message string
	err     error
}

type streamDetailOpenedMsg struct {
	id  string
	err error
}

type streamsModel struct {
	ctx     context.Context
	tr      *streamtrack.Tracker
	streams []model.Stream
	cursor  int
	mode    streamsMode
	width   int
	height  int

	confirmDeleteID string
	statusMessage   string
	detail          *chatModel
	// chatListening is set while a receive on the chat's update channel is
	// outstanding, so reopening a detail does not start a second one.
	chatListening bool
}

func newStreamsModel(ctx context.Context, tr *streamtrack.Tracker) streamsModel {
	return streamsModel{
		ctx:     ctx,
		tr:      tr,
		streams: tr.Streams(),
		mode:    streamsModeBrowse,
		width:   80,
		height:  24,
	}
}

func runStreamsTUI(args []string) error {
	fs := flag.NewFlagSet("streams tui", flag.ContinueOnError)
	common := addCommonFlags(fs)
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !stdinIsTTY() {
		return errors.New("streams tui requires an interactive terminal (TTY)")
	}
	a, err := openApp(common, true)
	if err != nil {
		return err
	}
	defer a.Close()
	tr := a.streamTracker()
	defer tr.Close()
	ctx, cancel := signalContext()
	defer cancel()
	if err := tr.Refresh(ctx); err != nil {
		return err
	}
	return runProgram(newStreamsModel(ctx, tr))
}

func (m streamsModel) Init() tea.Cmd {
	return waitFor(m.tr.Updates(), streamsChangedMsg{})
}

func (m streamsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.detail != nil {
			next, _ := m.detail.Update(msg)
			cm := next.(chatModel)
			m.detail = &cm
		}
		return m, nil
	case streamsChangedMsg:
		m.streams = m.tr.Streams()
		m.clampCursor()
		if m.detail != nil {
			m.detail.layout()
		}
		return m, waitFor(m.tr.Updates(), streamsChangedMsg{})
	case streamsActionMsg:
		m.mode = streamsModeBrowse
		m.confirmDeleteID = ""
		if msg.err != nil {
			m.statusMessage = "error: " + msg.err.Error()
		} else {
			m.statusMessage = msg.message
		}
		m.streams = m.tr.Streams()
		m.clampCursor()
		return m, nil
	case streamDetailOpenedMsg:
		if msg.err != nil {
			m.statusMessage = "error: " + msg.err.Error()
			return m, nil
		}
		cm := newChatModel(m.ctx, "Stream "+msg.id, m.tr.Chat())
		cm.embedded = true
		tr := m.tr
		cm.side = func() []string {
			d, ok := tr.Detail()
			if !ok {
				return []string{"stream closed"}
			}
			return streamDetailLines(d, 5)
		}
		cm.width, cm.height = m.width, m.height
		cm.layout()
		cm.refresh()
		m.detail = &cm
		m.mode = streamsModeDetail
		m.statusMessage = ""
		cmds := []tea.Cmd{textinput.Blink}
		if !m.chatListening {
			m.chatListening = true
			cmds = append(cmds, cm.listen())
		}
		return m, tea.Batch(cmds...)
	case chatUpdatedMsg:
		if m.detail == nil {
			m.chatListening = false
			return m, nil
		}
		return m.forwardDetail(msg)
	case chatClosedMsg:
		m.tr.CloseDetail()
		m.detail = nil
		m.mode = streamsModeBrowse
		return m, nil
	}

	if m.mode == streamsModeDetail {
		return m.forwardDetail(msg)
	}
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch m.mode {
	case streamsModeDeleteConfirm:
		return m.updateDeleteConfirm(keyMsg)
	default:
		return m.updateBrowse(keyMsg)
	}
}

func (m streamsModel) forwardDetail(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.detail == nil {
		return m, nil
	}
	next, cmd := m.detail.Update(msg)
	cm := next.(chatModel)
	m.detail = &cm
	return m, cmd
}

func (m streamsModel) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.streams)-1 {
			m.cursor++
		}
		return m, nil
	case "r":
		m.statusMessage = "refreshing..."
		return m, m.actionCmd("refreshed", func(ctx context.Context) error {
			return m.tr.Refresh(ctx)
		})
	}

	selected, ok := m.selected()
	if !ok {
		return m, nil
	}
	switch msg.String() {
	case "s":
		if selected.Status == model.StreamActive {
			m.statusMessage = "stream is already active"
			return m, nil
		}
		m.statusMessage = "starting " + selected.Name + "..."
		return m, m.actionCmd("started "+selected.Name, func(ctx context.Context) error {
			return m.tr.Start(ctx, selected.StreamID)
		})
	case "x":
		if selected.Status != model.StreamActive {
			m.statusMessage = "stream is not active"
			return m, nil
		}
		m.statusMessage = "stopping " + selected.Name + "..."
		return m, m.actionCmd("stopped "+selected.Name, func(ctx context.Context) error {
			return m.tr.Stop(ctx, selected.StreamID)
		})
	case "d":
		m.mode = streamsModeDeleteConfirm
		m.confirmDeleteID = selected.StreamID
		m.statusMessage = ""
		return m, nil
	case "enter":
		id, tr, ctx := selected.StreamID, m.tr, m.ctx
		m.statusMessage = "opening " + selected.Name + "..."
		return m, func() tea.Msg {
			_, err := tr.OpenDetail(ctx, id)
			return streamDetailOpenedMsg{id: id, err: err}
		}
	}
	return m, nil
}

func (m streamsModel) updateDeleteConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		id := m.confirmDeleteID
		m.statusMessage = "deleting " + id + "..."
		return m, m.actionCmd("deleted "+id, func(ctx context.Context) error {
			return m.tr.Delete(ctx, id)
		})
	case "ctrl+c":
		return m, tea.Quit
	default:
		m.mode = streamsModeBrowse
		m.confirmDeleteID = ""
		m.statusMessage = "delete cancelled"
		return m, nil
	}
}

func (m streamsModel) actionCmd(done string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return streamsActionMsg{err: err}
		}
		return streamsActionMsg{message: done}
	}
}

func (m streamsModel) selected() (model.Stream, bool) {
	if m.cursor < 0 || m.cursor >= len(m.streams) {
		return model.Stream{}, false
	}
	return m.streams[m.cursor], true
}

func (m *streamsModel) clampCursor() {
	if m.cursor > len(m.streams)-1 {
		m.cursor = len(m.streams) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m streamsModel) View() string {
	if m.mode == streamsModeDetail && m.detail != nil {
		return m.detail.View()
	}
	var b strings.Builder
	b.WriteString(tuiTitleStyle.Render("vidsight streams"))
	b.WriteString("\n\n")
	if len(m.streams) == 0 {
		b.WriteString(tuiMutedStyle.Render("no streams registered (vidsight streams register --url <url>)"))
		b.WriteString("\n")
	}
	width := m.width - 4
	if width < 40 {
		width = 40
	}
	for i, s := range m.streams {
		line := truncate(describeStream(s), width)
		if i == m.cursor {
			line = tuiSelStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if m.mode == streamsModeDeleteConfirm {
		b.WriteString(tuiErrorStyle.Render(fmt.Sprintf("Are you sure you want to delete stream %s? [y/N]", m.confirmDeleteID)))
		b.WriteString("\n")
	}
	if m.statusMessage != "" {
		style := tuiOKStyle
		if strings.HasPrefix(m.statusMessage, "error:") {
			style = tuiErrorStyle
		}
		b.WriteString(style.Render(m.statusMessage))
		b.WriteString("\n")
	}
	b.WriteString(tuiMutedStyle.Render("up/down move | enter detail + chat | s start | x stop | d delete | r refresh | q quit"))
	return b.String()
}
