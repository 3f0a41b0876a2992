package tui

import (
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"erpchat/internal/chat"
)

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.Close()
			return m, tea.Quit
		}
		if m.mode == modePrompt {
			return m.updatePrompt(msg)
		}
		if m.picker != nil {
			return m.updatePicker(msg)
		}
		return m.updateChat(msg)

	case roomChangedMsg:
		m.refresh()
		return m, m.listen()

	case toastMsg:
		return m, tea.Batch(m.showToast(msg.text, msg.isError), m.listen())

	case clearToastMsg:
		if msg.seq == m.toastSeq {
			m.toast = ""
		}
		return m, nil

	case historyMsg:
		// failures are already in the snapshot; just redraw
		m.refresh()
		return m, nil

	case sentMsg:
		m.refresh()
		if msg.err != nil {
			return m, m.showToast(describeSendError(msg.err), true)
		}
		return m, nil

	case reactedMsg:
		m.refresh()
		if msg.err != nil {
			return m, m.showToast("reaction failed: "+msg.err.Error(), true)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		return m, tea.Quit
	case tea.KeyEnter:
		return m, m.enterRoom(m.input.Value())
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.leaveRoom()
		return m, nil
	case tea.KeyUp:
		m.view.LineUp(1)
		return m, m.maybeLoadOlder()
	case tea.KeyPgUp:
		m.view.ViewUp()
		return m, m.maybeLoadOlder()
	case tea.KeyDown:
		m.view.LineDown(1)
		return m, nil
	case tea.KeyPgDown:
		m.view.ViewDown()
		return m, nil
	case tea.KeyEnter:
		return m, m.submit()
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.session.Keystroke()
	}
	return m, cmd
}

func (m *Model) submit() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	if strings.HasPrefix(line, "/") {
		m.input.SetValue("")
		return m.runCommand(line)
	}
	if line == "" && len(m.attachments) == 0 {
		return nil
	}
	paths := m.attachments
	parent := m.replyTo
	m.attachments = nil
	m.replyTo = 0
	m.input.SetValue("")
	if parent != 0 {
		return replyCmd(m.session, parent, line, paths)
	}
	return sendCmd(m.session, line, paths)
}

// maybeLoadOlder asks for the previous page once the viewport nears the top.
func (m *Model) maybeLoadOlder() tea.Cmd {
	if m.session == nil || !chat.NearTop(m.view.YOffset) {
		return nil
	}
	if m.snapshot.Loading || m.snapshot.StartOfConversation {
		return nil
	}
	return loadOlderCmd(m.session)
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.input.Width = max(width-6, 10)
	m.view.Width = max(width-4, 10)
	// header, status, typing line, input box and hints
	m.view.Height = max(height-9, 3)
	m.ready = true
	m.refresh()
}

// refresh re-renders the log from a fresh snapshot. When older rows arrived
// above the previous first row the viewport keeps that row where it was, even
// if rows were appended in the same redraw. Otherwise a new last row, own or
// inbound, scrolls to the bottom.
func (m *Model) refresh() {
	if m.session == nil {
		return
	}
	snap := m.session.Snapshot()
	m.snapshot = snap

	firstKey, lastKey := "", ""
	if n := len(snap.Messages); n > 0 {
		firstKey = messageKey(snap.Messages[0])
		lastKey = messageKey(snap.Messages[n-1])
	}
	anchor := -1
	if m.firstKey != "" {
		for i, msg := range snap.Messages {
			if messageKey(msg) == m.firstKey {
				anchor = i
				break
			}
		}
	}

	prevOffset := m.view.YOffset
	content, starts := m.renderLog(snap)
	m.view.SetContent(content)
	m.lineCount = m.view.TotalLineCount()

	switch {
	case anchor > 0:
		m.view.SetYOffset(chat.AnchorOffset(m.firstLine, prevOffset, starts[anchor]))
	case lastKey != "" && lastKey != m.lastKey:
		m.view.GotoBottom()
	}
	m.firstKey, m.lastKey = firstKey, lastKey
	m.firstLine = 0
	if len(starts) > 0 {
		m.firstLine = starts[0]
	}
}

// messageKey identifies a row across snapshots. Own rows keep their client id
// from placeholder to stored message.
func messageKey(msg chat.Message) string {
	if msg.ClientID != "" {
		return "c:" + msg.ClientID
	}
	return "s:" + strconv.FormatInt(msg.ID, 10)
}
