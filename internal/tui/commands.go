package tui

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"erpchat/internal/chat"
)

const (
	toastDuration = 4 * time.Second
	loadTimeout   = 15 * time.Second
	// sends carry their own ack timeout; this only bounds uploads
	sendTimeout = 2 * time.Minute
)

type (
	roomChangedMsg struct{}
	toastMsg       struct {
		text    string
		isError bool
	}
	clearToastMsg struct{ seq int }
	historyMsg    struct {
		older bool
		err   error
	}
	sentMsg struct {
		retry bool
		err   error
	}
	reactedMsg struct{ err error }
)

// listen waits for the next room change or connection notice. Update
// re-issues it after handling either.
func (m *Model) listen() tea.Cmd {
	changes, toasts := m.changes, m.toasts
	return func() tea.Msg {
		select {
		case <-changes:
			return roomChangedMsg{}
		case t := <-toasts:
			return t
		}
	}
}

func (m *Model) showToast(text string, isError bool) tea.Cmd {
	m.toastSeq++
	m.toast = text
	m.toastError = isError
	seq := m.toastSeq
	return tea.Tick(toastDuration, func(time.Time) tea.Msg {
		return clearToastMsg{seq: seq}
	})
}

// enterRoom opens the room typed at the prompt and starts loading history.
func (m *Model) enterRoom(raw string) tea.Cmd {
	room, peer, err := parseTarget(raw)
	if err != nil {
		m.notice = err.Error()
		return nil
	}
	session, err := m.cfg.Open(room, peer, m.roomChanged)
	if err != nil {
		m.notice = fmt.Sprintf("could not open %s: %v", room, err)
		return nil
	}
	m.notice = ""
	m.session = session
	m.room = room
	m.peerID = peer
	m.attachments = nil
	m.replyTo = 0
	m.firstKey, m.lastKey, m.firstLine, m.lineCount = "", "", 0, 0
	m.snapshot = session.Snapshot()
	m.showChat()
	m.refresh()
	return loadInitialCmd(session)
}

func (m *Model) leaveRoom() {
	m.Close()
	m.picker = nil
	m.snapshot = chat.Snapshot{}
	m.attachments = nil
	m.replyTo = 0
	m.view.SetContent("")
	m.showPrompt()
}

func loadInitialCmd(session Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return historyMsg{err: session.LoadInitial(ctx)}
	}
}

func loadOlderCmd(session Session) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		_, err := session.LoadOlder(ctx)
		return historyMsg{older: true, err: err}
	}
}

func sendCmd(session Session, content string, paths []string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_, err := session.Send(ctx, content, paths, nil)
		return sentMsg{err: err}
	}
}

func replyCmd(session Session, parentID int64, content string, paths []string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		_, err := session.Reply(ctx, parentID, content, paths, nil)
		return sentMsg{err: err}
	}
}

func reactCmd(session Session, messageID int64, emoji string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		return reactedMsg{err: session.React(ctx, messageID, emoji)}
	}
}

func retryCmd(session Session, clientIDs []string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		var errs []error
		for _, id := range clientIDs {
			if _, err := session.Retry(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		return sentMsg{retry: true, err: errors.Join(errs...)}
	}
}

// runCommand handles a slash command typed in the chat input.
func (m *Model) runCommand(line string) tea.Cmd {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "/quit", "/exit":
		m.Close()
		return tea.Quit
	case "/leave":
		m.leaveRoom()
		return nil
	case "/attach":
		if arg == "" {
			return m.showToast("usage: /attach <path>", true)
		}
		path := expandHome(arg)
		info, err := os.Stat(path)
		if err != nil {
			return m.showToast(fmt.Sprintf("cannot attach %s: %v", arg, err), true)
		}
		if info.IsDir() {
			return m.showToast(arg+" is a directory", true)
		}
		m.attachments = append(m.attachments, path)
		return nil
	case "/browse":
		return m.openPicker(arg)
	case "/detach":
		m.attachments = nil
		return nil
	case "/reply":
		if arg == "" {
			m.replyTo = 0
			return nil
		}
		id, ok := m.loadedMessage(arg)
		if !ok {
			return m.showToast("usage: /reply <message id shown as #id>", true)
		}
		m.replyTo = id
		return nil
	case "/react":
		rawID, emoji, _ := strings.Cut(arg, " ")
		emoji = strings.TrimSpace(emoji)
		id, ok := m.loadedMessage(rawID)
		if !ok || emoji == "" {
			return m.showToast("usage: /react <message id> <emoji>", true)
		}
		return reactCmd(m.session, id, emoji)
	case "/retry":
		failed := m.session.FailedMessages()
		if len(failed) == 0 {
			return m.showToast("nothing to retry", false)
		}
		return retryCmd(m.session, failed)
	default:
		return m.showToast("unknown command "+name, true)
	}
}

// loadedMessage parses "#12" or "12" and checks the message is on screen.
func (m *Model) loadedMessage(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(raw, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	for _, msg := range m.snapshot.Messages {
		if msg.ID == id {
			return id, true
		}
	}
	return 0, false
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// describeSendError turns a send result into a toast line.
func describeSendError(err error) string {
	var uploadErr *chat.UploadError
	if errors.As(err, &uploadErr) {
		names := make([]string, 0, len(uploadErr.Failures))
		for _, f := range uploadErr.Failures {
			names = append(names, filepath.Base(f.Path))
		}
		text := "upload failed: " + strings.Join(names, ", ")
		if errors.Is(err, chat.ErrSendTimeout) {
			text += "; message not confirmed, /retry to resend"
		}
		return text
	}
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return "nothing to send"
	case errors.Is(err, chat.ErrSendTimeout):
		return "message not confirmed, /retry to resend"
	default:
		return "send failed: " + err.Error() + " (/retry to resend)"
	}
}
