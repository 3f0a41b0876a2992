// Package tui is the Bubble Tea terminal client. It renders one chat.Room at
// a time and turns keystrokes into room operations.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"erpchat/internal/chat"
	"erpchat/internal/protocol"
	"erpchat/internal/socket"
)

// Session is the part of *chat.Room the UI drives.
type Session interface {
	Snapshot() chat.Snapshot
	LoadInitial(ctx context.Context) error
	LoadOlder(ctx context.Context) (bool, error)
	Keystroke()
	Send(ctx context.Context, content string, paths []string, cloudFileIDs []int64) (chat.Message, error)
	Reply(ctx context.Context, parentID int64, content string, paths []string, cloudFileIDs []int64) (chat.Message, error)
	React(ctx context.Context, messageID int64, emoji string) error
	Retry(ctx context.Context, clientID string) (chat.Message, error)
	FailedMessages() []string
	Close()
}

// Opener opens a room. onChange must be passed through to chat.Config.
type Opener func(room protocol.RoomKey, peerID string, onChange func(chat.Change)) (Session, error)

type Config struct {
	Viewer chat.Viewer
	// Server is shown in the header.
	Server string
	Open   Opener
	// Room, when set, is opened on start instead of showing the prompt.
	Room string
}

type appMode int

const (
	modePrompt appMode = iota
	modeChat
)

type Model struct {
	cfg   Config
	mode  appMode
	input textinput.Model
	view  viewport.Model
	ready bool

	width  int
	height int

	session Session
	room    protocol.RoomKey
	peerID  string

	// rendering state from the last snapshot
	snapshot  chat.Snapshot
	firstKey  string
	lastKey   string
	firstLine int
	lineCount int

	attachments []string
	replyTo     int64 // message id the next send answers
	picker      *picker

	notice     string
	toast      string
	toastError bool
	toastSeq   int

	changes chan struct{}
	toasts  chan toastMsg
}

func New(cfg Config) *Model {
	input := textinput.New()
	input.CharLimit = 0
	input.Focus()

	model := &Model{
		cfg:     cfg,
		input:   input,
		view:    viewport.New(80, 20),
		changes: make(chan struct{}, 1),
		toasts:  make(chan toastMsg, 16),
	}
	model.showPrompt()
	return model
}

// Notifier returns a socket.Notifier that shows connection notices as toasts.
func (m *Model) Notifier() socket.Notifier {
	return socket.NotifierFuncs{
		OnSuccess: func(text string) { m.postToast(text, false) },
		OnError:   func(text string) { m.postToast(text, true) },
	}
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.listen()}
	if strings.TrimSpace(m.cfg.Room) != "" {
		cmds = append(cmds, m.enterRoom(m.cfg.Room))
	}
	return tea.Batch(cmds...)
}

// Close releases the open room, if any.
func (m *Model) Close() {
	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
}

func (m *Model) postToast(text string, isError bool) {
	select {
	case m.toasts <- toastMsg{text: text, isError: isError}:
	default:
	}
}

// roomChanged is handed to chat.Config.OnChange. Bursts collapse into one
// redraw since the view is rebuilt from a snapshot anyway.
func (m *Model) roomChanged(chat.Change) {
	select {
	case m.changes <- struct{}{}:
	default:
	}
}

func (m *Model) showPrompt() {
	m.mode = modePrompt
	m.input.SetValue("")
	m.input.Prompt = "room> "
	m.input.Placeholder = "private:<id> [peer user id] or channel:<id>"
}

func (m *Model) showChat() {
	m.mode = modeChat
	m.input.SetValue("")
	m.input.Prompt = "> "
	m.input.Placeholder = "Type a message…"
	m.input.Focus()
}

// parseTarget reads "private:5 bob" into a room key and an optional peer id.
func parseTarget(raw string) (protocol.RoomKey, string, error) {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return protocol.RoomKey{}, "", fmt.Errorf("enter a room such as private:5 or channel:1")
	}
	if len(fields) > 2 {
		return protocol.RoomKey{}, "", fmt.Errorf("too many values: %q", raw)
	}
	room, err := protocol.ParseRoom(fields[0])
	if err != nil {
		return protocol.RoomKey{}, "", err
	}
	peer := ""
	if len(fields) == 2 {
		peer = fields[1]
	}
	return room, peer, nil
}
