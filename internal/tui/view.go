package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"erpchat/internal/chat"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(1, 2).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109"))
	toastStyle         = statusStyle.Copy().Foreground(lipgloss.Color("42"))
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	loadingStyle       = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(0, 1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	attachmentStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("110"))
	failedStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	replyStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("146")).Italic(true)
	reactionStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("180"))
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

const startOfConversation = "── start of conversation ──"

func (m *Model) View() string {
	if m.mode == modePrompt {
		return m.renderPrompt()
	}
	if m.picker != nil {
		return m.renderPicker()
	}
	return m.renderChat()
}

func (m *Model) renderPrompt() string {
	sections := []string{
		appTitleStyle.Render("erpchat"),
		menuHintStyle.Render(fmt.Sprintf("Signed in as %s. Enter a room to open, e.g. private:5 bob or channel:1.", m.cfg.Viewer.Name)),
	}
	if m.notice != "" {
		sections = append(sections, noticeBoxStyle.Render(systemMessageStyle.Render(m.notice)))
	}
	sections = append(sections,
		inputBoxStyle.Render(m.input.View()),
		menuHintStyle.Render("Enter open • Esc quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *Model) renderChat() string {
	segments := []string{"erpchat", "Room " + m.room.String()}
	if m.peerID != "" {
		segments = append(segments, presenceDot(m.snapshot.Presence)+" "+m.peerID)
	}
	segments = append(segments, "User "+m.cfg.Viewer.Name)
	if m.cfg.Server != "" {
		segments = append(segments, "Server "+m.cfg.Server)
	}
	header := chatHeaderStyle.Render(strings.Join(segments, dividerStyle))

	status := " "
	switch {
	case m.toast != "" && m.toastError:
		status = errorStyle.Render(m.toast)
	case m.toast != "":
		status = toastStyle.Render(m.toast)
	}

	typing := " "
	if m.snapshot.PeerTyping != "" {
		typing = systemMessageStyle.Render(m.snapshot.PeerTyping + " is typing…")
	}

	sections := []string{header, status, messageBoxStyle.Render(m.view.View()), typing}
	if len(m.attachments) > 0 {
		names := make([]string, 0, len(m.attachments))
		for _, p := range m.attachments {
			names = append(names, filepath.Base(p))
		}
		sections = append(sections, attachmentStyle.Render("attached: "+strings.Join(names, ", ")))
	}
	if m.replyTo != 0 {
		sections = append(sections, replyStyle.Render(fmt.Sprintf("replying to #%d (/reply to cancel)", m.replyTo)))
	}
	sections = append(sections,
		inputBoxStyle.Render(m.input.View()),
		menuHintStyle.Render("Enter send • ↑/PgUp scroll • /attach <path> • /browse • /reply <id> • /react <id> <emoji> • /retry • /leave • /quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderLog renders every row of the conversation for the viewport. starts
// holds the line each message begins on.
func (m *Model) renderLog(snap chat.Snapshot) (content string, starts []int) {
	var lines []string
	switch {
	case snap.StartOfConversation:
		lines = append(lines, systemMessageStyle.Render(startOfConversation))
	case snap.Loading:
		lines = append(lines, loadingStyle.Render("Loading…"))
	}
	if snap.HistoryErr != nil {
		lines = append(lines, errorStyle.Render("Could not load history: "+snap.HistoryErr.Error()))
	}
	line := 0
	for _, l := range lines {
		line += strings.Count(l, "\n") + 1
	}
	starts = make([]int, 0, len(snap.Messages))
	for _, msg := range snap.Messages {
		rendered := m.renderMessage(msg)
		starts = append(starts, line)
		line += strings.Count(rendered, "\n") + 1
		lines = append(lines, rendered)
	}
	if len(snap.Messages) == 0 && !snap.Loading && snap.HistoryErr == nil {
		lines = append(lines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	return strings.Join(lines, "\n"), starts
}

func (m *Model) renderMessage(msg chat.Message) string {
	timestamp := timestampStyle.Render(fmt.Sprintf("[%s]", msg.CreatedAt.Local().Format("15:04:05")))

	own := msg.Own(m.cfg.Viewer.ID)
	sender := msg.SenderName
	if sender == "" {
		sender = msg.SenderID
	}
	nameStyle := usernameStyle.Copy().Foreground(colorForUser(sender))
	if own {
		nameStyle = activeUserStyle
	}

	var line string
	if p := msg.Parent; p != nil {
		line = "   " + replyStyle.Render(fmt.Sprintf("↳ %s: %s", p.SenderName, quote(p.Content))) + "\n"
	} else if msg.ParentID != 0 {
		line = "   " + replyStyle.Render(fmt.Sprintf("↳ #%d", msg.ParentID)) + "\n"
	}
	id := ""
	if msg.ID != 0 {
		id = timestampStyle.Render(fmt.Sprintf("#%d", msg.ID)) + " "
	}
	line += lipgloss.JoinHorizontal(lipgloss.Left,
		timestamp, " ", id,
		nameStyle.Render(sender), ": ",
		messageBodyStyle.Render(strings.ReplaceAll(msg.Content, "\n", "\n   ")),
	)
	if own {
		line += " " + stateGlyph(msg.State)
	}
	for _, a := range msg.Attachments {
		line += "\n   " + attachmentStyle.Render(describeAttachment(a))
	}
	if len(msg.Reactions) > 0 {
		chips := make([]string, 0, len(msg.Reactions))
		for _, r := range msg.Reactions {
			chips = append(chips, fmt.Sprintf("%s %d", r.Emoji, r.Count()))
		}
		line += "\n   " + reactionStyle.Render(strings.Join(chips, "  "))
	}
	if msg.State == chat.StateFailed && msg.Err != nil {
		line += "\n   " + failedStyle.Render("not sent: "+msg.Err.Error())
	}
	return line
}

// quote shortens a parent message to one line.
func quote(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if r := []rune(content); len(r) > 60 {
		return string(r[:60]) + "…"
	}
	return content
}

func stateGlyph(state chat.DeliveryState) string {
	switch state {
	case chat.StatePending:
		return timestampStyle.Render("…")
	case chat.StateSent:
		return timestampStyle.Render("✓")
	case chat.StateDelivered:
		return toastStyle.Render("✓✓")
	case chat.StateFailed:
		return failedStyle.Render("!")
	default:
		return ""
	}
}

func describeAttachment(a chat.Attachment) string {
	name := a.Name
	if name == "" {
		name = fmt.Sprintf("file #%d", a.ID)
	}
	if a.Size > 0 {
		return fmt.Sprintf("📎 %s (%s)", name, humanize.Bytes(uint64(a.Size)))
	}
	return "📎 " + name
}

func presenceDot(state chat.PresenceState) string {
	switch state {
	case chat.PresenceOnline:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("●")
	case chat.PresenceOffline:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("○")
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("?")
	}
}

func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
