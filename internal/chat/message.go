// Package chat is the client-side message core for one conversation: the
// merged message list, history paging, optimistic sends, typing and presence.
package chat

import (
	"time"

	"erpchat/internal/protocol"
)

// DeliveryState tracks a message through the optimistic send pipeline.
// Pending, Sent and Delivered only ever move forward. Failed is terminal
// unless the user retries.
type DeliveryState int

const (
	StatePending DeliveryState = iota
	StateSent
	StateDelivered
	StateFailed
)

func (s DeliveryState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSent:
		return "sent"
	case StateDelivered:
		return "delivered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Attachment references a durable uploaded file.
type Attachment struct {
	ID       int64
	Name     string
	Size     int64
	MimeType string
	URL      string
}

// Message is one row of the conversation. ID is zero until the server has
// assigned one; ClientID is set on messages this client authored. ParentID is
// the message this one replies to, and Parent quotes it when it is known.
type Message struct {
	ID          int64
	ClientID    string
	Content     string
	SenderID    string
	SenderName  string
	CreatedAt   time.Time
	Attachments []Attachment
	ParentID    int64
	Parent      *ParentRef
	Reactions   []Reaction
	State       DeliveryState
	// Err holds the reason for StateFailed.
	Err error
}

// ParentRef is the quoted summary shown above a reply.
type ParentRef struct {
	ID         int64
	Content    string
	SenderName string
}

// Reaction is one emoji on a message and who used it.
type Reaction struct {
	Emoji   string
	UserIDs []string
	Names   []string
}

func (r Reaction) Count() int {
	return len(r.UserIDs)
}

// Own reports whether viewerID authored m.
func (m Message) Own(viewerID string) bool {
	return m.SenderID == viewerID
}

func (m Message) fileIDs() []int64 {
	if len(m.Attachments) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		ids = append(ids, a.ID)
	}
	return ids
}

func fromWire(w protocol.Message, state DeliveryState) Message {
	m := Message{
		ID:         w.ID,
		ClientID:   w.ClientID,
		Content:    w.Content,
		SenderID:   w.UserID,
		SenderName: w.UserName,
		CreatedAt:  w.CreatedAt,
		State:      state,
	}
	for _, f := range w.Files {
		m.Attachments = append(m.Attachments, attachmentFromWire(f))
	}
	m.ParentID = w.ParentID
	if p := w.ParentMessage; p != nil {
		m.Parent = &ParentRef{ID: p.ID, Content: p.Content, SenderName: p.UserName}
	}
	m.Reactions = reactionsFromWire(w.Reactions)
	return m
}

func reactionsFromWire(in []protocol.Reaction) []Reaction {
	if len(in) == 0 {
		return nil
	}
	out := make([]Reaction, 0, len(in))
	for _, r := range in {
		reaction := Reaction{Emoji: r.Emoji, UserIDs: r.UserIDs}
		for _, u := range r.Users {
			reaction.Names = append(reaction.Names, u.Name)
		}
		out = append(out, reaction)
	}
	return out
}

func attachmentFromWire(f protocol.File) Attachment {
	return Attachment{ID: f.ID, Name: f.Name, Size: f.Size, MimeType: f.MimeType, URL: f.URL}
}
