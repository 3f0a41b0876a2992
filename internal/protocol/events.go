package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names carried in Envelope.Event.
const (
	EventJoinRoom            = "joinRoom"
	EventLeaveRoom           = "leaveRoom"
	EventTyping              = "typing"
	EventSendMessage         = "sendMessage"
	EventGetOnlineStatus     = "getOnlineStatus"
	EventMessageReaction     = "messageReaction"
	EventNewMessage          = "newMessage"
	EventUserOnline          = "userOnline"
	EventUserOffline         = "userOffline"
	EventChannelNotification = "channelMessageNotification"
	EventReactionUpdated     = "reactionUpdated"
	EventAck                 = "ack"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Envelope is the JSON frame exchanged over the socket. A non-zero ID on a
// client frame asks for an "ack" frame carrying the same ID.
type Envelope struct {
	Event string          `json:"event"`
	ID    uint64          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope frame.
func NewEnvelope(event string, id uint64, payload any) ([]byte, error) {
	env := Envelope{Event: event, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses a raw frame.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing event")
	}
	return env, nil
}

type JoinRoom struct {
	Room     string `json:"room" validate:"required"`
	UserID   string `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

type LeaveRoom struct {
	Room string `json:"room" validate:"required"`
}

// RoomAck answers joinRoom and leaveRoom.
type RoomAck struct {
	Event string `json:"event"`
	Room  string `json:"room"`
}

type Typing struct {
	Room     string `json:"room" validate:"required"`
	IsTyping bool   `json:"isTyping"`
	UserName string `json:"userName"`
}

type SendMessage struct {
	Content  string  `json:"content" validate:"max=10000"`
	RoomID   string  `json:"roomId" validate:"required"`
	UserID   string  `json:"userId" validate:"required"`
	FileIDs  []int64 `json:"fileIds,omitempty" validate:"max=20,dive,gt=0"`
	ClientID string  `json:"clientId,omitempty" validate:"omitempty,max=64"`
	ParentID int64   `json:"parentId,omitempty" validate:"gte=0"`
}

// SendAck answers sendMessage. Message holds a Message when Status is ok and
// an error string otherwise.
type SendAck struct {
	Status  string          `json:"status"`
	Message json.RawMessage `json:"message,omitempty"`
}

// OKSendAck builds a successful acknowledgement for msg.
func OKSendAck(msg Message) (SendAck, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return SendAck{}, err
	}
	return SendAck{Status: StatusOK, Message: data}, nil
}

// ErrorSendAck builds a failed acknowledgement.
func ErrorSendAck(reason string) SendAck {
	data, _ := json.Marshal(reason)
	return SendAck{Status: StatusError, Message: data}
}

// Decode returns the acknowledged message or the server's error.
func (a SendAck) Decode() (Message, error) {
	if a.Status != StatusOK {
		var reason string
		if err := json.Unmarshal(a.Message, &reason); err != nil || reason == "" {
			reason = "send rejected"
		}
		return Message{}, fmt.Errorf("server: %s", reason)
	}
	var msg Message
	if err := json.Unmarshal(a.Message, &msg); err != nil {
		return Message{}, fmt.Errorf("decode acknowledged message: %w", err)
	}
	return msg, nil
}

const (
	ReactionAdd    = "add"
	ReactionRemove = "remove"
)

// MessageReaction adds or removes the sender's reaction to a message. A user
// has at most one reaction per message; adding the same emoji again removes
// it and adding another one replaces it.
type MessageReaction struct {
	RoomID    string `json:"roomId" validate:"required"`
	MessageID int64  `json:"messageId" validate:"gt=0"`
	UserID    string `json:"userId" validate:"required"`
	Emoji     string `json:"emoji" validate:"required_unless=Action remove,max=32"`
	Action    string `json:"action" validate:"oneof=add remove"`
}

// ReactionUpdate is pushed as reactionUpdated and carried by the reaction ack.
type ReactionUpdate struct {
	Room      string     `json:"room"`
	MessageID int64      `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

// ReactionAck answers messageReaction.
type ReactionAck struct {
	Status string          `json:"status"`
	Data   *ReactionUpdate `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type ReactionUser struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Reaction groups everyone who reacted to a message with one emoji.
type Reaction struct {
	Emoji   string         `json:"emoji"`
	Count   int            `json:"count"`
	Users   []ReactionUser `json:"users"`
	UserIDs []string       `json:"userIds"`
}

// ParentMessage summarises the message a reply points at.
type ParentMessage struct {
	ID       int64  `json:"id"`
	Content  string `json:"content"`
	UserName string `json:"userName"`
}

type OnlineStatusQuery struct {
	UserID string `json:"userId" validate:"required"`
}

type OnlineStatus struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// Presence is the body of userOnline and userOffline pushes.
type Presence struct {
	UserID string `json:"userId"`
}

type ChannelNotification struct {
	ChannelID int64  `json:"channelId"`
	UserID    string `json:"userId"`
	MessageID int64  `json:"messageId"`
}

// File references an uploaded file attached to a message.
type File struct {
	ID       int64  `json:"id"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
}

// Message is a stored chat message as it travels over the socket and the
// history endpoint. ParentMessage is set on replies whose parent still exists.
type Message struct {
	ID            int64          `json:"id"`
	Room          string         `json:"room,omitempty"`
	Content       string         `json:"content"`
	CreatedAt     time.Time      `json:"createdAt"`
	UserID        string         `json:"userId"`
	UserName      string         `json:"userName,omitempty"`
	Type          string         `json:"type,omitempty"`
	ClientID      string         `json:"clientId,omitempty"`
	ParentID      int64          `json:"parentId,omitempty"`
	Files         []File         `json:"files,omitempty"`
	ParentMessage *ParentMessage `json:"parentMessage,omitempty"`
	Reactions     []Reaction     `json:"reactions,omitempty"`
}

// HistoryPage is the body returned by the history endpoint. Messages run
// oldest to newest; NextCursor is the id of the oldest one.
type HistoryPage struct {
	Messages   []Message `json:"messages"`
	HasMore    bool      `json:"hasMore"`
	NextCursor *int64    `json:"nextCursor"`
}

// UploadResponse is returned by the upload endpoint.
type UploadResponse struct {
	Success bool   `json:"success"`
	File    *File  `json:"file,omitempty"`
	Error   string `json:"error,omitempty"`
}
