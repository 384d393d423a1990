package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

// User is the sender of a message or callback.
type User struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
}

type Message struct {
	ID          int
	ChatID      int64
	From        *User // nil for channel posts
	Text        string
	Caption     string
	ContentType string // "text", "photo", "sticker", ... ("unknown" if not recognized)
	Date        time.Time
}

type Callback struct {
	ID        string
	From      User
	ChatID    int64
	MessageID int
	Data      string
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

// InlineButton is a callback button attached under a message.
type InlineButton struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	InlineKeyboard [][]InlineButton
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandScope names a Telegram command scope ("default", "all_private_chats", ...).
type CommandScope string

const (
	ScopeDefault         CommandScope = "default"
	ScopeAllPrivateChats CommandScope = "all_private_chats"
)

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, scope CommandScope, cmds []BotCommand) error
}
