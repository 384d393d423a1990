package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrDisabled = errors.New("storage disabled")
)

// TimeFormat is the UTC timestamp layout stored in every *_at column.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(TimeFormat)
}

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type User struct {
	ID             int64   `json:"id"`
	TgUserID       int64   `json:"tg_user_id"`
	FirstName      *string `json:"first_name"`
	LastName       *string `json:"last_name"`
	Username       *string `json:"username"`
	FirstSeenAt    string  `json:"first_seen_at"`
	LastSeenAt     string  `json:"last_seen_at"`
	GreetingsCount int64   `json:"greetings_count"`
}

// UserProfile is what the bot knows about a sender when it upserts.
type UserProfile struct {
	TgUserID  int64
	FirstName string
	LastName  string
	Username  string
}

type Greeting struct {
	TgUserID     int64  `json:"tg_user_id"`
	GreetingText string `json:"greeting_text"`
	SentAt       string `json:"sent_at"`
}

type Message struct {
	TgUserID    int64   `json:"tg_user_id"`
	MessageText *string `json:"message_text"`
	MessageType string  `json:"message_type"`
	RawPayload  *string `json:"raw_payload"`
	ReceivedAt  string  `json:"received_at"`
}

type UserGreetings struct {
	TgUserID       int64 `json:"tg_user_id"`
	GreetingsCount int64 `json:"greetings_count"`
}

type Stats struct {
	TotalUsers     int64           `json:"total_users"`
	TotalGreetings int64           `json:"total_greetings"`
	TotalMessages  int64           `json:"total_messages"`
	TopUsers       []UserGreetings `json:"top_users"`
}

// Page bounds a list query.
type Page struct {
	Limit  int
	Offset int
}

// GreetingFilter narrows ListGreetings. Nil fields mean "any".
type GreetingFilter struct {
	TgUserID *int64
}

// MessageFilter narrows ListMessages. Nil fields mean "any".
type MessageFilter struct {
	TgUserID    *int64
	MessageType *string
}

// Writer is the bot-side API.
type Writer interface {
	UpsertUser(ctx context.Context, u UserProfile, seenAt time.Time) error
	AddGreeting(ctx context.Context, tgUserID int64, text string, sentAt time.Time) error
	AddMessage(ctx context.Context, m Message) error
}

// Reader is the admin-side API.
type Reader interface {
	ListUsers(ctx context.Context, p Page) ([]User, error)
	GetUser(ctx context.Context, tgUserID int64) (User, error)
	ListGreetings(ctx context.Context, p Page, f GreetingFilter) ([]Greeting, error)
	ListMessages(ctx context.Context, p Page, f MessageFilter) ([]Message, error)
	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

// Store is the full persistence API.
type Store interface {
	Writer
	Reader
	Close() error
}
