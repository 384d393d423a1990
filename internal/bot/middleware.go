package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"nybot/internal/events"
	"nybot/internal/storage"
	kit "nybot/internal/transport"
	logx "nybot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int64("from_id", req.From.ID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// messagePayload is stored as raw_payload for every logged message.
type messagePayload struct {
	MessageID   int     `json:"message_id"`
	ContentType string  `json:"content_type"`
	Date        *string `json:"date"`
}

func messageText(m *kit.Message) *string {
	switch {
	case m.Text != "":
		return &m.Text
	case m.Caption != "":
		return &m.Caption
	default:
		return nil
	}
}

func messageType(m *kit.Message) string {
	if m.ContentType == "" {
		return "unknown"
	}
	return m.ContentType
}

// MWRecordMessage persists the sender and the message, then forwards
// user_upserted and message_received. Failures are logged; next always runs.
func MWRecordMessage(store storage.Writer, fwd Forwarder, now func() time.Time) Middleware {
	if now == nil {
		now = time.Now
	}
	if fwd == nil {
		fwd = nopForwarder{}
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			msg := req.Update.Message
			if msg != nil && msg.From != nil {
				if err := recordMessage(ctx, store, fwd, msg, now()); err != nil {
					req.Logger.Error("failed to log incoming message", logx.Int64("user_id", msg.From.ID), logx.Err(err))
				}
			}
			return next(ctx, req)
		}
	}
}

func recordMessage(ctx context.Context, store storage.Writer, fwd Forwarder, msg *kit.Message, at time.Time) error {
	u := msg.From
	if store != nil {
		err := store.UpsertUser(ctx, storage.UserProfile{
			TgUserID:  u.ID,
			FirstName: u.FirstName,
			LastName:  u.LastName,
			Username:  u.Username,
		}, at)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
	}
	fwd.Forward(ctx, events.New(events.UserUpserted{
		UserID:    u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}))

	text := messageText(msg)
	typ := messageType(msg)
	if store != nil {
		p := messagePayload{MessageID: msg.ID, ContentType: typ}
		if !msg.Date.IsZero() {
			d := msg.Date.UTC().Format(time.RFC3339)
			p.Date = &d
		}
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		raw := string(b)
		err = store.AddMessage(ctx, storage.Message{
			TgUserID:    u.ID,
			MessageText: text,
			MessageType: typ,
			RawPayload:  &raw,
			ReceivedAt:  at.UTC().Format(storage.TimeFormat),
		})
		if err != nil {
			return fmt.Errorf("add message: %w", err)
		}
	}
	fwd.Forward(ctx, events.New(events.MessageReceived{
		UserID:      u.ID,
		MessageType: typ,
		MessageText: text,
	}))
	return nil
}
