package bot

import (
	"context"
	"strings"
	"time"

	"nybot/internal/events"
	kit "nybot/internal/transport"
	logx "nybot/pkg/logx"
)

const (
	CallbackGetGreeting = "get_greeting"

	greetButtonText = "получить поздравление"
	infoText        = "Это бот, который создан для поднятия новогоднего настроения."
)

func (b *Bot) defaultCommands() []Command {
	return []Command{
		{Name: "start", Handle: b.handleStart, Timeout: 15 * time.Second},
		{Name: "info", Description: "О боте", Menu: true, Handle: b.handleInfo, Timeout: 15 * time.Second},
		{Name: "greet", Description: "Случайное поздравление", Menu: true, Handle: b.handleGreet, Timeout: 15 * time.Second},
	}
}

func startText(firstName string) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "друг"
	}
	return "Привет, " + name + "! Нажми кнопку ниже, чтобы получить поздравление с Новым годом."
}

func (b *Bot) handleStart(ctx context.Context, req *Request) error {
	req.Logger.Info("sending greeting prompt")
	_, err := req.Adapter.SendText(ctx, req.Chat, startText(req.From.FirstName), &kit.SendOptions{
		InlineKeyboard: [][]kit.InlineButton{{{Text: greetButtonText, Data: CallbackGetGreeting}}},
	})
	return err
}

func (b *Bot) handleInfo(ctx context.Context, req *Request) error {
	req.Logger.Info("sending info")
	_, err := req.Adapter.SendText(ctx, req.Chat, infoText, nil)
	return err
}

func (b *Bot) handleGreet(ctx context.Context, req *Request) error {
	return b.sendGreeting(ctx, req)
}

func (b *Bot) handleGreetingCallback(ctx context.Context, req *Request) error {
	if req.Chat.ChatID == 0 {
		// inaccessible message: nothing to reply to
		return nil
	}
	return b.sendGreeting(ctx, req)
}

// sendGreeting replies with a random greeting, records it and forwards greeting_sent.
// Recording failures are logged and do not fail the reply.
func (b *Bot) sendGreeting(ctx context.Context, req *Request) error {
	text := randomGreeting(b.pick)
	req.Logger.Info("sending random greeting")
	if _, err := req.Adapter.SendText(ctx, req.Chat, text, nil); err != nil {
		return err
	}
	if b.store != nil {
		if err := b.store.AddGreeting(ctx, req.From.ID, text, b.now()); err != nil {
			req.Logger.Error("failed to log greeting", logx.Err(err))
		}
	}
	b.fwd.Forward(ctx, events.New(events.GreetingSent{UserID: req.From.ID, Text: text}))
	return nil
}
