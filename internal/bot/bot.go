package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nybot/internal/events"
	rtsup "nybot/internal/runtime/supervisor"
	"nybot/internal/storage"
	kit "nybot/internal/transport"
	logx "nybot/pkg/logx"
)

// Forwarder ships events to the admin backend. *events.Client satisfies it.
type Forwarder interface {
	Forward(ctx context.Context, e events.Event)
}

type nopForwarder struct{}

func (nopForwarder) Forward(context.Context, events.Event) {}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	From    kit.User
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

type Command struct {
	Name        string
	Description string
	// Menu lists the command in the Telegram command menu.
	Menu    bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Options struct {
	Store     storage.Writer
	Forwarder Forwarder
	Logger    logx.Logger
	// Workers bounds concurrent handlers. Default: NumCPU, at least 2.
	Workers int
	// QueueSize bounds pending handler jobs. Default: 256.
	QueueSize int
	// Now and Pick are test hooks.
	Now  func() time.Time
	Pick func(n int) int
}

// Bot routes updates from an adapter to greeting handlers.
type Bot struct {
	adapter kit.Adapter
	store   storage.Writer
	fwd     Forwarder
	log     logx.Logger
	now     func() time.Time
	pick    func(n int) int
	workers int

	commands  map[string]Command
	callbacks map[string]HandlerFunc
	menu      []kit.BotCommand

	jobs chan func()
}

func New(adapter kit.Adapter, opt Options) *Bot {
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	if opt.Forwarder == nil {
		opt.Forwarder = nopForwarder{}
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	b := &Bot{
		adapter:   adapter,
		store:     opt.Store,
		fwd:       opt.Forwarder,
		log:       opt.Logger,
		now:       opt.Now,
		pick:      opt.Pick,
		workers:   opt.Workers,
		commands:  map[string]Command{},
		callbacks: map[string]HandlerFunc{},
		jobs:      make(chan func(), opt.QueueSize),
	}
	for _, c := range b.defaultCommands() {
		b.commands[c.Name] = c
		if c.Menu {
			b.menu = append(b.menu, kit.BotCommand{Command: c.Name, Description: c.Description})
		}
	}
	b.callbacks[CallbackGetGreeting] = b.handleGreetingCallback
	return b
}

// MenuCommands returns the command menu entries in registration order.
func (b *Bot) MenuCommands() []kit.BotCommand {
	return append([]kit.BotCommand(nil), b.menu...)
}

// RegisterMenu publishes the command menu for the default and private-chat scopes.
// It is a no-op when the adapter cannot update menus.
func (b *Bot) RegisterMenu(ctx context.Context) error {
	up, ok := b.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	scopes := []kit.CommandScope{kit.ScopeDefault, kit.ScopeAllPrivateChats}
	for _, s := range scopes {
		if err := up.UpdateMenuCommands(ctx, s, b.menu); err != nil {
			return err
		}
	}
	b.log.Info("bot commands are set", logx.String("scopes", "default, all_private_chats"))
	return nil
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (b *Bot) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case b.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
// Handlers run on a bounded worker pool.
func (b *Bot) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(b.log.With(logx.String("comp", "bot.router"))),
		rtsup.WithCancelOnError(false),
	)
	b.log.Info("dispatcher started", logx.Int("workers", b.workers), logx.Int("job_queue_cap", cap(b.jobs)))

	for i := 0; i < b.workers; i++ {
		idx := i
		sup.GoRestart("bot.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-b.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if r := recover(); r != nil {
								b.log.Error("panic in bot job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
			rtsup.WithStopOnCleanExit(true),
		)
	}

	var closeOnce sync.Once
	defer func() {
		closeOnce.Do(func() { close(b.jobs) })
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		b.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			b.Route(ctx, up)
		}
	}
}

// Route builds the handler chain for one update and queues it.
func (b *Bot) Route(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		b.routeMessage(ctx, up)
	case kit.UpdateCallback:
		b.routeCallback(ctx, up)
	}
}

func (b *Bot) newRequest(up kit.Update, chat kit.ChatTarget, from kit.User, cmd string) *Request {
	rid := uuid.NewString()
	return &Request{
		Update:  up,
		Chat:    chat,
		From:    from,
		Command: cmd,
		ReqID:   rid,
		Adapter: b.adapter,
		Logger: b.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from.ID),
			logx.String("cmd", cmd),
		),
	}
}

// parseCommand splits "/greet@my_bot arg" into ("greet", ["arg"]).
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", nil, false
	}
	return strings.ToLower(word), parts[1:], true
}

func (b *Bot) routeMessage(ctx context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	var from kit.User
	if msg.From != nil {
		from = *msg.From
	}

	h := func(context.Context, *Request) error { return nil }
	var timeout time.Duration
	name, args, isCmd := parseCommand(msg.Text)
	if cmd, ok := b.commands[name]; isCmd && ok {
		h = cmd.Handle
		timeout = cmd.Timeout
	} else {
		name = ""
	}

	req := b.newRequest(up, kit.ChatTarget{ChatID: msg.ChatID}, from, name)
	req.Args = args

	final := Chain(
		h,
		MWPanicRecover(b.log),
		MWRequestLog(b.log),
		MWRecordMessage(b.store, b.fwd, b.now),
		MWTimeout(timeout),
	)
	if !b.tryEnqueue(func() { _ = final(ctx, req) }) {
		b.log.Warn("job queue full, message dropped", logx.Int64("chat_id", msg.ChatID))
	}
}

func (b *Bot) routeCallback(ctx context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	data := strings.TrimSpace(cb.Data)
	h, ok := b.callbacks[data]
	if !ok {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}
	req := b.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID}, cb.From, "cb:"+data)

	final := Chain(
		h,
		MWPanicRecover(b.log),
		MWRequestLog(b.log),
	)
	if !b.tryEnqueue(func() {
		_ = final(ctx, req)
		// stop the client's loading indicator
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "")
	}) {
		_ = b.adapter.AnswerCallback(ctx, cb.ID, "busy")
	}
}
