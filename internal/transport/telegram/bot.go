// Package telegram is the bot's only contact with Telegram: it publishes
// offers to the channel, forwards operator logs, and serves the command
// surface over long polling.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	logx "offerbot/pkg/logx"
	"offerbot/pkg/tgui"
)

const (
	defaultPollTimeout = 10 * time.Second
	defaultSendTimeout = 20 * time.Second
	defaultRatePerSec  = 1.0
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RequestTimeout bounds every Bot API call. It is raised above the
	// poll timeout when needed.
	RequestTimeout time.Duration
	// SendTimeout bounds one channel post, including the photo upload. Posts
	// use their own client so this is independent of the poll timeout.
	SendTimeout time.Duration
	RatePerSec  float64
}

type Bot struct {
	*Publisher

	tb      *tele.Bot
	log     logx.Logger
	polling atomic.Bool
}

func New(cfg Config, log logx.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "telegram"))

	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = defaultPollTimeout
	}
	reqTimeout := cfg.RequestTimeout
	if reqTimeout < poll+5*time.Second {
		reqTimeout = poll + 5*time.Second
	}
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:  strings.TrimSpace(cfg.Token),
		Poller: &tele.LongPoller{Timeout: poll},
		Client: &http.Client{Timeout: reqTimeout},
		OnError: func(err error, c tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	// Same token, no getMe round trip.
	out, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(cfg.Token),
		Client:  &http.Client{Timeout: sendTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Bot{
		Publisher: newPublisher(out, rps, log),
		tb:        tb,
		log:       log,
	}, nil
}

// Username is the bot's @handle as reported by getMe.
func (b *Bot) Username() string {
	if b.tb.Me == nil {
		return ""
	}
	return b.tb.Me.Username
}

// Register installs the command handlers and publishes the command menu.
// ctx is the parent of every handler invocation.
func (b *Bot) Register(ctx context.Context, h *Handlers) error {
	cmds := h.Commands()
	menu := make([]tele.Command, 0, len(cmds))
	for _, cmd := range cmds {
		name, run := cmd.Name, h.Wrap(cmd)
		b.tb.Handle("/"+name, func(c tele.Context) error {
			return b.serve(ctx, c, name, run)
		})
		menu = append(menu, tele.Command{Text: name, Description: cmd.Description})
	}

	purge := Chain(h.PurgeCallback,
		MWPanicRecover(b.log),
		MWRequestLog(b.log),
		MWOwnerOnly(h.IsOwner),
		MWTimeout(commandTimeout),
	)
	b.tb.Handle(&tele.Btn{Unique: purgeAction}, func(c tele.Context) error {
		req := newRequest(c, "clear:callback", b.log)
		if cb := c.Callback(); cb != nil {
			req.Args = []string{cb.Data}
		}
		rep, err := purge(ctx, req)
		if err != nil {
			rep = Reply{Text: ErrorText(err)}
		}
		_ = c.Respond()
		return c.Edit(rep.Text, &tele.SendOptions{ParseMode: tele.ModeHTML})
	})

	if err := b.tb.SetCommands(menu); err != nil {
		return err
	}
	b.log.Info("commands registered", logx.Int("count", len(menu)))
	return nil
}

// Run long-polls until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	if !b.polling.CompareAndSwap(false, true) {
		return errors.New("telegram: already polling")
	}
	defer b.polling.Store(false)
	if err := ctx.Err(); err != nil {
		return err
	}

	stopped := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.tb.Stop()
		case <-stopped:
		}
	}()
	b.log.Info("polling started", logx.String("bot", b.Username()))
	b.tb.Start()
	close(stopped)
	b.log.Info("polling stopped")
	return ctx.Err()
}

func newRequest(c tele.Context, name string, log logx.Logger) *Request {
	req := &Request{Command: name, Args: c.Args(), Log: log}
	if u := c.Sender(); u != nil {
		req.FromID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		req.ChatID = ch.ID
	}
	return req
}

func (b *Bot) serve(ctx context.Context, c tele.Context, name string, run HandlerFunc) error {
	rep, err := run(ctx, newRequest(c, name, b.log))
	if err != nil {
		rep = Reply{Text: ErrorText(err)}
	}
	if rep.Text == "" {
		return nil
	}
	opt := &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true}
	if rep.Markup != nil {
		opt.ReplyMarkup = markup(rep.Markup)
	}
	if err := c.Send(rep.Text, opt); err != nil {
		return err
	}
	for _, more := range rep.More {
		if err := c.Send(more, &tele.SendOptions{ParseMode: tele.ModeHTML}); err != nil {
			return err
		}
	}
	return nil
}

func markup(k *Keyboard) *tele.ReplyMarkup {
	kb := tgui.NewInline()
	row := make([]tele.Btn, 0, len(k.Buttons))
	for _, btn := range k.Buttons {
		if btn.URL != "" {
			row = append(row, tgui.URLBtn(btn.Text, btn.URL))
			continue
		}
		row = append(row, tgui.Btn(btn.Text, btn.Unique, btn.Data))
	}
	return kb.Row(row...).Markup()
}
