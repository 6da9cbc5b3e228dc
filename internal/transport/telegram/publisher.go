package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"offerbot/internal/pipeline"
	logx "offerbot/pkg/logx"
)

// sender is the slice of *tele.Bot the publisher needs.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// channelName addresses a public chat by its @username.
type channelName string

func (c channelName) Recipient() string { return string(c) }

// ParseTarget accepts "@channel" or a numeric chat id.
func ParseTarget(s string) (tele.Recipient, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, errors.New("empty delivery target")
	case strings.HasPrefix(s, "@") && len(s) > 1:
		return channelName(s), nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("invalid delivery target %q (want @channel or a chat id)", s)
	}
	return tele.ChatID(id), nil
}

// Publisher posts offers and operator log lines. Sends are serialized
// through a rate limiter shared by every caller.
type Publisher struct {
	api sender
	lim *rate.Limiter
	log logx.Logger
}

func newPublisher(api sender, ratePerSec float64, log logx.Logger) *Publisher {
	lim := rate.NewLimiter(rate.Inf, 1)
	if ratePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	return &Publisher{api: api, lim: lim, log: log}
}

func (p *Publisher) SendPhoto(ctx context.Context, target string, image []byte, caption string) error {
	if len(image) == 0 {
		return &pipeline.TransportError{Op: pipeline.OpPhoto, Err: errors.New("empty image")}
	}
	photo := &tele.Photo{File: tele.FromReader(bytes.NewReader(image)), Caption: caption}
	return p.send(ctx, pipeline.OpPhoto, target, photo, &tele.SendOptions{ParseMode: tele.ModeHTML})
}

func (p *Publisher) SendText(ctx context.Context, target, caption string) error {
	return p.send(ctx, pipeline.OpText, target, caption, &tele.SendOptions{ParseMode: tele.ModeHTML})
}

// SendLog forwards an operator log line as plain text.
func (p *Publisher) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	if chatID == 0 {
		return errors.New("log chat not configured")
	}
	if err := p.lim.Wait(ctx); err != nil {
		return err
	}
	_, err := p.api.Send(tele.ChatID(chatID), text, &tele.SendOptions{ThreadID: threadID, DisableWebPagePreview: true})
	return err
}

func (p *Publisher) send(ctx context.Context, op pipeline.Op, target string, what interface{}, opt *tele.SendOptions) error {
	to, err := ParseTarget(target)
	if err != nil {
		return &pipeline.TransportError{Op: op, Err: err}
	}
	if err := p.lim.Wait(ctx); err != nil {
		return &pipeline.TransportError{Op: op, Err: err}
	}

	// telebot has no context support. Once dispatched, the call is bounded by
	// the send client's timeout and its real outcome is awaited even when ctx
	// ends, so a caller never falls back while the first post may still land.
	_, err = p.api.Send(to, what, opt)
	if err != nil {
		return &pipeline.TransportError{Op: op, Err: err, Unknown: maybeDelivered(err)}
	}
	if ctx.Err() != nil {
		p.log.Debug("send finished after caller deadline", logx.String("op", string(op)))
	}
	return nil
}

// maybeDelivered reports whether a failed request could still have been
// accepted by Telegram: a network error after the connection was made. API
// replies (bad caption, chat not found, flood wait) and dial failures are
// definite.
func maybeDelivered(err error) bool {
	var op *net.OpError
	if errors.As(err, &op) && op.Op == "dial" {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}
